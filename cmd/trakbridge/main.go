package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/emfoursolutions/trakbridge-sub002/internal/config"
	"github.com/emfoursolutions/trakbridge-sub002/internal/cot"
	"github.com/emfoursolutions/trakbridge-sub002/internal/handler"
	"github.com/emfoursolutions/trakbridge-sub002/internal/orchestrator"
	"github.com/emfoursolutions/trakbridge-sub002/internal/queue"
	"github.com/emfoursolutions/trakbridge-sub002/internal/repository"
	"github.com/emfoursolutions/trakbridge-sub002/internal/telemetry"
	"github.com/emfoursolutions/trakbridge-sub002/internal/transmit"
)

const serviceName = "trakbridge"

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	configPath := os.Getenv("TRAKBRIDGE_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath, logger)
	if err != nil {
		logger.Fatal("configuration invalid", zap.Error(err))
	}

	// ── OpenTelemetry ──────────────────────────────────────────────────────
	var metrics *telemetry.PipelineMetrics
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), serviceName, otelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
		}
		mp, err := telemetry.InitMeterProvider(context.Background(), serviceName, otelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel metrics", zap.Error(err))
		} else {
			defer mp.Shutdown(context.Background())
			metrics, err = telemetry.NewPipelineMetrics()
			if err != nil {
				logger.Error("failed to create pipeline instruments", zap.Error(err))
			}
		}
		logger.Info("OTel initialized", zap.String("endpoint", otelEndpoint))
	}

	// ── Vault secrets ──────────────────────────────────────────────────────
	var secrets config.SecretResolver
	if cfg.Vault.Address != "" {
		sm, err := config.NewSecretManager(cfg.Vault.Address, cfg.Vault.Token)
		if err != nil {
			logger.Fatal("Vault connection failed", zap.Error(err))
		}
		secrets = sm
		logger.Info("Vault secret resolution enabled", zap.String("address", cfg.Vault.Address))
	}

	// ── Database ───────────────────────────────────────────────────────────
	if cfg.Database.URL == "" {
		logger.Fatal("database.url is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to parse database.url", zap.Error(err))
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()
	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("connected to database (OTel-instrumented)")

	repo := repository.NewPostgres(pool)

	// ── Pipeline ───────────────────────────────────────────────────────────
	manager := queue.NewManager(cfg.QueueConfig(), cfg.MonitoringConfig(), logger, metrics)
	builder := cot.NewBuilder(
		cfg.Parallel.BatchSizeThreshold,
		int64(cfg.Parallel.MaxConcurrentTasks),
		cfg.ParallelFallback(),
		logger,
	)
	transmitCfg := transmit.DefaultConfig()
	transmitCfg.BatchSize = cfg.Queue.BatchSize
	transmitCfg.QueueCheckInterval = time.Duration(cfg.Transmission.QueueCheckIntervalMS) * time.Millisecond
	transmitCfg.Overflow = queue.OverflowStrategy(cfg.Queue.OverflowStrategy)

	orch := orchestrator.New(orchestrator.Options{
		Repo:          repo,
		Manager:       manager,
		Builder:       builder,
		TransmitCfg:   transmitCfg,
		Secrets:       secrets,
		Logger:        logger,
		Metrics:       metrics,
		FlushOnChange: cfg.FlushOnConfigChange(),
		Interval:      cfg.ReconcileInterval(),
	})

	pipelineCtx, pipelineCancel := context.WithCancel(context.Background())
	orchDone := make(chan struct{})
	go func() {
		defer close(orchDone)
		orch.Run(pipelineCtx)
	}()
	go manager.RunEvictionSweep(pipelineCtx, 5*time.Minute, cfg.TrackerEvictionHorizon())

	// ── HTTP Server ────────────────────────────────────────────────────────
	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware(serviceName))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("HTTP request",
				zap.String("URI", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	handler.New(repo, manager, orch, logger).Register(e)

	go func() {
		logger.Info("trakbridge HTTP server listening", zap.String("addr", cfg.HTTP.Listen))
		if err := e.Start(cfg.HTTP.Listen); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	// ── Graceful Shutdown ──────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	// Stop the pipeline first: stream workers quit producing, transmission
	// workers drain their in-hand batch.
	pipelineCancel()
	select {
	case <-orchDone:
	case <-time.After(30 * time.Second):
		logger.Warn("pipeline did not stop in time")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Echo shutdown error", zap.Error(err))
	}
	logger.Info("trakbridge shut down cleanly")
}
