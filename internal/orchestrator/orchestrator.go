// Package orchestrator reconciles the running pipeline against the stored
// configuration: one stream worker per enabled stream, one queue and one
// transmission worker per referenced TAK server. Changes are applied as
// stop-then-start so no two workers ever serve the same id concurrently.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/emfoursolutions/trakbridge-sub002/internal/config"
	"github.com/emfoursolutions/trakbridge-sub002/internal/cot"
	"github.com/emfoursolutions/trakbridge-sub002/internal/model"
	"github.com/emfoursolutions/trakbridge-sub002/internal/plugin"
	"github.com/emfoursolutions/trakbridge-sub002/internal/queue"
	"github.com/emfoursolutions/trakbridge-sub002/internal/repository"
	"github.com/emfoursolutions/trakbridge-sub002/internal/stream"
	"github.com/emfoursolutions/trakbridge-sub002/internal/telemetry"
	"github.com/emfoursolutions/trakbridge-sub002/internal/transmit"
)

// stopWait bounds how long a reconcile waits for a worker to exit before
// moving on. A wedged worker must not stall the whole reconciliation.
const stopWait = 10 * time.Second

// handle tracks one running worker goroutine.
type handle struct {
	cancel      context.CancelFunc
	done        chan struct{}
	fingerprint string
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Repo         repository.Repository
	Manager      *queue.Manager
	Builder      *cot.Builder
	HTTPClient   *http.Client
	TransmitCfg  transmit.Config
	Secrets      config.SecretResolver
	Logger       *zap.Logger
	Metrics      *telemetry.PipelineMetrics
	FlushOnChange bool
	Interval     time.Duration
}

// Orchestrator owns worker lifecycles. All mutation happens under mu, so
// reconciliations are serialized; Trigger coalesces bursts of change
// notifications into a single extra pass.
type Orchestrator struct {
	repo        repository.Repository
	manager     *queue.Manager
	builder     *cot.Builder
	client      *http.Client
	transmitCfg transmit.Config
	secrets     config.SecretResolver
	logger      *zap.Logger
	metrics     *telemetry.PipelineMetrics

	flushOnChange bool
	interval      time.Duration
	trigger       chan struct{}

	mu      sync.Mutex
	base    context.Context
	streams map[int64]*handle
	servers map[int64]*handle
}

// New constructs an orchestrator. Workers are not started until Run or
// Reconcile is called.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	return &Orchestrator{
		repo:          opts.Repo,
		manager:       opts.Manager,
		builder:       opts.Builder,
		client:        opts.HTTPClient,
		transmitCfg:   opts.TransmitCfg,
		secrets:       opts.Secrets,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		flushOnChange: opts.FlushOnChange,
		interval:      opts.Interval,
		trigger:       make(chan struct{}, 1),
		streams:       make(map[int64]*handle),
		servers:       make(map[int64]*handle),
	}
}

// Trigger requests an immediate reconciliation. Non-blocking; concurrent
// triggers coalesce into one pass.
func (o *Orchestrator) Trigger() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Run reconciles periodically and on demand until ctx is cancelled, then
// stops every worker. Blocks; intended to run in its own goroutine.
func (o *Orchestrator) Run(ctx context.Context) {
	if err := o.Reconcile(ctx); err != nil {
		o.logger.Error("initial reconciliation failed", zap.Error(err))
	}

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return
		case <-ticker.C:
		case <-o.trigger:
		}
		if err := o.Reconcile(ctx); err != nil {
			o.logger.Error("reconciliation failed", zap.Error(err))
		}
	}
}

// Reconcile diffs the stored configuration against the running workers and
// applies the difference. Safe to call concurrently; calls serialize.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.base == nil {
		o.base = ctx
	}

	servers, err := o.repo.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("load servers: %w", err)
	}
	streams, err := o.repo.ListStreams(ctx)
	if err != nil {
		return fmt.Errorf("load streams: %w", err)
	}

	o.reconcileServers(servers)
	o.reconcileStreams(streams)
	return nil
}

// reconcileServers stops workers for removed or changed servers and starts
// workers for new ones. A changed server restarts its transmission worker;
// the queue survives so buffered events carry over to the new connection.
func (o *Orchestrator) reconcileServers(desired []model.ServerConfig) {
	want := make(map[int64]model.ServerConfig, len(desired))
	invalid := make(map[int64]bool)
	for _, s := range desired {
		if err := s.Validate(); err != nil {
			o.logger.Warn("skipping invalid server", zap.Int64("server_id", s.ID), zap.Error(err))
			invalid[s.ID] = true
			continue
		}
		want[s.ID] = s
	}

	for id, h := range o.servers {
		if invalid[id] {
			// The stored config went bad; keep the worker on its last
			// valid config rather than tearing the connection down.
			continue
		}
		s, keep := want[id]
		if keep && fingerprint(s) == h.fingerprint {
			delete(want, id)
			continue
		}
		o.stopHandle(h, "transmit", id)
		delete(o.servers, id)
		if !keep {
			o.manager.DeleteQueue(id)
		} else if o.flushOnChange {
			_ = o.manager.Flush(id, false)
		}
	}

	for id, s := range want {
		q := o.manager.CreateQueue(id)
		wctx, cancel := context.WithCancel(o.base)
		h := &handle{cancel: cancel, done: make(chan struct{}), fingerprint: fingerprint(s)}
		w := transmit.NewWorker(s, q, o.transmitCfg, o.logger, o.metrics)
		go func() {
			defer close(h.done)
			w.Run(wctx)
		}()
		o.servers[id] = h
		o.logger.Info("started transmission worker",
			zap.Int64("server_id", id),
			zap.String("addr", s.Addr()),
		)
	}
}

// reconcileStreams stops workers for removed, disabled, or changed streams
// and starts workers for the rest. One bad stream never blocks the others.
func (o *Orchestrator) reconcileStreams(desired []model.StreamConfig) {
	want := make(map[int64]model.StreamConfig, len(desired))
	invalid := make(map[int64]bool)
	for _, s := range desired {
		if !s.Enabled {
			continue
		}
		if err := s.Validate(); err != nil {
			o.logger.Warn("skipping invalid stream", zap.Int64("stream_id", s.ID), zap.Error(err))
			invalid[s.ID] = true
			continue
		}
		want[s.ID] = s
	}

	for id, h := range o.streams {
		if invalid[id] {
			// Stored config went bad; the worker keeps its last valid
			// snapshot until a valid config replaces it.
			continue
		}
		s, keep := want[id]
		if keep && fingerprint(s) == h.fingerprint {
			delete(want, id)
			continue
		}
		o.stopHandle(h, "stream", id)
		delete(o.streams, id)
		if keep && o.flushOnChange {
			// Stream semantics changed: drop buffered events for its
			// destinations so stale transforms never hit the wire. Soft
			// flush, the device-state trackers are shared with other
			// streams feeding the same server.
			for _, serverID := range s.Destinations {
				_ = o.manager.Flush(serverID, false)
			}
		}
	}

	for id, s := range want {
		if err := o.startStream(s); err != nil {
			o.logger.Error("failed to start stream",
				zap.Int64("stream_id", id),
				zap.String("plugin", s.PluginType),
				zap.Error(err),
			)
		}
	}
}

func (o *Orchestrator) startStream(s model.StreamConfig) error {
	provider, err := plugin.New(s.PluginType)
	if err != nil {
		return err
	}
	s.PluginConfig = config.ResolveSecrets(s.PluginConfig, o.secrets, o.logger)
	if ok, problems := provider.ValidateConfig(s.PluginConfig); !ok {
		return fmt.Errorf("invalid plugin config: %v", problems)
	}

	for _, serverID := range s.Destinations {
		if _, ok := o.manager.Get(serverID); !ok {
			o.logger.Warn("stream references unknown destination",
				zap.Int64("stream_id", s.ID),
				zap.Int64("server_id", serverID),
			)
		}
	}

	wctx, cancel := context.WithCancel(o.base)
	h := &handle{cancel: cancel, done: make(chan struct{}), fingerprint: fingerprint(s)}
	w := stream.NewWorker(s, provider, o.manager, o.client, o.builder, o.logger, o.metrics)
	go func() {
		defer close(h.done)
		w.Run(wctx)
	}()
	o.streams[s.ID] = h
	o.logger.Info("started stream worker",
		zap.Int64("stream_id", s.ID),
		zap.String("plugin", s.PluginType),
	)
	return nil
}

// stopHandle cancels a worker and waits for it to exit, bounded by stopWait.
func (o *Orchestrator) stopHandle(h *handle, kind string, id int64) {
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(stopWait):
		o.logger.Warn("worker did not stop in time",
			zap.String("kind", kind),
			zap.Int64("id", id),
		)
	}
	o.logger.Info("stopped worker", zap.String("kind", kind), zap.Int64("id", id))
}

// shutdown stops everything: streams first so no new events are produced,
// then transmission workers, which drain their in-hand batch on the way out.
func (o *Orchestrator) shutdown() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, h := range o.streams {
		o.stopHandle(h, "stream", id)
		delete(o.streams, id)
	}
	for id, h := range o.servers {
		o.stopHandle(h, "transmit", id)
		delete(o.servers, id)
		o.manager.DeleteQueue(id)
	}
	o.logger.Info("orchestrator stopped")
}

// Running reports the ids of currently running stream and transmission
// workers, for the ops API.
func (o *Orchestrator) Running() (streamIDs, serverIDs []int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id := range o.streams {
		streamIDs = append(streamIDs, id)
	}
	for id := range o.servers {
		serverIDs = append(serverIDs, id)
	}
	return streamIDs, serverIDs
}

// fingerprint hashes a configuration snapshot so reconciliation can detect
// changes without field-by-field comparison.
func fingerprint(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("unmarshalable:%v", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
