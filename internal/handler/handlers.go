// Package handler exposes the ops API: health, configuration inspection,
// queue statistics, and a reconcile trigger. It never mutates pipeline state
// directly; writes go through the repository and a reconciliation pass.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/emfoursolutions/trakbridge-sub002/internal/model"
	"github.com/emfoursolutions/trakbridge-sub002/internal/plugin"
	"github.com/emfoursolutions/trakbridge-sub002/internal/queue"
	"github.com/emfoursolutions/trakbridge-sub002/internal/repository"
)

const redactedValue = "[REDACTED]"

// Reconciler is the orchestrator surface the API needs.
type Reconciler interface {
	Trigger()
	Running() (streamIDs, serverIDs []int64)
}

// Handler serves the ops API.
type Handler struct {
	repo    repository.Repository
	manager *queue.Manager
	recon   Reconciler
	logger  *zap.Logger
}

// New constructs the handler.
func New(repo repository.Repository, manager *queue.Manager, recon Reconciler, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, manager: manager, recon: recon, logger: logger}
}

// Register mounts all routes on the echo instance.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	api := e.Group("/api")
	api.GET("/plugins", h.ListPlugins)
	api.GET("/streams", h.ListStreams)
	api.GET("/streams/:id", h.GetStream)
	api.POST("/streams", h.SaveStream)
	api.PUT("/streams/:id", h.SaveStream)
	api.DELETE("/streams/:id", h.DeleteStream)
	api.GET("/servers", h.ListServers)
	api.GET("/servers/:id", h.GetServer)
	api.POST("/servers", h.SaveServer)
	api.PUT("/servers/:id", h.SaveServer)
	api.DELETE("/servers/:id", h.DeleteServer)
	api.GET("/queues", h.QueueStats)
	api.GET("/queues/:id", h.QueueStatsOne)
	api.POST("/queues/:id/flush", h.FlushQueue)
	api.POST("/reconcile", h.TriggerReconcile)
	api.GET("/workers", h.Workers)
}

// Health reports liveness plus a worker summary.
func (h *Handler) Health(c echo.Context) error {
	streams, servers := h.recon.Running()
	return c.JSON(http.StatusOK, map[string]any{
		"status":          "ok",
		"stream_workers":  len(streams),
		"transmit_workers": len(servers),
	})
}

// ListPlugins returns the registered provider metadata.
func (h *Handler) ListPlugins(c echo.Context) error {
	out := make([]map[string]any, 0)
	for _, name := range plugin.Names() {
		p, err := plugin.New(name)
		if err != nil {
			continue
		}
		out = append(out, map[string]any{
			"name":     name,
			"metadata": p.Metadata(),
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) ListStreams(c echo.Context) error {
	streams, err := h.repo.ListStreams(c.Request().Context())
	if err != nil {
		return h.internal(c, "list streams", err)
	}
	for i := range streams {
		redactStream(&streams[i])
	}
	return c.JSON(http.StatusOK, streams)
}

func (h *Handler) GetStream(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	s, err := h.repo.GetStream(c.Request().Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return h.internal(c, "get stream", err)
	}
	redactStream(&s)
	return c.JSON(http.StatusOK, s)
}

// SaveStream creates or updates a stream and triggers a reconciliation.
func (h *Handler) SaveStream(c echo.Context) error {
	var s model.StreamConfig
	if err := c.Bind(&s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if id, err := pathID(c); err == nil {
		s.ID = id
	}
	if err := s.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	saved, err := h.repo.SaveStream(c.Request().Context(), s)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return h.internal(c, "save stream", err)
	}
	h.recon.Trigger()
	redactStream(&saved)
	return c.JSON(http.StatusOK, saved)
}

func (h *Handler) DeleteStream(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	err = h.repo.DeleteStream(c.Request().Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return h.internal(c, "delete stream", err)
	}
	h.recon.Trigger()
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListServers(c echo.Context) error {
	servers, err := h.repo.ListServers(c.Request().Context())
	if err != nil {
		return h.internal(c, "list servers", err)
	}
	for i := range servers {
		redactServer(&servers[i])
	}
	return c.JSON(http.StatusOK, servers)
}

func (h *Handler) GetServer(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	s, err := h.repo.GetServer(c.Request().Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return h.internal(c, "get server", err)
	}
	redactServer(&s)
	return c.JSON(http.StatusOK, s)
}

// SaveServer creates or updates a TAK server and triggers a reconciliation.
func (h *Handler) SaveServer(c echo.Context) error {
	var s model.ServerConfig
	if err := c.Bind(&s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if id, err := pathID(c); err == nil {
		s.ID = id
	}
	if err := s.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	saved, err := h.repo.SaveServer(c.Request().Context(), s)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return h.internal(c, "save server", err)
	}
	h.recon.Trigger()
	redactServer(&saved)
	return c.JSON(http.StatusOK, saved)
}

func (h *Handler) DeleteServer(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	err = h.repo.DeleteServer(c.Request().Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return h.internal(c, "delete server", err)
	}
	h.recon.Trigger()
	return c.NoContent(http.StatusNoContent)
}

// QueueStats snapshots every destination queue's counters.
func (h *Handler) QueueStats(c echo.Context) error {
	stats := h.manager.StatsAll()
	out := make(map[string]queue.Stats, len(stats))
	for id, s := range stats {
		out[strconv.FormatInt(id, 10)] = s
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) QueueStatsOne(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	stats, err := h.manager.Stats(id)
	if errors.Is(err, queue.ErrNoQueue) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return h.internal(c, "queue stats", err)
	}
	return c.JSON(http.StatusOK, stats)
}

// FlushQueue drops one destination's buffered events. ?hard=true also resets
// its device-state tracker.
func (h *Handler) FlushQueue(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	hard, _ := strconv.ParseBool(c.QueryParam("hard"))
	err = h.manager.Flush(id, hard)
	if errors.Is(err, queue.ErrNoQueue) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return h.internal(c, "flush queue", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// TriggerReconcile requests an asynchronous reconciliation pass.
func (h *Handler) TriggerReconcile(c echo.Context) error {
	h.recon.Trigger()
	return c.JSON(http.StatusAccepted, map[string]string{"status": "reconciliation scheduled"})
}

// Workers reports the currently running worker ids.
func (h *Handler) Workers(c echo.Context) error {
	streams, servers := h.recon.Running()
	return c.JSON(http.StatusOK, map[string]any{
		"streams": streams,
		"servers": servers,
	})
}

func (h *Handler) internal(c echo.Context, op string, err error) error {
	h.logger.Error(op+" failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, op+" failed")
}

func pathID(c echo.Context) (int64, error) {
	raw := c.Param("id")
	if raw == "" {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "missing id")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// redactStream blanks plugin config values the provider declares sensitive.
// Unknown plugin types redact every value, the safe direction.
func redactStream(s *model.StreamConfig) {
	if len(s.PluginConfig) == 0 {
		return
	}
	sensitive := map[string]bool{}
	all := false
	p, err := plugin.New(s.PluginType)
	if err != nil {
		all = true
	} else {
		for _, f := range p.Metadata().ConfigFields {
			if f.Sensitive {
				sensitive[f.Name] = true
			}
		}
	}
	redacted := make(map[string]any, len(s.PluginConfig))
	for k, v := range s.PluginConfig {
		if all || sensitive[k] {
			redacted[k] = redactedValue
		} else {
			redacted[k] = v
		}
	}
	s.PluginConfig = redacted
}

// redactServer strips private key material from API responses.
func redactServer(s *model.ServerConfig) {
	if s.TLS == nil {
		return
	}
	tls := *s.TLS
	if len(tls.KeyPEM) > 0 {
		tls.KeyPEM = []byte(redactedValue)
	}
	s.TLS = &tls
}
