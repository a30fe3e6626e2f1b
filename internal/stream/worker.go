// Package stream runs one polling worker per enabled stream. A worker drives
// the provider on its configured cadence and fans the resulting CoT events
// out to every destination queue; it owns no persistent state of its own.
package stream

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/emfoursolutions/trakbridge-sub002/internal/cot"
	"github.com/emfoursolutions/trakbridge-sub002/internal/model"
	"github.com/emfoursolutions/trakbridge-sub002/internal/plugin"
	"github.com/emfoursolutions/trakbridge-sub002/internal/queue"
	"github.com/emfoursolutions/trakbridge-sub002/internal/telemetry"
)

// defaultErrorBackoff delays the next poll after a timeout or an
// unspecified rate limit.
const defaultErrorBackoff = 30 * time.Second

// Sink is the queue-manager surface a stream worker needs. Satisfied by
// *queue.Manager.
type Sink interface {
	EnqueueWithReplacement(ctx context.Context, serverID int64, events []cot.Event) (queue.Result, error)
}

// Worker polls one provider and feeds the destination queues. The
// configuration snapshot is immutable; changes arrive as a stop-then-start
// from the orchestrator.
type Worker struct {
	cfg      model.StreamConfig
	provider plugin.Provider
	sink     Sink
	client   *http.Client
	builder  *cot.Builder
	logger   *zap.Logger
	metrics  *telemetry.PipelineMetrics
}

// NewWorker constructs a stream worker. The HTTP client is shared across
// workers so connection pools are reused.
func NewWorker(
	cfg model.StreamConfig,
	provider plugin.Provider,
	sink Sink,
	client *http.Client,
	builder *cot.Builder,
	logger *zap.Logger,
	metrics *telemetry.PipelineMetrics,
) *Worker {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if builder == nil {
		builder = cot.NewBuilder(0, 0, true, logger)
	}
	return &Worker{
		cfg:      cfg,
		provider: provider,
		sink:     sink,
		client:   client,
		builder:  builder,
		logger: logger.With(
			zap.Int64("stream_id", cfg.ID),
			zap.String("stream", cfg.Name),
			zap.String("plugin", cfg.PluginType),
		),
		metrics: metrics,
	}
}

// Run executes the polling loop until ctx is cancelled. Cadence is monotonic
// from start; a provider failure only delays the next poll, it never stops
// the loop.
func (w *Worker) Run(ctx context.Context) {
	interval := w.cfg.PollInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer w.closeProvider()

	w.logger.Info("stream worker started", zap.Duration("interval", interval))

	// First poll immediately; the ticker covers the rest.
	extraDelay := w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("stream worker stopping")
			return
		case <-ticker.C:
			if extraDelay > 0 {
				select {
				case <-ctx.Done():
					w.logger.Info("stream worker stopping")
					return
				case <-time.After(extraDelay):
				}
			}
			extraDelay = w.poll(ctx)
		}
	}
}

// closeProvider releases the provider's long-lived resources, if it holds
// any. Providers live and die with their worker.
func (w *Worker) closeProvider() {
	c, ok := w.provider.(plugin.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		w.logger.Warn("provider close failed", zap.Error(err))
	}
}

// poll runs one fetch-transform-enqueue cycle and returns an extra delay to
// apply before the next poll (rate limiting, timeouts).
func (w *Worker) poll(ctx context.Context) time.Duration {
	// The provider deadline never exceeds the poll interval.
	fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.PollInterval())
	defer cancel()

	positions, err := w.provider.Fetch(fetchCtx, w.client, w.cfg.PluginConfig)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		return w.handleFetchError(err)
	}
	if len(positions) == 0 {
		w.logger.Debug("provider returned no positions")
		return 0
	}

	positions = w.applyCallsignMapping(positions)
	positions = w.validateAndDedupe(ctx, positions)
	if len(positions) == 0 {
		return 0
	}

	events := w.builder.Build(ctx, positions, w.cotType, w.cfg.CotStaleSeconds)
	if len(events) == 0 {
		return 0
	}

	// Destinations are independent: a dead queue for one server must not
	// starve the others.
	for _, serverID := range w.cfg.Destinations {
		res, err := w.sink.EnqueueWithReplacement(ctx, serverID, events)
		if err != nil {
			w.logger.Warn("enqueue failed for destination",
				zap.Int64("server_id", serverID),
				zap.Error(err),
			)
			continue
		}
		w.logger.Debug("enqueued batch",
			zap.Int64("server_id", serverID),
			zap.Int("accepted", res.Accepted),
			zap.Int("replaced", res.Replaced),
			zap.Int("dropped", res.Dropped),
		)
	}
	return 0
}

// handleFetchError logs a classified provider failure and decides the extra
// poll delay. Rate limits honour the provider-suggested delay; timeouts get
// the default backoff, capped at one poll interval.
func (w *Worker) handleFetchError(err error) time.Duration {
	kind := plugin.KindOf(err)
	w.logger.Warn("provider fetch failed",
		zap.String("kind", kind.String()),
		zap.Error(err),
	)

	var delay time.Duration
	switch kind {
	case plugin.KindRateLimited:
		delay = plugin.RetryAfterOf(err)
		if delay <= 0 {
			delay = defaultErrorBackoff
		}
	case plugin.KindTimeout:
		delay = defaultErrorBackoff
	default:
		return 0
	}
	if max := w.cfg.PollInterval(); delay > max {
		delay = max
	}
	return delay
}

// applyCallsignMapping runs the provider's mapping capability when the stream
// enables it. Providers without the capability pass positions through.
func (w *Worker) applyCallsignMapping(positions []model.Position) []model.Position {
	if !w.cfg.EnableCallsignMapping || len(w.cfg.CallsignMappings) == 0 {
		return positions
	}
	mapper, ok := w.provider.(plugin.CallsignMapper)
	if !ok {
		w.logger.Debug("plugin does not support callsign mapping")
		return positions
	}
	before := len(positions)
	positions = mapper.ApplyCallsignMapping(positions, w.cfg.CallsignIdentifierField, w.cfg.CallsignMappings)
	if dropped := before - len(positions); dropped > 0 {
		w.logger.Debug("callsign mapping dropped disabled devices", zap.Int("dropped", dropped))
	}
	return positions
}

// validateAndDedupe drops invalid positions and collapses duplicate uids
// within the batch, keeping the last occurrence in provider order.
func (w *Worker) validateAndDedupe(ctx context.Context, positions []model.Position) []model.Position {
	valid := positions[:0]
	invalid := 0
	for i := range positions {
		if err := positions[i].Validate(); err != nil {
			invalid++
			w.logger.Warn("dropping invalid position", zap.Error(err))
			continue
		}
		valid = append(valid, positions[i])
	}
	if invalid > 0 {
		w.metrics.AddInvalidPositions(ctx, w.cfg.ID, int64(invalid))
	}

	lastIdx := make(map[string]int, len(valid))
	for i := range valid {
		lastIdx[valid[i].UID] = i
	}
	if len(lastIdx) == len(valid) {
		return valid
	}
	deduped := make([]model.Position, 0, len(lastIdx))
	for i := range valid {
		if lastIdx[valid[i].UID] == i {
			deduped = append(deduped, valid[i])
		}
	}
	return deduped
}

// cotType resolves the event type for one position: per-mapping override,
// then the provider hint when the stream is in per_point mode, then the
// stream default.
func (w *Worker) cotType(p model.Position) string {
	if override := p.ExtraString(model.ExtraCotTypeOverride); override != "" {
		return override
	}
	if w.cfg.CotTypeMode == model.CotTypeModePerPoint && p.CotTypeHint != "" {
		return p.CotTypeHint
	}
	return w.cfg.CotTypeDefault
}
