package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/emfoursolutions/trakbridge-sub002/internal/cot"
	"github.com/emfoursolutions/trakbridge-sub002/internal/telemetry"
)

// ErrNoQueue is returned when an operation names a destination that has no
// queue, typically because the server was removed by reconciliation.
var ErrNoQueue = errors.New("no queue for server")

// Monitoring tunes the manager's queue-depth warning logging.
type Monitoring struct {
	LogQueueStats    bool
	WarningThreshold int
}

// DefaultMonitoring returns the documented monitoring defaults.
func DefaultMonitoring() Monitoring {
	return Monitoring{LogQueueStats: true, WarningThreshold: 400}
}

// Manager owns the per-destination queues. It is the only component that
// creates or destroys them; workers hold references to queues but never own
// them.
type Manager struct {
	cfg     Config
	mon     Monitoring
	logger  *zap.Logger
	metrics *telemetry.PipelineMetrics

	mu     sync.RWMutex
	queues map[int64]*Queue
}

// NewManager creates an empty queue registry.
func NewManager(cfg Config, mon Monitoring, logger *zap.Logger, metrics *telemetry.PipelineMetrics) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:     cfg,
		mon:     mon,
		logger:  logger,
		metrics: metrics,
		queues:  make(map[int64]*Queue),
	}
}

// CreateQueue creates the queue for a destination server. Idempotent: an
// existing queue is returned untouched.
func (m *Manager) CreateQueue(serverID int64) *Queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[serverID]; ok {
		return q
	}
	q := New(m.cfg)
	m.queues[serverID] = q
	m.logger.Info("created destination queue",
		zap.Int64("server_id", serverID),
		zap.Int("max_size", m.cfg.MaxSize),
		zap.String("overflow_strategy", string(m.cfg.Overflow)),
	)
	return q
}

// DeleteQueue closes and removes the queue for a destination, releasing any
// blocked producers. Idempotent.
func (m *Manager) DeleteQueue(serverID int64) {
	m.mu.Lock()
	q, ok := m.queues[serverID]
	delete(m.queues, serverID)
	m.mu.Unlock()
	if ok {
		q.Close()
		m.logger.Info("deleted destination queue", zap.Int64("server_id", serverID))
	}
}

// Get returns the queue for a destination.
func (m *Manager) Get(serverID int64) (*Queue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queues[serverID]
	return q, ok
}

// ServerIDs lists the destinations with live queues, sorted.
func (m *Manager) ServerIDs() []int64 {
	m.mu.RLock()
	ids := make([]int64, 0, len(m.queues))
	for id := range m.queues {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// EnqueueWithReplacement fans one batch into the destination's queue and
// records metrics. A missing queue is an error the caller logs; it must not
// stop fan-out to other destinations.
func (m *Manager) EnqueueWithReplacement(ctx context.Context, serverID int64, events []cot.Event) (Result, error) {
	q, ok := m.Get(serverID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %d", ErrNoQueue, serverID)
	}
	res, err := q.EnqueueWithReplacement(ctx, events)

	m.metrics.AddQueued(ctx, serverID, int64(res.Accepted))
	m.metrics.AddDropped(ctx, serverID, int64(res.Dropped))
	m.metrics.AddReplaced(ctx, serverID, int64(res.Replaced))

	if m.mon.LogQueueStats {
		if size := q.Stats().Size; size >= m.mon.WarningThreshold && m.mon.WarningThreshold > 0 {
			m.logger.Warn("destination queue approaching capacity",
				zap.Int64("server_id", serverID),
				zap.Int("size", size),
				zap.Int("max_size", q.Config().MaxSize),
			)
		}
	}
	return res, err
}

// Flush drops the buffered entries of one destination. Hard flushes also
// reset the device-state tracker.
func (m *Manager) Flush(serverID int64, hard bool) error {
	q, ok := m.Get(serverID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoQueue, serverID)
	}
	q.Flush(hard)
	m.logger.Info("flushed destination queue",
		zap.Int64("server_id", serverID),
		zap.Bool("hard", hard),
	)
	return nil
}

// FlushAll flushes every queue. Used when a configuration change affects all
// destinations.
func (m *Manager) FlushAll(hard bool) {
	for _, id := range m.ServerIDs() {
		_ = m.Flush(id, hard)
	}
}

// Stats snapshots one destination's counters.
func (m *Manager) Stats(serverID int64) (Stats, error) {
	q, ok := m.Get(serverID)
	if !ok {
		return Stats{}, fmt.Errorf("%w: %d", ErrNoQueue, serverID)
	}
	return q.Stats(), nil
}

// StatsAll snapshots every destination's counters.
func (m *Manager) StatsAll() map[int64]Stats {
	out := make(map[int64]Stats)
	for _, id := range m.ServerIDs() {
		if s, err := m.Stats(id); err == nil {
			out[id] = s
		}
	}
	return out
}

// RunEvictionSweep periodically evicts device-state entries older than the
// horizon from every tracker. Blocks until ctx is cancelled; intended to run
// in its own goroutine. A non-positive horizon disables the sweep.
func (m *Manager) RunEvictionSweep(ctx context.Context, interval, horizon time.Duration) {
	if horizon <= 0 {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range m.ServerIDs() {
				if q, ok := m.Get(id); ok {
					if n := q.EvictStaleDevices(horizon); n > 0 {
						m.logger.Debug("evicted stale device state",
							zap.Int64("server_id", id),
							zap.Int("evicted", n),
						)
					}
				}
			}
		}
	}
}
