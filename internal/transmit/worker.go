// Package transmit maintains one long-lived connection per destination TAK
// server and writes batched CoT events onto it. Connection loss triggers
// reconnects with exponential backoff; queued events survive reconnects
// because the worker never holds more than one in-flight batch.
package transmit

import (
	"bytes"
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/emfoursolutions/trakbridge-sub002/internal/model"
	"github.com/emfoursolutions/trakbridge-sub002/internal/queue"
	"github.com/emfoursolutions/trakbridge-sub002/internal/telemetry"
)

// State is the transmission worker's connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// connErrLogInterval rate-limits connection failure logging; backoff can
// retry every second against a dead server for a long time.
const connErrLogInterval = 30 * time.Second

// Config tunes one transmission worker.
type Config struct {
	BatchSize          int
	QueueCheckInterval time.Duration
	WriteTimeout       time.Duration
	DrainTimeout       time.Duration
	DialTimeout        time.Duration
	Overflow           queue.OverflowStrategy
}

// DefaultConfig returns the documented transmission defaults. The write
// deadline is ten batch timeouts.
func DefaultConfig() Config {
	return Config{
		BatchSize:          8,
		QueueCheckInterval: 50 * time.Millisecond,
		WriteTimeout:       time.Second,
		DrainTimeout:       5 * time.Second,
		DialTimeout:        10 * time.Second,
		Overflow:           queue.DropOldest,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.QueueCheckInterval <= 0 {
		c.QueueCheckInterval = d.QueueCheckInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.Overflow == "" {
		c.Overflow = d.Overflow
	}
	return c
}

// Worker owns the connection to one TAK server. It holds a reference to the
// destination's queue but never owns it; the queue manager does.
type Worker struct {
	server  model.ServerConfig
	queue   *queue.Queue
	cfg     Config
	logger  *zap.Logger
	metrics *telemetry.PipelineMetrics

	state atomic.Int32

	// dialFn is swapped out by tests to avoid real sockets.
	dialFn func(ctx context.Context) (net.Conn, error)

	lastConnErrLog time.Time
}

// NewWorker constructs a transmission worker for one destination.
func NewWorker(server model.ServerConfig, q *queue.Queue, cfg Config, logger *zap.Logger, metrics *telemetry.PipelineMetrics) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{
		server: server,
		queue:  q,
		cfg:    cfg.withDefaults(),
		logger: logger.With(
			zap.Int64("server_id", server.ID),
			zap.String("server", server.Name),
			zap.String("addr", server.Addr()),
		),
		metrics: metrics,
	}
	w.dialFn = w.dial
	return w
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// newBackoff builds the reconnect schedule: base 1 s, cap 60 s, full jitter,
// never gives up.
func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 60 * time.Second
	b.RandomizationFactor = 1
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run drives the connection state machine until ctx is cancelled. Blocks;
// intended to run in its own goroutine.
func (w *Worker) Run(ctx context.Context) {
	defer w.setState(StateStopped)

	bo := newBackoff()
	for {
		if ctx.Err() != nil {
			return
		}

		w.setState(StateConnecting)
		w.metrics.AddReconnect(ctx, w.server.ID)
		conn, err := w.dialFn(ctx)
		if err != nil {
			w.setState(StateDisconnected)
			if ctx.Err() != nil {
				return
			}
			w.logConnError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(bo.NextBackOff()):
			}
			continue
		}

		bo.Reset()
		w.setState(StateConnected)
		w.logger.Info("connected to TAK server", zap.String("protocol", string(w.server.Protocol)))

		err = w.transmitLoop(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		w.setState(StateDisconnected)
		w.logger.Warn("connection lost", zap.Error(err))
	}
}

// transmitLoop pulls batches and writes them until the connection dies or the
// worker is asked to stop. The queue lock is never held across a network
// write: DequeueBatch copies entries out under the lock and releases it.
func (w *Worker) transmitLoop(ctx context.Context, conn net.Conn) error {
	for {
		batch := w.queue.DequeueBatch(ctx, w.cfg.BatchSize)

		if ctx.Err() != nil {
			// Shutdown: flush the batch in hand, bounded by the drain
			// deadline, then close.
			w.setState(StateDraining)
			if len(batch) > 0 {
				if err := w.writeBatch(conn, batch, w.cfg.DrainTimeout); err != nil {
					w.logger.Warn("drain write failed", zap.Error(err))
				}
			}
			return ctx.Err()
		}

		if len(batch) == 0 {
			// DequeueBatch already waited one batch timeout; pace the idle
			// loop with the check interval.
			select {
			case <-ctx.Done():
				continue
			case <-time.After(w.cfg.QueueCheckInterval):
			}
			continue
		}

		if err := w.writeBatch(conn, batch, w.cfg.WriteTimeout); err != nil {
			// Latest-position semantics: the batch is lost unless producers
			// asked for blocking backpressure.
			if w.cfg.Overflow == queue.Block {
				requeued := w.queue.RequeueFront(batch)
				w.logger.Warn("write failed, requeued batch",
					zap.Int("batch", len(batch)),
					zap.Int("requeued", requeued),
					zap.Error(err),
				)
			}
			return err
		}
		w.metrics.AddTransmitted(ctx, w.server.ID, int64(len(batch)))
	}
}

// writeBatch concatenates the batch and writes it back-to-back under one
// write deadline. TAK framing is the XML elements themselves.
func (w *Worker) writeBatch(conn net.Conn, batch []queue.Entry, timeout time.Duration) error {
	var buf bytes.Buffer
	for i := range batch {
		buf.Write(batch[i].XML)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	_, err := conn.Write(buf.Bytes())
	return err
}

// logConnError logs a dial failure at most once per interval.
func (w *Worker) logConnError(err error) {
	now := time.Now()
	if now.Sub(w.lastConnErrLog) < connErrLogInterval {
		return
	}
	w.lastConnErrLog = now
	w.logger.Warn("connection attempt failed", zap.Error(err))
}
