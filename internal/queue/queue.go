// Package queue implements the per-destination bounded FIFO queues that sit
// between stream workers and transmission workers, together with their
// device-state trackers.
//
// Each destination server gets exactly one Queue and one tracker. A device
// never has more than one entry waiting in a queue: a newer event replaces
// the queued one, and an event not strictly newer than the last accepted one
// for that destination is dropped as stale.
package queue

import (
	"context"
	"errors"
	"time"

	"sync"

	"github.com/emfoursolutions/trakbridge-sub002/internal/cot"
	"github.com/emfoursolutions/trakbridge-sub002/internal/tracker"
)

// ErrClosed is returned to producers blocked on a queue that has been
// deleted.
var ErrClosed = errors.New("queue closed")

// OverflowStrategy controls what happens when an enqueue would exceed the
// queue's capacity.
type OverflowStrategy string

const (
	// DropOldest evicts the head of the queue to make room. Default.
	DropOldest OverflowStrategy = "drop_oldest"
	// DropNewest refuses the incoming event.
	DropNewest OverflowStrategy = "drop_newest"
	// Block makes the producer wait for space, honouring its context.
	Block OverflowStrategy = "block"
)

// Config tunes one destination queue.
type Config struct {
	MaxSize             int
	BatchSize           int
	Overflow            OverflowStrategy
	BatchTimeout        time.Duration
	FlushOnConfigChange bool
}

// DefaultConfig returns the documented queue defaults.
func DefaultConfig() Config {
	return Config{
		MaxSize:             500,
		BatchSize:           8,
		Overflow:            DropOldest,
		BatchTimeout:        100 * time.Millisecond,
		FlushOnConfigChange: true,
	}
}

// Entry is one queued event.
type Entry struct {
	UID       string
	EventTime time.Time
	XML       []byte
}

// Stats is a point-in-time snapshot of a queue's counters.
type Stats struct {
	Size          int       `json:"size"`
	QueuedTotal   uint64    `json:"events_queued_total"`
	DroppedTotal  uint64    `json:"events_dropped_total"`
	ReplacedTotal uint64    `json:"events_replaced_total"`
	LastEnqueue   time.Time `json:"last_enqueue_time"`
}

// Result summarizes one EnqueueWithReplacement call.
type Result struct {
	Accepted int
	Replaced int
	Dropped  int
}

// Queue is the bounded FIFO for one destination server. All mutations of the
// entries and the tracker are serialized behind mu; lock hold time is bounded
// by one linear scan of at most MaxSize entries. Producers and consumers
// coordinate through broadcast channels so DequeueBatch never busy-waits.
type Queue struct {
	cfg Config

	mu      sync.Mutex
	entries []Entry
	tracker *tracker.Tracker
	closed  bool

	queuedTotal   uint64
	droppedTotal  uint64
	replacedTotal uint64
	lastEnqueue   time.Time

	// itemCh is closed and replaced on enqueue; spaceCh on dequeue/flush.
	itemCh  chan struct{}
	spaceCh chan struct{}
	done    chan struct{}
}

// New creates an empty queue with the given configuration.
func New(cfg Config) *Queue {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 500
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 8
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 100 * time.Millisecond
	}
	if cfg.Overflow == "" {
		cfg.Overflow = DropOldest
	}
	return &Queue{
		cfg:     cfg,
		tracker: tracker.New(),
		itemCh:  make(chan struct{}),
		spaceCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Config returns the queue's configuration snapshot.
func (q *Queue) Config() Config {
	return q.cfg
}

// EnqueueWithReplacement admits each event through the device-state tracker,
// replaces any queued entry for the same uid, and applies the overflow
// strategy. Destinations decide independently: this queue's tracker is
// consulted, nobody else's.
//
// The error is non-nil only when a blocked producer is cancelled or the queue
// is deleted mid-call; events already admitted stay admitted.
func (q *Queue) EnqueueWithReplacement(ctx context.Context, events []cot.Event) (Result, error) {
	var res Result
	for i := range events {
		outcome, err := q.enqueueOne(ctx, events[i])
		if err != nil {
			return res, err
		}
		switch outcome {
		case admitted:
			res.Accepted++
		case admittedReplaced:
			res.Accepted++
			res.Replaced++
		case dropped:
			res.Dropped++
		}
	}
	return res, nil
}

type outcome int

const (
	dropped outcome = iota
	admitted
	admittedReplaced
)

func (q *Queue) enqueueOne(ctx context.Context, ev cot.Event) (outcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var replaced bool
	for {
		if q.closed {
			return dropped, ErrClosed
		}

		// Stale events are rejected before any mutation: not strictly newer
		// than the last accepted event for this uid on this destination.
		if !q.tracker.ShouldAccept(ev.UID, ev.Time) {
			q.droppedTotal++
			return dropped, nil
		}

		// Replacement rule: at most one waiting entry per device, always the
		// newest. Linear scan is fine at this queue size.
		replaced = false
		for i := range q.entries {
			if q.entries[i].UID == ev.UID {
				q.entries = append(q.entries[:i], q.entries[i+1:]...)
				replaced = true
				break
			}
		}

		if replaced || len(q.entries) < q.cfg.MaxSize {
			break
		}
		switch q.cfg.Overflow {
		case DropNewest:
			// Refuse the event; the tracker has not been updated yet so
			// there is nothing to revert.
			q.droppedTotal++
			return dropped, nil
		case Block:
			if err := q.waitForSpaceLocked(ctx); err != nil {
				return dropped, err
			}
			// The lock was released while waiting, so another producer may
			// have queued or accepted an event for this uid. Redo the admit
			// decision and the replacement scan from scratch.
			continue
		default: // DropOldest
			copy(q.entries, q.entries[1:])
			q.entries = q.entries[:len(q.entries)-1]
			q.droppedTotal++
		}
		break
	}

	q.entries = append(q.entries, Entry{UID: ev.UID, EventTime: ev.Time, XML: ev.XML})
	q.tracker.Record(ev.UID, ev.Time, ev.Lat, ev.Lon)
	q.queuedTotal++
	if replaced {
		q.replacedTotal++
	}
	q.lastEnqueue = time.Now()
	q.broadcastLocked(&q.itemCh)

	if replaced {
		return admittedReplaced, nil
	}
	return admitted, nil
}

// waitForSpaceLocked releases the lock while waiting for a consumer to make
// room. Returns ctx.Err() on cancellation or ErrClosed if the queue is
// deleted while waiting.
func (q *Queue) waitForSpaceLocked(ctx context.Context) error {
	for len(q.entries) >= q.cfg.MaxSize {
		ch := q.spaceCh
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			q.mu.Lock()
			return ctx.Err()
		case <-q.done:
			q.mu.Lock()
			return ErrClosed
		case <-ch:
			q.mu.Lock()
			if q.closed {
				return ErrClosed
			}
		}
	}
	return nil
}

// DequeueBatch pops up to maxN entries in FIFO order. It blocks up to the
// configured batch timeout waiting for the first entry, then returns whatever
// is available. A nil result means timeout, cancellation, or queue deletion.
func (q *Queue) DequeueBatch(ctx context.Context, maxN int) []Entry {
	if maxN <= 0 {
		maxN = q.cfg.BatchSize
	}
	timeout := time.NewTimer(q.cfg.BatchTimeout)
	defer timeout.Stop()

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil
		}
		if len(q.entries) > 0 {
			n := maxN
			if n > len(q.entries) {
				n = len(q.entries)
			}
			batch := make([]Entry, n)
			copy(batch, q.entries[:n])
			q.entries = append(q.entries[:0], q.entries[n:]...)
			q.broadcastLocked(&q.spaceCh)
			q.mu.Unlock()
			return batch
		}
		ch := q.itemCh
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-q.done:
			return nil
		case <-timeout.C:
			return nil
		case <-ch:
		}
	}
}

// RequeueFront puts a failed batch back at the head of the queue, preserving
// its order. Entries whose uid is already queued again are skipped: the
// queued entry is necessarily newer. Used by transmission workers under the
// Block strategy only; with the drop strategies a failed batch is lost by
// design.
func (q *Queue) RequeueFront(entries []Entry) int {
	if len(entries) == 0 {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}

	present := make(map[string]struct{}, len(q.entries))
	for i := range q.entries {
		present[q.entries[i].UID] = struct{}{}
	}

	head := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if _, dup := present[e.UID]; dup {
			continue
		}
		if len(q.entries)+len(head) >= q.cfg.MaxSize {
			q.droppedTotal++
			continue
		}
		head = append(head, e)
	}
	if len(head) == 0 {
		return 0
	}
	q.entries = append(head, q.entries...)
	q.broadcastLocked(&q.itemCh)
	return len(head)
}

// Flush drops all queued entries. A hard flush also resets the device-state
// tracker; used on configuration changes that invalidate buffered data.
func (q *Queue) Flush(hard bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = q.entries[:0]
	if hard {
		q.tracker.Reset()
	}
	q.broadcastLocked(&q.spaceCh)
}

// EvictStaleDevices removes tracker entries older than the horizon and
// returns how many were evicted.
func (q *Queue) EvictStaleDevices(horizon time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tracker.EvictOlderThan(horizon))
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Size:          len(q.entries),
		QueuedTotal:   q.queuedTotal,
		DroppedTotal:  q.droppedTotal,
		ReplacedTotal: q.replacedTotal,
		LastEnqueue:   q.lastEnqueue,
	}
}

// TrackedDevices returns the number of devices the tracker currently holds.
func (q *Queue) TrackedDevices() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tracker.Len()
}

// Close marks the queue deleted and releases all blocked producers and
// consumers. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.entries = nil
	close(q.done)
	q.broadcastLocked(&q.itemCh)
	q.broadcastLocked(&q.spaceCh)
}

// broadcastLocked wakes every waiter on the channel by closing it and
// installing a fresh one. Must be called with mu held.
func (q *Queue) broadcastLocked(ch *chan struct{}) {
	close(*ch)
	*ch = make(chan struct{})
}
