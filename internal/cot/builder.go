package cot

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
	"go.uber.org/zap"

	"github.com/emfoursolutions/trakbridge-sub002/internal/model"
)

// TypeFunc resolves the CoT event type for one position. The stream worker
// supplies the override → per-point hint → stream default chain.
type TypeFunc func(model.Position) string

// Builder converts batches of positions into events, optionally in parallel.
// A failure on one position never fails the batch: the item is logged and
// skipped.
type Builder struct {
	// Threshold is the minimum batch size before the parallel path is used.
	Threshold int
	// MaxConcurrent bounds in-flight builds on the parallel path.
	MaxConcurrent int64
	// FallbackOnError retries the whole batch serially if the parallel path
	// is interrupted (context cancellation mid-batch).
	FallbackOnError bool

	Logger *zap.Logger
}

// NewBuilder returns a Builder with the given tuning, correcting non-positive
// values to defaults.
func NewBuilder(threshold int, maxConcurrent int64, fallbackOnError bool, logger *zap.Logger) *Builder {
	if threshold <= 0 {
		threshold = 10
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		Threshold:       threshold,
		MaxConcurrent:   maxConcurrent,
		FallbackOnError: fallbackOnError,
		Logger:          logger,
	}
}

// Build renders all positions into events. Output ordering is unspecified on
// the parallel path; the queue layer deduplicates by uid so ordering is
// irrelevant here.
func (b *Builder) Build(ctx context.Context, positions []model.Position, typeFor TypeFunc, staleSeconds int) []Event {
	if len(positions) == 0 {
		return nil
	}
	if len(positions) < b.Threshold {
		return b.buildSerial(positions, typeFor, staleSeconds)
	}
	events, interrupted := b.buildParallel(ctx, positions, typeFor, staleSeconds)
	if interrupted && b.FallbackOnError {
		b.Logger.Warn("parallel event build interrupted, falling back to serial")
		return b.buildSerial(positions, typeFor, staleSeconds)
	}
	return events
}

func (b *Builder) buildSerial(positions []model.Position, typeFor TypeFunc, staleSeconds int) []Event {
	events := make([]Event, 0, len(positions))
	for _, p := range positions {
		ev, err := BuildEvent(p, typeFor(p), staleSeconds)
		if err != nil {
			b.Logger.Debug("skipping position", zap.String("uid", p.UID), zap.Error(err))
			continue
		}
		events = append(events, ev)
	}
	return events
}

// buildParallel builds events concurrently with a weighted semaphore. The
// returned bool reports whether the batch was cut short by cancellation.
func (b *Builder) buildParallel(ctx context.Context, positions []model.Position, typeFor TypeFunc, staleSeconds int) ([]Event, bool) {
	sem := semaphore.NewWeighted(b.MaxConcurrent)
	results := make([]*Event, len(positions))
	var wg sync.WaitGroup

	interrupted := false
	for i := range positions {
		if err := sem.Acquire(ctx, 1); err != nil {
			interrupted = true
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			p := positions[i]
			ev, err := BuildEvent(p, typeFor(p), staleSeconds)
			if err != nil {
				b.Logger.Debug("skipping position", zap.String("uid", p.UID), zap.Error(err))
				return
			}
			results[i] = &ev
		}(i)
	}
	wg.Wait()

	events := make([]Event, 0, len(positions))
	for _, r := range results {
		if r != nil {
			events = append(events, *r)
		}
	}
	return events, interrupted
}
