// Package retryqueue implements the write-retry queue: a bounded FIFO of
// changes that failed an outbound write, drained in batches back to the
// source with failed items re-queued at the head, per spec §4.H.
package retryqueue

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/evalgo/graphsync/subject"
)

// Sender performs one retry batch write. It returns the subset that failed
// again, to be re-queued at the head.
type Sender func(ctx context.Context, batch []subject.PropertyChange) (failed []subject.PropertyChange, err error)

// Config configures a Queue.
type Config struct {
	// Capacity is the ring buffer's bound. Zero disables buffering: every
	// enqueue is dropped immediately (and logged) with nothing retained.
	Capacity int
	// MaxBatchSize bounds how many items one flush drains at a time.
	MaxBatchSize int
	Sender       Sender
	Logger       *logrus.Entry
	// OnDrop, if set, receives every change dropped for capacity reasons
	// (oldest-drop on enqueue or tail-drop on re-queue) so a caller can
	// archive it (see RedisOverflow) instead of losing it outright.
	OnDrop func(dropped []subject.PropertyChange)
}

// Queue is a bounded FIFO of pending retries. Oldest entries are dropped
// (with a logged drop count) when capacity is exceeded; a single-flusher
// semaphore serializes Flush calls so retries are never sent out of order
// by two concurrent flushes.
type Queue struct {
	cfg Config

	mu      sync.Mutex
	pending []subject.PropertyChange

	flushGate *semaphore.Weighted
}

// New constructs a Queue from cfg.
func New(cfg Config) *Queue {
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = cfg.Capacity
	}
	return &Queue{
		cfg:       cfg,
		flushGate: semaphore.NewWeighted(1),
	}
}

// Enqueue appends changes to the tail. If the resulting length would exceed
// Capacity, the oldest entries are dropped and the drop count is logged —
// never silently discarded.
func (q *Queue) Enqueue(changes ...subject.PropertyChange) {
	if q.cfg.Capacity <= 0 {
		if len(changes) > 0 {
			q.cfg.Logger.WithField("dropped", len(changes)).Warn("retryqueue: buffering disabled, dropping changes")
		}
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, changes...)
	if overflow := len(q.pending) - q.cfg.Capacity; overflow > 0 {
		dropped := append([]subject.PropertyChange(nil), q.pending[:overflow]...)
		q.pending = q.pending[overflow:]
		q.cfg.Logger.WithField("dropped", overflow).Warn("retryqueue: capacity exceeded, dropped oldest entries")
		if q.cfg.OnDrop != nil {
			q.cfg.OnDrop(dropped)
		}
	}
}

// requeueHead inserts changes at the front of the pending list, ahead of
// whatever is already there, honoring capacity; unlike Enqueue, which drops
// the oldest entries, overflow here is dropped from the tail.
func (q *Queue) requeueHead(changes []subject.PropertyChange) {
	if len(changes) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(changes, q.pending...)
	if overflow := len(q.pending) - q.cfg.Capacity; q.cfg.Capacity > 0 && overflow > 0 {
		// Drop from the tail (the newest, least-retried-yet arrivals) so
		// the re-queued failures — already proven to need another attempt
		// — are not the ones discarded.
		dropped := append([]subject.PropertyChange(nil), q.pending[q.cfg.Capacity:]...)
		q.pending = q.pending[:q.cfg.Capacity]
		q.cfg.Logger.WithField("dropped", overflow).Warn("retryqueue: capacity exceeded while re-queueing failed batch")
		if q.cfg.OnDrop != nil {
			q.cfg.OnDrop(dropped)
		}
	}
}

// Flush drains up to MaxBatchSize pending changes and hands them to Sender.
// Items Sender reports as failed are re-queued at the head. A flush already
// in progress causes this call to be a no-op.
func (q *Queue) Flush(ctx context.Context) {
	if q.cfg.Sender == nil {
		return
	}
	if !q.flushGate.TryAcquire(1) {
		return
	}
	defer q.flushGate.Release(1)

	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	n := len(q.pending)
	if n > q.cfg.MaxBatchSize {
		n = q.cfg.MaxBatchSize
	}
	batch := q.pending[:n]
	q.pending = q.pending[n:]
	q.mu.Unlock()

	failed, err := q.cfg.Sender(ctx, batch)
	if err != nil {
		if ctx.Err() != nil {
			q.requeueHead(batch)
			return
		}
		q.cfg.Logger.WithError(err).WithField("batch_size", len(batch)).Warn("retryqueue: flush failed, re-queueing batch")
		q.requeueHead(batch)
		return
	}
	if len(failed) > 0 {
		q.cfg.Logger.WithField("failed_count", len(failed)).Warn("retryqueue: partial retry failure, re-queueing")
		q.requeueHead(failed)
	}
}

// Len reports how many changes are currently pending, for metrics.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
