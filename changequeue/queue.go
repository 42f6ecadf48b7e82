// Package changequeue implements the change-queue processor: it sits
// between the change bus and a connector's outbound writer, buffering
// changes over a configurable window, deduplicating by property
// (last-write-wins while preserving last-occurrence order), and flushing in
// batches, per spec §4.G.
package changequeue

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/evalgo/graphsync/subject"
)

// Filter decides whether property is of interest to a connector. Changes
// for excluded properties are dropped before ever reaching the buffer.
type Filter func(property subject.PropertyReference) bool

// Writer is the outbound connector write path: it receives one batch and
// returns which changes, if any, failed. Writer must not block
// indefinitely; a flush observes ctx cancellation.
type Writer func(ctx context.Context, batch []subject.PropertyChange) (failed []subject.PropertyChange, err error)

// Config configures a Processor.
type Config struct {
	// BufferTime is the flush window. Zero disables batching: every change
	// is delivered immediately as a one-element batch.
	BufferTime time.Duration
	// ConnectorSource identifies this processor's own connector for loop
	// suppression: a change whose Source equals ConnectorSource is dropped.
	ConnectorSource subject.Source
	// Filter restricts which properties this connector cares about. A nil
	// Filter admits every property.
	Filter Filter
	// Writer performs the outbound batch write.
	Writer Writer
	// OnFailed receives changes Writer reported as failed, or the whole
	// batch if Writer returned an error outright (excluding cancellation).
	// Typically wired to a write-retry queue's Enqueue.
	OnFailed func(failed []subject.PropertyChange)
	// OnDropped receives a reason ("loop_guard" or "filter") whenever
	// Enqueue discards a change without buffering it, e.g. to increment a
	// metric.
	OnDropped func(reason string)
	// OnFlush receives the size of each batch handed to Writer and the
	// error Writer returned (nil on full success), e.g. to record flush
	// counters and batch-size histograms. Not called for cancellation.
	OnFlush func(batchSize int, err error)
	// Logger receives flush failures and dropped-change diagnostics.
	Logger *logrus.Entry
}

// Processor buffers, dedupes, and flushes property changes for one
// connector. The buffer is a plain mutex-guarded slice rather than a
// lock-free structure: contention is limited to Enqueue calls from the bus's
// own dispatch path and the single flush goroutine, so a mutex is
// sufficient and keeps the dedup pass simple to reason about.
type Processor struct {
	cfg Config

	mu     sync.Mutex
	buffer []subject.PropertyChange

	flushGate *semaphore.Weighted

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Processor from cfg. Start begins the periodic flush
// timer; a zero BufferTime processor never needs Start since every change
// flushes immediately on Enqueue.
func New(cfg Config) *Processor {
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Processor{
		cfg:       cfg,
		flushGate: semaphore.NewWeighted(1),
	}
}

// Start launches the periodic flush timer. It is a no-op if BufferTime is
// zero. Calling Start twice is a programmer error.
func (p *Processor) Start(ctx context.Context) {
	if p.cfg.BufferTime <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.cfg.BufferTime)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.flush(ctx)
			}
		}
	}()
}

// Stop cancels the flush timer and waits for it to exit.
func (p *Processor) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// Enqueue admits one change. It is dropped silently if it fails the loop
// guard or the connector's property filter. With BufferTime zero it is
// written immediately as a one-element batch; otherwise it joins the
// pending buffer for the next timed flush.
func (p *Processor) Enqueue(ctx context.Context, change subject.PropertyChange) {
	if p.cfg.ConnectorSource != nil && change.Source == p.cfg.ConnectorSource {
		if p.cfg.OnDropped != nil {
			p.cfg.OnDropped("loop_guard")
		}
		return
	}
	if p.cfg.Filter != nil && !p.cfg.Filter(change.Property) {
		if p.cfg.OnDropped != nil {
			p.cfg.OnDropped("filter")
		}
		return
	}

	if p.cfg.BufferTime <= 0 {
		p.write(ctx, []subject.PropertyChange{change})
		return
	}

	p.mu.Lock()
	p.buffer = append(p.buffer, change)
	p.mu.Unlock()
}

// Flush forces an immediate out-of-band flush (e.g. on graceful shutdown,
// to drain anything still pending). It honors the same single-writer gate
// as the periodic timer, so it is safe to call concurrently with Start's
// background loop.
func (p *Processor) Flush(ctx context.Context) {
	p.flush(ctx)
}

// flush drains the buffer into a scratch slice, walks it from the end
// keeping only each property's most recent change (last-write-wins), then
// emits the retained set in ascending order of last-occurrence.
func (p *Processor) flush(ctx context.Context) {
	if !p.flushGate.TryAcquire(1) {
		return // a flush is already running; this tick's work folds into it
	}
	defer p.flushGate.Release(1)

	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	scratch := p.buffer
	p.buffer = make([]subject.PropertyChange, 0, cap(scratch))
	p.mu.Unlock()

	seen := make(map[subject.PropertyReference]bool, len(scratch))
	var retained []subject.PropertyChange
	for i := len(scratch) - 1; i >= 0; i-- {
		c := scratch[i]
		if seen[c.Property] {
			continue
		}
		seen[c.Property] = true
		retained = append(retained, c)
	}
	for i, j := 0, len(retained)-1; i < j; i, j = i+1, j-1 {
		retained[i], retained[j] = retained[j], retained[i]
	}

	p.write(ctx, retained)
}

func (p *Processor) write(ctx context.Context, batch []subject.PropertyChange) {
	if p.cfg.Writer == nil {
		return
	}
	failed, err := p.cfg.Writer(ctx, batch)
	if err != nil {
		if ctx.Err() != nil {
			return // cancellation, not a transient failure: propagate silently
		}
		p.cfg.Logger.WithError(err).WithField("batch_size", len(batch)).Warn("changequeue: flush write failed, continuing")
		if p.cfg.OnFailed != nil {
			p.cfg.OnFailed(batch)
		}
		if p.cfg.OnFlush != nil {
			p.cfg.OnFlush(len(batch), err)
		}
		return
	}
	if len(failed) > 0 {
		p.cfg.Logger.WithField("failed_count", len(failed)).Warn("changequeue: partial batch failure")
		if p.cfg.OnFailed != nil {
			p.cfg.OnFailed(failed)
		}
	}
	if p.cfg.OnFlush != nil {
		p.cfg.OnFlush(len(batch), nil)
	}
}

// Pending reports how many changes are currently buffered awaiting flush,
// for metrics.
func (p *Processor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}
