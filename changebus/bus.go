package changebus

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/evalgo/graphsync/subject"
)

// Mode selects how a subscription receives events.
type Mode int

const (
	// ModeSync invokes the handler inline on the emitting goroutine. The
	// emitter blocks until the handler returns.
	ModeSync Mode = iota
	// ModeQueued places events on a per-subscriber FIFO drained by one
	// dedicated goroutine, so emitters never block on a slow subscriber and
	// each subscriber still observes events in emission order.
	ModeQueued
)

// Handler processes one event. Queued handlers run on the bus's own
// goroutine for that subscriber, never concurrently with themselves.
type Handler func(Event)

// Bus fans out property-change and lifecycle events to subscribers. Within
// one goroutine, emissions happen in write-observation order; the bus
// provides a per-subscriber serialization point but no cross-goroutine total
// order, per the concurrency model.
type Bus struct {
	mu        sync.Mutex
	nextID    uint64
	subs      map[uint64]*subscriber
	log       *logrus.Entry
	queueSize int
	onDropped func(EventKind)
}

type subscriber struct {
	mode    Mode
	handler Handler
	queue   chan Event
	done    chan struct{}
}

// Option configures a Bus at construction.
type Option func(*Bus)

// WithLogger overrides the default standard logger entry.
func WithLogger(log *logrus.Entry) Option {
	return func(b *Bus) { b.log = log }
}

// WithQueueCapacity sets the per-subscriber queued-mode channel capacity.
// Defaults to 256.
func WithQueueCapacity(n int) Option {
	return func(b *Bus) { b.queueSize = n }
}

// WithOnDropped installs a callback invoked whenever a queued subscriber's
// buffer is full and an event is dropped for it, e.g. to increment a metric.
func WithOnDropped(fn func(EventKind)) Option {
	return func(b *Bus) { b.onDropped = fn }
}

// New constructs an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:      make(map[uint64]*subscriber),
		log:       logrus.NewEntry(logrus.StandardLogger()),
		queueSize: 256,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler under mode and returns a subscription id usable
// with Unsubscribe.
func (b *Bus) Subscribe(mode Mode, handler Handler) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	sub := &subscriber{mode: mode, handler: handler}

	if mode == ModeQueued {
		sub.queue = make(chan Event, b.queueSize)
		sub.done = make(chan struct{})
		go sub.drain()
	}

	b.subs[id] = sub
	return id
}

// Unsubscribe removes a subscription. For a queued subscription, the drain
// goroutine exits once its queue empties.
func (b *Bus) Unsubscribe(id uint64) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if ok && sub.mode == ModeQueued {
		close(sub.queue)
	}
}

func (s *subscriber) drain() {
	defer close(s.done)
	for ev := range s.queue {
		s.handler(ev)
	}
}

func (b *Bus) snapshot() []*subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		out = append(out, sub)
	}
	return out
}

func (b *Bus) publish(ev Event) {
	for _, sub := range b.snapshot() {
		switch sub.mode {
		case ModeSync:
			sub.handler(ev)
		case ModeQueued:
			select {
			case sub.queue <- ev:
			default:
				b.log.WithField("event_kind", ev.Kind.String()).Warn("changebus: queued subscriber is full, dropping event to avoid blocking emitters")
				if b.onDropped != nil {
					b.onDropped(ev.Kind)
				}
			}
		}
	}
}

// PropertyChanged emits a PropertyChanged event. Callers are expected to have
// already suppressed no-op writes (old == new per the property's EqualFunc)
// before calling this.
func (b *Bus) PropertyChanged(c subject.PropertyChange) {
	b.publish(propertyChangedEvent(c))
}

// SubjectAttached emits a SubjectAttached event: the subject first became
// reachable from some root.
func (b *Bus) SubjectAttached(c subject.LifecycleChange) {
	b.publish(subjectAttachedEvent(c))
}

// SubjectDetached emits a SubjectDetached event: the subject became
// unreachable from every root it was reachable from.
func (b *Bus) SubjectDetached(c subject.LifecycleChange) {
	b.publish(subjectDetachedEvent(c))
}

// ParentChanged emits a ParentChanged event for s.
func (b *Bus) ParentChanged(s subject.Subject) {
	b.publish(parentChangedEvent(s))
}
