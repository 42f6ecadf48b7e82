package changebus

import (
	"sync"

	"github.com/evalgo/graphsync/subject"
)

// Reachability tracks, per subject, how many parent edges currently reach it
// and emits SubjectAttached the first time a subject becomes reachable from
// any root, SubjectDetached when it becomes unreachable from every root it
// was reachable from. It mirrors the registry's ref-counting discipline
// (single lock, no re-entrant callbacks) but counts structural edges rather
// than external-id bindings.
type Reachability struct {
	mu    sync.Mutex
	count map[subject.Subject]int
	bus   *Bus
}

// NewReachability constructs a tracker that publishes attach/detach events to
// bus.
func NewReachability(bus *Bus) *Reachability {
	return &Reachability{
		count: make(map[subject.Subject]int),
		bus:   bus,
	}
}

// Attach records one new parent edge reaching s. parentProperty/index
// describe the edge for the emitted LifecycleChange; index is nil for
// reference/dictionary edges.
func (r *Reachability) Attach(s subject.Subject, parentProperty *subject.PropertyReference, index *int) {
	first := r.incr(s)
	if first {
		r.bus.SubjectAttached(subject.LifecycleChange{
			Subject:        s,
			ParentProperty: parentProperty,
			Index:          index,
			Kind:           subject.Attached,
		})
	}
}

// Detach removes one parent edge reaching s. Once the count reaches zero,
// SubjectDetached fires.
func (r *Reachability) Detach(s subject.Subject, parentProperty *subject.PropertyReference, index *int) {
	last := r.decr(s)
	if last {
		r.bus.SubjectDetached(subject.LifecycleChange{
			Subject:        s,
			ParentProperty: parentProperty,
			Index:          index,
			Kind:           subject.Detached,
		})
	}
}

func (r *Reachability) incr(s subject.Subject) (firstEdge bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.count[s]
	r.count[s] = n + 1
	return n == 0
}

func (r *Reachability) decr(s subject.Subject) (lastEdge bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.count[s]
	if n <= 1 {
		delete(r.count, s)
		return true
	}
	r.count[s] = n - 1
	return false
}

// ReachableCount reports how many parent edges currently reach s (0 if
// unreachable or never seen).
func (r *Reachability) ReachableCount(s subject.Subject) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count[s]
}
