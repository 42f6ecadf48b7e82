package sourcectx

import (
	"context"
	"fmt"
	"sync"
)

// PendingDeleteKey identifies a slot in a parent's collection/dictionary
// property that a delete has been requested against. Index is used for
// collection slots, Key for dictionary slots; exactly one is set.
type PendingDeleteKey struct {
	ParentProperty string // PropertyReference.String() of the parent property
	Index          *int
	Key            *string
}

func (k PendingDeleteKey) slot() string {
	switch {
	case k.Index != nil:
		return fmt.Sprintf("#%d", *k.Index)
	case k.Key != nil:
		return *k.Key
	default:
		return "<none>"
	}
}

func (k PendingDeleteKey) String() string {
	return k.ParentProperty + "[" + k.slot() + "]"
}

// PendingDeletes implements the replace barrier from spec §4.I: when a
// structural delete is initiated at (parent, slot), the removed subject's
// external-id is recorded as pending until the delete completes. Any
// subsequent add on the same slot must await that completion before
// probing the remote tree, so it never observes the stale node.
type PendingDeletes struct {
	mu      sync.Mutex
	pending map[PendingDeleteKey]chan struct{}
}

// NewPendingDeletes constructs an empty tracker.
func NewPendingDeletes() *PendingDeletes {
	return &PendingDeletes{pending: make(map[PendingDeleteKey]chan struct{})}
}

// Begin records that a delete at key is in flight and returns a completion
// function the caller must invoke (exactly once) when the remote delete has
// been acknowledged. Begin is idempotent: a second Begin for a key whose
// first delete hasn't completed returns the existing completion gate rather
// than creating a second one.
func (p *PendingDeletes) Begin(key PendingDeleteKey) (done func()) {
	p.mu.Lock()
	ch, exists := p.pending[key]
	if !exists {
		ch = make(chan struct{})
		p.pending[key] = ch
	}
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			if p.pending[key] == ch {
				delete(p.pending, key)
				close(ch)
			}
			p.mu.Unlock()
		})
	}
}

// Await blocks until any delete pending at key completes, or ctx is done.
// If no delete is pending, it returns immediately.
func (p *PendingDeletes) Await(ctx context.Context, key PendingDeleteKey) error {
	p.mu.Lock()
	ch, exists := p.pending[key]
	p.mu.Unlock()
	if !exists {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
