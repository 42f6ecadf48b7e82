// Package registry implements the subject-connector registry: an atomic,
// mutual-inverse mapping between external identifiers and local subjects,
// with reference counting, protected by a single per-registry lock. It is
// adapted from this module's prior file-backed service registry — same
// single-lock, in-memory-map discipline, generalized from a JSON-LD service
// directory to the bidirectional external-id/subject bookkeeping spec §4.F
// requires.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/evalgo/graphsync/subject"
)

// ConflictKind names which invariant a Register/UpdateExternalId call would
// have violated.
type ConflictKind int

const (
	ConflictDuplicateExternalID ConflictKind = iota
	ConflictDuplicateSubject
)

// ConflictError is a programmer error: it is never retried.
type ConflictError struct {
	Kind       ConflictKind
	ExternalID string
}

func (e *ConflictError) Error() string {
	switch e.Kind {
	case ConflictDuplicateExternalID:
		return fmt.Sprintf("registry: external-id %q is already registered", e.ExternalID)
	case ConflictDuplicateSubject:
		return fmt.Sprintf("registry: subject is already registered under a different external-id (%q)", e.ExternalID)
	default:
		return "registry: conflict"
	}
}

// ErrNotFound is returned by operations that require an existing entry.
var ErrNotFound = errors.New("registry: subject or external-id not registered")

// entry is a registry record: the bidirectional mapping plus its ref-count
// and opaque per-entry user data (e.g. connector subscription handles).
type entry struct {
	externalID string
	subject    subject.Subject
	refCount   int
	data       any
}

// Registry is the subject-connector registry for one connector. All
// mutation happens under mu; OnRegisterCore/OnDecrementCore extension points
// run inside the lock so a subclassing caller (composition, here — see
// WithOnRegister and WithOnDecrement) can extend the atomic region without
// re-acquiring it.
type Registry struct {
	mu         sync.Mutex
	byExternal map[string]*entry
	bySubject  map[subject.Subject]*entry

	onRegister func(e *RegisteredEntry)
	onDecrement func(e *RegisteredEntry)
}

// RegisteredEntry is the externally visible snapshot of one entry, handed to
// extension hooks and returned from read operations. It is a value copy;
// mutating it has no effect on the registry.
type RegisteredEntry struct {
	ExternalID string
	Subject    subject.Subject
	RefCount   int
	Data       any
}

func (e *entry) snapshot() RegisteredEntry {
	return RegisteredEntry{ExternalID: e.externalID, Subject: e.subject, RefCount: e.refCount, Data: e.data}
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithOnRegister installs a hook run inside the registry lock immediately
// after a new entry is created (the "OnRegisterCore" extension point).
func WithOnRegister(fn func(e *RegisteredEntry)) Option {
	return func(r *Registry) { r.onRegister = fn }
}

// WithOnDecrement installs a hook run inside the registry lock immediately
// after DecrementRef removes an entry (the "OnDecrementCore" extension
// point) — e.g. to record the external-id in a recently-deleted window.
func WithOnDecrement(fn func(e *RegisteredEntry)) Option {
	return func(r *Registry) { r.onDecrement = fn }
}

// New constructs an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		byExternal: make(map[string]*entry),
		bySubject:  make(map[subject.Subject]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates a new entry with ref-count 1. It fails if externalID is
// already bound, or if subject is already bound under a different
// external-id.
func (r *Registry) Register(externalID string, s subject.Subject, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byExternal[externalID]; exists {
		return &ConflictError{Kind: ConflictDuplicateExternalID, ExternalID: externalID}
	}
	if existing, exists := r.bySubject[s]; exists {
		return &ConflictError{Kind: ConflictDuplicateSubject, ExternalID: existing.externalID}
	}

	e := &entry{externalID: externalID, subject: s, refCount: 1, data: data}
	r.byExternal[externalID] = e
	r.bySubject[s] = e

	if r.onRegister != nil {
		snap := e.snapshot()
		r.onRegister(&snap)
	}
	return nil
}

// IncrementRef increments s's ref-count. It fails with ErrNotFound if s is
// not registered.
func (r *Registry) IncrementRef(s subject.Subject) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.bySubject[s]
	if !ok {
		return ErrNotFound
	}
	e.refCount++
	return nil
}

// DecrementRef decrements s's ref-count. When it reaches zero, both mappings
// are removed and removed=true is returned along with the removed entry's
// final snapshot.
func (r *Registry) DecrementRef(s subject.Subject) (removed bool, removedEntry RegisteredEntry, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.bySubject[s]
	if !ok {
		return false, RegisteredEntry{}, ErrNotFound
	}
	e.refCount--
	if e.refCount > 0 {
		return false, RegisteredEntry{}, nil
	}

	delete(r.byExternal, e.externalID)
	delete(r.bySubject, s)
	snap := e.snapshot()

	if r.onDecrement != nil {
		r.onDecrement(&snap)
	}
	return true, snap, nil
}

// UpdateExternalId atomically rebinds s from its current external-id to
// newExternalID. It fails if newExternalID already belongs to a different
// subject, or if s is not registered.
func (r *Registry) UpdateExternalId(s subject.Subject, newExternalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.bySubject[s]
	if !ok {
		return ErrNotFound
	}
	if other, exists := r.byExternal[newExternalID]; exists && other.subject != s {
		return &ConflictError{Kind: ConflictDuplicateExternalID, ExternalID: newExternalID}
	}

	delete(r.byExternal, e.externalID)
	e.externalID = newExternalID
	r.byExternal[newExternalID] = e
	return nil
}

// TryGet resolves externalID to its subject.
func (r *Registry) TryGet(externalID string) (subject.Subject, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byExternal[externalID]
	if !ok {
		return nil, false
	}
	return e.subject, true
}

// TryGetExternalId resolves s to its external-id.
func (r *Registry) TryGetExternalId(s subject.Subject) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.bySubject[s]
	if !ok {
		return "", false
	}
	return e.externalID, true
}

// TryGetData resolves s to its per-entry user data.
func (r *Registry) TryGetData(s subject.Subject) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.bySubject[s]
	if !ok {
		return nil, false
	}
	return e.data, true
}

// ModifyData invokes mutator under the registry lock against s's current
// data, storing its return value back. mutator must not block on other
// locks (including re-entering this registry) — the single-lock discipline
// requires every side effect that could re-enter the registry to happen
// after the caller's operation returns, using a local copy of the result.
func (r *Registry) ModifyData(s subject.Subject, mutator func(current any) any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.bySubject[s]
	if !ok {
		return ErrNotFound
	}
	e.data = mutator(e.data)
	return nil
}

// Len reports the number of live entries, for metrics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byExternal)
}
