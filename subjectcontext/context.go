// Package subjectcontext implements the subject context: a per-subject-graph
// container of services (typed singletons) composed with fallback contexts,
// per spec §4.B. Resolution checks local services first, then fallbacks in
// registration order, deduplicating contexts visited more than once through
// diamond composition.
package subjectcontext

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// AttachObserver is implemented by services (typically interceptors) that
// need to know which contexts currently reach them through fallback
// composition, so they can observe subjects rooted in those contexts.
type AttachObserver interface {
	OnContextAttached(ctx *Context)
	OnContextDetached(ctx *Context)
}

// Context holds this graph's own services plus an ordered list of fallback
// contexts consulted when a local lookup misses.
type Context struct {
	mu        sync.Mutex
	services  []any
	fallbacks []*Context

	// cache maps a service interface type to the resolved instance. It is
	// swapped wholesale (copy-on-mutate) rather than locked for reads, so
	// TryGetService is lock-free once warm. A transparent context (see
	// isTransparent) keeps no cache and takes its lock once per lookup
	// before delegating.
	cache atomic.Pointer[map[reflect.Type]any]

	// generation increments on every service/fallback mutation so other
	// packages (e.g. interceptor chain caches) can detect staleness without
	// this package depending on them.
	generation atomic.Uint64
}

// Generation returns a counter that increases every time this context's
// services or fallback composition change. Callers that memoize something
// derived from the context's composition (such as a built interceptor
// chain) can cheaply detect invalidation by comparing generations.
func (c *Context) Generation() uint64 {
	return c.generation.Load()
}

// New constructs an empty Context.
func New() *Context {
	c := &Context{}
	empty := map[reflect.Type]any{}
	c.cache.Store(&empty)
	return c
}

// AddService registers svc. If exists is non-nil, it is evaluated against
// every already-registered service; AddService is a no-op if it returns
// true for any of them, making registration idempotent under a
// caller-supplied equivalence notion (e.g. "same concrete type already
// present").
func (c *Context) AddService(svc any, exists func(existing any) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if exists != nil {
		for _, existing := range c.services {
			if exists(existing) {
				return
			}
		}
	}
	c.services = append(c.services, svc)
	c.invalidateLocked()
}

// RemoveService removes the first registered service for which match
// returns true.
func (c *Context) RemoveService(match func(existing any) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, existing := range c.services {
		if match(existing) {
			c.services = append(c.services[:i], c.services[i+1:]...)
			c.invalidateLocked()
			return
		}
	}
}

// AddFallback appends fb to this context's fallback chain and broadcasts an
// interceptor-attach notification to any AttachObserver services fb carries,
// so they start observing subjects rooted in c.
func (c *Context) AddFallback(fb *Context) {
	c.mu.Lock()
	c.fallbacks = append(c.fallbacks, fb)
	c.invalidateLocked()
	c.mu.Unlock()

	for _, svc := range fb.snapshotServices() {
		if observer, ok := svc.(AttachObserver); ok {
			observer.OnContextAttached(c)
		}
	}
}

// RemoveFallback removes fb from this context's fallback chain and
// broadcasts the symmetric detach notification.
func (c *Context) RemoveFallback(fb *Context) {
	c.mu.Lock()
	for i, existing := range c.fallbacks {
		if existing == fb {
			c.fallbacks = append(c.fallbacks[:i], c.fallbacks[i+1:]...)
			break
		}
	}
	c.invalidateLocked()
	c.mu.Unlock()

	for _, svc := range fb.snapshotServices() {
		if observer, ok := svc.(AttachObserver); ok {
			observer.OnContextDetached(c)
		}
	}
}

func (c *Context) snapshotServices() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.services))
	copy(out, c.services)
	return out
}

// invalidateLocked must be called with mu held; it clears the resolution
// cache so the next lookup re-resolves against the new composition.
func (c *Context) invalidateLocked() {
	empty := map[reflect.Type]any{}
	c.cache.Store(&empty)
	c.generation.Add(1)
}

// isTransparent reports the "zero own services, exactly one fallback"
// contract case: resolution is delegated without retaining local cache
// state, since a context shaped like this is, semantically, an alias.
func (c *Context) isTransparent() (*Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.services) == 0 && len(c.fallbacks) == 1 {
		return c.fallbacks[0], true
	}
	return nil, false
}

// TryGetService resolves the first registered service assignable to T, from
// c's own services first, then fallbacks in registration order. It returns
// the zero value and false if none is found.
func TryGetService[T any](c *Context) (T, bool) {
	var zero T
	want := reflect.TypeOf((*T)(nil)).Elem()

	if cached := c.cache.Load(); cached != nil {
		if v, ok := (*cached)[want]; ok {
			typed, ok := v.(T)
			if ok {
				return typed, true
			}
		}
	}

	if fb, transparent := c.isTransparent(); transparent {
		return TryGetService[T](fb)
	}

	visited := make(map[*Context]bool)
	found, ok := c.resolve(want, visited)
	if !ok {
		return zero, false
	}

	c.storeCached(want, found)
	typed, ok := found.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

func (c *Context) resolve(want reflect.Type, visited map[*Context]bool) (any, bool) {
	if visited[c] {
		return nil, false
	}
	visited[c] = true

	c.mu.Lock()
	services := make([]any, len(c.services))
	copy(services, c.services)
	fallbacks := make([]*Context, len(c.fallbacks))
	copy(fallbacks, c.fallbacks)
	c.mu.Unlock()

	for _, svc := range services {
		if reflect.TypeOf(svc).AssignableTo(want) {
			return svc, true
		}
	}
	for _, fb := range fallbacks {
		if found, ok := fb.resolve(want, visited); ok {
			return found, true
		}
	}
	return nil, false
}

func (c *Context) storeCached(t reflect.Type, v any) {
	for {
		old := c.cache.Load()
		next := make(map[reflect.Type]any, len(*old)+1)
		for k, val := range *old {
			next[k] = val
		}
		next[t] = v
		if c.cache.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Services returns a snapshot of this context's own services (not its
// fallbacks').
func (c *Context) Services() []any {
	return c.snapshotServices()
}

// Fallbacks returns a snapshot of this context's fallback chain.
func (c *Context) Fallbacks() []*Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Context, len(c.fallbacks))
	copy(out, c.fallbacks)
	return out
}
