package interceptor

import (
	"sync"

	"github.com/evalgo/graphsync/subjectcontext"
)

// Cache memoizes the three built chains for a subject context, invalidating
// whenever the context's service/fallback composition changes (tracked via
// subjectcontext.Context.Generation, so this package never needs a second
// invalidation hook wired into subjectcontext itself).
type Cache struct {
	mu    sync.Mutex
	byCtx map[*subjectcontext.Context]*cached
}

type cached struct {
	generation uint64
	read       *ReadChain
	write      *WriteChain
	invoke     *InvokeChain
}

// NewCache constructs an empty chain cache.
func NewCache() *Cache {
	return &Cache{byCtx: make(map[*subjectcontext.Context]*cached)}
}

// Read returns the memoized read chain for ctx, rebuilding it if the
// context's composition changed since it was last built.
func (c *Cache) Read(ctx *subjectcontext.Context, interceptors []ReadInterceptor) (*ReadChain, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.entryLocked(ctx)
	if entry.read != nil {
		return entry.read, nil
	}
	chain, err := BuildReadChain(interceptors)
	if err != nil {
		return nil, err
	}
	entry.read = chain
	return chain, nil
}

func (c *Cache) Write(ctx *subjectcontext.Context, interceptors []WriteInterceptor) (*WriteChain, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.entryLocked(ctx)
	if entry.write != nil {
		return entry.write, nil
	}
	chain, err := BuildWriteChain(interceptors)
	if err != nil {
		return nil, err
	}
	entry.write = chain
	return chain, nil
}

func (c *Cache) Invoke(ctx *subjectcontext.Context, interceptors []MethodInterceptor) (*InvokeChain, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.entryLocked(ctx)
	if entry.invoke != nil {
		return entry.invoke, nil
	}
	chain, err := BuildInvokeChain(interceptors)
	if err != nil {
		return nil, err
	}
	entry.invoke = chain
	return chain, nil
}

func (c *Cache) entryLocked(ctx *subjectcontext.Context) *cached {
	gen := ctx.Generation()
	entry, ok := c.byCtx[ctx]
	if !ok || entry.generation != gen {
		entry = &cached{generation: gen}
		c.byCtx[ctx] = entry
	}
	return entry
}
