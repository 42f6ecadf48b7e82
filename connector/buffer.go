package connector

import (
	"context"
	"sync"
)

// Buffer signals the transition from "initial snapshot loading" to "caught
// up with the live feed". A transport calls CompleteInitialization once it
// has delivered the initial snapshot; the lifecycle loop waits on it before
// subscribing to property changes, so inbound events during the snapshot
// load are not double-applied.
type Buffer struct {
	once sync.Once
	done chan struct{}
}

// NewBuffer constructs an unsignaled Buffer.
func NewBuffer() *Buffer {
	return &Buffer{done: make(chan struct{})}
}

// CompleteInitialization signals that the initial snapshot has loaded. Safe
// to call more than once; only the first call has effect.
func (b *Buffer) CompleteInitialization() {
	b.once.Do(func() { close(b.done) })
}

// Await blocks until CompleteInitialization is called or ctx is cancelled.
func (b *Buffer) Await(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
