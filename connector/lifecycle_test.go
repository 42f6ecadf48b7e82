package connector_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/graphsync/connector"
)

func TestState_ValidTransitionsMatchLifecycleDiagram(t *testing.T) {
	assert.True(t, connector.StateStarting.CanTransitionTo(connector.StateInitializing))
	assert.True(t, connector.StateInitializing.CanTransitionTo(connector.StateRunning))
	assert.True(t, connector.StateRunning.CanTransitionTo(connector.StateRetrying))
	assert.True(t, connector.StateRetrying.CanTransitionTo(connector.StateInitializing))
	assert.True(t, connector.StateRunning.CanTransitionTo(connector.StateDraining))
	assert.True(t, connector.StateDraining.CanTransitionTo(connector.StateStopped))
	assert.False(t, connector.StateStopped.CanTransitionTo(connector.StateRunning))
	assert.False(t, connector.StateStarting.CanTransitionTo(connector.StateRunning))
}

func TestStateManager_RejectsInvalidTransition(t *testing.T) {
	m := connector.NewStateManager()
	err := m.TransitionTo(connector.StateRunning) // must go through Initializing first
	require.Error(t, err)
	assert.Equal(t, connector.StateStarting, m.State())
}

type noopCloser struct{ closed bool }

func (c *noopCloser) Close() error { c.closed = true; return nil }

type fakeTransport struct {
	mu         sync.Mutex
	attempts   int
	failFirstN int
}

func (f *fakeTransport) StartListening(ctx context.Context, buffer *connector.Buffer) (io.Closer, error) {
	f.mu.Lock()
	f.attempts++
	attempt := f.attempts
	f.mu.Unlock()

	if attempt <= f.failFirstN {
		return nil, errors.New("dial failed")
	}
	buffer.CompleteInitialization()
	return &noopCloser{}, nil
}

func TestLifecycle_ReachesRunningAfterSuccessfulConnect(t *testing.T) {
	transport := &fakeTransport{}
	var states []connector.State
	var mu sync.Mutex

	blockUntilCancel := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	lc := connector.New(connector.Config{
		Transport:  transport,
		Process:    blockUntilCancel,
		RetryDelay: 10 * time.Millisecond,
	})
	lc.OnStateChange(func(prev, next connector.State) {
		mu.Lock()
		states = append(states, next)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	lc.Run(ctx)

	require.Eventually(t, func() bool {
		return lc.State() == connector.StateRunning
	}, time.Second, 5*time.Millisecond)

	cancel()
	lc.Stop()

	assert.Equal(t, connector.StateStopped, lc.State())
}

func TestLifecycle_RetriesOnConnectFailureThenRecovers(t *testing.T) {
	transport := &fakeTransport{failFirstN: 2}

	blockUntilCancel := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	lc := connector.New(connector.Config{
		Transport:  transport,
		Process:    blockUntilCancel,
		RetryDelay: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lc.Run(ctx)

	require.Eventually(t, func() bool {
		return lc.State() == connector.StateRunning
	}, time.Second, 5*time.Millisecond)

	transport.mu.Lock()
	attempts := transport.attempts
	transport.mu.Unlock()
	assert.Equal(t, 3, attempts)

	lc.Stop()
}
