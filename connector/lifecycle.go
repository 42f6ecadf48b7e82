package connector

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Transport begins consuming inbound events into buffer and returns a
// handle to dispose of when the connection ends, for any reason.
// CompleteInitialization on buffer must be called once the initial
// snapshot has loaded.
type Transport interface {
	StartListening(ctx context.Context, buffer *Buffer) (io.Closer, error)
}

// ProcessFunc runs the live-feed processing step: subscribing to property
// changes and applying them until the connection fails or ctx is cancelled.
// A nil error return with ctx still live is treated as a clean end of feed,
// which also triggers a retry (the transport is expected to either keep the
// connection open for the lifecycle's duration or signal failure).
type ProcessFunc func(ctx context.Context) error

// Config configures a Lifecycle.
type Config struct {
	Transport Transport
	Process   ProcessFunc
	// RetryDelay is the fixed back-off between reconnect attempts. Defaults
	// to 10s, per the canonical connector's retrying state.
	RetryDelay time.Duration
	Logger     *logrus.Entry
}

// Lifecycle runs one connector's background loop: connect, listen, process,
// retry on failure, per spec §4.J's state machine. Every suspension point
// (buffer wait, process step, retry delay) observes ctx cancellation.
type Lifecycle struct {
	cfg    Config
	states *StateManager
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Lifecycle from cfg.
func New(cfg Config) *Lifecycle {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Lifecycle{
		cfg:    cfg,
		states: NewStateManager(),
	}
}

// State returns the connector's current lifecycle state.
func (l *Lifecycle) State() State { return l.states.State() }

// OnStateChange installs a callback invoked on every state transition.
func (l *Lifecycle) OnStateChange(fn func(prev, next State)) { l.states.OnChange(fn) }

// Run starts the background loop. It returns immediately; call Stop to
// cancel and wait for it to exit.
func (l *Lifecycle) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.loop(ctx)
}

// Stop cancels the loop and waits for it to exit, transitioning through
// draining to stopped.
func (l *Lifecycle) Stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
}

func (l *Lifecycle) loop(ctx context.Context) {
	defer close(l.done)

	for {
		if ctx.Err() != nil {
			l.transition(StateStopped)
			return
		}

		if err := l.transition(StateInitializing); err != nil {
			return
		}

		buffer := NewBuffer()
		handle, err := l.cfg.Transport.StartListening(ctx, buffer)
		if err != nil {
			l.cfg.Logger.WithError(err).Warn("connector: StartListening failed")
			if !l.retryOrStop(ctx) {
				return
			}
			continue
		}

		err = l.runConnection(ctx, buffer, handle)
		if ctx.Err() == nil {
			if err != nil {
				l.cfg.Logger.WithError(err).Warn("connector: connection lost")
			} else {
				l.cfg.Logger.Warn("connector: feed ended, reconnecting")
			}
			if !l.retryOrStop(ctx) {
				return
			}
			continue
		}
		if ctx.Err() != nil {
			if l.states.State() == StateRunning {
				l.transition(StateDraining)
			}
			l.transition(StateStopped)
			return
		}
	}
}

func (l *Lifecycle) runConnection(ctx context.Context, buffer *Buffer, handle io.Closer) error {
	defer handle.Close()

	if err := buffer.Await(ctx); err != nil {
		return err
	}
	if err := l.transition(StateRunning); err != nil {
		return err
	}
	if l.cfg.Process == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return l.cfg.Process(ctx)
}

// retryOrStop transitions into retrying, waits the fixed back-off, and
// reports whether the loop should continue (false means ctx was cancelled
// during the wait and the caller must exit after transitioning to stopped).
func (l *Lifecycle) retryOrStop(ctx context.Context) bool {
	if err := l.transition(StateRetrying); err != nil {
		return false
	}
	select {
	case <-ctx.Done():
		l.transition(StateStopped)
		return false
	case <-time.After(l.cfg.RetryDelay):
		return true
	}
}

func (l *Lifecycle) transition(target State) error {
	if err := l.states.TransitionTo(target); err != nil {
		l.cfg.Logger.WithError(err).Warn("connector: lifecycle transition rejected")
		return err
	}
	return nil
}
