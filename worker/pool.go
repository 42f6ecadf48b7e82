// Package worker runs a named fleet of connector lifecycles concurrently,
// generalized from a queue-keyed worker pool to a connector-keyed one: one
// goroutine-backed lifecycle per configured connector, started and stopped
// together.
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/evalgo/graphsync/connector"
)

// Config configures a Pool: one connector.Config per named connector.
type Config struct {
	Connectors map[string]connector.Config
	Logger     *logrus.Entry
	// OnStateChange, if set, is installed on every constructed connector's
	// Lifecycle, with the connector's name bound in as the first argument.
	OnStateChange func(name string, prev, next connector.State)
}

// Pool manages a fleet of named connector lifecycles.
type Pool struct {
	mu         sync.Mutex
	lifecycles map[string]*connector.Lifecycle
	logger     *logrus.Entry
}

// NewPool constructs a Pool with one Lifecycle per entry in cfg.Connectors.
func NewPool(cfg Config) *Pool {
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	p := &Pool{
		lifecycles: make(map[string]*connector.Lifecycle, len(cfg.Connectors)),
		logger:     cfg.Logger,
	}
	for name, c := range cfg.Connectors {
		if c.Logger == nil {
			c.Logger = cfg.Logger.WithField("connector", name)
		}
		lc := connector.New(c)
		if cfg.OnStateChange != nil {
			name := name
			lc.OnStateChange(func(prev, next connector.State) {
				cfg.OnStateChange(name, prev, next)
			})
		}
		p.lifecycles[name] = lc
	}
	return p
}

// Start runs every connector's lifecycle loop against ctx.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, lc := range p.lifecycles {
		p.logger.WithField("connector", name).Info("starting connector")
		lc.Run(ctx)
	}
}

// Stop cancels and waits for every connector's lifecycle loop to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, lc := range p.lifecycles {
		p.logger.WithField("connector", name).Info("stopping connector")
		lc.Stop()
	}
}

// State returns the named connector's current lifecycle state.
func (p *Pool) State(name string) (connector.State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	lc, ok := p.lifecycles[name]
	if !ok {
		return 0, fmt.Errorf("worker: no connector named %q", name)
	}
	return lc.State(), nil
}

// States returns every connector's current lifecycle state, keyed by name.
func (p *Pool) States() map[string]connector.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]connector.State, len(p.lifecycles))
	for name, lc := range p.lifecycles {
		out[name] = lc.State()
	}
	return out
}
