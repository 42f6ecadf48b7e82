// Package engine assembles the subject context, interceptor chains,
// structural processor, and change bus into the single write-dispatch path
// spec §4.B-E describe. Every property write — whether originated by local
// application code or by an inbound connector event — is resolved against
// the same subject context, routed through the same cached interceptor
// chain, diffed by the same structural processor when it targets a
// reference/collection/dictionary property, and announced on the same
// change bus. Callers distinguish a write's origin purely through the
// context it carries (see package sourcectx), not through a second code
// path.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/evalgo/graphsync/changebus"
	"github.com/evalgo/graphsync/interceptor"
	"github.com/evalgo/graphsync/metrics"
	"github.com/evalgo/graphsync/registry"
	"github.com/evalgo/graphsync/sourcectx"
	"github.com/evalgo/graphsync/structural"
	"github.com/evalgo/graphsync/subject"
	"github.com/evalgo/graphsync/subjectcontext"
)

// ErrUnknownType is returned when a subject's type has never been built
// through subject.TypeBuilder.
var ErrUnknownType = errors.New("engine: subject type has no registered metadata")

// ErrUnknownProperty is returned when a named property is not part of the
// subject's type metadata.
var ErrUnknownProperty = errors.New("engine: no such property")

// ErrDerivedWrite is returned when WriteProperty targets a read-only
// (derived, or writer-less) property.
var ErrDerivedWrite = errors.New("engine: property has no writer")

// Config wires a Graph to the services one running subject graph needs.
type Config struct {
	// Root is the subject context every write resolves its interceptor
	// chain through. Interceptors are registered as services on Root (or
	// one of its fallbacks) before the graph starts accepting writes.
	Root *subjectcontext.Context
	// Bus receives every successful write as a PropertyChanged event, and
	// every structural attach/detach as a lifecycle event. May be nil for
	// callers that only want the interceptor/structural machinery.
	Bus *changebus.Bus
	// Registry tracks connector ref-counts for subjects reachable through
	// structural properties. May be nil.
	Registry *registry.Registry
	Metrics  *metrics.Metrics
	Logger   *logrus.Entry
	// Now stands in for time.Now in tests.
	Now func() time.Time
}

// Graph is the single write-dispatch path for one subject graph.
type Graph struct {
	root     *subjectcontext.Context
	bus      *changebus.Bus
	reach    *changebus.Reachability
	registry *registry.Registry
	chains   *interceptor.Cache
	proc     *structural.Processor
	met      *metrics.Metrics
	log      *logrus.Entry
	now      func() time.Time

	lastChainGen atomic.Uint64
}

// New constructs a Graph from cfg.
func New(cfg Config) *Graph {
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	g := &Graph{
		root:     cfg.Root,
		bus:      cfg.Bus,
		registry: cfg.Registry,
		chains:   interceptor.NewCache(),
		met:      cfg.Metrics,
		log:      cfg.Logger,
		now:      cfg.Now,
	}
	if g.bus != nil {
		g.reach = changebus.NewReachability(g.bus)
	}
	g.proc = &structural.Processor{
		OnAdded:   g.onStructuralAdded,
		OnRemoved: g.onStructuralRemoved,
	}
	return g
}

// RegisterSubject binds s to externalID in the graph's registry, recording a
// conflict metric when the binding is rejected. data is opaque per-entry
// user data, as in registry.Registry.Register.
func (g *Graph) RegisterSubject(externalID string, s subject.Subject, data any) error {
	if g.registry == nil {
		return nil
	}
	err := g.registry.Register(externalID, s, data)
	var conflict *registry.ConflictError
	if errors.As(err, &conflict) && g.met != nil {
		g.met.RegistryConflicts.WithLabelValues(conflictKindLabel(conflict.Kind)).Inc()
	}
	return err
}

func conflictKindLabel(k registry.ConflictKind) string {
	switch k {
	case registry.ConflictDuplicateExternalID:
		return "duplicate_external_id"
	case registry.ConflictDuplicateSubject:
		return "duplicate_subject"
	default:
		return "unknown"
	}
}

// WriteProperty dispatches a single property write: it resolves the
// property's metadata, builds (or reuses the cached) write-interceptor
// chain from the root context's registered interceptor.WriteInterceptor
// services, dispatches the chain around a terminal step that performs the
// write — routing reference/collection/dictionary properties through the
// structural processor first — and, if the value actually changed, emits
// the resulting change onto the bus.
//
// ctx carries the write's source and changed-timestamp scope (package
// sourcectx); a write with no active source scope is treated as locally
// originated. Callers that need the write echoed back out to a connector
// must themselves subscribe to the bus and feed a changequeue.Processor —
// see connector.Config.Process in cmd/graphsyncd for the wiring.
func (g *Graph) WriteProperty(ctx context.Context, s subject.Subject, name string, newValue any) error {
	meta, ok := subject.MetadataFor(s.SubjectType())
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, s.SubjectType())
	}
	pm, ok := meta.Property(name)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownProperty, s.SubjectType(), name)
	}
	if pm.Write == nil {
		return fmt.Errorf("%w: %s.%s", ErrDerivedWrite, s.SubjectType(), name)
	}

	oldValue, err := pm.Read(s)
	if err != nil {
		return err
	}

	chain, err := g.chains.Write(g.root, g.writeInterceptors())
	if err != nil {
		return err
	}
	g.recordChainBuild()

	ref := subject.PropertyReference{Subject: s, Name: name}
	wc := &interceptor.WriteContext{Property: pm, Subject: s, OldValue: oldValue, NewValue: newValue}

	err = chain.Dispatch(ctx, wc, func(ctx context.Context, wc *interceptor.WriteContext) error {
		return g.terminalWrite(ctx, ref, pm, wc)
	})
	if err != nil {
		return err
	}

	if pm.Equal(oldValue, wc.NewValue) {
		return nil
	}
	g.publish(ctx, ref, oldValue, wc.NewValue)
	return nil
}

// terminalWrite is the innermost step of the write-interceptor chain: it
// performs the structural diff (for reference/collection/dictionary
// properties, firing the registry/bus attach-detach side effects) and then
// the actual property write.
func (g *Graph) terminalWrite(ctx context.Context, ref subject.PropertyReference, pm *subject.PropertyMetadata, wc *interceptor.WriteContext) error {
	if pm.Kind != subject.KindValue {
		if _, err := g.proc.Process(ctx, ref, pm, wc.OldValue, wc.NewValue); err != nil {
			return err
		}
	}
	return pm.Write(wc.Subject, wc.NewValue)
}

// AttachSubject records that child newly occupies a structural slot on
// property (a parent's reference/collection/dictionary edge) without
// diffing a whole before/after collection value — the natural shape of an
// inbound connector edge event, which already names the single child
// involved. It runs the same registry ref-count and bus lifecycle side
// effects WriteProperty's structural path would have produced, and
// publishes the equivalent PropertyChanged event.
func (g *Graph) AttachSubject(ctx context.Context, property subject.PropertyReference, child subject.Subject, index *int, key *string) error {
	if err := g.onStructuralAdded(ctx, property, child, index, key); err != nil {
		return err
	}
	g.publish(ctx, property, nil, child)
	return nil
}

// DetachSubject is AttachSubject's inverse.
func (g *Graph) DetachSubject(ctx context.Context, property subject.PropertyReference, child subject.Subject, index *int, key *string) error {
	if err := g.onStructuralRemoved(ctx, property, child, index, key); err != nil {
		return err
	}
	g.publish(ctx, property, child, nil)
	return nil
}

func (g *Graph) onStructuralAdded(ctx context.Context, property subject.PropertyReference, s subject.Subject, index *int, key *string) error {
	if g.registry != nil {
		if err := g.registry.IncrementRef(s); err != nil && !errors.Is(err, registry.ErrNotFound) {
			return err
		}
	}
	if g.reach != nil {
		g.reach.Attach(s, &property, index)
	}
	return nil
}

func (g *Graph) onStructuralRemoved(ctx context.Context, property subject.PropertyReference, s subject.Subject, index *int, key *string) error {
	if g.registry != nil {
		if _, _, err := g.registry.DecrementRef(s); err != nil && !errors.Is(err, registry.ErrNotFound) {
			return err
		}
	}
	if g.reach != nil {
		g.reach.Detach(s, &property, index)
	}
	return nil
}

// publish stamps change with the active source/timestamp scope and emits it
// on the bus.
func (g *Graph) publish(ctx context.Context, ref subject.PropertyReference, old, new any) {
	if g.bus == nil {
		return
	}
	change := subject.PropertyChange{
		Property:         ref,
		Source:           sourcectx.SourceFrom(ctx),
		ChangedTimestamp: sourcectx.Resolve(ctx, g.now()),
		OldValue:         old,
		NewValue:         new,
	}
	g.bus.PropertyChanged(change)
	if g.met != nil {
		g.met.BusEventsPublished.WithLabelValues("property_changed").Inc()
	}
}

// writeInterceptors walks the root context and its fallback chain,
// collecting every registered service that implements WriteInterceptor, in
// the order subjectcontext.TryGetService would consult them: local services
// first, then fallbacks, depth-first, visiting each context at most once.
func (g *Graph) writeInterceptors() []interceptor.WriteInterceptor {
	var out []interceptor.WriteInterceptor
	seen := make(map[*subjectcontext.Context]bool)
	var walk func(ctx *subjectcontext.Context)
	walk = func(ctx *subjectcontext.Context) {
		if ctx == nil || seen[ctx] {
			return
		}
		seen[ctx] = true
		for _, svc := range ctx.Services() {
			if wi, ok := svc.(interceptor.WriteInterceptor); ok {
				out = append(out, wi)
			}
		}
		for _, fb := range ctx.Fallbacks() {
			walk(fb)
		}
	}
	walk(g.root)
	return out
}

// recordChainBuild approximates "interceptor chain built (cache miss)" by
// tracking the root context's own Generation: the interceptor.Cache only
// ever rebuilds when that generation has moved since the chain was last
// requested, so a generation change observed here corresponds 1:1 to a
// rebuild the cache is about to perform (or just performed).
func (g *Graph) recordChainBuild() {
	if g.met == nil {
		return
	}
	gen := g.root.Generation()
	if g.lastChainGen.Swap(gen) != gen {
		g.met.InterceptorChainBuild.WithLabelValues("write").Inc()
	}
}
