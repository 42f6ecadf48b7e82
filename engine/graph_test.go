package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/graphsync/changebus"
	"github.com/evalgo/graphsync/engine"
	"github.com/evalgo/graphsync/interceptor"
	"github.com/evalgo/graphsync/metrics"
	"github.com/evalgo/graphsync/registry"
	"github.com/evalgo/graphsync/sourcectx"
	"github.com/evalgo/graphsync/subject"
	"github.com/evalgo/graphsync/subjectcontext"
)

// widget and folder are the minimal demo subject types exercising a value
// property and a collection property through the full write path.
type widget struct {
	name string
}

func (w *widget) SubjectType() string { return "engine_test.widget" }

type folder struct {
	items []subject.Subject
}

func (f *folder) SubjectType() string { return "engine_test.folder" }

var widgetMeta = subject.Register(func() *subject.TypeMetadata {
	b := subject.NewTypeBuilder("engine_test.widget", nil)
	subject.Value(b, "name", func(w *widget) string { return w.name }, func(w *widget, v string) { w.name = v })
	return b.Build()
}())

var folderMeta = subject.Register(func() *subject.TypeMetadata {
	b := subject.NewTypeBuilder("engine_test.folder", nil)
	subject.SubjectCollection(b, "items",
		func(f *folder) []subject.Subject { return f.items },
		func(f *folder, v []subject.Subject) { f.items = v })
	return b.Build()
}())

// uppercaseInterceptor upper-cases every incoming string write, proving the
// chain actually runs between dispatch and the terminal write.
type uppercaseInterceptor struct{ calls int }

func (u *uppercaseInterceptor) Name() string { return "uppercase" }

func (u *uppercaseInterceptor) InterceptWrite(ctx context.Context, wc *interceptor.WriteContext, next interceptor.WriteNext) error {
	u.calls++
	if s, ok := wc.NewValue.(string); ok {
		wc.NewValue = stringsUpper(s)
	}
	return next(ctx, wc)
}

func stringsUpper(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r >= 'a' && r <= 'z' {
			out[i] = r - 32
		}
	}
	return string(out)
}

func TestGraph_WriteProperty_RunsInterceptorChainAndPublishes(t *testing.T) {
	_ = widgetMeta
	root := subjectcontext.New()
	up := &uppercaseInterceptor{}
	root.AddService(up, nil)

	bus := changebus.New()
	var got []subject.PropertyChange
	bus.Subscribe(changebus.ModeSync, func(ev changebus.Event) {
		if ev.Kind == changebus.KindPropertyChanged {
			got = append(got, *ev.PropertyChange)
		}
	})

	g := engine.New(engine.Config{Root: root, Bus: bus})

	w := &widget{name: "old"}
	require.NoError(t, g.WriteProperty(context.Background(), w, "name", "new"))

	assert.Equal(t, "NEW", w.name)
	assert.Equal(t, 1, up.calls)
	require.Len(t, got, 1)
	assert.Equal(t, "old", got[0].OldValue)
	assert.Equal(t, "NEW", got[0].NewValue)
	assert.Nil(t, got[0].Source)
}

func TestGraph_WriteProperty_NoOpSuppressesPublish(t *testing.T) {
	root := subjectcontext.New()
	bus := changebus.New()
	var events int
	bus.Subscribe(changebus.ModeSync, func(changebus.Event) { events++ })

	g := engine.New(engine.Config{Root: root, Bus: bus})
	w := &widget{name: "same"}
	require.NoError(t, g.WriteProperty(context.Background(), w, "name", "same"))
	assert.Equal(t, 0, events)
}

func TestGraph_WriteProperty_StructuralCollectionDiffAttachesAndDetaches(t *testing.T) {
	_ = folderMeta
	root := subjectcontext.New()
	bus := changebus.New()
	reg := registry.New()

	child1 := &widget{name: "a"}
	child2 := &widget{name: "b"}
	require.NoError(t, reg.Register("child-1", child1, nil))
	require.NoError(t, reg.Register("child-2", child2, nil))

	g := engine.New(engine.Config{Root: root, Bus: bus, Registry: reg})

	var attached, detached int
	bus.Subscribe(changebus.ModeSync, func(ev changebus.Event) {
		switch ev.Kind {
		case changebus.KindSubjectAttached:
			attached++
		case changebus.KindSubjectDetached:
			detached++
		}
	})

	f := &folder{items: []subject.Subject{child1}}
	require.NoError(t, g.WriteProperty(context.Background(), f, "items", []subject.Subject{child2}))

	assert.Equal(t, []subject.Subject{child2}, f.items)
	assert.Equal(t, 1, attached)
	assert.Equal(t, 1, detached)

	n, ok := reg.TryGetData(child2)
	_ = n
	assert.True(t, ok)
}

func TestGraph_AttachSubject_StampsScopedSource(t *testing.T) {
	root := subjectcontext.New()
	bus := changebus.New()
	reg := registry.New()

	child := &widget{name: "remote"}
	require.NoError(t, reg.Register("child-1", child, nil))

	g := engine.New(engine.Config{Root: root, Bus: bus, Registry: reg})

	var gotSource subject.Source
	var sawSource bool
	bus.Subscribe(changebus.ModeSync, func(ev changebus.Event) {
		if ev.Kind == changebus.KindPropertyChanged {
			gotSource = ev.PropertyChange.Source
			sawSource = true
		}
	})

	parent := &folder{}
	ref := subject.PropertyReference{Subject: parent, Name: "items"}
	ctx := sourcectx.WithSource(context.Background(), "connector:demo")
	require.NoError(t, g.AttachSubject(ctx, ref, child, nil, nil))

	require.True(t, sawSource)
	assert.Equal(t, subject.Source("connector:demo"), gotSource)

	require.NoError(t, g.DetachSubject(ctx, ref, child, nil, nil))
	_, ok := reg.TryGetExternalId(child)
	assert.True(t, ok, "the registration's own reference keeps the entry after one attach/detach pair")
}

func TestGraph_WriteProperty_UnknownPropertyErrors(t *testing.T) {
	root := subjectcontext.New()
	g := engine.New(engine.Config{Root: root})
	w := &widget{}
	err := g.WriteProperty(context.Background(), w, "does-not-exist", "x")
	require.ErrorIs(t, err, engine.ErrUnknownProperty)
}

func TestGraph_RegisterSubject_ConflictIncrementsMetric(t *testing.T) {
	root := subjectcontext.New()
	reg := registry.New()
	met := metrics.New("engine_test_registerconflict")
	g := engine.New(engine.Config{Root: root, Registry: reg, Metrics: met})

	w1 := &widget{name: "a"}
	w2 := &widget{name: "b"}
	require.NoError(t, g.RegisterSubject("dup-id", w1, nil))

	err := g.RegisterSubject("dup-id", w2, nil)
	require.Error(t, err)

	count := testutil.ToFloat64(met.RegistryConflicts.WithLabelValues("duplicate_external_id"))
	assert.Equal(t, float64(1), count)
}

func TestGraph_Now_DefaultsAndCanBeOverridden(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	root := subjectcontext.New()
	bus := changebus.New()
	var changed time.Time
	bus.Subscribe(changebus.ModeSync, func(ev changebus.Event) {
		if ev.Kind == changebus.KindPropertyChanged {
			changed = ev.PropertyChange.ChangedTimestamp
		}
	})
	g := engine.New(engine.Config{Root: root, Bus: bus, Now: func() time.Time { return fixed }})
	w := &widget{name: "a"}
	require.NoError(t, g.WriteProperty(context.Background(), w, "name", "b"))
	assert.True(t, changed.Equal(fixed))
}
