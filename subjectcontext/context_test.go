package subjectcontext_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/graphsync/subjectcontext"
)

type Greeter interface {
	Greet() string
}

type englishGreeter struct{}

func (englishGreeter) Greet() string { return "hello" }

type frenchGreeter struct{}

func (frenchGreeter) Greet() string { return "bonjour" }

func TestTryGetService_Local(t *testing.T) {
	ctx := subjectcontext.New()
	ctx.AddService(englishGreeter{}, nil)

	svc, ok := subjectcontext.TryGetService[Greeter](ctx)
	require.True(t, ok)
	assert.Equal(t, "hello", svc.Greet())
}

func TestTryGetService_FallbackOrder(t *testing.T) {
	fallback := subjectcontext.New()
	fallback.AddService(frenchGreeter{}, nil)

	ctx := subjectcontext.New()
	ctx.AddFallback(fallback)

	svc, ok := subjectcontext.TryGetService[Greeter](ctx)
	require.True(t, ok)
	assert.Equal(t, "bonjour", svc.Greet())

	// Local registration takes priority over the fallback.
	ctx.AddService(englishGreeter{}, nil)
	svc, ok = subjectcontext.TryGetService[Greeter](ctx)
	require.True(t, ok)
	assert.Equal(t, "hello", svc.Greet())
}

func TestTryGetService_Missing(t *testing.T) {
	ctx := subjectcontext.New()
	_, ok := subjectcontext.TryGetService[Greeter](ctx)
	assert.False(t, ok)
}

func TestAddService_IdempotentUnderExistsPredicate(t *testing.T) {
	ctx := subjectcontext.New()
	exists := func(existing any) bool {
		_, ok := existing.(englishGreeter)
		return ok
	}
	ctx.AddService(englishGreeter{}, exists)
	ctx.AddService(englishGreeter{}, exists)

	assert.Len(t, ctx.Services(), 1)
}

type trackingInterceptor struct {
	attached []*subjectcontext.Context
	detached []*subjectcontext.Context
}

func (t *trackingInterceptor) OnContextAttached(c *subjectcontext.Context) {
	t.attached = append(t.attached, c)
}
func (t *trackingInterceptor) OnContextDetached(c *subjectcontext.Context) {
	t.detached = append(t.detached, c)
}

func TestFallback_AttachDetachBroadcast(t *testing.T) {
	interceptor := &trackingInterceptor{}
	fallback := subjectcontext.New()
	fallback.AddService(interceptor, nil)

	ctx := subjectcontext.New()
	ctx.AddFallback(fallback)
	require.Len(t, interceptor.attached, 1)
	assert.Same(t, ctx, interceptor.attached[0])

	ctx.RemoveFallback(fallback)
	require.Len(t, interceptor.detached, 1)
	assert.Same(t, ctx, interceptor.detached[0])
}

func TestTryGetService_CacheInvalidatesOnNewFallback(t *testing.T) {
	ctx := subjectcontext.New()
	_, ok := subjectcontext.TryGetService[Greeter](ctx)
	assert.False(t, ok)

	fallback := subjectcontext.New()
	fallback.AddService(englishGreeter{}, nil)
	ctx.AddFallback(fallback)

	svc, ok := subjectcontext.TryGetService[Greeter](ctx)
	require.True(t, ok)
	assert.Equal(t, "hello", svc.Greet())
}

func TestTryGetService_TransparentDelegation(t *testing.T) {
	fallback := subjectcontext.New()
	fallback.AddService(frenchGreeter{}, nil)

	ctx := subjectcontext.New() // zero own services, exactly one fallback
	ctx.AddFallback(fallback)

	svc, ok := subjectcontext.TryGetService[Greeter](ctx)
	require.True(t, ok)
	assert.Equal(t, "bonjour", svc.Greet())
}
