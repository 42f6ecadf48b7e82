package interceptor

import (
	"context"

	"github.com/evalgo/graphsync/subject"
)

// ReadContext carries the in-flight state of a property read through the
// chain. Handlers may inspect or override Value before calling Next.
type ReadContext struct {
	Property *subject.PropertyMetadata
	Subject  subject.Subject
	Value    any
}

// WriteContext carries the in-flight state of a property write. OldValue is
// populated by the dispatcher before the chain runs; handlers may rewrite
// NewValue (e.g. coercion, clamping) or short-circuit entirely by not
// calling Next (e.g. equality-based no-op suppression).
type WriteContext struct {
	Property *subject.PropertyMetadata
	Subject  subject.Subject
	OldValue any
	NewValue any
}

// InvokeContext carries an in-flight method invocation.
type InvokeContext struct {
	Property *subject.PropertyMetadata
	Subject  subject.Subject
	Args     []any
	Result   any
}

type (
	ReadNext   func(ctx context.Context, rc *ReadContext) error
	WriteNext  func(ctx context.Context, wc *WriteContext) error
	InvokeNext func(ctx context.Context, ic *InvokeContext) error
)

// ReadInterceptor, WriteInterceptor and MethodInterceptor are the three
// middleware kinds a subject context's services may implement. A handler
// may read/modify the relevant *Context, call Next, or short-circuit by
// never calling it.
type ReadInterceptor interface {
	Name() string
	InterceptRead(ctx context.Context, rc *ReadContext, next ReadNext) error
}

type WriteInterceptor interface {
	Name() string
	InterceptWrite(ctx context.Context, wc *WriteContext, next WriteNext) error
}

type MethodInterceptor interface {
	Name() string
	InterceptInvoke(ctx context.Context, ic *InvokeContext, next InvokeNext) error
}

func orderingOf(name string, seq int, v any) node {
	n := node{name: name, partition: PartitionMiddle, seq: seq}
	if o, ok := v.(Ordering); ok {
		n.partition = o.Partition()
		n.runsBefore = o.RunsBefore()
		n.runsAfter = o.RunsAfter()
	}
	return n
}

// ReadChain is the built, dispatchable continuation for property reads.
type ReadChain struct {
	order []ReadInterceptor
}

// BuildReadChain orders interceptors (first-registered runs outermost,
// subject to partition/edge declarations) and returns the built chain.
func BuildReadChain(interceptors []ReadInterceptor) (*ReadChain, error) {
	nodes := make([]node, len(interceptors))
	byName := make(map[string]ReadInterceptor, len(interceptors))
	for i, ic := range interceptors {
		nodes[i] = orderingOf(ic.Name(), i, ic)
		byName[ic.Name()] = ic
	}
	names, err := order(nodes)
	if err != nil {
		return nil, err
	}
	ordered := make([]ReadInterceptor, len(names))
	for i, name := range names {
		ordered[i] = byName[name]
	}
	return &ReadChain{order: ordered}, nil
}

// Dispatch runs the chain around terminal, which performs the actual
// storage read. The first-registered interceptor is outermost: it sees the
// call first and the result last.
func (c *ReadChain) Dispatch(ctx context.Context, rc *ReadContext, terminal ReadNext) error {
	next := terminal
	for i := len(c.order) - 1; i >= 0; i-- {
		handler := c.order[i]
		localNext := next
		next = func(ctx context.Context, rc *ReadContext) error {
			return handler.InterceptRead(ctx, rc, localNext)
		}
	}
	return next(ctx, rc)
}

// WriteChain is the built, dispatchable continuation for property writes.
type WriteChain struct {
	order []WriteInterceptor
}

func BuildWriteChain(interceptors []WriteInterceptor) (*WriteChain, error) {
	nodes := make([]node, len(interceptors))
	byName := make(map[string]WriteInterceptor, len(interceptors))
	for i, ic := range interceptors {
		nodes[i] = orderingOf(ic.Name(), i, ic)
		byName[ic.Name()] = ic
	}
	names, err := order(nodes)
	if err != nil {
		return nil, err
	}
	ordered := make([]WriteInterceptor, len(names))
	for i, name := range names {
		ordered[i] = byName[name]
	}
	return &WriteChain{order: ordered}, nil
}

func (c *WriteChain) Dispatch(ctx context.Context, wc *WriteContext, terminal WriteNext) error {
	next := terminal
	for i := len(c.order) - 1; i >= 0; i-- {
		handler := c.order[i]
		localNext := next
		next = func(ctx context.Context, wc *WriteContext) error {
			return handler.InterceptWrite(ctx, wc, localNext)
		}
	}
	return next(ctx, wc)
}

// InvokeChain is the built, dispatchable continuation for method calls.
type InvokeChain struct {
	order []MethodInterceptor
}

func BuildInvokeChain(interceptors []MethodInterceptor) (*InvokeChain, error) {
	nodes := make([]node, len(interceptors))
	byName := make(map[string]MethodInterceptor, len(interceptors))
	for i, ic := range interceptors {
		nodes[i] = orderingOf(ic.Name(), i, ic)
		byName[ic.Name()] = ic
	}
	names, err := order(nodes)
	if err != nil {
		return nil, err
	}
	ordered := make([]MethodInterceptor, len(names))
	for i, name := range names {
		ordered[i] = byName[name]
	}
	return &InvokeChain{order: ordered}, nil
}

func (c *InvokeChain) Dispatch(ctx context.Context, ic *InvokeContext, terminal InvokeNext) error {
	next := terminal
	for i := len(c.order) - 1; i >= 0; i-- {
		handler := c.order[i]
		localNext := next
		next = func(ctx context.Context, ic *InvokeContext) error {
			return handler.InterceptInvoke(ctx, ic, localNext)
		}
	}
	return next(ctx, ic)
}
