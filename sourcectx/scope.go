// Package sourcectx implements the source-ownership and loop-guard protocol
// (spec §4.I): every outbound-affecting mutation is tagged with an opaque
// source so the change-queue processor can discard echoes back to their
// originating connector. Per the design notes, ambient state is carried as
// explicit scope values threaded through context.Context rather than as
// static/thread-local state — there is no hidden global to desync.
package sourcectx

import (
	"context"
	"time"

	"github.com/evalgo/graphsync/subject"
)

type sourceKey struct{}
type timestampKey struct{}

// sourceHolder lets SourceFrom distinguish "no scope entered" (ctx.Value
// returns untyped nil) from "scope entered with an explicitly nil source"
// (ctx.Value returns a sourceHolder{value: nil}).
type sourceHolder struct{ value subject.Source }

// WithSource returns a context tagging every write performed through it with
// src. A nil src represents the local-application source.
func WithSource(ctx context.Context, src subject.Source) context.Context {
	return context.WithValue(ctx, sourceKey{}, sourceHolder{value: src})
}

// SourceFrom extracts the active source, or nil if no scope is active.
func SourceFrom(ctx context.Context) subject.Source {
	holder, ok := ctx.Value(sourceKey{}).(sourceHolder)
	if !ok {
		return nil
	}
	return holder.value
}

// IsScoped reports whether a source scope (of any value, including nil) is
// currently active on ctx.
func IsScoped(ctx context.Context) bool {
	_, ok := ctx.Value(sourceKey{}).(sourceHolder)
	return ok
}

// WithChangedTimestamp returns a context that preserves ts as the
// changed-timestamp for every write performed through it — used by inbound
// connector paths to carry the remote system's authoring time instead of
// the local wall clock.
func WithChangedTimestamp(ctx context.Context, ts subject.Timestamp) context.Context {
	return context.WithValue(ctx, timestampKey{}, ts)
}

// TimestampFrom extracts the active timestamp scope, or subject.Unset if
// none is active.
func TimestampFrom(ctx context.Context) subject.Timestamp {
	v, ok := ctx.Value(timestampKey{}).(subject.Timestamp)
	if !ok {
		return subject.Unset
	}
	return v
}

// Resolve computes the changed-timestamp to stamp a write with, given the
// context's timestamp scope and the current time.
func Resolve(ctx context.Context, now time.Time) time.Time {
	return TimestampFrom(ctx).Resolve(now)
}
