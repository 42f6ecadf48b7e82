package sourcectx_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/graphsync/sourcectx"
	"github.com/evalgo/graphsync/subject"
)

func TestSourceScope_DefaultIsLocal(t *testing.T) {
	ctx := context.Background()
	assert.False(t, sourcectx.IsScoped(ctx))
	assert.Nil(t, sourcectx.SourceFrom(ctx))
}

func TestSourceScope_Explicit(t *testing.T) {
	type connHandle string
	ctx := sourcectx.WithSource(context.Background(), connHandle("conn-1"))
	assert.True(t, sourcectx.IsScoped(ctx))
	assert.Equal(t, connHandle("conn-1"), sourcectx.SourceFrom(ctx))
}

func TestTimestampScope_Resolve(t *testing.T) {
	now := time.Now()
	ctx := context.Background()
	assert.Equal(t, now, sourcectx.Resolve(ctx, now))

	fixed := now.Add(-time.Hour)
	ctx = sourcectx.WithChangedTimestamp(ctx, subject.At(fixed))
	assert.Equal(t, fixed, sourcectx.Resolve(ctx, now))
}

func TestPendingDeletes_AddAwaitsDelete(t *testing.T) {
	pd := sourcectx.NewPendingDeletes()
	key := sourcectx.PendingDeleteKey{ParentProperty: "dict.children", Key: strPtr("a")}

	done := pd.Begin(key)

	awaitErr := make(chan error, 1)
	go func() {
		awaitErr <- pd.Await(context.Background(), key)
	}()

	select {
	case <-awaitErr:
		t.Fatal("Await returned before delete completed")
	case <-time.After(20 * time.Millisecond):
	}

	done()

	require.NoError(t, <-awaitErr)
}

func TestPendingDeletes_NoPendingReturnsImmediately(t *testing.T) {
	pd := sourcectx.NewPendingDeletes()
	key := sourcectx.PendingDeleteKey{ParentProperty: "dict.children", Key: strPtr("a")}
	require.NoError(t, pd.Await(context.Background(), key))
}

func TestRecentlyDeleted_TTLExpiry(t *testing.T) {
	rd := sourcectx.NewRecentlyDeleted(10*time.Millisecond, 10)
	rd.Mark("ns=2;i=5")
	assert.True(t, rd.WasRecentlyDeleted("ns=2;i=5"))

	time.Sleep(20 * time.Millisecond)
	assert.False(t, rd.WasRecentlyDeleted("ns=2;i=5"))
}

func TestRecentlyDeleted_SizeBound(t *testing.T) {
	rd := sourcectx.NewRecentlyDeleted(time.Hour, 2)
	rd.Mark("a")
	rd.Mark("b")
	rd.Mark("c")
	assert.Equal(t, 2, rd.Len())
	assert.False(t, rd.WasRecentlyDeleted("a"))
	assert.True(t, rd.WasRecentlyDeleted("c"))
}

func strPtr(s string) *string { return &s }
