package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/graphsync/registry"
	"github.com/evalgo/graphsync/subject"
)

type widget struct{ name string }

func (w *widget) SubjectType() string { return "widget" }

func TestRegister_Bijection(t *testing.T) {
	r := registry.New()
	w := &widget{name: "w1"}

	require.NoError(t, r.Register("ns=1;i=1", w, nil))

	got, ok := r.TryGet("ns=1;i=1")
	require.True(t, ok)
	assert.Same(t, w, got)

	id, ok := r.TryGetExternalId(w)
	require.True(t, ok)
	assert.Equal(t, "ns=1;i=1", id)
}

func TestRegister_DuplicateExternalIdFails(t *testing.T) {
	r := registry.New()
	w1 := &widget{name: "w1"}
	w2 := &widget{name: "w2"}

	require.NoError(t, r.Register("X1", w1, nil))
	err := r.Register("X1", w2, nil)
	require.Error(t, err)

	var conflict *registry.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, registry.ConflictDuplicateExternalID, conflict.Kind)
}

func TestRegister_DuplicateSubjectFails(t *testing.T) {
	r := registry.New()
	w := &widget{name: "w1"}

	require.NoError(t, r.Register("X1", w, nil))
	err := r.Register("X2", w, nil)
	require.Error(t, err)

	var conflict *registry.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, registry.ConflictDuplicateSubject, conflict.Kind)
}

func TestRefCount_SubjectRemainsIffIncrementsExceedDecrements(t *testing.T) {
	r := registry.New()
	w := &widget{name: "w1"}
	require.NoError(t, r.Register("X1", w, nil))

	require.NoError(t, r.IncrementRef(w)) // refcount 2
	require.NoError(t, r.IncrementRef(w)) // refcount 3

	removed, _, err := r.DecrementRef(w)
	require.NoError(t, err)
	assert.False(t, removed)

	removed, _, err = r.DecrementRef(w)
	require.NoError(t, err)
	assert.False(t, removed)

	removed, snap, err := r.DecrementRef(w)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, "X1", snap.ExternalID)

	_, ok := r.TryGet("X1")
	assert.False(t, ok)
}

func TestUpdateExternalId_AtomicRebind(t *testing.T) {
	r := registry.New()
	w := &widget{name: "w1"}
	require.NoError(t, r.Register("X1", w, nil))

	require.NoError(t, r.UpdateExternalId(w, "X2"))

	_, ok := r.TryGet("X1")
	assert.False(t, ok)
	got, ok := r.TryGet("X2")
	require.True(t, ok)
	assert.Same(t, w, got)
}

func TestUpdateExternalId_ConflictsWithDifferentSubject(t *testing.T) {
	r := registry.New()
	w1 := &widget{name: "w1"}
	w2 := &widget{name: "w2"}
	require.NoError(t, r.Register("X1", w1, nil))
	require.NoError(t, r.Register("X2", w2, nil))

	err := r.UpdateExternalId(w1, "X2")
	require.Error(t, err)
}

func TestOnDecrement_SeesRemovedEntry(t *testing.T) {
	var seenExternalID string
	r := registry.New(registry.WithOnDecrement(func(e *registry.RegisteredEntry) {
		seenExternalID = e.ExternalID
	}))
	w := &widget{name: "w1"}
	require.NoError(t, r.Register("X1", w, nil))

	removed, _, err := r.DecrementRef(w)
	require.NoError(t, err)
	require.True(t, removed)
	assert.Equal(t, "X1", seenExternalID)
}

func TestModifyData_MutatesUnderLock(t *testing.T) {
	r := registry.New()
	w := &widget{name: "w1"}
	require.NoError(t, r.Register("X1", w, 0))

	require.NoError(t, r.ModifyData(w, func(current any) any {
		return current.(int) + 1
	}))

	data, ok := r.TryGetData(w)
	require.True(t, ok)
	assert.Equal(t, 1, data)
}
