package structural_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/graphsync/structural"
	"github.com/evalgo/graphsync/subject"
)

type thing struct{ name string }

func (t *thing) SubjectType() string { return "thing" }

func TestDiffReference_ReplaceEmitsRemoveThenAdd(t *testing.T) {
	a := &thing{name: "a"}
	b := &thing{name: "b"}

	ops := structural.DiffReference(a, b)
	require.Len(t, ops, 2)
	assert.Equal(t, structural.OpRemove, ops[0].Kind)
	assert.Same(t, a, ops[0].Subject)
	assert.Equal(t, structural.OpAdd, ops[1].Kind)
	assert.Same(t, b, ops[1].Subject)
}

func TestDiffReference_SameSubjectIsNoOp(t *testing.T) {
	a := &thing{name: "a"}
	ops := structural.DiffReference(a, a)
	assert.Empty(t, ops)
}

func TestDiffCollection_MiddleRemoveReindexesNoOtherOps(t *testing.T) {
	a := &thing{name: "A"}
	b := &thing{name: "B"}
	c := &thing{name: "C"}

	ops := structural.DiffCollection([]subject.Subject{a, b, c}, []subject.Subject{a, c})
	require.Len(t, ops, 1)
	assert.Equal(t, structural.OpRemove, ops[0].Kind)
	assert.Same(t, b, ops[0].Subject)
	require.NotNil(t, ops[0].Index)
	assert.Equal(t, 1, *ops[0].Index)
}

func TestDiffCollection_PureAppend(t *testing.T) {
	a := &thing{name: "A"}
	b := &thing{name: "B"}

	ops := structural.DiffCollection([]subject.Subject{a}, []subject.Subject{a, b})
	require.Len(t, ops, 1)
	assert.Equal(t, structural.OpAdd, ops[0].Kind)
	assert.Same(t, b, ops[0].Subject)
	assert.Equal(t, 1, *ops[0].Index)
}

func TestDiffCollection_ReorderOnlyIsMinimized(t *testing.T) {
	a := &thing{name: "A"}
	b := &thing{name: "B"}
	c := &thing{name: "C"}

	// [A, B, C] -> [C, A, B]: C moves to front. The LIS over {A, B} (still in
	// relative order) keeps them stationary; only C needs a remove+add.
	ops := structural.DiffCollection([]subject.Subject{a, b, c}, []subject.Subject{c, a, b})

	var removed, added []subject.Subject
	for _, op := range ops {
		switch op.Kind {
		case structural.OpRemove:
			removed = append(removed, op.Subject)
		case structural.OpAdd:
			added = append(added, op.Subject)
		}
	}
	assert.Equal(t, []subject.Subject{c}, removed)
	assert.Equal(t, []subject.Subject{c}, added)
}

func TestDiffDictionary_SameKeyReplaceEmitsRemoveThenAdd(t *testing.T) {
	s1 := &thing{name: "s1"}
	s2 := &thing{name: "s2"}

	old := map[string]subject.Subject{"a": s1}
	new := map[string]subject.Subject{"a": s2}

	ops := structural.DiffDictionary(old, new)
	require.Len(t, ops, 2)
	assert.Equal(t, structural.OpRemove, ops[0].Kind)
	assert.Equal(t, "a", *ops[0].Key)
	assert.Same(t, s1, ops[0].Subject)
	assert.Equal(t, structural.OpAdd, ops[1].Kind)
	assert.Equal(t, "a", *ops[1].Key)
	assert.Same(t, s2, ops[1].Subject)
}

func TestDiffDictionary_UnchangedKeyProducesNoOps(t *testing.T) {
	s1 := &thing{name: "s1"}
	old := map[string]subject.Subject{"a": s1}
	new := map[string]subject.Subject{"a": s1}

	ops := structural.DiffDictionary(old, new)
	assert.Empty(t, ops)
}

func TestProcessor_ValueKindIsNotStructural(t *testing.T) {
	p := &structural.Processor{}
	meta := &subject.PropertyMetadata{Kind: subject.KindValue}
	handled, err := p.Process(context.Background(), subject.PropertyReference{}, meta, 1, 2)
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestProcessor_ReferenceDispatchesCallbacksInOrder(t *testing.T) {
	a := &thing{name: "a"}
	b := &thing{name: "b"}

	var calls []string
	p := &structural.Processor{
		OnRemoved: func(ctx context.Context, property subject.PropertyReference, s subject.Subject, index *int, key *string) error {
			calls = append(calls, "remove:"+s.(*thing).name)
			return nil
		},
		OnAdded: func(ctx context.Context, property subject.PropertyReference, s subject.Subject, index *int, key *string) error {
			calls = append(calls, "add:"+s.(*thing).name)
			return nil
		},
	}

	meta := &subject.PropertyMetadata{Kind: subject.KindSubjectReference}
	handled, err := p.Process(context.Background(), subject.PropertyReference{Name: "ref"}, meta, subject.Subject(a), subject.Subject(b))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, []string{"remove:a", "add:b"}, calls)
}

func TestProcessor_ErrorAbortsRemainingEmissions(t *testing.T) {
	a := &thing{name: "a"}
	b := &thing{name: "b"}
	c := &thing{name: "c"}

	errBoom := assert.AnError
	var calls []string
	p := &structural.Processor{
		OnAdded: func(ctx context.Context, property subject.PropertyReference, s subject.Subject, index *int, key *string) error {
			calls = append(calls, s.(*thing).name)
			if s.(*thing).name == "b" {
				return errBoom
			}
			return nil
		},
	}

	meta := &subject.PropertyMetadata{Kind: subject.KindSubjectCollection}
	handled, err := p.Process(context.Background(), subject.PropertyReference{Name: "col"}, meta,
		[]subject.Subject{}, []subject.Subject{a, b, c})
	assert.True(t, handled)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, []string{"a", "b"}, calls)
}
