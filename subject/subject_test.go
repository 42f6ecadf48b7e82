package subject_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/graphsync/subject"
)

type sensor struct {
	name  string
	value float64
	unit  string
}

func (s *sensor) SubjectType() string { return "sensor" }

func sensorMeta() *subject.TypeMetadata {
	if m, ok := subject.MetadataFor("sensor"); ok {
		return m
	}
	b := subject.NewTypeBuilder("sensor", nil)
	subject.Value(b, "Value", func(s *sensor) float64 { return s.value }, func(s *sensor, v float64) { s.value = v })
	subject.Value(b, "Unit", func(s *sensor) string { return s.unit }, func(s *sensor, v string) { s.unit = v })
	subject.Derived(b, "Display", func(s *sensor) string { return s.unit }, "Unit")
	return subject.Register(b.Build())
}

func TestTypeMetadata_ReadWrite(t *testing.T) {
	meta := sensorMeta()
	s := &sensor{name: "temp1", value: 1}

	pm, ok := meta.Property("Value")
	require.True(t, ok)

	require.NoError(t, pm.Write(s, 42.5))
	v, err := pm.Read(s)
	require.NoError(t, err)
	assert.Equal(t, 42.5, v)
}

func TestTypeMetadata_DerivedHasNoWriter(t *testing.T) {
	meta := sensorMeta()
	pm, ok := meta.Property("Display")
	require.True(t, ok)
	assert.True(t, pm.IsDerived)
	assert.Nil(t, pm.Write)
	assert.Equal(t, []string{"Unit"}, pm.DependsOn)
}

func TestRegister_MemoizesPerType(t *testing.T) {
	first := sensorMeta()
	second := sensorMeta()
	assert.Same(t, first, second)
}

func TestTypeBuilder_BaseOverride(t *testing.T) {
	base := subject.NewTypeBuilder("base", nil)
	subject.Value(base, "X", func(s *sensor) float64 { return s.value }, func(s *sensor, v float64) { s.value = v })
	baseMeta := base.Build()

	derived := subject.NewTypeBuilder("derived", baseMeta)
	subject.Value(derived, "X", func(s *sensor) float64 { return s.value * 2 }, nil)
	derivedMeta := derived.Build()

	pm, ok := derivedMeta.Property("X")
	require.True(t, ok)
	s := &sensor{value: 5}
	v, _ := pm.Read(s)
	assert.Equal(t, float64(10), v)
}

func TestPropertyReference_Equal(t *testing.T) {
	s1 := &sensor{}
	s2 := &sensor{}
	a := subject.PropertyReference{Subject: s1, Name: "Value"}
	b := subject.PropertyReference{Subject: s1, Name: "Value"}
	c := subject.PropertyReference{Subject: s2, Name: "Value"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestTimestamp_Resolve(t *testing.T) {
	assert.False(t, subject.Unset.IsExplicitNil())
	assert.True(t, subject.Unset.IsUnset())
	assert.True(t, subject.ExplicitlyNil().IsExplicitNil())
}
