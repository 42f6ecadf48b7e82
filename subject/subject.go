// Package subject defines the typed-object model whose property accesses
// route through interceptors. Metadata for a subject's type is built once
// through TypeBuilder (never via runtime reflection) and memoized
// process-wide so lookups after the first resolve are O(1).
package subject

import (
	"fmt"
	"reflect"
	"sync"
)

// Kind classifies what a property holds and therefore how the structural
// change processor (package structural) must diff it.
type Kind int

const (
	KindValue Kind = iota
	KindSubjectReference
	KindSubjectCollection
	KindSubjectDictionary
	KindMethod
)

func (k Kind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindSubjectReference:
		return "subject-reference"
	case KindSubjectCollection:
		return "subject-collection"
	case KindSubjectDictionary:
		return "subject-dictionary"
	case KindMethod:
		return "method"
	default:
		return "unknown"
	}
}

// Subject is implemented by every typed object that participates in the
// graph. Identity is by reference: two Subjects are never merged, and the
// set of property names is fixed for the subject's lifetime once Metadata
// has been built for its type.
type Subject interface {
	// SubjectType returns the stable type name used to memoize Metadata.
	SubjectType() string
}

// Reader reads a property's current value off of a concrete subject.
type Reader func(s Subject) (any, error)

// Writer applies a new value to a concrete subject's backing storage.
// Derived properties have a nil Writer; attempting to invoke one is a
// programmer error (ErrDerivedWrite).
type Writer func(s Subject, value any) error

// EqualFunc decides whether two observed values are the same for change
// suppression purposes. Defaults to reflect.DeepEqual for value kinds and
// reference identity for subject-shaped kinds.
type EqualFunc func(old, new any) bool

// PropertyMetadata describes one property of a subject type. Instances are
// built once by TypeBuilder and are immutable afterward.
type PropertyMetadata struct {
	Name       string
	Kind       Kind
	IsDerived  bool
	Attributes map[string]any
	Read       Reader
	Write      Writer
	Equal      EqualFunc
	// DependsOn names the properties a derived property was declared to
	// depend on when Derived registered it. Nothing records the properties a
	// derived Read actually observes, and nothing updates this list after
	// Build.
	DependsOn []string
}

// TypeMetadata is the frozen, per-type property table.
type TypeMetadata struct {
	TypeName   string
	properties []*PropertyMetadata
	byName     map[string]*PropertyMetadata
}

// Properties returns the type's properties in declaration order.
func (t *TypeMetadata) Properties() []*PropertyMetadata {
	return t.properties
}

// Property looks up a single property by name.
func (t *TypeMetadata) Property(name string) (*PropertyMetadata, bool) {
	pm, ok := t.byName[name]
	return pm, ok
}

// TypeBuilder assembles a TypeMetadata. Create one with NewTypeBuilder,
// register properties with Value/SubjectReference/SubjectCollection/
// SubjectDictionary/Derived, then call Build. Build returns a new table on
// every call; pass it to Register, which memoizes per type name: the first
// caller wins and later calls for the same name return the memoized result,
// so Register is safe to call from multiple init() functions or lazily on
// first use.
type TypeBuilder struct {
	typeName string
	base     *TypeMetadata // optional: properties inherited from a base type
	props    []*PropertyMetadata
	seen     map[string]bool
}

// NewTypeBuilder starts building metadata for typeName. If base is non-nil,
// its properties are included first and may be overridden by name — this is
// the non-reflective equivalent of "most-derived wins for overlapping names".
func NewTypeBuilder(typeName string, base *TypeMetadata) *TypeBuilder {
	return &TypeBuilder{
		typeName: typeName,
		base:     base,
		seen:     make(map[string]bool),
	}
}

func (b *TypeBuilder) add(pm *PropertyMetadata) {
	if pm.Equal == nil {
		switch pm.Kind {
		case KindValue:
			pm.Equal = func(a, c any) bool { return reflect.DeepEqual(a, c) }
		default:
			pm.Equal = func(a, c any) bool { return a == c }
		}
	}
	b.props = append(b.props, pm)
	b.seen[pm.Name] = true
}

// Property registers an already-constructed PropertyMetadata. The typed
// helpers below (Value, SubjectReference, ...) are the usual entry points;
// Property exists for callers building metadata generically (e.g. codegen).
func (b *TypeBuilder) Property(pm *PropertyMetadata) *TypeBuilder {
	b.add(pm)
	return b
}

// Build freezes the type's property table. Properties inherited from base
// that were not overridden are prepended in base order, overridden ones
// keep the derived definition's position.
func (b *TypeBuilder) Build() *TypeMetadata {
	var all []*PropertyMetadata
	if b.base != nil {
		for _, pm := range b.base.properties {
			if !b.seen[pm.Name] {
				all = append(all, pm)
			}
		}
	}
	all = append(all, b.props...)

	byName := make(map[string]*PropertyMetadata, len(all))
	for _, pm := range all {
		byName[pm.Name] = pm
	}
	return &TypeMetadata{
		TypeName:   b.typeName,
		properties: all,
		byName:     byName,
	}
}

// Value registers a scalar or structural-equality-compared property. T is
// inferred from get/set; a type assertion guards Write against values of
// the wrong Go type reaching a mismatched accessor (a programmer error).
func Value[S Subject, T any](b *TypeBuilder, name string, get func(S) T, set func(S, T)) *TypeBuilder {
	pm := &PropertyMetadata{
		Name: name,
		Kind: KindValue,
		Read: func(s Subject) (any, error) {
			typed, ok := s.(S)
			if !ok {
				return nil, fmt.Errorf("subject: property %q read against wrong subject type", name)
			}
			return get(typed), nil
		},
	}
	if set != nil {
		pm.Write = func(s Subject, v any) error {
			typed, ok := s.(S)
			if !ok {
				return fmt.Errorf("subject: property %q write against wrong subject type", name)
			}
			value, ok := v.(T)
			if !ok {
				return fmt.Errorf("subject: property %q write value has wrong type %T", name, v)
			}
			set(typed, value)
			return nil
		}
	}
	b.add(pm)
	return b
}

// Derived registers a read-only computed property. Its Write is nil;
// engine.Graph.WriteProperty rejects a write to it with ErrDerivedWrite
// before the interceptor chain runs.
// dependsOn names the properties whose changes must re-trigger emission.
func Derived[S Subject, T any](b *TypeBuilder, name string, get func(S) T, dependsOn ...string) *TypeBuilder {
	pm := &PropertyMetadata{
		Name:      name,
		Kind:      KindValue,
		IsDerived: true,
		DependsOn: dependsOn,
		Read: func(s Subject) (any, error) {
			typed, ok := s.(S)
			if !ok {
				return nil, fmt.Errorf("subject: property %q read against wrong subject type", name)
			}
			return get(typed), nil
		},
	}
	b.add(pm)
	return b
}

// SubjectReference registers a single-valued reference to another Subject.
func SubjectReference[S Subject](b *TypeBuilder, name string, get func(S) Subject, set func(S, Subject)) *TypeBuilder {
	pm := &PropertyMetadata{
		Name: name,
		Kind: KindSubjectReference,
		Read: func(s Subject) (any, error) {
			typed, ok := s.(S)
			if !ok {
				return nil, fmt.Errorf("subject: property %q read against wrong subject type", name)
			}
			return get(typed), nil
		},
	}
	if set != nil {
		pm.Write = func(s Subject, v any) error {
			typed, ok := s.(S)
			if !ok {
				return fmt.Errorf("subject: property %q write against wrong subject type", name)
			}
			if v == nil {
				set(typed, nil)
				return nil
			}
			ref, ok := v.(Subject)
			if !ok {
				return fmt.Errorf("subject: property %q write value is not a Subject", name)
			}
			set(typed, ref)
			return nil
		}
	}
	b.add(pm)
	return b
}

// SubjectCollection registers an ordered []Subject property.
func SubjectCollection[S Subject](b *TypeBuilder, name string, get func(S) []Subject, set func(S, []Subject)) *TypeBuilder {
	pm := &PropertyMetadata{
		Name: name,
		Kind: KindSubjectCollection,
		Read: func(s Subject) (any, error) {
			typed, ok := s.(S)
			if !ok {
				return nil, fmt.Errorf("subject: property %q read against wrong subject type", name)
			}
			return get(typed), nil
		},
	}
	if set != nil {
		pm.Write = func(s Subject, v any) error {
			typed, ok := s.(S)
			if !ok {
				return fmt.Errorf("subject: property %q write against wrong subject type", name)
			}
			list, ok := v.([]Subject)
			if !ok {
				return fmt.Errorf("subject: property %q write value is not []Subject", name)
			}
			set(typed, list)
			return nil
		}
	}
	b.add(pm)
	return b
}

// SubjectDictionary registers a keyed map[string]Subject property.
func SubjectDictionary[S Subject](b *TypeBuilder, name string, get func(S) map[string]Subject, set func(S, map[string]Subject)) *TypeBuilder {
	pm := &PropertyMetadata{
		Name: name,
		Kind: KindSubjectDictionary,
		Read: func(s Subject) (any, error) {
			typed, ok := s.(S)
			if !ok {
				return nil, fmt.Errorf("subject: property %q read against wrong subject type", name)
			}
			return get(typed), nil
		},
	}
	if set != nil {
		pm.Write = func(s Subject, v any) error {
			typed, ok := s.(S)
			if !ok {
				return fmt.Errorf("subject: property %q write against wrong subject type", name)
			}
			dict, ok := v.(map[string]Subject)
			if !ok {
				return fmt.Errorf("subject: property %q write value is not map[string]Subject", name)
			}
			set(typed, dict)
			return nil
		}
	}
	b.add(pm)
	return b
}

var (
	metaMu sync.Mutex
	types  = make(map[string]*TypeMetadata)
)

// Register memoizes meta under its TypeName, process-wide, the first time
// it is seen. Subsequent calls with the same TypeName are no-ops that
// return the originally registered metadata, matching "resolved once and
// memoized process-wide" from the subject/metadata contract.
func Register(meta *TypeMetadata) *TypeMetadata {
	metaMu.Lock()
	defer metaMu.Unlock()
	if existing, ok := types[meta.TypeName]; ok {
		return existing
	}
	types[meta.TypeName] = meta
	return meta
}

// MetadataFor returns the memoized TypeMetadata for typeName, if any.
func MetadataFor(typeName string) (*TypeMetadata, bool) {
	metaMu.Lock()
	defer metaMu.Unlock()
	m, ok := types[typeName]
	return m, ok
}

// Identity returns the key for a Subject's reference identity: the Subject
// value itself. It is comparable only when the concrete type behind s is
// comparable (a pointer, for example); other types panic when used as a map
// key.
func Identity(s Subject) any {
	return s
}
