package subject

import "time"

// PropertyReference identifies a mutation site: a specific property on a
// specific subject instance. Equality is reference-equality of the subject
// plus ordinal equality of the name; its lifetime equals the subject's.
type PropertyReference struct {
	Subject Subject
	Name    string
}

// Equal reports whether two references point at the same property of the
// same subject instance.
func (r PropertyReference) Equal(other PropertyReference) bool {
	return r.Subject == other.Subject && r.Name == other.Name
}

// String renders a reference for logging.
func (r PropertyReference) String() string {
	t := "<nil>"
	if r.Subject != nil {
		t = r.Subject.SubjectType()
	}
	return t + "." + r.Name
}

// Source is an opaque token identifying who produced a change. A nil Source
// means the change originated from local application code; any non-nil
// value is treated as a connector handle for loop-suppression purposes
// (see package sourcectx). Source values must be comparable.
type Source any

// Timestamp distinguishes "explicitly absent" from "unset, use the clock".
// The zero value of Timestamp is Unset; construct an explicit-null instant
// with ExplicitlyNil() when a source reported "no timestamp" rather than
// simply never having set one.
type Timestamp struct {
	t       time.Time
	mode    tsMode
}

type tsMode int

const (
	tsUnset tsMode = iota
	tsExplicitNil
	tsSet
)

// Unset is the zero Timestamp: no scope was active, use the wall clock.
var Unset = Timestamp{}

// At constructs a Timestamp carrying an explicit instant.
func At(t time.Time) Timestamp {
	return Timestamp{t: t, mode: tsSet}
}

// ExplicitlyNil constructs a Timestamp recording that the source reported
// no timestamp at all, as distinct from Unset ("no scope was active").
func ExplicitlyNil() Timestamp {
	return Timestamp{mode: tsExplicitNil}
}

// IsUnset reports whether the timestamp carries no information at all.
func (ts Timestamp) IsUnset() bool { return ts.mode == tsUnset }

// IsExplicitNil reports whether the source explicitly had no timestamp.
func (ts Timestamp) IsExplicitNil() bool { return ts.mode == tsExplicitNil }

// Resolve returns the timestamp to stamp a change with: the carried instant
// if Set, now otherwise (Unset and ExplicitNil both fall back to now — an
// explicit-nil source still needs *some* changed-timestamp on the record).
func (ts Timestamp) Resolve(now time.Time) time.Time {
	if ts.mode == tsSet {
		return ts.t
	}
	return now
}

// PropertyChange is an immutable record of a single property transition.
type PropertyChange struct {
	Property          PropertyReference
	Source            Source
	ChangedTimestamp  time.Time
	ReceivedTimestamp *time.Time // set only by inbound connector paths
	OldValue          any
	NewValue          any
}

// LifecycleKind distinguishes attach/detach events.
type LifecycleKind int

const (
	Attached LifecycleKind = iota
	Detached
)

// LifecycleChange announces that a subject became reachable from, or
// unreachable from, some root. A subject may have several parents (the
// object graph is a DAG), so ParentProperty/Index describe one edge, not
// the subject's entire reachability state.
type LifecycleChange struct {
	Subject        Subject
	ParentProperty *PropertyReference
	Index          *int // nil for reference/dictionary edges, set for collection edges
	Kind           LifecycleKind
}
