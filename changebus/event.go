// Package changebus implements the change-notification bus: it emits
// property-change and lifecycle events to subscribers, either inline on the
// writing goroutine (sync subscriptions) or through a per-subscriber
// concurrent FIFO (queued subscriptions), per spec §4.D.
package changebus

import "github.com/evalgo/graphsync/subject"

// EventKind discriminates the concrete payload carried by an Event.
type EventKind int

const (
	KindPropertyChanged EventKind = iota
	KindSubjectAttached
	KindSubjectDetached
	KindParentChanged
)

func (k EventKind) String() string {
	switch k {
	case KindPropertyChanged:
		return "PropertyChanged"
	case KindSubjectAttached:
		return "SubjectAttached"
	case KindSubjectDetached:
		return "SubjectDetached"
	case KindParentChanged:
		return "ParentChanged"
	default:
		return "Unknown"
	}
}

// Event is the single type flowing through the bus. Exactly one of the
// payload fields is populated, selected by Kind; a tagged struct rather than
// an interface keeps handlers allocation-free on the common path.
type Event struct {
	Kind EventKind

	PropertyChange  *subject.PropertyChange
	LifecycleChange *subject.LifecycleChange
	ParentChangedOf subject.Subject
}

func propertyChangedEvent(c subject.PropertyChange) Event {
	return Event{Kind: KindPropertyChanged, PropertyChange: &c}
}

func subjectAttachedEvent(c subject.LifecycleChange) Event {
	return Event{Kind: KindSubjectAttached, LifecycleChange: &c}
}

func subjectDetachedEvent(c subject.LifecycleChange) Event {
	return Event{Kind: KindSubjectDetached, LifecycleChange: &c}
}

func parentChangedEvent(s subject.Subject) Event {
	return Event{Kind: KindParentChanged, ParentChangedOf: s}
}
