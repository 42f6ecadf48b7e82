package structural

import (
	"context"

	"github.com/evalgo/graphsync/subject"
)

// AddFunc and RemoveFunc are the processor's callback contract:
// onSubjectAdded(property, subject, index?, key?) and the symmetric removed
// callback. Both are awaited sequentially to preserve causal order; an error
// aborts remaining emissions for this diff and propagates to the caller.
type AddFunc func(ctx context.Context, property subject.PropertyReference, s subject.Subject, index *int, key *string) error
type RemoveFunc func(ctx context.Context, property subject.PropertyReference, s subject.Subject, index *int, key *string) error

// Processor dispatches a property change to the appropriate diff function
// by the property's kind and awaits the add/remove callbacks in order.
type Processor struct {
	OnAdded   AddFunc
	OnRemoved RemoveFunc
}

// Process diffs old/new according to meta.Kind and invokes the configured
// callbacks. It returns handled=false for subject.KindValue ("not
// structural"; the caller routes the value down its own path) and for
// subject.KindMethod (not a data property at all).
func (p *Processor) Process(ctx context.Context, property subject.PropertyReference, meta *subject.PropertyMetadata, old, new any) (handled bool, err error) {
	switch meta.Kind {
	case subject.KindSubjectReference:
		oldS, _ := old.(subject.Subject)
		newS, _ := new.(subject.Subject)
		return true, p.apply(ctx, property, DiffReference(oldS, newS))

	case subject.KindSubjectCollection:
		oldC, _ := old.([]subject.Subject)
		newC, _ := new.([]subject.Subject)
		return true, p.apply(ctx, property, DiffCollection(oldC, newC))

	case subject.KindSubjectDictionary:
		oldD, _ := old.(map[string]subject.Subject)
		newD, _ := new.(map[string]subject.Subject)
		return true, p.apply(ctx, property, DiffDictionary(oldD, newD))

	default:
		return false, nil
	}
}

func (p *Processor) apply(ctx context.Context, property subject.PropertyReference, ops []Op) error {
	for _, op := range ops {
		var err error
		switch op.Kind {
		case OpRemove:
			if p.OnRemoved != nil {
				err = p.OnRemoved(ctx, property, op.Subject, op.Index, op.Key)
			}
		case OpAdd:
			if p.OnAdded != nil {
				err = p.OnAdded(ctx, property, op.Subject, op.Index, op.Key)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}
