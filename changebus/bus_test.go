package changebus_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/graphsync/changebus"
	"github.com/evalgo/graphsync/subject"
)

type widget struct{ name string }

func (w *widget) SubjectType() string { return "widget" }

func TestBus_SyncSubscriptionSeesEmissionOrder(t *testing.T) {
	bus := changebus.New()
	w := &widget{name: "w1"}

	var seen []int
	bus.Subscribe(changebus.ModeSync, func(ev changebus.Event) {
		if ev.Kind == changebus.KindPropertyChanged {
			seen = append(seen, ev.PropertyChange.NewValue.(int))
		}
	})

	for i := 1; i <= 3; i++ {
		bus.PropertyChanged(subject.PropertyChange{
			Property: subject.PropertyReference{Subject: w, Name: "count"},
			NewValue: i,
		})
	}

	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestBus_QueuedSubscriptionPreservesOrder(t *testing.T) {
	bus := changebus.New()
	w := &widget{name: "w1"}

	var mu sync.Mutex
	var seen []int
	var wg sync.WaitGroup
	wg.Add(5)

	bus.Subscribe(changebus.ModeQueued, func(ev changebus.Event) {
		if ev.Kind == changebus.KindPropertyChanged {
			mu.Lock()
			seen = append(seen, ev.PropertyChange.NewValue.(int))
			mu.Unlock()
		}
		wg.Done()
	})

	for i := 1; i <= 5; i++ {
		bus.PropertyChanged(subject.PropertyChange{
			Property: subject.PropertyReference{Subject: w, Name: "count"},
			NewValue: i,
		})
	}

	waitWithTimeout(t, &wg, time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, seen)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := changebus.New()
	w := &widget{name: "w1"}

	var count int
	id := bus.Subscribe(changebus.ModeSync, func(ev changebus.Event) { count++ })
	bus.Unsubscribe(id)

	bus.PropertyChanged(subject.PropertyChange{Property: subject.PropertyReference{Subject: w, Name: "x"}})
	assert.Equal(t, 0, count)
}

func TestReachability_AttachFiresOnlyOnFirstEdge(t *testing.T) {
	bus := changebus.New()
	w := &widget{name: "w1"}
	r := changebus.NewReachability(bus)

	var attached, detached int
	bus.Subscribe(changebus.ModeSync, func(ev changebus.Event) {
		switch ev.Kind {
		case changebus.KindSubjectAttached:
			attached++
		case changebus.KindSubjectDetached:
			detached++
		}
	})

	r.Attach(w, nil, nil)
	r.Attach(w, nil, nil) // second parent, no new attach event
	require.Equal(t, 1, attached)
	require.Equal(t, 2, r.ReachableCount(w))

	r.Detach(w, nil, nil)
	require.Equal(t, 0, detached)
	r.Detach(w, nil, nil)
	require.Equal(t, 1, detached)
	require.Equal(t, 0, r.ReachableCount(w))
}

func waitWithTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for queued subscriber to drain")
	}
}
