package observer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserver_StartsLoading(t *testing.T) {
	o := New()
	assert.Equal(t, State{IsLoading: true}, o.Snapshot())
}

func TestObserver_Publish(t *testing.T) {
	o := New()
	var seen []State
	unsubscribe := o.Subscribe(func(s State) { seen = append(seen, s) })

	o.Publish(State{IsAuthenticated: true, UserID: "42"})
	o.Publish(State{IsAuthenticated: true, UserID: "42"}) // unchanged, not re-sent
	o.Publish(State{})

	assert.Equal(t, []State{
		{IsAuthenticated: true, UserID: "42"},
		{},
	}, seen)
	assert.Equal(t, State{}, o.Snapshot())

	unsubscribe()
	unsubscribe()
	o.Publish(State{IsAuthenticated: true, UserID: "7"})
	assert.Len(t, seen, 2)
}

func TestObserver_NotifiesInSubscriptionOrder(t *testing.T) {
	o := New()
	var calls []string
	o.Subscribe(func(State) { calls = append(calls, "first") })
	o.Subscribe(func(State) { calls = append(calls, "second") })

	o.Publish(State{})
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestObserver_SubscriberMayReadAndUnsubscribe(t *testing.T) {
	o := New()
	var (
		seen        []State
		unsubscribe func()
	)
	unsubscribe = o.Subscribe(func(State) {
		seen = append(seen, o.Snapshot())
		unsubscribe()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Publish(State{IsAuthenticated: true, UserID: "42"})
		o.Publish(State{})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		require.FailNow(t, "publish blocked on a subscriber reading the observer")
	}
	assert.Equal(t, []State{{IsAuthenticated: true, UserID: "42"}}, seen)
}
