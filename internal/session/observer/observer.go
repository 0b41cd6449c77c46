// Package observer exposes the read model of the current session to the UI
// layer. It is written only by the session manager.
package observer

import (
	"sync"

	"github.com/google/uuid"
)

// State is the projection a UI renders from.
type State struct {
	IsAuthenticated bool   `json:"is_authenticated"`
	IsLoading       bool   `json:"is_loading"`
	UserID          string `json:"user_id,omitempty"`
}

// Observer holds the latest State and fans transitions out to subscribers.
// Subscribers run synchronously, in transition order, outside the state lock:
// they may read Snapshot or unsubscribe, but must not Publish or call back
// into the session manager.
type Observer struct {
	// publishMu serialises Publish so notifications keep transition order.
	publishMu sync.Mutex

	mu          sync.Mutex
	state       State
	subscribers map[uuid.UUID]func(State)
	order       []uuid.UUID
}

// New returns an observer in the loading state.
func New() *Observer {
	return &Observer{
		state:       State{IsLoading: true},
		subscribers: make(map[uuid.UUID]func(State)),
	}
}

// Snapshot returns the current state.
func (o *Observer) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Subscribe registers fn for every subsequent transition and returns a
// function that removes it. Calling the returned function more than once is safe.
func (o *Observer) Subscribe(fn func(State)) (unsubscribe func()) {
	id := uuid.New()

	o.mu.Lock()
	o.subscribers[id] = fn
	o.order = append(o.order, id)
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			delete(o.subscribers, id)
			for i, sid := range o.order {
				if sid == id {
					o.order = append(o.order[:i], o.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish replaces the state and notifies subscribers when it changed.
func (o *Observer) Publish(next State) {
	o.publishMu.Lock()
	defer o.publishMu.Unlock()

	o.mu.Lock()
	if next == o.state {
		o.mu.Unlock()
		return
	}
	o.state = next
	fns := make([]func(State), 0, len(o.order))
	for _, id := range o.order {
		fns = append(fns, o.subscribers[id])
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(next)
	}
}
