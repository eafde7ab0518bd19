package bayeux

import (
	"context"
	"sync"
)

// Callback is invoked once per event delivered on a subscribed channel. ctx
// carries the dispatcherContextKey value so a Callback that itself calls
// Shutdown can be recognized as running on the Dispatcher goroutine.
type Callback func(ctx context.Context, msg Message)

// subscriptionTable tracks, per channel, the ordered list of callbacks
// registered against it. Unlike the teacher's single-subscriber map, a
// channel may carry any number of callbacks, invoked in registration
// order, and the wire-level /meta/subscribe request is only issued the
// first time a channel gains its first callback.
type subscriptionTable struct {
	lock sync.RWMutex
	subs map[Channel][]Callback
}

func newSubscriptionTable() *subscriptionTable {
	return &subscriptionTable{subs: make(map[Channel][]Callback)}
}

// add appends cb to channel's callback list, reporting whether this is the
// first callback registered for channel (and therefore whether a new
// /meta/subscribe request is needed).
func (t *subscriptionTable) add(channel Channel, cb Callback) (isNew bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	existing, ok := t.subs[channel]
	isNew = !ok || len(existing) == 0
	t.subs[channel] = append(existing, cb)
	return isNew
}

// remove drops all callbacks registered for channel.
func (t *subscriptionTable) remove(channel Channel) {
	t.lock.Lock()
	defer t.lock.Unlock()
	delete(t.subs, channel)
}

// callbacks returns the callbacks registered for channel, in registration
// order. The returned slice is a copy safe to range over without holding
// the table lock.
func (t *subscriptionTable) callbacks(channel Channel) []Callback {
	t.lock.RLock()
	defer t.lock.RUnlock()

	cbs, ok := t.subs[channel]
	if !ok {
		return nil
	}
	out := make([]Callback, len(cbs))
	copy(out, cbs)
	return out
}

// snapshot returns a copy of every (channel, callbacks) pair currently
// registered, in no particular channel order, for use when rebuilding
// subscriptions after a recovered session.
func (t *subscriptionTable) snapshot() map[Channel][]Callback {
	t.lock.RLock()
	defer t.lock.RUnlock()

	out := make(map[Channel][]Callback, len(t.subs))
	for channel, cbs := range t.subs {
		cbsCopy := make([]Callback, len(cbs))
		copy(cbsCopy, cbs)
		out[channel] = cbsCopy
	}
	return out
}

// clear empties the table without emitting any /meta/unsubscribe
// requests, used when recovering from a lost session whose
// subscriptions the server has already forgotten.
func (t *subscriptionTable) clear() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.subs = make(map[Channel][]Callback)
}

// channels returns every channel currently carrying at least one
// callback.
func (t *subscriptionTable) channels() []Channel {
	t.lock.RLock()
	defer t.lock.RUnlock()

	out := make([]Channel, 0, len(t.subs))
	for channel := range t.subs {
		out = append(out, channel)
	}
	return out
}
