package bus

import (
	"sort"
	"sync"
)

// Fanout tracks an ordered set of subscribers. Bus implementations embed
// it to share subscription bookkeeping; listeners are delivered to in
// subscription order.
type Fanout struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]Handler
}

// Add registers a subscriber and returns its cancel func. The cancel
// func removes exactly this subscriber and may be called more than once.
func (f *Fanout) Add(fn Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[int]Handler)
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = fn

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

// Deliver invokes every current subscriber with payload, in subscription
// order. The subscriber set is snapshotted first so a handler may
// subscribe or unsubscribe without deadlocking.
func (f *Fanout) Deliver(payload any) {
	f.mu.Lock()
	ids := make([]int, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, f.subs[id])
	}
	f.mu.Unlock()

	for _, fn := range handlers {
		fn(payload)
	}
}
