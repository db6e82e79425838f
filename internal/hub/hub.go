package hub

import (
	"strings"
	"sync"
)

// Hub is an in-process publish/subscribe broadcaster with namespace
// filtering. Internal components (message log, directory cache) subscribe to
// a namespace; web observers attach with Attach and additionally receive a
// replay of the current session state so a late joiner never has to wait for
// the next event to learn where things stand.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	next   int
	replay func() []Event
}

type subscription struct {
	namespace string
	ch        chan Event
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{
		subs: make(map[int]*subscription),
	}
}

// SetReplay installs the snapshot function used by Attach. The function is
// called under the hub lock, so replayed events are ordered strictly before
// any live event the new observer receives.
func (h *Hub) SetReplay(fn func() []Event) {
	h.mu.Lock()
	h.replay = fn
	h.mu.Unlock()
}

// Publish delivers an event to every subscriber whose namespace is a prefix
// of the event kind. Delivery is non-blocking: a subscriber whose buffer is
// full has the event dropped, so one slow observer never backpressures the
// producer or delays the others.
func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
}

// Subscribe returns a channel receiving events matching the namespace
// prefix, and an unsubscribe function. No replay is performed.
func (h *Hub) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	h.mu.Lock()
	id := h.register(namespace, ch)
	h.mu.Unlock()
	return ch, h.unsubFunc(id)
}

// Attach registers an observer receiving all events, after first queueing
// the replay snapshot (current connection status, pending challenge,
// directory contents) into its channel. Replay and registration happen under
// one critical section, so the observer sees snapshot-then-live in order and
// no live event can sneak in between.
func (h *Hub) Attach(bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	h.mu.Lock()
	if h.replay != nil {
		for _, evt := range h.replay() {
			select {
			case ch <- evt:
			default:
			}
		}
	}
	id := h.register("", ch)
	h.mu.Unlock()
	return ch, h.unsubFunc(id)
}

// register adds a subscription. Caller must hold the write lock.
func (h *Hub) register(namespace string, ch chan Event) int {
	id := h.next
	h.next++
	h.subs[id] = &subscription{namespace: namespace, ch: ch}
	return id
}

func (h *Hub) unsubFunc(id int) func() {
	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}
