// Package broadcast fans job lifecycle events out to connected office
// clients. Delivery is one-way and best-effort: a slow subscriber loses its
// oldest buffered events, never the publisher's time.
package broadcast

import (
	"sync"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/adapter/observability"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 64

// Subscription is one client's event feed. Events arrive on C until Close
// is called (or the hub shuts down), after which C is closed. Close is
// idempotent.
type Subscription struct {
	C <-chan domain.Event

	hub    *Hub
	ch     chan domain.Event
	id     uint64
	userID string
	all    bool
	once   sync.Once
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.detach(s) })
}

// Hub is the in-process broadcaster. Publish never blocks: each subscriber
// has a bounded buffer, and on overflow the oldest buffered event is dropped
// to make room for the newest.
type Hub struct {
	mu      sync.RWMutex
	bufSize int
	nextID  uint64
	byUser  map[string]map[uint64]*Subscription
	allSubs map[uint64]*Subscription
	closed  bool
}

// NewHub creates a hub; bufferSize <= 0 falls back to DefaultBufferSize.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		bufSize: bufferSize,
		byUser:  make(map[string]map[uint64]*Subscription),
		allSubs: make(map[uint64]*Subscription),
	}
}

// Subscribe opens a feed carrying only events for the given agent.
func (h *Hub) Subscribe(userID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub := h.newSubLocked(userID, false)
	if h.closed {
		return sub
	}
	if h.byUser[userID] == nil {
		h.byUser[userID] = make(map[uint64]*Subscription)
	}
	h.byUser[userID][sub.id] = sub
	return sub
}

// SubscribeAll opens a feed carrying every agent's events, for the
// firm-wide dashboard stream.
func (h *Hub) SubscribeAll() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub := h.newSubLocked("", true)
	if h.closed {
		return sub
	}
	h.allSubs[sub.id] = sub
	return sub
}

func (h *Hub) newSubLocked(userID string, all bool) *Subscription {
	h.nextID++
	ch := make(chan domain.Event, h.bufSize)
	sub := &Subscription{C: ch, hub: h, ch: ch, id: h.nextID, userID: userID, all: all}
	if h.closed {
		// Late subscribers get an already-terminated feed.
		sub.once.Do(func() {})
		close(ch)
	}
	return sub
}

// Publish delivers evt to the agent's subscribers and to every firm-wide
// subscriber. It never blocks and never fails.
func (h *Hub) Publish(userID string, evt domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	observability.PublishEvent(string(evt.Type))
	for _, sub := range h.byUser[userID] {
		h.offer(sub, evt)
	}
	for _, sub := range h.allSubs {
		h.offer(sub, evt)
	}
}

// offer runs under the read lock so no channel can be closed mid-send.
func (h *Hub) offer(sub *Subscription, evt domain.Event) {
	select {
	case sub.ch <- evt:
		return
	default:
	}
	// Buffer full: drop the oldest event to keep the newest.
	select {
	case <-sub.ch:
		observability.DropEvent()
	default:
	}
	select {
	case sub.ch <- evt:
	default:
		observability.DropEvent()
	}
}

func (h *Hub) detach(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if sub.all {
		delete(h.allSubs, sub.id)
	} else if subs := h.byUser[sub.userID]; subs != nil {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(h.byUser, sub.userID)
		}
	}
	close(sub.ch)
}

// Close terminates every subscription. Publish and Subscribe afterwards
// are no-ops on dead feeds.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, subs := range h.byUser {
		for _, sub := range subs {
			sub.once.Do(func() {})
			close(sub.ch)
		}
	}
	for _, sub := range h.allSubs {
		sub.once.Do(func() {})
		close(sub.ch)
	}
	h.byUser = make(map[string]map[uint64]*Subscription)
	h.allSubs = make(map[uint64]*Subscription)
}

// Subscribers reports the number of attached feeds, for tests and the
// readiness payload.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := len(h.allSubs)
	for _, subs := range h.byUser {
		n += len(subs)
	}
	return n
}
