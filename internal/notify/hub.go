package notify

import (
	"errors"
	"sync"

	"github.com/mmynk/splitledger/internal/metrics"
	"github.com/mmynk/splitledger/internal/models"
)

// ErrSubscriberLagging is the reason a subscription is closed when its buffer
// overflows. The client should reconnect and resync from a snapshot.
var ErrSubscriberLagging = errors.New("subscriber fell behind")

// ErrHubClosed is the reason subscriptions are closed on shutdown.
var ErrHubClosed = errors.New("notification hub closed")

// DefaultBuffer is the per-subscriber event buffer used when none is configured.
const DefaultBuffer = 64

// Subscription receives the events of one user.
type Subscription struct {
	UserID string

	hub    *Hub
	events chan models.NotificationEvent
	done   chan struct{}
	once   sync.Once
	err    error
}

// Events returns the channel events are delivered on. It is never closed; use Done.
func (s *Subscription) Events() <-chan models.NotificationEvent { return s.events }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns why the subscription ended, or nil if it was closed by its owner.
// Only valid after Done is closed.
func (s *Subscription) Err() error { return s.err }

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s, nil)
}

func (s *Subscription) end(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// Hub fans events out to subscribers keyed by user.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	closed bool
}

// NewHub creates a hub whose subscribers buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a subscriber for userID.
func (h *Hub) Subscribe(userID string) *Subscription {
	sub := &Subscription{
		UserID: userID,
		hub:    h,
		events: make(chan models.NotificationEvent, h.buffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.end(ErrHubClosed)
		return sub
	}
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[userID] = set
	}
	set[sub] = struct{}{}
	metrics.Subscribers.Inc()
	return sub
}

// Publish delivers ev to every subscriber of its user without blocking.
// Subscribers whose buffer is full are dropped with ErrSubscriberLagging.
func (h *Hub) Publish(ev models.NotificationEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[ev.UserID] {
		select {
		case sub.events <- ev:
			metrics.NotificationsDelivered.Inc()
		default:
			metrics.SubscribersDropped.Inc()
			h.removeLocked(sub, ErrSubscriberLagging)
		}
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// Close ends every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, set := range h.subs {
		for sub := range set {
			h.removeLocked(sub, ErrHubClosed)
		}
	}
}

func (h *Hub) remove(sub *Subscription, reason error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub, reason)
}

func (h *Hub) removeLocked(sub *Subscription, reason error) {
	set := h.subs[sub.UserID]
	if _, ok := set[sub]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.UserID)
		}
		metrics.Subscribers.Dec()
	}
	sub.end(reason)
}
