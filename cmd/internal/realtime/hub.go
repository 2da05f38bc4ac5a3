package realtime

import (
	"log/slog"
	"sync"
)

const subscriptionBuffer = 8

// Hub fans out topic notifications to active subscriptions.
//
// Publish never blocks: a subscriber whose buffer is full simply misses
// a signal, which is acceptable because refresh hints are idempotent and
// the next mutation publishes again.
type Hub struct {
	log *slog.Logger

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*Subscription
}

// Subscription is a cancellable stream of topic names. Consume C from a
// single goroutine so signals are handled in publish order.
type Subscription struct {
	C chan string

	hub    *Hub
	id     uint64
	topics map[string]struct{}
	once   sync.Once
}

// NewHub constructs a Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:  log,
		subs: make(map[uint64]*Subscription),
	}
}

// Subscribe registers interest in the given topics. With no topics the
// subscription receives every publication.
func (h *Hub) Subscribe(topics ...string) *Subscription {
	s := &Subscription{
		C:   make(chan string, subscriptionBuffer),
		hub: h,
	}
	if len(topics) > 0 {
		s.topics = make(map[string]struct{}, len(topics))
		for _, t := range topics {
			s.topics[t] = struct{}{}
		}
	}

	h.mu.Lock()
	h.nextID++
	s.id = h.nextID
	h.subs[s.id] = s
	h.mu.Unlock()
	return s
}

// Publish notifies all matching subscriptions that topic changed.
// It satisfies the notifier hook of the request workflow.
func (h *Hub) Publish(topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, s := range h.subs {
		if s.topics != nil {
			if _, ok := s.topics[topic]; !ok {
				continue
			}
		}
		select {
		case s.C <- topic:
		default:
			h.log.Debug("realtime.publish.dropped", "topic", topic, "sub_id", s.id)
		}
	}
}

// Cancel removes the subscription and closes C. Idempotent.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
		close(s.C)
	})
}
