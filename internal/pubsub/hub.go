package pubsub

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

type hubKey struct {
	examID uuid.UUID
	role   model.Role
}

// Hub is an in-process Notifier for single-node deployments and tests.
type Hub struct {
	mu   sync.Mutex
	subs map[hubKey]map[*hubSubscription]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[hubKey]map[*hubSubscription]struct{})}
}

// Publish delivers ev to every current subscriber of its (exam, audience).
// Slow subscribers lose the event rather than blocking the publisher.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[hubKey{ev.ExamID, ev.Audience}] {
		select {
		case sub.events <- ev:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscription that ends when ctx is done or it is closed.
func (h *Hub) Subscribe(ctx context.Context, examID uuid.UUID, role model.Role) (Subscription, error) {
	key := hubKey{examID, role}
	sub := &hubSubscription{
		hub:    h,
		key:    key,
		events: make(chan Event, subscriptionBuffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.subs[key] == nil {
		h.subs[key] = make(map[*hubSubscription]struct{})
	}
	h.subs[key][sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Subscribers returns the number of live subscriptions on (exam, role).
func (h *Hub) Subscribers(examID uuid.UUID, role model.Role) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[hubKey{examID, role}])
}

type hubSubscription struct {
	hub    *Hub
	key    hubKey
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func (s *hubSubscription) Events() <-chan Event { return s.events }

func (s *hubSubscription) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs[s.key], s)
		if len(s.hub.subs[s.key]) == 0 {
			delete(s.hub.subs, s.key)
		}
		close(s.events)
		close(s.done)
		s.hub.mu.Unlock()
	})
	return nil
}
