// Package pubsub carries change notifications between the services that
// mutate proctoring state and the observers that reconcile against it.
// Events are hints: a receiver re-reads the store instead of trusting the
// payload, so a dropped or duplicated event only delays convergence.
package pubsub

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// EventType names what changed.
type EventType string

const (
	EventSessionsChanged  EventType = "sessions_changed"
	EventSignal           EventType = "signal"
	EventAlert            EventType = "alert"
	EventAttemptSubmitted EventType = "attempt_submitted"
)

// Event is published to the channel of one (exam, audience role) pair.
type Event struct {
	Type         EventType       `json:"type"`
	ExamID       uuid.UUID       `json:"exam_id"`
	Audience     model.Role      `json:"audience"`
	RecipientID  string          `json:"recipient_id,omitempty"`
	StudentID    string          `json:"student_id,omitempty"`
	ConnectionID string          `json:"connection_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// For reports whether a subscriber identified by userID should react to ev.
// Events without a recipient are broadcast to the whole audience.
func (ev Event) For(userID string) bool {
	return ev.RecipientID == "" || ev.RecipientID == userID
}

// Publisher emits change notifications.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscription delivers events until closed or its context ends.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Subscriber opens subscriptions keyed by (exam, role).
type Subscriber interface {
	Subscribe(ctx context.Context, examID uuid.UUID, role model.Role) (Subscription, error)
}

// Notifier is both ends of the change channel.
type Notifier interface {
	Publisher
	Subscriber
}
