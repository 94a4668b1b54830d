package websocket

import (
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/pubsub"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionSubmit   Action = "submit"
	ActionState    Action = "state"
	ActionPing     Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AutosaveRequest carries one autosave flush as a merge-patch.
type AutosaveRequest struct {
	Action         Action        `json:"action"`
	ChangedAnswers model.Answers `json:"changed_answers"`
}

// SubmitRequest finishes the attempt, carrying any unsaved answers.
type SubmitRequest struct {
	Action       Action              `json:"action"`
	FinalAnswers model.Answers       `json:"final_answers"`
	Trigger      model.SubmitTrigger `json:"trigger"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSaved     Event = "saved"
	EventSubmitted Event = "submitted"
	EventState     Event = "state"
	EventChange    Event = "change"
	EventPong      Event = "pong"
)

type SavedResponse struct {
	Event     Event     `json:"event"`
	Saved     int       `json:"saved"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SubmittedResponse struct {
	Event       Event              `json:"event"`
	Status      model.AnswerStatus `json:"status"`
	SubmittedAt *time.Time         `json:"submitted_at"`
}

type StateResponse struct {
	Event Event               `json:"event"`
	State *model.AttemptState `json:"state"`
}

// ChangeMessage forwards a change notification on the proctoring feed.
// Receivers re-read sessions or signals; the payload is only a hint.
type ChangeMessage struct {
	Event  Event        `json:"event"`
	Change pubsub.Event `json:"change"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
