package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptPhase is the client-facing state of an exam attempt.
type AttemptPhase string

const (
	AttemptPhaseWaiting   AttemptPhase = "waiting"   // no approved join request yet
	AttemptPhaseSetup     AttemptPhase = "setup"     // approved, pre-flight checks pending
	AttemptPhaseActive    AttemptPhase = "active"    // timer running
	AttemptPhaseSubmitted AttemptPhase = "submitted" // terminal
)

// SubmitTrigger records what caused a submission.
type SubmitTrigger string

const (
	SubmitTriggerManual    SubmitTrigger = "manual"
	SubmitTriggerTimeout   SubmitTrigger = "timeout"
	SubmitTriggerViolation SubmitTrigger = "violation"
)

// AttemptState is returned on every (re)join so the client can restore itself
// without trusting any locally cached timer.
type AttemptState struct {
	ExamID           uuid.UUID          `json:"exam_id"`
	StudentID        string             `json:"student_id"`
	Phase            AttemptPhase       `json:"phase"`
	JoinStatus       *JoinRequestStatus `json:"join_status,omitempty"`
	ExamStartTime    *time.Time         `json:"exam_start_time,omitempty"`
	DurationMinutes  int                `json:"duration_minutes"`
	RemainingSeconds float64            `json:"remaining_seconds"`
	Answers          Answers            `json:"answers"`
}

// GradingJob is queued once per accepted submission.
type GradingJob struct {
	StudentID   string    `json:"student_id"`
	ExamID      string    `json:"exam_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}
