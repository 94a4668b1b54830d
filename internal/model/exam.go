package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the schedule states recomputed by the external status tick.
type ExamStatus string

const (
	ExamStatusScheduled ExamStatus = "scheduled"
	ExamStatusOngoing   ExamStatus = "ongoing"
	ExamStatusCompleted ExamStatus = "completed"
)

// Exam is the read-only view of an exam owned by the academic-structure service.
// Status is trusted as given; this core never re-derives it from the timestamps.
type Exam struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	InvigilatorID   string     `json:"invigilator_id"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         time.Time  `json:"end_time"`
	DurationMinutes int        `json:"duration_minutes"`
	TotalMarks      float64    `json:"total_marks"`
	Status          ExamStatus `json:"status"`
}

// Duration returns the per-attempt time allowance.
func (e *Exam) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// JoinRequestStatus enumerates invigilator decisions on a join request.
type JoinRequestStatus string

const (
	JoinRequestPending  JoinRequestStatus = "pending"
	JoinRequestApproved JoinRequestStatus = "approved"
	JoinRequestRejected JoinRequestStatus = "rejected"
)

// JoinRequest gates whether a student may leave the waiting phase.
type JoinRequest struct {
	ID          uuid.UUID         `json:"id"`
	ExamID      uuid.UUID         `json:"exam_id"`
	StudentID   string            `json:"student_id"`
	Status      JoinRequestStatus `json:"status"`
	RequestedAt time.Time         `json:"requested_at"`
}
