package model

import (
	"time"

	"github.com/google/uuid"
)

// AlertSeverity is assigned by the external detection engine.
type AlertSeverity string

const (
	AlertSeverityLow    AlertSeverity = "low"
	AlertSeverityMedium AlertSeverity = "medium"
	AlertSeverityHigh   AlertSeverity = "high"
)

// CheatingAlert is an already-classified event; this core stores and displays it
// but never generates one.
type CheatingAlert struct {
	ID          int64         `json:"id"`
	ExamID      uuid.UUID     `json:"exam_id"`
	StudentID   string        `json:"student_id"`
	Type        string        `json:"type"`
	Severity    AlertSeverity `json:"severity"`
	Confidence  float64       `json:"confidence"`
	Description string        `json:"description"`
	Resolved    bool          `json:"resolved"`
	DetectedAt  time.Time     `json:"detected_at"`
}
