package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates proctoring session states.
type SessionStatus string

const (
	SessionStatusActive   SessionStatus = "active"
	SessionStatusInactive SessionStatus = "inactive"
)

// ProctoringSession records which student connection is live for an exam.
// At most one exists per (exam, student).
type ProctoringSession struct {
	ID           uuid.UUID     `json:"id"`
	ExamID       uuid.UUID     `json:"exam_id"`
	StudentID    string        `json:"student_id"`
	ConnectionID string        `json:"connection_id"`
	Status       SessionStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
}

// SignalType enumerates WebRTC negotiation message kinds.
type SignalType string

const (
	SignalTypeOffer     SignalType = "offer"
	SignalTypeAnswer    SignalType = "answer"
	SignalTypeCandidate SignalType = "candidate"
	SignalTypeRestart   SignalType = "restart"
)

// Valid reports whether t is one of the known signal types.
func (t SignalType) Valid() bool {
	switch t {
	case SignalTypeOffer, SignalTypeAnswer, SignalTypeCandidate, SignalTypeRestart:
		return true
	}
	return false
}

// ProctoringSignal is an append-only negotiation message scoped to a connection.
// Data is opaque to the relay (serialized SDP or ICE candidate).
type ProctoringSignal struct {
	ID           int64      `json:"id"`
	ExamID       uuid.UUID  `json:"exam_id"`
	SenderID     string     `json:"sender_id"`
	RecipientID  string     `json:"recipient_id"`
	ConnectionID string     `json:"connection_id"`
	Type         SignalType `json:"type"`
	Data         string     `json:"data"`
	CreatedAt    time.Time  `json:"created_at"`
}

// StartSessionRequest is the payload a student client sends when it connects.
type StartSessionRequest struct {
	ConnectionID string `json:"connection_id" binding:"required,connection_id"`
}

// SendSignalRequest is the payload for relaying a negotiation message.
type SendSignalRequest struct {
	RecipientID  string     `json:"recipient_id" binding:"required,max=128"`
	ConnectionID string     `json:"connection_id" binding:"required,connection_id"`
	Type         SignalType `json:"type" binding:"required,signal_type"`
	Data         string     `json:"data" binding:"max=65536"`
}
