package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AnswerStatus enumerates the persisted lifecycle of an answer sheet.
type AnswerStatus string

const (
	AnswerStatusNotStarted AnswerStatus = "not_started"
	AnswerStatusInProgress AnswerStatus = "in_progress"
	AnswerStatusSubmitted  AnswerStatus = "submitted"
)

// AnswerKind tags the shape of an answer value.
type AnswerKind string

const (
	AnswerKindOption  AnswerKind = "option"
	AnswerKindBoolean AnswerKind = "boolean"
	AnswerKindText    AnswerKind = "text"
)

// AnswerValue is a tagged union stored as {"type": ..., "value": ...}.
// Only the field selected by Kind is meaningful.
type AnswerValue struct {
	Kind   AnswerKind
	Option int
	Bool   bool
	Text   string
}

// OptionAnswer builds an answer selecting the option at index i.
func OptionAnswer(i int) AnswerValue { return AnswerValue{Kind: AnswerKindOption, Option: i} }

// BoolAnswer builds a true/false answer.
func BoolAnswer(b bool) AnswerValue { return AnswerValue{Kind: AnswerKindBoolean, Bool: b} }

// TextAnswer builds a free-text answer.
func TextAnswer(s string) AnswerValue { return AnswerValue{Kind: AnswerKindText, Text: s} }

type taggedAnswer struct {
	Type  AnswerKind      `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the value in its tagged form.
func (a AnswerValue) MarshalJSON() ([]byte, error) {
	var (
		raw []byte
		err error
	)
	switch a.Kind {
	case AnswerKindOption:
		raw, err = json.Marshal(a.Option)
	case AnswerKindBoolean:
		raw, err = json.Marshal(a.Bool)
	case AnswerKindText:
		raw, err = json.Marshal(a.Text)
	default:
		return nil, fmt.Errorf("unknown answer kind %q", a.Kind)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(taggedAnswer{Type: a.Kind, Value: raw})
}

// UnmarshalJSON decodes a tagged answer, rejecting unknown tags and mismatched values.
func (a *AnswerValue) UnmarshalJSON(data []byte) error {
	var t taggedAnswer
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}

	out := AnswerValue{Kind: t.Type}
	var err error
	switch t.Type {
	case AnswerKindOption:
		err = json.Unmarshal(t.Value, &out.Option)
	case AnswerKindBoolean:
		err = json.Unmarshal(t.Value, &out.Bool)
	case AnswerKindText:
		err = json.Unmarshal(t.Value, &out.Text)
	default:
		return fmt.Errorf("unknown answer kind %q", t.Type)
	}
	if err != nil {
		return fmt.Errorf("decode %s answer: %w", t.Type, err)
	}

	*a = out
	return nil
}

// Answers maps question ID to the student's answer.
type Answers map[string]AnswerValue

// Merge unions patch into a: keys in patch overwrite, absent keys are untouched.
func (a Answers) Merge(patch Answers) {
	for qID, v := range patch {
		a[qID] = v
	}
}

// MaxPatchEntries caps how many answers one merge-patch may carry.
const MaxPatchEntries = 500

// CheckPatch reports why a cannot be applied as one merge-patch, or nil.
func (a Answers) CheckPatch() error {
	if len(a) > MaxPatchEntries {
		return fmt.Errorf("patch carries %d answers, limit is %d", len(a), MaxPatchEntries)
	}
	for qID := range a {
		if strings.TrimSpace(qID) == "" {
			return errors.New("question id is empty")
		}
	}
	return nil
}

// Clone returns a shallow copy.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// AnswerSheet is the single per-(student, exam) record of an attempt.
// ExamStartTime is written once and is the only source for remaining time.
type AnswerSheet struct {
	StudentID     string       `json:"student_id"`
	ExamID        uuid.UUID    `json:"exam_id"`
	ExamStartTime *time.Time   `json:"exam_start_time"`
	Answers       Answers      `json:"answers"`
	Status        AnswerStatus `json:"status"`
	SubmittedAt   *time.Time   `json:"submitted_at,omitempty"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// SaveAnswersRequest is the merge-patch body sent by autosave flushes.
type SaveAnswersRequest struct {
	ChangedAnswers Answers `json:"changed_answers" binding:"required,answer_patch"`
}

// SubmitRequest finalizes an attempt. FinalAnswers carries any unsaved edits.
type SubmitRequest struct {
	FinalAnswers Answers       `json:"final_answers" binding:"omitempty,answer_patch"`
	Trigger      SubmitTrigger `json:"trigger" binding:"omitempty,oneof=manual timeout"`
}
