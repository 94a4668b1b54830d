package model

import (
	"time"

	"github.com/google/uuid"
)

// GradedAnswer is the per-question breakdown of an ExamResult.
type GradedAnswer struct {
	QuestionID    string       `json:"question_id"`
	QuestionText  string       `json:"question_text"`
	StudentAnswer *AnswerValue `json:"student_answer"`
	CorrectAnswer *AnswerValue `json:"correct_answer"`
	IsCorrect     bool         `json:"is_correct"`
	MarksAwarded  float64      `json:"marks_awarded"`
}

// ExamResult is produced only by the grading engine and never edited afterwards.
type ExamResult struct {
	StudentID     string         `json:"student_id"`
	ExamID        uuid.UUID      `json:"exam_id"`
	Score         float64        `json:"score"`
	TotalMarks    float64        `json:"total_marks"`
	SubmittedAt   time.Time      `json:"submitted_at"`
	GradedAnswers []GradedAnswer `json:"graded_answers"`
}
