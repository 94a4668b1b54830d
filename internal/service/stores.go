package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// The store interfaces below are satisfied by the pgx repositories. Missing
// rows and failed guards are reported as pgx.ErrNoRows.

// SessionStore persists proctoring sessions and their signals.
type SessionStore interface {
	ReplaceSession(ctx context.Context, s *model.ProctoringSession) (retired []string, err error)
	GetSession(ctx context.Context, id uuid.UUID) (*model.ProctoringSession, error)
	DeleteSession(ctx context.Context, s *model.ProctoringSession) (deleted bool, err error)
	ListActiveSessions(ctx context.Context, examID uuid.UUID) ([]model.ProctoringSession, error)
	InsertSignal(ctx context.Context, sig *model.ProctoringSignal, studentID string) error
	ListSignalsFor(ctx context.Context, examID uuid.UUID, recipientID string) ([]model.ProctoringSignal, error)
}

// AnswerSheetStore persists answer sheets with guarded single-statement writes.
type AnswerSheetStore interface {
	Get(ctx context.Context, examID uuid.UUID, studentID string) (*model.AnswerSheet, error)
	Start(ctx context.Context, examID uuid.UUID, studentID string, at time.Time) (*model.AnswerSheet, error)
	MergeAnswers(ctx context.Context, examID uuid.UUID, studentID string, patch model.Answers) (*model.AnswerSheet, error)
	Submit(ctx context.Context, examID uuid.UUID, studentID string, final model.Answers, at time.Time) (*model.AnswerSheet, error)
	ListUngraded(ctx context.Context, limit int) ([]model.GradingJob, error)
}

// ResultStore persists graded results.
type ResultStore interface {
	Upsert(ctx context.Context, res *model.ExamResult) error
	Get(ctx context.Context, examID uuid.UUID, studentID string) (*model.ExamResult, error)
}

// CatalogStore reads records owned by other services.
type CatalogStore interface {
	GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	IsEnrolled(ctx context.Context, examID uuid.UUID, studentID string) (bool, error)
	LatestJoinRequest(ctx context.Context, examID uuid.UUID, studentID string) (*model.JoinRequest, error)
	ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.QuestionDefinition, error)
}

// AlertStore persists classified cheating alerts.
type AlertStore interface {
	InsertBatch(ctx context.Context, alerts []model.CheatingAlert) error
	Insert(ctx context.Context, a *model.CheatingAlert) error
	CountUnresolved(ctx context.Context, examID uuid.UUID, studentID string) (int, error)
	ListByExam(ctx context.Context, examID uuid.UUID, page, perPage int) ([]model.CheatingAlert, int64, error)
}

// GradingQueue schedules asynchronous grading of a submission.
type GradingQueue interface {
	Enqueue(ctx context.Context, job model.GradingJob) error
}
