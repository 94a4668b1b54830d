package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/event"
	"github.com/stemsi/exstem-proctor/internal/grading"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// GradingService turns submitted answer sheets into results.
type GradingService struct {
	sheets    AnswerSheetStore
	results   ResultStore
	directory *ExamDirectory
	engine    *grading.Engine
	events    event.Publisher
	log       zerolog.Logger
}

// NewGradingService creates a GradingService.
func NewGradingService(
	sheets AnswerSheetStore,
	results ResultStore,
	directory *ExamDirectory,
	engine *grading.Engine,
	events event.Publisher,
	log zerolog.Logger,
) *GradingService {
	return &GradingService{
		sheets:    sheets,
		results:   results,
		directory: directory,
		engine:    engine,
		events:    events,
		log:       log.With().Str("component", "grading_service").Logger(),
	}
}

// GradeSubmission grades the submitted sheet named by job and writes the
// result. Re-running it recomputes and overwrites the same row.
func (s *GradingService) GradeSubmission(ctx context.Context, job model.GradingJob) (*model.ExamResult, error) {
	examID, err := uuid.Parse(job.ExamID)
	if err != nil {
		return nil, fmt.Errorf("%w: exam id %q", ErrInvalidInput, job.ExamID)
	}

	sheet, err := s.sheets.Get(ctx, examID, job.StudentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSheetNotFound
		}
		return nil, fmt.Errorf("get answer sheet: %w", err)
	}
	if sheet.Status != model.AnswerStatusSubmitted {
		return nil, fmt.Errorf("%w: sheet is %s", ErrStateConflict, sheet.Status)
	}

	exam, err := s.directory.Exam(ctx, examID)
	if err != nil {
		return nil, err
	}
	questions, err := s.directory.Questions(ctx, examID)
	if err != nil {
		return nil, err
	}

	result, err := s.engine.Grade(sheet, questions, exam.TotalMarks)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err := s.results.Upsert(ctx, result); err != nil {
		return nil, fmt.Errorf("store result: %w", err)
	}

	s.log.Info().
		Str("exam_id", job.ExamID).
		Str("student_id", job.StudentID).
		Float64("score", result.Score).
		Float64("total_marks", result.TotalMarks).
		Msg("Submission graded")

	if err := s.events.PublishResultGraded(ctx, result); err != nil {
		s.log.Warn().Err(err).Str("exam_id", job.ExamID).Msg("Failed to publish graded event")
	}
	return result, nil
}

// EnqueueUngraded queues up to limit submitted sheets that have no result,
// recovering submissions whose grading job was lost.
func (s *GradingService) EnqueueUngraded(ctx context.Context, queue GradingQueue, limit int) (int, error) {
	jobs, err := s.sheets.ListUngraded(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list ungraded: %w", err)
	}
	for i, job := range jobs {
		if err := queue.Enqueue(ctx, job); err != nil {
			return i, fmt.Errorf("enqueue %s/%s: %w", job.ExamID, job.StudentID, err)
		}
	}
	return len(jobs), nil
}

// Result returns the caller's own graded result.
func (s *GradingService) Result(ctx context.Context, caller model.Caller, examID uuid.UUID) (*model.ExamResult, error) {
	if _, err := s.directory.Participant(ctx, caller, examID, model.RoleStudent); err != nil {
		return nil, err
	}
	res, err := s.results.Get(ctx, examID, caller.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, fmt.Errorf("get result: %w", err)
	}
	return res, nil
}
