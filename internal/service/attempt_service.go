package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/event"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/pubsub"
)

// TimeoutTolerance is how early a countdown-expiry submit may arrive and
// still be accepted, absorbing client clock skew.
const TimeoutTolerance = 10 * time.Second

// AttemptService drives a student's attempt through
// waiting → setup → active → submitted.
type AttemptService struct {
	sheets    AnswerSheetStore
	directory *ExamDirectory
	queue     GradingQueue
	notifier  pubsub.Publisher
	events    event.Publisher
	log       zerolog.Logger
	now       func() time.Time
}

// NewAttemptService creates an AttemptService.
func NewAttemptService(
	sheets AnswerSheetStore,
	directory *ExamDirectory,
	queue GradingQueue,
	notifier pubsub.Publisher,
	events event.Publisher,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		sheets:    sheets,
		directory: directory,
		queue:     queue,
		notifier:  notifier,
		events:    events,
		log:       log.With().Str("component", "attempt_service").Logger(),
		now:       time.Now,
	}
}

// RemainingTime is the time left on an attempt started at start, computed
// only from the stored start time and never negative.
func RemainingTime(start time.Time, duration time.Duration, now time.Time) time.Duration {
	left := duration - now.Sub(start)
	if left < 0 {
		return 0
	}
	return left
}

// State describes the caller's attempt so a (re)joining client can restore
// itself. A started attempt resumes as active with the stored answers and the
// remaining time derived from the stored start time.
func (s *AttemptService) State(ctx context.Context, caller model.Caller, examID uuid.UUID) (*model.AttemptState, error) {
	exam, err := s.directory.Participant(ctx, caller, examID, model.RoleStudent)
	if err != nil {
		return nil, err
	}

	st := &model.AttemptState{
		ExamID:          examID,
		StudentID:       caller.UserID,
		DurationMinutes: exam.DurationMinutes,
		Answers:         model.Answers{},
	}

	sheet, err := s.sheets.Get(ctx, examID, caller.UserID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get answer sheet: %w", err)
	}

	switch {
	case sheet != nil && sheet.Status == model.AnswerStatusSubmitted:
		st.Phase = model.AttemptPhaseSubmitted
		st.ExamStartTime = sheet.ExamStartTime
		st.Answers = sheet.Answers
	case sheet != nil && sheet.ExamStartTime != nil:
		st.Phase = model.AttemptPhaseActive
		st.ExamStartTime = sheet.ExamStartTime
		st.Answers = sheet.Answers
		st.RemainingSeconds = RemainingTime(*sheet.ExamStartTime, exam.Duration(), s.now()).Seconds()
	default:
		join, err := s.directory.JoinStatus(ctx, examID, caller.UserID)
		if err != nil {
			return nil, err
		}
		st.JoinStatus = join
		st.Phase = model.AttemptPhaseWaiting
		if join != nil && *join == model.JoinRequestApproved {
			st.Phase = model.AttemptPhaseSetup
		}
		st.RemainingSeconds = exam.Duration().Seconds()
	}
	return st, nil
}

// RequestStart starts the timer. The first call records the current server
// time; every later call returns the sheet with the same start time.
func (s *AttemptService) RequestStart(ctx context.Context, caller model.Caller, examID uuid.UUID) (*model.AnswerSheet, error) {
	exam, err := s.directory.Participant(ctx, caller, examID, model.RoleStudent)
	if err != nil {
		return nil, err
	}

	existing, err := s.sheets.Get(ctx, examID, caller.UserID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get answer sheet: %w", err)
	}
	if existing != nil {
		if existing.Status == model.AnswerStatusSubmitted {
			return nil, ErrAlreadySubmitted
		}
		if existing.ExamStartTime != nil {
			return existing, nil
		}
	}

	join, err := s.directory.JoinStatus(ctx, examID, caller.UserID)
	if err != nil {
		return nil, err
	}
	if join == nil || *join != model.JoinRequestApproved {
		return nil, ErrNotApproved
	}
	if exam.Status != model.ExamStatusOngoing {
		return nil, ErrExamNotOngoing
	}

	sheet, err := s.sheets.Start(ctx, examID, caller.UserID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("start attempt: %w", err)
	}
	if sheet.Status == model.AnswerStatusSubmitted {
		return nil, ErrAlreadySubmitted
	}

	s.log.Info().
		Str("exam_id", examID.String()).
		Str("student_id", caller.UserID).
		Time("exam_start_time", *sheet.ExamStartTime).
		Msg("Attempt started")
	return sheet, nil
}

// SaveAnswers merge-patches the caller's answers. Keys absent from patch keep
// their stored values.
func (s *AttemptService) SaveAnswers(ctx context.Context, caller model.Caller, examID uuid.UUID, patch model.Answers) (*model.AnswerSheet, error) {
	if _, err := s.directory.Participant(ctx, caller, examID, model.RoleStudent); err != nil {
		return nil, err
	}
	if patch == nil {
		patch = model.Answers{}
	}
	if err := patch.CheckPatch(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnswer, err)
	}

	sheet, err := s.sheets.MergeAnswers(ctx, examID, caller.UserID, patch)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.classifyRejected(ctx, examID, caller.UserID, ErrNotStarted)
		}
		return nil, fmt.Errorf("merge answers: %w", err)
	}
	return sheet, nil
}

// Submit finalizes the caller's attempt. Only the first submission succeeds;
// every later one fails with ErrAlreadySubmitted.
func (s *AttemptService) Submit(ctx context.Context, caller model.Caller, examID uuid.UUID, req model.SubmitRequest) (*model.AnswerSheet, error) {
	exam, err := s.directory.Participant(ctx, caller, examID, model.RoleStudent)
	if err != nil {
		return nil, err
	}

	trigger := req.Trigger
	if trigger == "" {
		trigger = model.SubmitTriggerManual
	}
	switch trigger {
	case model.SubmitTriggerManual, model.SubmitTriggerTimeout:
	case model.SubmitTriggerViolation:
		// Violations are decided server-side from stored alerts.
		return nil, fmt.Errorf("%w: violation submits are issued by the server", ErrInvalidInput)
	default:
		return nil, fmt.Errorf("%w: unknown trigger %q", ErrInvalidInput, trigger)
	}

	if err := req.FinalAnswers.CheckPatch(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnswer, err)
	}

	if trigger == model.SubmitTriggerTimeout {
		if err := s.checkCountdownExpired(ctx, exam, caller.UserID); err != nil {
			return nil, err
		}
	}
	return s.submit(ctx, examID, caller.UserID, req.FinalAnswers, trigger)
}

// ForceSubmit submits on the student's behalf. It shares the guarded
// transition with Submit, so racing a manual submit is safe.
func (s *AttemptService) ForceSubmit(ctx context.Context, examID uuid.UUID, studentID string, trigger model.SubmitTrigger) (*model.AnswerSheet, error) {
	return s.submit(ctx, examID, studentID, nil, trigger)
}

func (s *AttemptService) submit(ctx context.Context, examID uuid.UUID, studentID string, final model.Answers, trigger model.SubmitTrigger) (*model.AnswerSheet, error) {
	sheet, err := s.sheets.Submit(ctx, examID, studentID, final, s.now().UTC())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.classifyRejected(ctx, examID, studentID, ErrSheetNotFound)
		}
		return nil, fmt.Errorf("submit attempt: %w", err)
	}

	metrics.SubmissionsTotal.WithLabelValues(string(trigger)).Inc()
	log := s.log.With().
		Str("exam_id", examID.String()).
		Str("student_id", studentID).
		Str("trigger", string(trigger)).
		Logger()
	log.Info().Msg("Attempt submitted")

	job := model.GradingJob{StudentID: studentID, ExamID: examID.String(), SubmittedAt: *sheet.SubmittedAt}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		// The ungraded sweep at worker start picks this sheet up.
		log.Error().Err(err).Msg("Failed to enqueue grading job")
	}

	ev := pubsub.Event{
		Type:      pubsub.EventAttemptSubmitted,
		ExamID:    examID,
		Audience:  model.RoleInvigilator,
		StudentID: studentID,
	}
	if err := s.notifier.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Msg("Failed to publish submission notification")
	}
	if err := s.events.PublishAttemptSubmitted(ctx, sheet, trigger); err != nil {
		log.Warn().Err(err).Msg("Failed to publish submission event")
	}
	return sheet, nil
}

// checkCountdownExpired rejects a timeout submit that arrives before the
// attempt's deadline.
func (s *AttemptService) checkCountdownExpired(ctx context.Context, exam *model.Exam, studentID string) error {
	sheet, err := s.sheets.Get(ctx, exam.ID, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSheetNotFound
		}
		return fmt.Errorf("get answer sheet: %w", err)
	}
	if sheet.Status == model.AnswerStatusSubmitted {
		return ErrAlreadySubmitted
	}
	if sheet.ExamStartTime == nil {
		return ErrNotStarted
	}
	if RemainingTime(*sheet.ExamStartTime, exam.Duration(), s.now()) > TimeoutTolerance {
		return ErrCountdownActive
	}
	return nil
}

// classifyRejected explains why a guarded write matched no row.
func (s *AttemptService) classifyRejected(ctx context.Context, examID uuid.UUID, studentID string, missing error) error {
	sheet, err := s.sheets.Get(ctx, examID, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return missing
		}
		return fmt.Errorf("get answer sheet: %w", err)
	}
	if sheet.Status == model.AnswerStatusSubmitted {
		return ErrAlreadySubmitted
	}
	return ErrNotStarted
}
