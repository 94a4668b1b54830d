package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/pubsub"
)

// SessionRegistry records which student connection is live for each exam.
type SessionRegistry struct {
	store     SessionStore
	directory *ExamDirectory
	notifier  pubsub.Publisher
	log       zerolog.Logger
}

// NewSessionRegistry creates a SessionRegistry.
func NewSessionRegistry(store SessionStore, directory *ExamDirectory, notifier pubsub.Publisher, log zerolog.Logger) *SessionRegistry {
	return &SessionRegistry{
		store:     store,
		directory: directory,
		notifier:  notifier,
		log:       log.With().Str("component", "session_registry").Logger(),
	}
}

// StartSession registers connectionID as the caller's live connection for the
// exam, atomically retiring any earlier session of the same student together
// with the signals scoped to it.
func (r *SessionRegistry) StartSession(ctx context.Context, caller model.Caller, examID uuid.UUID, connectionID string) (*model.ProctoringSession, error) {
	if connectionID == "" {
		return nil, fmt.Errorf("%w: connection id is required", ErrInvalidInput)
	}
	if _, err := r.directory.Participant(ctx, caller, examID, model.RoleStudent); err != nil {
		return nil, err
	}

	s := &model.ProctoringSession{
		ID:           uuid.New(),
		ExamID:       examID,
		StudentID:    caller.UserID,
		ConnectionID: connectionID,
		Status:       model.SessionStatusActive,
	}
	retired, err := r.store.ReplaceSession(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("replace session: %w", err)
	}

	metrics.SessionsStarted.WithLabelValues(strconv.FormatBool(len(retired) > 0)).Inc()
	r.log.Info().
		Str("exam_id", examID.String()).
		Str("student_id", caller.UserID).
		Str("connection_id", connectionID).
		Strs("retired", retired).
		Msg("Proctoring session started")

	r.notifySessionsChanged(ctx, examID, caller.UserID)
	return s, nil
}

// EndSession removes the caller's session. A session that is already gone,
// for example because a newer connection superseded it, ends successfully.
// Only students own sessions, so any other role is refused before the lookup.
func (r *SessionRegistry) EndSession(ctx context.Context, caller model.Caller, sessionID uuid.UUID) error {
	if !caller.IsStudent() {
		return ErrStudentOnly
	}

	s, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("get session: %w", err)
	}
	if s.StudentID != caller.UserID {
		return ErrNotSessionOwner
	}

	deleted, err := r.store.DeleteSession(ctx, s)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if !deleted {
		return nil
	}

	metrics.SessionsEnded.Inc()
	r.log.Info().
		Str("exam_id", s.ExamID.String()).
		Str("student_id", s.StudentID).
		Str("connection_id", s.ConnectionID).
		Msg("Proctoring session ended")

	r.notifySessionsChanged(ctx, s.ExamID, s.StudentID)
	return nil
}

// ListActiveSessions returns the exam's active sessions to its invigilator.
func (r *SessionRegistry) ListActiveSessions(ctx context.Context, caller model.Caller, examID uuid.UUID) ([]model.ProctoringSession, error) {
	if _, err := r.directory.Participant(ctx, caller, examID, model.RoleInvigilator); err != nil {
		return nil, err
	}
	sessions, err := r.store.ListActiveSessions(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// notifySessionsChanged tells the invigilator to reconcile, and the student's
// other tabs that their connection may have been superseded.
func (r *SessionRegistry) notifySessionsChanged(ctx context.Context, examID uuid.UUID, studentID string) {
	events := []pubsub.Event{
		{Type: pubsub.EventSessionsChanged, ExamID: examID, Audience: model.RoleInvigilator, StudentID: studentID},
		{Type: pubsub.EventSessionsChanged, ExamID: examID, Audience: model.RoleStudent, StudentID: studentID, RecipientID: studentID},
	}
	for _, ev := range events {
		if err := r.notifier.Publish(ctx, ev); err != nil {
			r.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to publish session change")
		}
	}
}
