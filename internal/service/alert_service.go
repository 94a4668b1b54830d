package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/pubsub"
)

// AlertService stores classified cheating alerts, forwards them to the
// invigilator and enforces the violation threshold.
type AlertService struct {
	alerts    AlertStore
	attempts  *AttemptService
	directory *ExamDirectory
	notifier  pubsub.Publisher
	threshold int
	log       zerolog.Logger
}

// NewAlertService creates an AlertService. A threshold of zero disables
// violation-triggered submission.
func NewAlertService(
	alerts AlertStore,
	attempts *AttemptService,
	directory *ExamDirectory,
	notifier pubsub.Publisher,
	threshold int,
	log zerolog.Logger,
) *AlertService {
	return &AlertService{
		alerts:    alerts,
		attempts:  attempts,
		directory: directory,
		notifier:  notifier,
		threshold: threshold,
		log:       log.With().Str("component", "alert_service").Logger(),
	}
}

// Ingest persists a batch of alerts, falling back to row-by-row inserts when
// the bulk load fails. It returns the alerts that could not be stored so the
// caller can retry them later.
func (s *AlertService) Ingest(ctx context.Context, batch []model.CheatingAlert) []model.CheatingAlert {
	if len(batch) == 0 {
		return nil
	}

	stored := batch
	var failed []model.CheatingAlert
	if err := s.alerts.InsertBatch(ctx, batch); err != nil {
		s.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")

		stored = make([]model.CheatingAlert, 0, len(batch))
		for i := range batch {
			a := batch[i]
			if err := s.alerts.Insert(ctx, &a); err != nil {
				s.log.Error().Err(err).Str("student_id", a.StudentID).Msg("Insert failed")
				failed = append(failed, a)
				continue
			}
			stored = append(stored, a)
		}
	}

	type pair struct {
		examID    uuid.UUID
		studentID string
	}
	seen := make(map[pair]struct{})
	for _, a := range stored {
		metrics.AlertsIngested.WithLabelValues(string(a.Severity)).Inc()
		s.forward(ctx, a)
		seen[pair{a.ExamID, a.StudentID}] = struct{}{}
	}
	for p := range seen {
		s.enforceThreshold(ctx, p.examID, p.studentID)
	}
	return failed
}

// List returns a page of the exam's alerts to its invigilator.
func (s *AlertService) List(ctx context.Context, caller model.Caller, examID uuid.UUID, page, perPage int) ([]model.CheatingAlert, int64, error) {
	if _, err := s.directory.Participant(ctx, caller, examID, model.RoleInvigilator); err != nil {
		return nil, 0, err
	}
	alerts, total, err := s.alerts.ListByExam(ctx, examID, page, perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, total, nil
}

func (s *AlertService) forward(ctx context.Context, a model.CheatingAlert) {
	payload, err := json.Marshal(a)
	if err != nil {
		return
	}
	ev := pubsub.Event{
		Type:      pubsub.EventAlert,
		ExamID:    a.ExamID,
		Audience:  model.RoleInvigilator,
		StudentID: a.StudentID,
		Payload:   payload,
	}
	if err := s.notifier.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("exam_id", a.ExamID.String()).Msg("Failed to forward alert")
	}
}

// enforceThreshold submits the student's attempt once their unresolved alert
// count reaches the threshold.
func (s *AlertService) enforceThreshold(ctx context.Context, examID uuid.UUID, studentID string) {
	if s.threshold <= 0 {
		return
	}
	log := s.log.With().Str("exam_id", examID.String()).Str("student_id", studentID).Logger()

	n, err := s.alerts.CountUnresolved(ctx, examID, studentID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count unresolved alerts")
		return
	}
	if n < s.threshold {
		return
	}

	_, err = s.attempts.ForceSubmit(ctx, examID, studentID, model.SubmitTriggerViolation)
	switch {
	case err == nil:
		log.Warn().Int("unresolved", n).Msg("Violation threshold reached, attempt submitted")
	case errors.Is(err, ErrStateConflict), errors.Is(err, ErrNotFound):
		// Already submitted or never started; nothing to enforce.
	default:
		log.Error().Err(err).Msg("Violation submit failed")
	}
}
