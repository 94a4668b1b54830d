package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/pubsub"
)

// MaxSignalData bounds the opaque payload of a signal.
const MaxSignalData = 64 * 1024

// SignalRelay is a store-and-forward mailbox for negotiation messages between
// an exam's invigilator and its enrolled students.
type SignalRelay struct {
	store     SessionStore
	directory *ExamDirectory
	notifier  pubsub.Publisher
	log       zerolog.Logger
}

// NewSignalRelay creates a SignalRelay.
func NewSignalRelay(store SessionStore, directory *ExamDirectory, notifier pubsub.Publisher, log zerolog.Logger) *SignalRelay {
	return &SignalRelay{
		store:     store,
		directory: directory,
		notifier:  notifier,
		log:       log.With().Str("component", "signal_relay").Logger(),
	}
}

// Send appends a signal from caller to req.RecipientID. A student may only
// address the exam's invigilator, and the invigilator may only address an
// enrolled student. The signal is accepted only while the student's session
// for req.ConnectionID is live.
func (r *SignalRelay) Send(ctx context.Context, caller model.Caller, examID uuid.UUID, req model.SendSignalRequest) (*model.ProctoringSignal, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidSignal, req.Type)
	}
	if req.ConnectionID == "" || req.RecipientID == "" {
		return nil, fmt.Errorf("%w: recipient and connection are required", ErrInvalidSignal)
	}
	if len(req.Data) > MaxSignalData {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", ErrInvalidSignal, MaxSignalData)
	}

	exam, err := r.directory.Exam(ctx, examID)
	if err != nil {
		return nil, err
	}
	senderRole, err := r.directory.RoleOf(ctx, caller, exam)
	if err != nil {
		return nil, err
	}

	var (
		studentID     string
		recipientRole model.Role
	)
	switch senderRole {
	case model.RoleStudent:
		if req.RecipientID != exam.InvigilatorID {
			return nil, ErrInvalidRecipient
		}
		studentID, recipientRole = caller.UserID, model.RoleInvigilator
	case model.RoleInvigilator:
		enrolled, err := r.directory.IsEnrolled(ctx, examID, req.RecipientID)
		if err != nil {
			return nil, err
		}
		if !enrolled {
			return nil, ErrInvalidRecipient
		}
		studentID, recipientRole = req.RecipientID, model.RoleStudent
	}

	sig := &model.ProctoringSignal{
		ExamID:       examID,
		SenderID:     caller.UserID,
		RecipientID:  req.RecipientID,
		ConnectionID: req.ConnectionID,
		Type:         req.Type,
		Data:         req.Data,
	}
	if err := r.store.InsertSignal(ctx, sig, studentID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStaleConnection
		}
		return nil, fmt.Errorf("insert signal: %w", err)
	}

	metrics.SignalsRelayed.WithLabelValues(string(sig.Type)).Inc()
	r.log.Debug().
		Str("exam_id", examID.String()).
		Str("sender_id", sig.SenderID).
		Str("recipient_id", sig.RecipientID).
		Str("connection_id", sig.ConnectionID).
		Str("type", string(sig.Type)).
		Msg("Signal relayed")

	ev := pubsub.Event{
		Type:         pubsub.EventSignal,
		ExamID:       examID,
		Audience:     recipientRole,
		RecipientID:  sig.RecipientID,
		StudentID:    studentID,
		ConnectionID: sig.ConnectionID,
	}
	if err := r.notifier.Publish(ctx, ev); err != nil {
		r.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to publish signal notification")
	}
	return sig, nil
}

// SignalsFor returns every signal addressed to the caller in the exam.
// Nothing is marked consumed; the caller tracks what it has processed.
func (r *SignalRelay) SignalsFor(ctx context.Context, caller model.Caller, examID uuid.UUID) ([]model.ProctoringSignal, error) {
	if _, err := r.directory.Participant(ctx, caller, examID, ""); err != nil {
		return nil, err
	}
	signals, err := r.store.ListSignalsFor(ctx, examID, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	return signals, nil
}
