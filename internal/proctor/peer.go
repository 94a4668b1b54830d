// Package proctor keeps local peer connections in step with the proctoring
// sessions and signals held by the server. It is the logic both the
// invigilator console and the student client run; media handling belongs to
// the PeerConnection implementation.
package proctor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Track is an incoming media track announced by a peer connection.
type Track struct {
	StreamID string
	Kind     string
}

// PeerConnection is the subset of a WebRTC peer connection the coordinator drives.
// CreateOffer and CreateAnswer also install the result as the local description.
type PeerConnection interface {
	CreateOffer(ctx context.Context) (string, error)
	CreateAnswer(ctx context.Context) (string, error)
	SetRemoteDescription(kind model.SignalType, sdp string) error
	HasRemoteDescription() bool
	AddICECandidate(candidate string) error
	OnICECandidate(fn func(candidate string))
	OnTrack(fn func(Track))
	Close() error
}

// PeerFactory creates a peer connection for one proctoring connection.
type PeerFactory interface {
	NewPeer(ctx context.Context, connectionID string) (PeerConnection, error)
}

// Backend is the server API the coordinator reads and writes.
type Backend interface {
	ListActiveSessions(ctx context.Context, examID uuid.UUID) ([]model.ProctoringSession, error)
	SendSignal(ctx context.Context, examID uuid.UUID, req model.SendSignalRequest) (*model.ProctoringSignal, error)
	SignalsFor(ctx context.Context, examID uuid.UUID) ([]model.ProctoringSignal, error)
}

// SessionBackend adds the session lifecycle calls a student owns.
type SessionBackend interface {
	Backend
	StartSession(ctx context.Context, examID uuid.UUID, connectionID string) (*model.ProctoringSession, error)
	EndSession(ctx context.Context, sessionID uuid.UUID) error
}

// run reconciles once, then again on every change notification or tick until
// ctx is done. Reconcile errors are logged and retried on the next trigger.
func run(ctx context.Context, reconcile func(context.Context) error, changes <-chan struct{}, pollInterval time.Duration, log zerolog.Logger) error {
	var tick <-chan time.Time
	if pollInterval > 0 {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if err := reconcile(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("Reconcile failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				changes = nil
			}
		case <-tick:
		}
	}
}
