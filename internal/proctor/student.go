package proctor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ErrNotConnected is returned by Student operations that need a live session.
var ErrNotConnected = errors.New("proctor: not connected")

// Student owns the student's proctoring session and its single peer
// connection to the invigilator.
type Student struct {
	examID        uuid.UUID
	invigilatorID string
	backend       SessionBackend
	factory       PeerFactory
	log           zerolog.Logger
	newID         func() string

	ctx    context.Context
	cancel context.CancelFunc

	pass sync.Mutex

	mu        sync.Mutex
	session   *model.ProctoringSession
	pc        PeerConnection
	offerSent bool
	answered  bool
	seen      map[int64]bool
}

// NewStudent creates the student-side coordinator. invigilatorID addresses
// every signal the student sends.
func NewStudent(examID uuid.UUID, invigilatorID string, backend SessionBackend, factory PeerFactory, log zerolog.Logger) *Student {
	ctx, cancel := context.WithCancel(context.Background())
	return &Student{
		examID:        examID,
		invigilatorID: invigilatorID,
		backend:       backend,
		factory:       factory,
		log:           log.With().Str("component", "proctor_student").Str("exam_id", examID.String()).Logger(),
		newID:         uuid.NewString,
		ctx:           ctx,
		cancel:        cancel,
		seen:          make(map[int64]bool),
	}
}

// Connect starts a session under a fresh connection ID, replacing any earlier
// session of this student, and sends the first offer. A failed offer is
// retried when the invigilator asks for a restart.
func (s *Student) Connect(ctx context.Context) (*model.ProctoringSession, error) {
	s.pass.Lock()
	defer s.pass.Unlock()

	s.mu.Lock()
	old := s.pc
	s.pc, s.session, s.offerSent, s.answered = nil, nil, false, false
	s.seen = make(map[int64]bool)
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	connID := s.newID()
	session, err := s.backend.StartSession(ctx, s.examID, connID)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	pc, err := s.factory.NewPeer(ctx, connID)
	if err != nil {
		return nil, fmt.Errorf("new peer: %w", err)
	}
	pc.OnICECandidate(func(candidate string) {
		sendCtx, cancel := context.WithTimeout(s.ctx, signalTimeout)
		defer cancel()
		if err := s.send(sendCtx, connID, model.SignalTypeCandidate, candidate); err != nil && s.ctx.Err() == nil {
			s.log.Warn().Err(err).Str("connection_id", connID).Msg("Candidate send failed")
		}
	})

	s.mu.Lock()
	s.session = session
	s.pc = pc
	s.mu.Unlock()

	s.log.Info().Str("session_id", session.ID.String()).Str("connection_id", connID).Msg("Session started")

	if err := s.offer(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Initial offer failed, waiting for restart")
	}
	return session, nil
}

func (s *Student) offer(ctx context.Context) error {
	s.mu.Lock()
	pc, session := s.pc, s.session
	s.mu.Unlock()
	if pc == nil {
		return ErrNotConnected
	}

	sdp, err := pc.CreateOffer(ctx)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := s.send(ctx, session.ConnectionID, model.SignalTypeOffer, sdp); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}

	s.mu.Lock()
	s.offerSent = true
	s.mu.Unlock()
	return nil
}

func (s *Student) send(ctx context.Context, connID string, kind model.SignalType, data string) error {
	_, err := s.backend.SendSignal(ctx, s.examID, model.SendSignalRequest{
		RecipientID:  s.invigilatorID,
		ConnectionID: connID,
		Type:         kind,
		Data:         data,
	})
	return err
}

// ReconcileSignals processes signals from the invigilator on the current
// connection: a restart triggers an offer when none is in flight, the answer
// becomes the remote description, and candidates are applied once it is set.
// A restart whose offer failed to send is retried on the next pass.
func (s *Student) ReconcileSignals(ctx context.Context) error {
	s.pass.Lock()
	defer s.pass.Unlock()

	s.mu.Lock()
	pc, session := s.pc, s.session
	s.mu.Unlock()
	if pc == nil {
		return nil
	}

	signals, err := s.backend.SignalsFor(ctx, s.examID)
	if err != nil {
		return fmt.Errorf("list signals: %w", err)
	}

	var mine []model.ProctoringSignal
	for _, sig := range signals {
		if sig.ConnectionID == session.ConnectionID && sig.SenderID == s.invigilatorID && !s.seen[sig.ID] {
			mine = append(mine, sig)
		}
	}

	var errs []error
	for _, sig := range mine {
		if sig.Type != model.SignalTypeRestart {
			continue
		}
		s.mu.Lock()
		needOffer := !s.offerSent && !s.answered
		s.mu.Unlock()
		if needOffer {
			// The restart stays unseen so the next pass offers again.
			if err := s.offer(ctx); err != nil {
				errs = append(errs, err)
				break
			}
		}
		s.seen[sig.ID] = true
	}

	if answer := latest(mine, s.invigilatorID, model.SignalTypeAnswer); answer != nil && !pc.HasRemoteDescription() {
		if err := pc.SetRemoteDescription(model.SignalTypeAnswer, answer.Data); err != nil {
			errs = append(errs, fmt.Errorf("set answer: %w", err))
		} else {
			s.mu.Lock()
			s.answered = true
			s.mu.Unlock()
		}
	}
	for _, sig := range mine {
		if sig.Type == model.SignalTypeAnswer {
			s.seen[sig.ID] = true
		}
	}

	if pc.HasRemoteDescription() {
		for _, sig := range mine {
			if sig.Type != model.SignalTypeCandidate {
				continue
			}
			if err := pc.AddICECandidate(sig.Data); err != nil {
				s.log.Warn().Err(err).Int64("signal_id", sig.ID).Msg("Candidate rejected")
			}
			s.seen[sig.ID] = true
		}
	}
	return errors.Join(errs...)
}

// Run reconciles signals on every change notification or poll tick until ctx is done.
func (s *Student) Run(ctx context.Context, changes <-chan struct{}, pollInterval time.Duration) error {
	return run(ctx, s.ReconcileSignals, changes, pollInterval, s.log)
}

// Session returns the current session, or nil before Connect.
func (s *Student) Session() *model.ProctoringSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// End ends the student's session and closes the peer. Ending a session that
// was already superseded succeeds.
func (s *Student) End(ctx context.Context) error {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session == nil {
		return ErrNotConnected
	}

	if err := s.backend.EndSession(ctx, session.ID); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	s.log.Info().Str("session_id", session.ID.String()).Msg("Session ended")
	return s.Close()
}

// Close closes the peer connection without ending the session.
func (s *Student) Close() error {
	s.cancel()

	s.mu.Lock()
	pc := s.pc
	s.pc, s.session = nil, nil
	s.mu.Unlock()
	if pc == nil {
		return nil
	}
	return pc.Close()
}
