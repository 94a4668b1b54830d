package proctor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// signalTimeout bounds sends issued from peer callbacks.
const signalTimeout = 10 * time.Second

type remotePeer struct {
	session model.ProctoringSession
	pc      PeerConnection
	// applied holds candidate signal IDs already added to pc.
	applied map[int64]bool
	// offerID is the offer set as the remote description; answeredID is the
	// offer whose answer reached the relay. They differ until a send succeeds.
	offerID    int64
	answeredID int64
}

// Invigilator holds one peer connection per active student session of an exam.
type Invigilator struct {
	examID  uuid.UUID
	backend Backend
	factory PeerFactory
	log     zerolog.Logger

	// ctx scopes sends made from peer callbacks; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	// pass serializes reconciliation passes.
	pass sync.Mutex

	mu        sync.Mutex
	peers     map[string]*remotePeer // by connection ID
	restarted map[string]bool        // connection IDs a restart was sent for
	streams   map[string]Track       // by student ID
	closed    bool
}

// NewInvigilator creates the invigilator-side coordinator for examID.
func NewInvigilator(examID uuid.UUID, backend Backend, factory PeerFactory, log zerolog.Logger) *Invigilator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Invigilator{
		examID:    examID,
		backend:   backend,
		factory:   factory,
		log:       log.With().Str("component", "proctor_invigilator").Str("exam_id", examID.String()).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		peers:     make(map[string]*remotePeer),
		restarted: make(map[string]bool),
		streams:   make(map[string]Track),
	}
}

// ReconcileSessions closes peers whose session is gone and opens one for
// every active session that lacks a peer.
func (v *Invigilator) ReconcileSessions(ctx context.Context) error {
	v.pass.Lock()
	defer v.pass.Unlock()

	sessions, err := v.backend.ListActiveSessions(ctx, v.examID)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	live := make(map[string]model.ProctoringSession, len(sessions))
	for _, s := range sessions {
		live[s.ConnectionID] = s
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	for connID, p := range v.peers {
		if _, ok := live[connID]; ok {
			continue
		}
		if err := p.pc.Close(); err != nil {
			v.log.Warn().Err(err).Str("connection_id", connID).Msg("Peer close failed")
		}
		delete(v.peers, connID)
		delete(v.streams, p.session.StudentID)
		v.log.Debug().Str("connection_id", connID).Msg("Peer discarded")
	}
	var missing []model.ProctoringSession
	for connID, s := range live {
		if _, ok := v.peers[connID]; !ok {
			missing = append(missing, s)
		}
	}
	v.mu.Unlock()

	sort.Slice(missing, func(i, j int) bool { return missing[i].ConnectionID < missing[j].ConnectionID })

	var errs []error
	for _, s := range missing {
		if err := v.open(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	for _, s := range sessions {
		if err := v.sendRestartOnce(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (v *Invigilator) open(ctx context.Context, s model.ProctoringSession) error {
	pc, err := v.factory.NewPeer(ctx, s.ConnectionID)
	if err != nil {
		return fmt.Errorf("new peer for %s: %w", s.ConnectionID, err)
	}

	pc.OnICECandidate(func(candidate string) {
		sendCtx, cancel := context.WithTimeout(v.ctx, signalTimeout)
		defer cancel()
		_, err := v.backend.SendSignal(sendCtx, v.examID, model.SendSignalRequest{
			RecipientID:  s.StudentID,
			ConnectionID: s.ConnectionID,
			Type:         model.SignalTypeCandidate,
			Data:         candidate,
		})
		if err != nil && v.ctx.Err() == nil {
			v.log.Warn().Err(err).Str("connection_id", s.ConnectionID).Msg("Candidate send failed")
		}
	})
	pc.OnTrack(func(t Track) {
		v.mu.Lock()
		defer v.mu.Unlock()
		if p, ok := v.peers[s.ConnectionID]; ok && p.pc == pc {
			v.streams[s.StudentID] = t
		}
	})

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return pc.Close()
	}
	v.peers[s.ConnectionID] = &remotePeer{session: s, pc: pc, applied: make(map[int64]bool)}
	v.log.Info().Str("student_id", s.StudentID).Str("connection_id", s.ConnectionID).Msg("Peer opened")
	return nil
}

// sendRestartOnce prompts the student to offer. It is sent at most once per
// connection for the life of the coordinator.
func (v *Invigilator) sendRestartOnce(ctx context.Context, s model.ProctoringSession) error {
	v.mu.Lock()
	done := v.restarted[s.ConnectionID] || v.closed
	v.mu.Unlock()
	if done {
		return nil
	}

	_, err := v.backend.SendSignal(ctx, v.examID, model.SendSignalRequest{
		RecipientID:  s.StudentID,
		ConnectionID: s.ConnectionID,
		Type:         model.SignalTypeRestart,
	})
	if err != nil {
		return fmt.Errorf("send restart to %s: %w", s.ConnectionID, err)
	}

	v.mu.Lock()
	v.restarted[s.ConnectionID] = true
	v.mu.Unlock()
	return nil
}

// ReconcileSignals answers pending offers and applies candidates for every
// held peer. Candidates that arrive before the offer stay unapplied until a
// later pass finds the remote description set. An answer that failed to send
// is created and sent again on the next pass.
func (v *Invigilator) ReconcileSignals(ctx context.Context) error {
	v.pass.Lock()
	defer v.pass.Unlock()

	signals, err := v.backend.SignalsFor(ctx, v.examID)
	if err != nil {
		return fmt.Errorf("list signals: %w", err)
	}

	byConn := make(map[string][]model.ProctoringSignal)
	for _, sig := range signals {
		byConn[sig.ConnectionID] = append(byConn[sig.ConnectionID], sig)
	}

	v.mu.Lock()
	peers := make([]*remotePeer, 0, len(v.peers))
	for _, p := range v.peers {
		peers = append(peers, p)
	}
	v.mu.Unlock()

	var errs []error
	for _, p := range peers {
		if err := v.apply(ctx, p, byConn[p.session.ConnectionID]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (v *Invigilator) apply(ctx context.Context, p *remotePeer, signals []model.ProctoringSignal) error {
	log := v.log.With().Str("connection_id", p.session.ConnectionID).Logger()

	if !p.pc.HasRemoteDescription() {
		offer := latest(signals, p.session.StudentID, model.SignalTypeOffer)
		if offer == nil {
			return nil
		}
		if err := p.pc.SetRemoteDescription(model.SignalTypeOffer, offer.Data); err != nil {
			return fmt.Errorf("set offer for %s: %w", p.session.ConnectionID, err)
		}
		p.offerID = offer.ID
	}

	if p.offerID != 0 && p.answeredID != p.offerID {
		answer, err := p.pc.CreateAnswer(ctx)
		if err != nil {
			return fmt.Errorf("create answer for %s: %w", p.session.ConnectionID, err)
		}
		_, err = v.backend.SendSignal(ctx, v.examID, model.SendSignalRequest{
			RecipientID:  p.session.StudentID,
			ConnectionID: p.session.ConnectionID,
			Type:         model.SignalTypeAnswer,
			Data:         answer,
		})
		if err != nil {
			return fmt.Errorf("send answer to %s: %w", p.session.ConnectionID, err)
		}
		p.answeredID = p.offerID
		log.Debug().Int64("offer_id", p.offerID).Msg("Offer answered")
	}

	for _, sig := range signals {
		if sig.Type != model.SignalTypeCandidate || sig.SenderID != p.session.StudentID || p.applied[sig.ID] {
			continue
		}
		if err := p.pc.AddICECandidate(sig.Data); err != nil {
			log.Warn().Err(err).Int64("signal_id", sig.ID).Msg("Candidate rejected")
		}
		p.applied[sig.ID] = true
	}
	return nil
}

// Reconcile runs both reconciliation passes.
func (v *Invigilator) Reconcile(ctx context.Context) error {
	return errors.Join(v.ReconcileSessions(ctx), v.ReconcileSignals(ctx))
}

// Run reconciles on every change notification or poll tick until ctx is done.
func (v *Invigilator) Run(ctx context.Context, changes <-chan struct{}, pollInterval time.Duration) error {
	return run(ctx, v.Reconcile, changes, pollInterval, v.log)
}

// Peers returns the connection IDs that currently have a peer.
func (v *Invigilator) Peers() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, 0, len(v.peers))
	for id := range v.peers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Streams returns the latest media track per student.
func (v *Invigilator) Streams() map[string]Track {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]Track, len(v.streams))
	for k, t := range v.streams {
		out[k] = t
	}
	return out
}

// Close tears down every held peer. It never ends sessions; students own those.
func (v *Invigilator) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	v.cancel()

	var errs []error
	for id, p := range v.peers {
		if err := p.pc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	v.peers = make(map[string]*remotePeer)
	v.streams = make(map[string]Track)
	return errors.Join(errs...)
}

// latest returns the newest signal of kind sent by senderID.
func latest(signals []model.ProctoringSignal, senderID string, kind model.SignalType) *model.ProctoringSignal {
	var found *model.ProctoringSignal
	for i := range signals {
		s := &signals[i]
		if s.Type == kind && s.SenderID == senderID && (found == nil || s.ID > found.ID) {
			found = s
		}
	}
	return found
}
