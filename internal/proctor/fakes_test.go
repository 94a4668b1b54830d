package proctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var testLog = zerolog.New(io.Discard)

const (
	invigilatorID = "inv-1"
	studentID     = "stu-a"
)

// network is an in-memory stand-in for the session registry and signal relay.
type network struct {
	mu       sync.Mutex
	examID   uuid.UUID
	sessions map[string]model.ProctoringSession // by connection ID
	signals  []model.ProctoringSignal
	nextID   int64
	ended    int
	// dropOffers makes offer sends fail while set.
	dropOffers bool
	// failAnswers is how many answer sends fail before one goes through.
	failAnswers int
}

func newNetwork() *network {
	return &network{examID: uuid.New(), sessions: make(map[string]model.ProctoringSession)}
}

func (n *network) as(userID string) *backendView { return &backendView{net: n, userID: userID} }

func (n *network) count(kind model.SignalType, from string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.signals {
		if s.Type == kind && s.SenderID == from {
			c++
		}
	}
	return c
}

type backendView struct {
	net    *network
	userID string
}

func (b *backendView) ListActiveSessions(_ context.Context, _ uuid.UUID) ([]model.ProctoringSession, error) {
	b.net.mu.Lock()
	defer b.net.mu.Unlock()
	out := make([]model.ProctoringSession, 0, len(b.net.sessions))
	for _, s := range b.net.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (b *backendView) SendSignal(_ context.Context, examID uuid.UUID, req model.SendSignalRequest) (*model.ProctoringSignal, error) {
	b.net.mu.Lock()
	defer b.net.mu.Unlock()
	if req.Type == model.SignalTypeOffer && b.net.dropOffers {
		return nil, errors.New("relay unavailable")
	}
	if req.Type == model.SignalTypeAnswer && b.net.failAnswers > 0 {
		b.net.failAnswers--
		return nil, errors.New("relay unavailable")
	}
	if _, ok := b.net.sessions[req.ConnectionID]; !ok {
		return nil, fmt.Errorf("stale connection %s", req.ConnectionID)
	}
	b.net.nextID++
	sig := model.ProctoringSignal{
		ID:           b.net.nextID,
		ExamID:       examID,
		SenderID:     b.userID,
		RecipientID:  req.RecipientID,
		ConnectionID: req.ConnectionID,
		Type:         req.Type,
		Data:         req.Data,
	}
	b.net.signals = append(b.net.signals, sig)
	return &sig, nil
}

func (b *backendView) SignalsFor(_ context.Context, _ uuid.UUID) ([]model.ProctoringSignal, error) {
	b.net.mu.Lock()
	defer b.net.mu.Unlock()
	var out []model.ProctoringSignal
	for _, s := range b.net.signals {
		if s.RecipientID == b.userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (b *backendView) StartSession(_ context.Context, examID uuid.UUID, connectionID string) (*model.ProctoringSession, error) {
	b.net.mu.Lock()
	defer b.net.mu.Unlock()
	for connID, s := range b.net.sessions {
		if s.StudentID == b.userID {
			b.net.dropConnection(connID)
		}
	}
	s := model.ProctoringSession{
		ID: uuid.New(), ExamID: examID, StudentID: b.userID,
		ConnectionID: connectionID, Status: model.SessionStatusActive,
	}
	b.net.sessions[connectionID] = s
	return &s, nil
}

func (b *backendView) EndSession(_ context.Context, sessionID uuid.UUID) error {
	b.net.mu.Lock()
	defer b.net.mu.Unlock()
	b.net.ended++
	for connID, s := range b.net.sessions {
		if s.ID == sessionID {
			b.net.dropConnection(connID)
		}
	}
	return nil
}

func (n *network) dropConnection(connID string) {
	delete(n.sessions, connID)
	kept := n.signals[:0]
	for _, s := range n.signals {
		if s.ConnectionID != connID {
			kept = append(kept, s)
		}
	}
	n.signals = kept
}

// fakePeer records what the coordinator does to it.
type fakePeer struct {
	mu         sync.Mutex
	connID     string
	remoteKind model.SignalType
	remote     string
	remoteSets int
	local      string
	candidates []string
	closed     bool
	onICE      func(string)
	onTrack    func(Track)
}

func (p *fakePeer) CreateOffer(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = "offer-sdp-" + p.connID
	return p.local, nil
}

func (p *fakePeer) CreateAnswer(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == "" {
		return "", errors.New("no remote description")
	}
	p.local = "answer-sdp-" + p.connID
	return p.local, nil
}

func (p *fakePeer) SetRemoteDescription(kind model.SignalType, sdp string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteKind, p.remote = kind, sdp
	p.remoteSets++
	return nil
}

func (p *fakePeer) HasRemoteDescription() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote != ""
}

func (p *fakePeer) AddICECandidate(c string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == "" {
		return errors.New("candidate before remote description")
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICE = fn
}

func (p *fakePeer) OnTrack(fn func(Track)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) emitCandidate(c string) {
	p.mu.Lock()
	fn := p.onICE
	p.mu.Unlock()
	fn(c)
}

func (p *fakePeer) emitTrack(t Track) {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

type peerState struct {
	connID     string
	remoteKind model.SignalType
	remote     string
	remoteSets int
	local      string
	candidates []string
	closed     bool
}

func (p *fakePeer) snapshot() peerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return peerState{
		connID: p.connID, remoteKind: p.remoteKind, remote: p.remote, remoteSets: p.remoteSets, local: p.local,
		candidates: append([]string(nil), p.candidates...), closed: p.closed,
	}
}

type fakeFactory struct {
	mu    sync.Mutex
	peers map[string]*fakePeer
}

func newFakeFactory() *fakeFactory { return &fakeFactory{peers: make(map[string]*fakePeer)} }

func (f *fakeFactory) NewPeer(_ context.Context, connID string) (PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePeer{connID: connID}
	f.peers[connID] = p
	return p, nil
}

func (f *fakeFactory) peer(connID string) *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[connID]
}
