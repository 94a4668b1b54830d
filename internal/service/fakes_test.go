package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/event"
	"github.com/stemsi/exstem-proctor/internal/grading"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/pubsub"
)

var testLog = zerolog.New(io.Discard)

const (
	invigilatorID = "inv-1"
	studentA      = "stu-a"
	studentB      = "stu-b"
	outsider      = "stu-x"
)

var (
	asInvigilator = model.Caller{UserID: invigilatorID, Role: model.RoleInvigilator}
	asStudentA    = model.Caller{UserID: studentA, Role: model.RoleStudent}
	asStudentB    = model.Caller{UserID: studentB, Role: model.RoleStudent}
	asOutsider    = model.Caller{UserID: outsider, Role: model.RoleStudent}
)

// ─── catalog ──────────────────────────────────────────────────────────────

type fakeCatalog struct {
	mu        sync.Mutex
	exams     map[uuid.UUID]*model.Exam
	enrolled  map[uuid.UUID]map[string]bool
	joins     map[uuid.UUID]map[string]model.JoinRequestStatus
	questions map[uuid.UUID][]model.QuestionDefinition
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		exams:     make(map[uuid.UUID]*model.Exam),
		enrolled:  make(map[uuid.UUID]map[string]bool),
		joins:     make(map[uuid.UUID]map[string]model.JoinRequestStatus),
		questions: make(map[uuid.UUID][]model.QuestionDefinition),
	}
}

// addExam registers an ongoing 60 minute exam with students A and B enrolled.
func (c *fakeCatalog) addExam() *model.Exam {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &model.Exam{
		ID:              uuid.New(),
		Title:           "Physics midterm",
		InvigilatorID:   invigilatorID,
		DurationMinutes: 60,
		TotalMarks:      10,
		Status:          model.ExamStatusOngoing,
	}
	c.exams[e.ID] = e
	c.enrolled[e.ID] = map[string]bool{studentA: true, studentB: true}
	c.joins[e.ID] = make(map[string]model.JoinRequestStatus)
	return e
}

func (c *fakeCatalog) setJoin(examID uuid.UUID, studentID string, st model.JoinRequestStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joins[examID][studentID] = st
}

func (c *fakeCatalog) GetExam(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.exams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *e
	return &cp, nil
}

func (c *fakeCatalog) IsEnrolled(_ context.Context, examID uuid.UUID, studentID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enrolled[examID][studentID], nil
}

func (c *fakeCatalog) LatestJoinRequest(_ context.Context, examID uuid.UUID, studentID string) (*model.JoinRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.joins[examID][studentID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &model.JoinRequest{ID: uuid.New(), ExamID: examID, StudentID: studentID, Status: st}, nil
}

func (c *fakeCatalog) ListQuestions(_ context.Context, examID uuid.UUID) ([]model.QuestionDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.QuestionDefinition(nil), c.questions[examID]...), nil
}

// ─── sessions and signals ────────────────────────────────────────────────

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]model.ProctoringSession
	signals  []model.ProctoringSignal
	nextID   int64
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[uuid.UUID]model.ProctoringSession)}
}

func (f *fakeSessionStore) ReplaceSession(_ context.Context, s *model.ProctoringSession) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var retired []string
	for id, old := range f.sessions {
		if old.ExamID == s.ExamID && old.StudentID == s.StudentID {
			retired = append(retired, old.ConnectionID)
			f.dropSignals(old)
			delete(f.sessions, id)
		}
	}
	s.CreatedAt = time.Now()
	f.sessions[s.ID] = *s
	return retired, nil
}

func (f *fakeSessionStore) GetSession(_ context.Context, id uuid.UUID) (*model.ProctoringSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &s, nil
}

func (f *fakeSessionStore) DeleteSession(_ context.Context, s *model.ProctoringSession) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.sessions[s.ID]
	if !ok {
		return false, nil
	}
	f.dropSignals(cur)
	delete(f.sessions, s.ID)
	return true, nil
}

func (f *fakeSessionStore) dropSignals(s model.ProctoringSession) {
	kept := f.signals[:0]
	for _, sig := range f.signals {
		owned := sig.ExamID == s.ExamID && sig.ConnectionID == s.ConnectionID &&
			(sig.SenderID == s.StudentID || sig.RecipientID == s.StudentID)
		if !owned {
			kept = append(kept, sig)
		}
	}
	f.signals = kept
}

func (f *fakeSessionStore) ListActiveSessions(_ context.Context, examID uuid.UUID) ([]model.ProctoringSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.ProctoringSession, 0)
	for _, s := range f.sessions {
		if s.ExamID == examID && s.Status == model.SessionStatusActive {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (f *fakeSessionStore) InsertSignal(_ context.Context, sig *model.ProctoringSignal, studentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.ExamID == sig.ExamID && s.StudentID == studentID && s.ConnectionID == sig.ConnectionID {
			f.nextID++
			sig.ID = f.nextID
			sig.CreatedAt = time.Now()
			f.signals = append(f.signals, *sig)
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (f *fakeSessionStore) ListSignalsFor(_ context.Context, examID uuid.UUID, recipientID string) ([]model.ProctoringSignal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.ProctoringSignal, 0)
	for _, sig := range f.signals {
		if sig.ExamID == examID && sig.RecipientID == recipientID {
			out = append(out, sig)
		}
	}
	return out, nil
}

func (f *fakeSessionStore) signalsOn(connectionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, sig := range f.signals {
		if sig.ConnectionID == connectionID {
			n++
		}
	}
	return n
}

// ─── answer sheets ───────────────────────────────────────────────────────

type sheetKey struct {
	examID    uuid.UUID
	studentID string
}

type fakeSheetStore struct {
	mu     sync.Mutex
	sheets map[sheetKey]*model.AnswerSheet
}

func newFakeSheetStore() *fakeSheetStore {
	return &fakeSheetStore{sheets: make(map[sheetKey]*model.AnswerSheet)}
}

func copySheet(s *model.AnswerSheet) *model.AnswerSheet {
	cp := *s
	cp.Answers = s.Answers.Clone()
	return &cp
}

func (f *fakeSheetStore) Get(_ context.Context, examID uuid.UUID, studentID string) (*model.AnswerSheet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sheets[sheetKey{examID, studentID}]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return copySheet(s), nil
}

func (f *fakeSheetStore) Start(_ context.Context, examID uuid.UUID, studentID string, at time.Time) (*model.AnswerSheet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := sheetKey{examID, studentID}
	s, ok := f.sheets[k]
	if !ok {
		s = &model.AnswerSheet{ExamID: examID, StudentID: studentID, Answers: model.Answers{}, Status: model.AnswerStatusNotStarted}
		f.sheets[k] = s
	}
	if s.ExamStartTime == nil {
		t := at
		s.ExamStartTime = &t
		s.UpdatedAt = at
	}
	if s.Status == model.AnswerStatusNotStarted {
		s.Status = model.AnswerStatusInProgress
	}
	return copySheet(s), nil
}

func (f *fakeSheetStore) MergeAnswers(_ context.Context, examID uuid.UUID, studentID string, patch model.Answers) (*model.AnswerSheet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sheets[sheetKey{examID, studentID}]
	if !ok || s.Status != model.AnswerStatusInProgress {
		return nil, pgx.ErrNoRows
	}
	s.Answers.Merge(patch)
	return copySheet(s), nil
}

func (f *fakeSheetStore) Submit(_ context.Context, examID uuid.UUID, studentID string, final model.Answers, at time.Time) (*model.AnswerSheet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sheets[sheetKey{examID, studentID}]
	if !ok || s.Status != model.AnswerStatusInProgress {
		return nil, pgx.ErrNoRows
	}
	s.Answers.Merge(final)
	s.Status = model.AnswerStatusSubmitted
	t := at
	s.SubmittedAt = &t
	return copySheet(s), nil
}

func (f *fakeSheetStore) ListUngraded(_ context.Context, limit int) ([]model.GradingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var jobs []model.GradingJob
	for _, s := range f.sheets {
		if s.Status == model.AnswerStatusSubmitted && len(jobs) < limit {
			jobs = append(jobs, model.GradingJob{StudentID: s.StudentID, ExamID: s.ExamID.String(), SubmittedAt: *s.SubmittedAt})
		}
	}
	return jobs, nil
}

// ─── results, alerts, queue ──────────────────────────────────────────────

type fakeResultStore struct {
	mu      sync.Mutex
	results map[sheetKey]model.ExamResult
	writes  int
}

func newFakeResultStore() *fakeResultStore {
	return &fakeResultStore{results: make(map[sheetKey]model.ExamResult)}
}

func (f *fakeResultStore) Upsert(_ context.Context, res *model.ExamResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[sheetKey{res.ExamID, res.StudentID}] = *res
	f.writes++
	return nil
}

func (f *fakeResultStore) Get(_ context.Context, examID uuid.UUID, studentID string) (*model.ExamResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.results[sheetKey{examID, studentID}]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &res, nil
}

type fakeAlertStore struct {
	mu        sync.Mutex
	alerts    []model.CheatingAlert
	failBulk  bool
	rejectFor string
}

func (f *fakeAlertStore) InsertBatch(_ context.Context, alerts []model.CheatingAlert) error {
	if f.failBulk {
		return errors.New("copy failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alerts...)
	return nil
}

func (f *fakeAlertStore) Insert(_ context.Context, a *model.CheatingAlert) error {
	if a.StudentID == f.rejectFor {
		return errors.New("insert failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a.ID = int64(len(f.alerts) + 1)
	f.alerts = append(f.alerts, *a)
	return nil
}

func (f *fakeAlertStore) CountUnresolved(_ context.Context, examID uuid.UUID, studentID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.alerts {
		if a.ExamID == examID && a.StudentID == studentID && !a.Resolved {
			n++
		}
	}
	return n, nil
}

func (f *fakeAlertStore) ListByExam(_ context.Context, examID uuid.UUID, page, perPage int) ([]model.CheatingAlert, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []model.CheatingAlert
	for _, a := range f.alerts {
		if a.ExamID == examID {
			all = append(all, a)
		}
	}
	start := (page - 1) * perPage
	if start > len(all) {
		start = len(all)
	}
	end := start + perPage
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], int64(len(all)), nil
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []model.GradingJob
}

func (q *fakeQueue) Enqueue(_ context.Context, job model.GradingJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// ─── fixture ─────────────────────────────────────────────────────────────

type fixture struct {
	catalog  *fakeCatalog
	sessions *fakeSessionStore
	sheets   *fakeSheetStore
	results  *fakeResultStore
	alerts   *fakeAlertStore
	queue    *fakeQueue
	hub      *pubsub.Hub

	directory *ExamDirectory
	registry  *SessionRegistry
	relay     *SignalRelay
	attempts  *AttemptService
	grader    *GradingService
}

func newFixture() *fixture {
	f := &fixture{
		catalog:  newFakeCatalog(),
		sessions: newFakeSessionStore(),
		sheets:   newFakeSheetStore(),
		results:  newFakeResultStore(),
		alerts:   &fakeAlertStore{},
		queue:    &fakeQueue{},
		hub:      pubsub.NewHub(),
	}
	f.directory = NewExamDirectory(f.catalog, nil, time.Minute, testLog)
	f.registry = NewSessionRegistry(f.sessions, f.directory, f.hub, testLog)
	f.relay = NewSignalRelay(f.sessions, f.directory, f.hub, testLog)
	f.attempts = NewAttemptService(f.sheets, f.directory, f.queue, f.hub, event.Nop{}, testLog)
	f.grader = NewGradingService(f.sheets, f.results, f.directory, grading.NewEngine(), event.Nop{}, testLog)
	return f
}

// clock returns a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
