package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// startedAttempt returns a fixture whose student A is approved and the exam
// ongoing, with the service clock pinned to t0.
func startedAttempt(t *testing.T) (*fixture, *model.Exam, *clock) {
	t.Helper()
	f := newFixture()
	exam := f.catalog.addExam()
	f.catalog.setJoin(exam.ID, studentA, model.JoinRequestApproved)

	clk := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	f.attempts.now = clk.Now
	return f, exam, clk
}

func TestRequestStartIsIdempotent(t *testing.T) {
	f, exam, clk := startedAttempt(t)
	ctx := context.Background()

	first, err := f.attempts.RequestStart(ctx, asStudentA, exam.ID)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	clk.Advance(5 * time.Minute)
	second, err := f.attempts.RequestStart(ctx, asStudentA, exam.ID)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}

	if !first.ExamStartTime.Equal(*second.ExamStartTime) {
		t.Fatalf("start time moved: %v -> %v", first.ExamStartTime, second.ExamStartTime)
	}
	if second.Status != model.AnswerStatusInProgress {
		t.Errorf("status = %s", second.Status)
	}
}

func TestRequestStartConcurrentCallsAgree(t *testing.T) {
	f, exam, _ := startedAttempt(t)
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		times []time.Time
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := f.attempts.RequestStart(ctx, asStudentA, exam.ID)
			if err != nil {
				t.Errorf("start: %v", err)
				return
			}
			mu.Lock()
			times = append(times, *s.ExamStartTime)
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, ts := range times[1:] {
		if !ts.Equal(times[0]) {
			t.Fatalf("divergent start times: %v", times)
		}
	}
}

func TestRequestStartPreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("before approval", func(t *testing.T) {
		f, exam, _ := startedAttempt(t)
		f.catalog.setJoin(exam.ID, studentA, model.JoinRequestPending)
		if _, err := f.attempts.RequestStart(ctx, asStudentA, exam.ID); !errors.Is(err, ErrNotApproved) {
			t.Fatalf("err = %v, want ErrNotApproved", err)
		}
		if !errors.Is(ErrNotApproved, ErrStateConflict) {
			t.Fatal("ErrNotApproved must classify as a state conflict")
		}
	})

	t.Run("no join request", func(t *testing.T) {
		f, exam, _ := startedAttempt(t)
		if _, err := f.attempts.RequestStart(ctx, asStudentB, exam.ID); !errors.Is(err, ErrNotApproved) {
			t.Fatalf("err = %v, want ErrNotApproved", err)
		}
	})

	t.Run("exam not ongoing", func(t *testing.T) {
		f, exam, _ := startedAttempt(t)
		f.catalog.exams[exam.ID].Status = model.ExamStatusScheduled
		if _, err := f.attempts.RequestStart(ctx, asStudentA, exam.ID); !errors.Is(err, ErrExamNotOngoing) {
			t.Fatalf("err = %v, want ErrExamNotOngoing", err)
		}
	})

	t.Run("not enrolled", func(t *testing.T) {
		f, exam, _ := startedAttempt(t)
		if _, err := f.attempts.RequestStart(ctx, asOutsider, exam.ID); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("err = %v, want ErrUnauthorized", err)
		}
	})
}

func TestRejoinRecomputesRemainingTime(t *testing.T) {
	f, exam, clk := startedAttempt(t)
	ctx := context.Background()

	if _, err := f.attempts.RequestStart(ctx, asStudentA, exam.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.attempts.SaveAnswers(ctx, asStudentA, exam.ID, model.Answers{"q1": model.OptionAnswer(2)}); err != nil {
		t.Fatalf("save: %v", err)
	}

	clk.Advance(40 * time.Minute)
	st, err := f.attempts.State(ctx, asStudentA, exam.ID)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if st.Phase != model.AttemptPhaseActive {
		t.Fatalf("phase = %s, want active", st.Phase)
	}
	if st.RemainingSeconds != (20 * time.Minute).Seconds() {
		t.Fatalf("remaining = %vs, want 1200s", st.RemainingSeconds)
	}
	if st.Answers["q1"] != model.OptionAnswer(2) {
		t.Fatalf("answers not restored: %+v", st.Answers)
	}

	clk.Advance(2 * time.Hour)
	st, _ = f.attempts.State(ctx, asStudentA, exam.ID)
	if st.RemainingSeconds != 0 {
		t.Fatalf("remaining after deadline = %v, want 0", st.RemainingSeconds)
	}
}

func TestStatePhases(t *testing.T) {
	f, exam, _ := startedAttempt(t)
	ctx := context.Background()

	st, _ := f.attempts.State(ctx, asStudentB, exam.ID)
	if st.Phase != model.AttemptPhaseWaiting || st.JoinStatus != nil {
		t.Errorf("no request: %+v", st)
	}

	f.catalog.setJoin(exam.ID, studentB, model.JoinRequestRejected)
	st, _ = f.attempts.State(ctx, asStudentB, exam.ID)
	if st.Phase != model.AttemptPhaseWaiting || st.JoinStatus == nil || *st.JoinStatus != model.JoinRequestRejected {
		t.Errorf("rejected: %+v", st)
	}

	st, _ = f.attempts.State(ctx, asStudentA, exam.ID)
	if st.Phase != model.AttemptPhaseSetup {
		t.Errorf("approved: phase = %s", st.Phase)
	}

	f.attempts.RequestStart(ctx, asStudentA, exam.ID)
	f.attempts.Submit(ctx, asStudentA, exam.ID, model.SubmitRequest{})
	st, _ = f.attempts.State(ctx, asStudentA, exam.ID)
	if st.Phase != model.AttemptPhaseSubmitted {
		t.Errorf("submitted: phase = %s", st.Phase)
	}
}

func TestSaveAnswersMergesAndCommutes(t *testing.T) {
	ctx := context.Background()
	patches := []model.Answers{{"A": model.OptionAnswer(1)}, {"B": model.OptionAnswer(2)}}

	apply := func(order []int) model.Answers {
		f, exam, _ := startedAttempt(t)
		f.attempts.RequestStart(ctx, asStudentA, exam.ID)
		var last *model.AnswerSheet
		for _, i := range order {
			s, err := f.attempts.SaveAnswers(ctx, asStudentA, exam.ID, patches[i])
			if err != nil {
				t.Fatalf("save: %v", err)
			}
			last = s
		}
		return last.Answers
	}

	ab, ba := apply([]int{0, 1}), apply([]int{1, 0})
	if !reflect.DeepEqual(ab, ba) || len(ab) != 2 {
		t.Fatalf("A then B = %+v, B then A = %+v", ab, ba)
	}
}

func TestSaveAnswersRejectedOutsideActivePhase(t *testing.T) {
	f, exam, _ := startedAttempt(t)
	ctx := context.Background()
	patch := model.Answers{"q1": model.BoolAnswer(true)}

	if _, err := f.attempts.SaveAnswers(ctx, asStudentA, exam.ID, patch); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("before start: err = %v, want ErrNotStarted", err)
	}

	f.attempts.RequestStart(ctx, asStudentA, exam.ID)
	f.attempts.Submit(ctx, asStudentA, exam.ID, model.SubmitRequest{})

	if _, err := f.attempts.SaveAnswers(ctx, asStudentA, exam.ID, patch); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("after submit: err = %v, want ErrAlreadySubmitted", err)
	}
}

func TestMalformedPatchesAreRejected(t *testing.T) {
	f, exam, _ := startedAttempt(t)
	ctx := context.Background()
	f.attempts.RequestStart(ctx, asStudentA, exam.ID)

	oversized := make(model.Answers, model.MaxPatchEntries+1)
	for i := range model.MaxPatchEntries + 1 {
		oversized[fmt.Sprintf("q%d", i)] = model.OptionAnswer(0)
	}
	patches := map[string]model.Answers{
		"empty id": {"": model.TextAnswer("x")},
		"blank id": {"  ": model.TextAnswer("x")},
		"too many": oversized,
	}

	for name, patch := range patches {
		t.Run(name, func(t *testing.T) {
			if _, err := f.attempts.SaveAnswers(ctx, asStudentA, exam.ID, patch); !errors.Is(err, ErrInvalidAnswer) {
				t.Fatalf("save: err = %v, want ErrInvalidAnswer", err)
			}
			_, err := f.attempts.Submit(ctx, asStudentA, exam.ID, model.SubmitRequest{FinalAnswers: patch})
			if !errors.Is(err, ErrInvalidAnswer) {
				t.Fatalf("submit: err = %v, want ErrInvalidAnswer", err)
			}
		})
	}

	state, err := f.attempts.State(ctx, asStudentA, exam.ID)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.Phase != model.AttemptPhaseActive || len(state.Answers) != 0 {
		t.Fatalf("rejected patches changed the attempt: %+v", state)
	}
}

func TestSubmitOnceThenConflict(t *testing.T) {
	f, exam, _ := startedAttempt(t)
	ctx := context.Background()

	f.attempts.RequestStart(ctx, asStudentA, exam.ID)
	f.attempts.SaveAnswers(ctx, asStudentA, exam.ID, model.Answers{"q1": model.TextAnswer("saved")})

	sheet, err := f.attempts.Submit(ctx, asStudentA, exam.ID, model.SubmitRequest{
		FinalAnswers: model.Answers{"q2": model.TextAnswer("unsaved")},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sheet.Status != model.AnswerStatusSubmitted || sheet.SubmittedAt == nil {
		t.Fatalf("sheet = %+v", sheet)
	}
	if len(sheet.Answers) != 2 {
		t.Fatalf("final answers not merged: %+v", sheet.Answers)
	}

	if _, err := f.attempts.Submit(ctx, asStudentA, exam.ID, model.SubmitRequest{}); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("second submit: err = %v, want ErrAlreadySubmitted", err)
	}
	if _, err := f.attempts.RequestStart(ctx, asStudentA, exam.ID); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("start after submit: err = %v, want ErrAlreadySubmitted", err)
	}
	if n := f.queue.len(); n != 1 {
		t.Fatalf("grading jobs = %d, want 1", n)
	}
}

func TestSubmitRaceHasOneWinner(t *testing.T) {
	f, exam, clk := startedAttempt(t)
	ctx := context.Background()
	f.attempts.RequestStart(ctx, asStudentA, exam.ID)
	clk.Advance(61 * time.Minute)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	triggers := []model.SubmitTrigger{model.SubmitTriggerTimeout, model.SubmitTriggerTimeout, model.SubmitTriggerManual}
	for _, tr := range triggers {
		wg.Add(1)
		go func(tr model.SubmitTrigger) {
			defer wg.Done()
			_, err := f.attempts.Submit(ctx, asStudentA, exam.ID, model.SubmitRequest{Trigger: tr})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadySubmitted):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(tr)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := f.attempts.ForceSubmit(ctx, exam.ID, studentA, model.SubmitTriggerViolation)
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			successes++
		} else if errors.Is(err, ErrAlreadySubmitted) {
			conflicts++
		}
	}()
	wg.Wait()

	if successes != 1 || conflicts != 3 {
		t.Fatalf("successes = %d, conflicts = %d", successes, conflicts)
	}
	if n := f.queue.len(); n != 1 {
		t.Fatalf("grading jobs = %d, want 1", n)
	}
}

func TestSubmitWithoutSheetIsNotFound(t *testing.T) {
	f, exam, _ := startedAttempt(t)
	_, err := f.attempts.Submit(context.Background(), asStudentA, exam.ID, model.SubmitRequest{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTimeoutSubmitBeforeDeadlineIsRejected(t *testing.T) {
	f, exam, clk := startedAttempt(t)
	ctx := context.Background()
	f.attempts.RequestStart(ctx, asStudentA, exam.ID)

	clk.Advance(30 * time.Minute)
	if _, err := f.attempts.Submit(ctx, asStudentA, exam.ID, model.SubmitRequest{Trigger: model.SubmitTriggerTimeout}); !errors.Is(err, ErrCountdownActive) {
		t.Fatalf("early timeout: err = %v, want ErrCountdownActive", err)
	}

	clk.Advance(30*time.Minute - TimeoutTolerance/2)
	if _, err := f.attempts.Submit(ctx, asStudentA, exam.ID, model.SubmitRequest{Trigger: model.SubmitTriggerTimeout}); err != nil {
		t.Fatalf("timeout within tolerance: %v", err)
	}
}

func TestClientCannotClaimViolation(t *testing.T) {
	f, exam, _ := startedAttempt(t)
	ctx := context.Background()
	f.attempts.RequestStart(ctx, asStudentA, exam.ID)

	_, err := f.attempts.Submit(ctx, asStudentA, exam.ID, model.SubmitRequest{Trigger: model.SubmitTriggerViolation})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestRemainingTime(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		elapsed time.Duration
		want    time.Duration
	}{
		{0, time.Hour},
		{40 * time.Minute, 20 * time.Minute},
		{time.Hour, 0},
		{3 * time.Hour, 0},
	}
	for _, tt := range tests {
		if got := RemainingTime(start, time.Hour, start.Add(tt.elapsed)); got != tt.want {
			t.Errorf("elapsed %v: got %v, want %v", tt.elapsed, got, tt.want)
		}
	}
}
