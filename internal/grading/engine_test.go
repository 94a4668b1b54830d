package grading

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

func ptr[T any](v T) *T { return &v }

func submittedSheet(answers model.Answers) *model.AnswerSheet {
	at := time.Date(2026, 3, 1, 9, 45, 0, 0, time.UTC)
	return &model.AnswerSheet{
		StudentID:   "student-1",
		ExamID:      uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		Answers:     answers,
		Status:      model.AnswerStatusSubmitted,
		SubmittedAt: &at,
	}
}

func sampleQuestions() []model.QuestionDefinition {
	return []model.QuestionDefinition{
		{
			ID: "q-mcq", QuestionText: "Pick B", QuestionType: model.QuestionTypeMCQ, Marks: 2,
			Options: []model.Option{{Text: "A"}, {Text: "B", IsCorrect: true}},
		},
		{
			ID: "q-tf", QuestionText: "Sky is blue", QuestionType: model.QuestionTypeTrueFalse, Marks: 1,
			CorrectTrueFalseAnswer: ptr(true),
		},
		{
			ID: "q-fill", QuestionText: "Capital of France", QuestionType: model.QuestionTypeFillInTheBlank, Marks: 3,
			AnswerText: ptr("Paris"),
		},
		{
			ID: "q-saq", QuestionText: "H2O is", QuestionType: model.QuestionTypeSAQ, Marks: 4,
			AnswerText: ptr("water"),
		},
	}
}

func TestGradePerQuestionType(t *testing.T) {
	tests := []struct {
		name        string
		questionIdx int
		answer      model.AnswerValue
		wantCorrect bool
	}{
		{"mcq correct index", 0, model.OptionAnswer(1), true},
		{"mcq wrong index", 0, model.OptionAnswer(0), false},
		{"true_false equal", 1, model.BoolAnswer(true), true},
		{"true_false differs", 1, model.BoolAnswer(false), false},
		{"fill trimmed and case-folded", 2, model.TextAnswer(" paris "), true},
		{"fill wrong text", 2, model.TextAnswer("Lyon"), false},
		{"saq upper case", 3, model.TextAnswer("WATER"), true},
		{"mismatched kind", 0, model.TextAnswer("1"), false},
	}

	engine := NewEngine()
	questions := sampleQuestions()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := questions[tt.questionIdx]
			sheet := submittedSheet(model.Answers{q.ID: tt.answer})

			res, err := engine.Grade(sheet, []model.QuestionDefinition{q}, 10)
			if err != nil {
				t.Fatalf("Grade: %v", err)
			}
			got := res.GradedAnswers[0]
			if got.IsCorrect != tt.wantCorrect {
				t.Fatalf("IsCorrect = %v, want %v", got.IsCorrect, tt.wantCorrect)
			}
			wantMarks := 0.0
			if tt.wantCorrect {
				wantMarks = q.Marks
			}
			if got.MarksAwarded != wantMarks || res.Score != wantMarks {
				t.Errorf("marks = %v, score = %v, want %v", got.MarksAwarded, res.Score, wantMarks)
			}
		})
	}
}

func TestGradeUnansweredScoresZero(t *testing.T) {
	res, err := NewEngine().Grade(submittedSheet(model.Answers{}), sampleQuestions(), 10)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if res.Score != 0 {
		t.Errorf("score = %v, want 0", res.Score)
	}
	for _, g := range res.GradedAnswers {
		if g.IsCorrect || g.MarksAwarded != 0 || g.StudentAnswer != nil {
			t.Errorf("unanswered %s graded as %+v", g.QuestionID, g)
		}
		if g.CorrectAnswer == nil {
			t.Errorf("%s missing correct answer", g.QuestionID)
		}
	}
}

func TestGradeTotalMarksIsIndependentOfSum(t *testing.T) {
	answers := model.Answers{
		"q-mcq":  model.OptionAnswer(1),
		"q-tf":   model.BoolAnswer(true),
		"q-fill": model.TextAnswer("paris"),
		"q-saq":  model.TextAnswer("Water "),
	}
	res, err := NewEngine().Grade(submittedSheet(answers), sampleQuestions(), 25)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if res.Score != 10 {
		t.Errorf("score = %v, want 10", res.Score)
	}
	if res.TotalMarks != 25 {
		t.Errorf("totalMarks = %v, want configured 25", res.TotalMarks)
	}
}

func TestGradeIsDeterministic(t *testing.T) {
	sheet := submittedSheet(model.Answers{
		"q-mcq":   model.OptionAnswer(0),
		"q-fill":  model.TextAnswer(" PARIS"),
		"unknown": model.TextAnswer("ignored"),
	})
	engine := NewEngine()

	first, err := engine.Grade(sheet, sampleQuestions(), 10)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	second, err := engine.Grade(sheet, sampleQuestions(), 10)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if !bytes.Equal(a, b) {
		t.Fatalf("results differ:\n%s\n%s", a, b)
	}
	if !first.SubmittedAt.Equal(*sheet.SubmittedAt) {
		t.Errorf("submittedAt = %v, want sheet value", first.SubmittedAt)
	}
}

func TestGradeRejectsUnknownTypeWithoutResult(t *testing.T) {
	questions := append(sampleQuestions(), model.QuestionDefinition{ID: "q-essay", QuestionType: "essay", Marks: 5})

	res, err := NewEngine().Grade(submittedSheet(model.Answers{"q-mcq": model.OptionAnswer(1)}), questions, 10)
	if !errors.Is(err, ErrUnknownQuestionType) {
		t.Fatalf("err = %v, want ErrUnknownQuestionType", err)
	}
	if res != nil {
		t.Fatalf("partial result returned: %+v", res)
	}
}

func TestGradeRequiresSubmittedSheet(t *testing.T) {
	sheet := submittedSheet(model.Answers{})
	sheet.SubmittedAt = nil
	if _, err := NewEngine().Grade(sheet, sampleQuestions(), 10); !errors.Is(err, ErrNotSubmitted) {
		t.Fatalf("err = %v, want ErrNotSubmitted", err)
	}
}

func TestGradeQuestionWithoutKeyIsIncorrect(t *testing.T) {
	q := model.QuestionDefinition{
		ID: "q-nokey", QuestionType: model.QuestionTypeMCQ, Marks: 1,
		Options: []model.Option{{Text: "A"}, {Text: "B"}},
	}
	res, err := NewEngine().Grade(submittedSheet(model.Answers{"q-nokey": model.OptionAnswer(0)}), []model.QuestionDefinition{q}, 1)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if g := res.GradedAnswers[0]; g.IsCorrect || g.CorrectAnswer != nil {
		t.Errorf("graded = %+v", g)
	}
}
