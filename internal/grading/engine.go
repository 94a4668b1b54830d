// Package grading scores a submitted answer sheet against the canonical
// question definitions. Grading is a pure function of its inputs.
package grading

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stemsi/exstem-proctor/internal/model"
)

var (
	// ErrUnknownQuestionType is returned when no strategy handles a question.
	ErrUnknownQuestionType = errors.New("unknown question type")
	// ErrNotSubmitted is returned for a sheet without a submission time.
	ErrNotSubmitted = errors.New("answer sheet has not been submitted")
)

// Strategy grades a single question type.
type Strategy interface {
	// Key returns the canonical correct answer, or nil if the question
	// defines none.
	Key(q model.QuestionDefinition) *model.AnswerValue
	// Match reports whether answer satisfies key. Both are non-nil.
	Match(key, answer model.AnswerValue) bool
}

// Engine routes each question to the Strategy registered for its type.
type Engine struct {
	strategies map[model.QuestionType]Strategy
}

// NewEngine installs the built-in strategies.
func NewEngine() *Engine {
	text := textStrategy{}
	return &Engine{
		strategies: map[model.QuestionType]Strategy{
			model.QuestionTypeMCQ:            mcqStrategy{},
			model.QuestionTypeTrueFalse:      trueFalseStrategy{},
			model.QuestionTypeSAQ:            text,
			model.QuestionTypeFillInTheBlank: text,
		},
	}
}

// Grade produces a complete ExamResult or an error, never a partial result.
// totalMarks is the exam's configured maximum and is not derived from the
// questions. Answers to questions outside the set are ignored.
func (e *Engine) Grade(sheet *model.AnswerSheet, questions []model.QuestionDefinition, totalMarks float64) (*model.ExamResult, error) {
	if sheet.SubmittedAt == nil {
		return nil, ErrNotSubmitted
	}

	result := &model.ExamResult{
		StudentID:     sheet.StudentID,
		ExamID:        sheet.ExamID,
		TotalMarks:    totalMarks,
		SubmittedAt:   *sheet.SubmittedAt,
		GradedAnswers: make([]model.GradedAnswer, 0, len(questions)),
	}

	for _, q := range questions {
		s, ok := e.strategies[q.QuestionType]
		if !ok {
			return nil, fmt.Errorf("%w: %q (question %s)", ErrUnknownQuestionType, q.QuestionType, q.ID)
		}

		graded := model.GradedAnswer{
			QuestionID:    q.ID,
			QuestionText:  q.QuestionText,
			CorrectAnswer: s.Key(q),
		}
		if ans, answered := sheet.Answers[q.ID]; answered {
			graded.StudentAnswer = &ans
			if graded.CorrectAnswer != nil && ans.Kind == graded.CorrectAnswer.Kind {
				graded.IsCorrect = s.Match(*graded.CorrectAnswer, ans)
			}
		}
		if graded.IsCorrect {
			graded.MarksAwarded = q.Marks
		}

		result.Score += graded.MarksAwarded
		result.GradedAnswers = append(result.GradedAnswers, graded)
	}

	return result, nil
}

// --- Strategies ---

// mcqStrategy compares option indexes. The first option flagged correct is
// the key.
type mcqStrategy struct{}

func (mcqStrategy) Key(q model.QuestionDefinition) *model.AnswerValue {
	for i, opt := range q.Options {
		if opt.IsCorrect {
			key := model.OptionAnswer(i)
			return &key
		}
	}
	return nil
}

func (mcqStrategy) Match(key, answer model.AnswerValue) bool {
	return key.Option == answer.Option
}

type trueFalseStrategy struct{}

func (trueFalseStrategy) Key(q model.QuestionDefinition) *model.AnswerValue {
	if q.CorrectTrueFalseAnswer == nil {
		return nil
	}
	key := model.BoolAnswer(*q.CorrectTrueFalseAnswer)
	return &key
}

func (trueFalseStrategy) Match(key, answer model.AnswerValue) bool {
	return key.Bool == answer.Bool
}

// textStrategy serves saq and fill_in_the_blank.
type textStrategy struct{}

func (textStrategy) Key(q model.QuestionDefinition) *model.AnswerValue {
	if q.AnswerText == nil {
		return nil
	}
	key := model.TextAnswer(*q.AnswerText)
	return &key
}

func (textStrategy) Match(key, answer model.AnswerValue) bool {
	return strings.EqualFold(strings.TrimSpace(key.Text), strings.TrimSpace(answer.Text))
}
