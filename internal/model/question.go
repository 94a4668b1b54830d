package model

// QuestionType selects the comparison rule used when grading.
type QuestionType string

const (
	QuestionTypeMCQ            QuestionType = "mcq"
	QuestionTypeTrueFalse      QuestionType = "true_false"
	QuestionTypeSAQ            QuestionType = "saq"
	QuestionTypeFillInTheBlank QuestionType = "fill_in_the_blank"
)

// Option is a single choice of an mcq question.
type Option struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// QuestionDefinition is the canonical question as served by the question bank.
type QuestionDefinition struct {
	ID                     string       `json:"id"`
	QuestionText           string       `json:"question_text"`
	QuestionType           QuestionType `json:"question_type"`
	Marks                  float64      `json:"marks"`
	Options                []Option     `json:"options,omitempty"`
	CorrectTrueFalseAnswer *bool        `json:"correct_true_false_answer,omitempty"`
	AnswerText             *string      `json:"answer_text,omitempty"`
}
