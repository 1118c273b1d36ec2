// Package quiz generates quizzes from a document's chunks with a generative
// model. Model output is parsed, normalised, and validated as a whole: a
// response with any malformed question is rejected and regenerated, and a
// quiz is only returned when every question passed validation.
package quiz

import (
	"time"
)

// QuestionType is the fixed set of supported question kinds.
type QuestionType string

const (
	// MultipleChoice questions are answered with one of Options.
	MultipleChoice QuestionType = "multiple_choice"
	// TrueFalse questions have Options ["True", "False"].
	TrueFalse QuestionType = "true_false"
	// ShortAnswer questions are answered with free text.
	ShortAnswer QuestionType = "short_answer"
)

const (
	// MinDifficulty is the lowest difficulty level.
	MinDifficulty = 1
	// MaxDifficulty is the highest difficulty level.
	MaxDifficulty = 5
)

// Question is one quiz item. ID is unique within its quiz and is the key
// learners use when submitting answers.
type Question struct {
	ID            int          `json:"id"`
	Text          string       `json:"question_text"`
	Type          QuestionType `json:"question_type"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correct_answer,omitempty"`
	Explanation   string       `json:"explanation,omitempty"`
	Difficulty    int          `json:"difficulty"`
	// Topics are short topic tags supplied by the model, lowercased.
	Topics []string `json:"topics,omitempty"`
}

// Quiz is an immutable set of questions generated from one document.
type Quiz struct {
	ID               string     `json:"id"`
	DocumentID       string     `json:"document_id"`
	OwnerID          string     `json:"owner_id"`
	Title            string     `json:"title"`
	Questions        []Question `json:"questions"`
	EstimatedMinutes int        `json:"estimated_minutes"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Question returns the question with the given id.
func (q *Quiz) Question(id int) (Question, bool) {
	for _, qq := range q.Questions {
		if qq.ID == id {
			return qq, true
		}
	}
	return Question{}, false
}

// Redacted returns a copy of q without answers or explanations, suitable for
// showing to a learner before an attempt.
func (q *Quiz) Redacted() *Quiz {
	out := *q
	out.Questions = make([]Question, len(q.Questions))
	for i, qq := range q.Questions {
		qq.CorrectAnswer = ""
		qq.Explanation = ""
		qq.Options = append([]string(nil), qq.Options...)
		qq.Topics = append([]string(nil), qq.Topics...)
		out.Questions[i] = qq
	}
	return &out
}
