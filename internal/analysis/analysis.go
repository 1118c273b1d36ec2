// Package analysis scores quiz attempts and derives the learner's weak
// topics from the questions they answered incorrectly.
package analysis

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/54b3r/studyai-go/internal/apperr"
	"github.com/54b3r/studyai-go/internal/keywords"
	"github.com/54b3r/studyai-go/internal/quiz"
)

// Level is the ordinal performance bucket of an attempt.
type Level string

const (
	LevelExcellent        Level = "excellent"
	LevelGood             Level = "good"
	LevelFair             Level = "fair"
	LevelNeedsImprovement Level = "needs_improvement"
)

// Threshold maps a minimum score (inclusive) to a level.
type Threshold struct {
	Min   float64 `yaml:"min" json:"min"`
	Level Level   `yaml:"level" json:"level"`
}

// DefaultLevels is ≥90 excellent, ≥70 good, ≥50 fair, else needs_improvement.
var DefaultLevels = []Threshold{
	{Min: 90, Level: LevelExcellent},
	{Min: 70, Level: LevelGood},
	{Min: 50, Level: LevelFair},
	{Min: 0, Level: LevelNeedsImprovement},
}

const (
	// DefaultMaxWeakTopics caps Attempt.WeakTopics.
	DefaultMaxWeakTopics = 5
	// DefaultKeywordsPerQuestion caps the keywords taken from one prompt.
	DefaultKeywordsPerQuestion = 8
)

// Config tunes scoring.
type Config struct {
	// Levels are checked in order; the first whose Min the score reaches
	// wins. Defaults to DefaultLevels.
	Levels []Threshold
	// MaxWeakTopics caps the weak-topic list. Defaults to 5.
	MaxWeakTopics int
	// KeywordsPerQuestion caps keyword extraction from one question prompt
	// when the question has no topic tags. Defaults to 8.
	KeywordsPerQuestion int
}

// Submission is a learner's answers to one quiz, keyed by question id.
type Submission struct {
	OwnerID          string         `json:"owner_id"`
	Answers          map[int]string `json:"answers"`
	TimeTakenSeconds int            `json:"time_taken_seconds,omitempty"`
}

// QuestionResult is the outcome of one question in an attempt.
type QuestionResult struct {
	QuestionID    int               `json:"question_id"`
	Type          quiz.QuestionType `json:"question_type"`
	Answer        string            `json:"answer"`
	CorrectAnswer string            `json:"correct_answer"`
	Correct       bool              `json:"correct"`
	Difficulty    int               `json:"difficulty"`
	Explanation   string            `json:"explanation,omitempty"`
	// Topics are the topic phrases attributed to the question.
	Topics []string `json:"topics,omitempty"`
}

// Attempt is an immutable scored submission. Retakes create new attempts.
type Attempt struct {
	ID               string           `json:"id"`
	QuizID           string           `json:"quiz_id"`
	DocumentID       string           `json:"document_id"`
	OwnerID          string           `json:"owner_id"`
	Answers          map[int]string   `json:"answers"`
	Results          []QuestionResult `json:"results"`
	Correct          int              `json:"correct"`
	Total            int              `json:"total"`
	Score            float64          `json:"score"`
	Level            Level            `json:"level"`
	WeakTopics       []string         `json:"weak_topics"`
	TimeTakenSeconds int              `json:"time_taken_seconds,omitempty"`
	SubmittedAt      time.Time        `json:"submitted_at"`
}

// Incorrect returns the number of incorrectly answered questions.
func (a *Attempt) Incorrect() int { return a.Total - a.Correct }

// Analyzer scores attempts. It holds no per-attempt state and is safe for
// concurrent use.
type Analyzer struct {
	cfg Config
	now func() time.Time
}

// NewAnalyzer validates cfg and returns an Analyzer. A nil cfg uses defaults.
func NewAnalyzer(cfg *Config) (*Analyzer, error) {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if len(c.Levels) == 0 {
		c.Levels = DefaultLevels
	}
	if c.MaxWeakTopics <= 0 {
		c.MaxWeakTopics = DefaultMaxWeakTopics
	}
	if c.KeywordsPerQuestion <= 0 {
		c.KeywordsPerQuestion = DefaultKeywordsPerQuestion
	}
	if !sort.SliceIsSorted(c.Levels, func(i, j int) bool { return c.Levels[i].Min > c.Levels[j].Min }) {
		return nil, fmt.Errorf("analysis: level thresholds must be in descending order of min score")
	}
	return &Analyzer{cfg: c, now: time.Now}, nil
}

// Level maps a score to its performance level. Scores below every
// threshold take the last level.
func (a *Analyzer) Level(score float64) Level {
	for _, t := range a.cfg.Levels {
		if score >= t.Min {
			return t.Level
		}
	}
	return a.cfg.Levels[len(a.cfg.Levels)-1].Level
}

// Score grades sub against q and returns a new Attempt. Unanswered
// questions count as incorrect; answers to unknown question ids are
// rejected as invalid input.
func (a *Analyzer) Score(q *quiz.Quiz, sub Submission) (*Attempt, error) {
	if q == nil {
		return nil, apperr.New(apperr.StageAnalysis, apperr.KindInvalidInput, "score", "quiz is required")
	}
	for id := range sub.Answers {
		if _, ok := q.Question(id); !ok {
			return nil, apperr.New(apperr.StageAnalysis, apperr.KindInvalidInput, "score",
				fmt.Sprintf("answer for unknown question %d", id))
		}
	}

	att := &Attempt{
		ID:               uuid.NewString(),
		QuizID:           q.ID,
		DocumentID:       q.DocumentID,
		OwnerID:          sub.OwnerID,
		Answers:          make(map[int]string, len(sub.Answers)),
		Results:          make([]QuestionResult, 0, len(q.Questions)),
		Total:            len(q.Questions),
		TimeTakenSeconds: sub.TimeTakenSeconds,
		SubmittedAt:      a.now().UTC(),
	}
	for id, ans := range sub.Answers {
		att.Answers[id] = ans
	}

	for _, qq := range q.Questions {
		ans := sub.Answers[qq.ID]
		r := QuestionResult{
			QuestionID:    qq.ID,
			Type:          qq.Type,
			Answer:        ans,
			CorrectAnswer: qq.CorrectAnswer,
			Correct:       IsCorrect(qq, ans),
			Difficulty:    qq.Difficulty,
			Explanation:   qq.Explanation,
			Topics:        a.topicsOf(qq),
		}
		if r.Correct {
			att.Correct++
		}
		att.Results = append(att.Results, r)
	}

	att.Score = ScorePercent(att.Correct, att.Total)
	att.Level = a.Level(att.Score)
	att.WeakTopics = a.weakTopics(att.Results)
	return att, nil
}

// topicsOf returns the question's topic tags, falling back to keywords
// extracted from its prompt.
func (a *Analyzer) topicsOf(q quiz.Question) []string {
	if len(q.Topics) > 0 {
		return slices.Clone(q.Topics)
	}
	return keywords.Extract(q.Text, a.cfg.KeywordsPerQuestion)
}

// weakTopics ranks topics of incorrect questions by summed difficulty,
// ties broken by first appearance, and caps the list.
func (a *Analyzer) weakTopics(results []QuestionResult) []string {
	type ranked struct {
		topic  string
		weight int
		first  int
	}
	byTopic := make(map[string]*ranked)
	var order []*ranked
	for _, r := range results {
		if r.Correct {
			continue
		}
		w := max(r.Difficulty, 1)
		for _, t := range r.Topics {
			e, ok := byTopic[t]
			if !ok {
				e = &ranked{topic: t, first: len(order)}
				byTopic[t] = e
				order = append(order, e)
			}
			e.weight += w
		}
	}

	slices.SortFunc(order, func(x, y *ranked) int {
		if c := cmp.Compare(y.weight, x.weight); c != 0 {
			return c
		}
		return cmp.Compare(x.first, y.first)
	})

	out := make([]string, 0, min(len(order), a.cfg.MaxWeakTopics))
	for _, e := range order[:min(len(order), a.cfg.MaxWeakTopics)] {
		out = append(out, e.topic)
	}
	return out
}

// IsCorrect compares a learner answer with the canonical answer.
// Multiple-choice answers must match an option exactly (surrounding
// whitespace ignored); true/false and short answers match case-insensitively.
func IsCorrect(q quiz.Question, answer string) bool {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return false
	}
	want := strings.TrimSpace(q.CorrectAnswer)
	switch q.Type {
	case quiz.MultipleChoice:
		return answer == want
	default:
		return strings.EqualFold(answer, want)
	}
}

// ScorePercent returns 100 × correct/total rounded to one decimal place.
// A quiz with no questions scores 0.
func ScorePercent(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(1000*float64(correct)/float64(total)) / 10
}
