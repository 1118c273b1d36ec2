// Package notes synthesizes personalised study notes from a scored quiz
// attempt and the document passages retrieved for its weak topics.
package notes

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/54b3r/studyai-go/internal/analysis"
)

// Priority is how urgently the learner should study.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Section headings every notes body must contain, in order.
const (
	SectionSummary      = "Summary"
	SectionExplanations = "Topic Explanations"
	SectionPractice     = "Practice Recommendations"
	SectionStudyPlan    = "Study Plan"
)

// Sections lists the required headings in render order.
var Sections = []string{SectionSummary, SectionExplanations, SectionPractice, SectionStudyPlan}

// DefaultPriorities maps performance levels to study priorities.
var DefaultPriorities = map[analysis.Level]Priority{
	analysis.LevelNeedsImprovement: PriorityHigh,
	analysis.LevelFair:             PriorityHigh,
	analysis.LevelGood:             PriorityMedium,
	analysis.LevelExcellent:        PriorityLow,
}

// DefaultReviewOffsets is the delay until the next review per priority.
var DefaultReviewOffsets = map[Priority]time.Duration{
	PriorityHigh:   2 * 24 * time.Hour,
	PriorityMedium: 4 * 24 * time.Hour,
	PriorityLow:    7 * 24 * time.Hour,
}

// namespace seeds notes ids so one attempt always maps to one id.
var namespace = uuid.MustParse("5c6b0d8e-3f0a-4e55-9a43-7f1a2c9d6b10")

// IDForAttempt returns the deterministic notes id of an attempt.
func IDForAttempt(attemptID string) string {
	return uuid.NewSHA1(namespace, []byte(attemptID)).String()
}

// Performance summarises the attempt the notes are written for.
type Performance struct {
	AttemptID     string         `json:"attempt_id"`
	QuizID        string         `json:"quiz_id"`
	DocumentID    string         `json:"document_id"`
	OwnerID       string         `json:"owner_id"`
	DocumentTitle string         `json:"document_title,omitempty"`
	Score         float64        `json:"score"`
	Level         analysis.Level `json:"level"`
	Correct       int            `json:"correct"`
	Total         int            `json:"total"`
	WeakTopics    []string       `json:"weak_topics"`
}

// PerformanceOf summarises a scored attempt.
func PerformanceOf(a *analysis.Attempt, documentTitle string) Performance {
	weak := a.WeakTopics
	if weak == nil {
		weak = []string{}
	}
	return Performance{
		AttemptID:     a.ID,
		QuizID:        a.QuizID,
		DocumentID:    a.DocumentID,
		OwnerID:       a.OwnerID,
		DocumentTitle: documentTitle,
		Score:         a.Score,
		Level:         a.Level,
		Correct:       a.Correct,
		Total:         a.Total,
		WeakTopics:    weak,
	}
}

// TopicCoverage records whether the document held evidence for a weak topic.
type TopicCoverage struct {
	Topic    string   `json:"topic"`
	Covered  bool     `json:"covered"`
	ChunkIDs []string `json:"chunk_ids"`
}

// Stats describes how the notes were produced.
type Stats struct {
	TopicsAnalyzed        int      `json:"topics_analyzed"`
	PassagesUsed          int      `json:"passages_used"`
	WeakAreasIdentified   int      `json:"weak_areas_identified"`
	InsufficientlyCovered []string `json:"insufficiently_covered"`
	PromptTokens          int      `json:"prompt_tokens"`
	Attempts              int      `json:"attempts"`
}

// Notes is the synthesized study artifact for one attempt.
type Notes struct {
	ID               string            `json:"id"`
	AttemptID        string            `json:"attempt_id"`
	QuizID           string            `json:"quiz_id"`
	DocumentID       string            `json:"document_id"`
	OwnerID          string            `json:"owner_id"`
	Title            string            `json:"title"`
	Performance      Performance       `json:"performance_summary"`
	Content          string            `json:"content"`
	Sections         map[string]string `json:"sections"`
	Topics           []TopicCoverage   `json:"topics"`
	Priority         Priority          `json:"study_priority"`
	EstimatedMinutes int               `json:"estimated_study_minutes"`
	NextReview       time.Time         `json:"next_review_date"`
	Recommendations  []string          `json:"recommendations"`
	Stats            Stats             `json:"generation_stats"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Repository persists notes. InsertNotes must be insert-if-absent keyed by
// attempt id and return whichever record is stored afterwards.
type Repository interface {
	NotesByAttempt(ctx context.Context, attemptID string) (*Notes, error)
	InsertNotes(ctx context.Context, n *Notes) (*Notes, error)
}

// Recommendations returns locally derived study advice for a performance.
// uncovered lists weak topics the document held no evidence for.
func Recommendations(p Performance, uncovered []string) []string {
	var out []string
	switch p.Level {
	case analysis.LevelNeedsImprovement:
		out = append(out,
			"Schedule daily 30-45 minute study sessions",
			"Focus on fundamental concepts before advanced topics",
		)
	case analysis.LevelFair:
		out = append(out,
			"Review the weak areas identified in this attempt",
			"Practice with additional questions on difficult topics",
		)
	case analysis.LevelGood:
		out = append(out,
			"Strengthen understanding in the identified weak areas",
			"Apply the concepts to worked examples",
		)
	default:
		out = append(out,
			"Maintain current study habits",
			"Challenge yourself with advanced practice questions",
		)
	}

	skip := make(map[string]bool, len(uncovered))
	for _, t := range uncovered {
		skip[t] = true
	}
	for _, t := range p.WeakTopics {
		if !skip[t] {
			out = append(out, fmt.Sprintf("Review the passages on %q and retest yourself", t))
		}
	}
	for _, t := range uncovered {
		out = append(out, fmt.Sprintf("The document says little about %q; re-read the related sections or consult another source", t))
	}
	return append(out, "Use active recall and test yourself regularly on the material")
}
