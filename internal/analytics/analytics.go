// Package analytics summarises a learner's attempt history: average and best
// scores, the direction of recent performance, and which weak topics keep
// recurring. Aggregate is a pure function of its input.
package analytics

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/54b3r/studyai-go/internal/analysis"
	"github.com/54b3r/studyai-go/internal/notes"
)

// Trend is the direction of recent scores.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

// DefaultMargin is the score difference, in points, that counts as a change.
const DefaultMargin = 5.0

// Average scores below these get foundation or consistency advice.
const (
	foundationBelow  = 70.0
	consistencyBelow = 85.0
)

// Entry is one scored attempt in a learner's history.
type Entry struct {
	Score      float64   `json:"score"`
	WeakTopics []string  `json:"weak_topics"`
	At         time.Time `json:"at"`
}

// TopicCount is how often a topic appeared among weak topics.
type TopicCount struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

// Snapshot is the aggregate view of a history.
type Snapshot struct {
	Attempts     int          `json:"attempts"`
	AverageScore float64      `json:"average_score"`
	BestScore    float64      `json:"best_score"`
	LatestScore  float64      `json:"latest_score"`
	Trend        Trend        `json:"trend"`
	WeakTopics   []TopicCount `json:"weak_topics"`
	// Recommendations is overall study advice drawn from the history.
	Recommendations []string `json:"study_recommendations"`
	// LastStudySession is when the learner last received study notes, or
	// nil before the first notes.
	LastStudySession *time.Time `json:"last_study_session"`
}

// Options tunes aggregation.
type Options struct {
	// Margin is the minimum difference between the recent and early means
	// for a trend other than stable. Zero uses DefaultMargin.
	Margin float64
}

// Aggregate summarises history. Entries are ordered by At before
// aggregation; entries with equal times keep their input order. An empty
// history yields a zero snapshot with a stable trend.
func Aggregate(history []Entry, opts Options) Snapshot {
	margin := opts.Margin
	if margin <= 0 {
		margin = DefaultMargin
	}

	snap := Snapshot{Trend: TrendStable, WeakTopics: []TopicCount{}}
	if len(history) == 0 {
		snap.Recommendations = recommend(snap)
		return snap
	}

	entries := slices.Clone(history)
	slices.SortStableFunc(entries, func(a, b Entry) int { return a.At.Compare(b.At) })

	var sum float64
	snap.BestScore = entries[0].Score
	for _, e := range entries {
		sum += e.Score
		snap.BestScore = max(snap.BestScore, e.Score)
	}
	snap.Attempts = len(entries)
	snap.AverageScore = round1(sum / float64(len(entries)))
	snap.LatestScore = entries[len(entries)-1].Score
	snap.Trend = trend(entries, margin)
	snap.WeakTopics = topicFrequency(entries)
	snap.Recommendations = recommend(snap)
	return snap
}

// recommend gives one piece of advice for the average score and one for the
// most frequent weak topic.
func recommend(snap Snapshot) []string {
	if snap.Attempts == 0 {
		return []string{"Start taking quizzes to get personalized study recommendations"}
	}
	var out []string
	switch {
	case snap.AverageScore < foundationBelow:
		out = append(out, "Focus on building stronger foundational knowledge")
	case snap.AverageScore < consistencyBelow:
		out = append(out, "Work on consistency across different topics")
	default:
		out = append(out, "Excellent progress! Continue with advanced practice")
	}
	if len(snap.WeakTopics) > 0 {
		out = append(out, fmt.Sprintf("Consider additional study on %q, which appears most often among your weak areas",
			snap.WeakTopics[0].Topic))
	}
	return out
}

// LastSession returns the latest time in history, or nil when it is empty.
func LastSession(history []Entry) *time.Time {
	var last *time.Time
	for i := range history {
		if last == nil || history[i].At.After(*last) {
			at := history[i].At
			last = &at
		}
	}
	return last
}

// trend compares the mean of the latest third with the earliest third.
func trend(entries []Entry, margin float64) Trend {
	n := len(entries)
	if n < 2 {
		return TrendStable
	}
	third := max(1, n/3)
	early := mean(entries[:third])
	recent := mean(entries[n-third:])
	switch {
	case recent-early > margin:
		return TrendImproving
	case early-recent > margin:
		return TrendDeclining
	default:
		return TrendStable
	}
}

// topicFrequency counts weak topics, most frequent first, ties by first
// appearance.
func topicFrequency(entries []Entry) []TopicCount {
	idx := make(map[string]int)
	out := []TopicCount{}
	for _, e := range entries {
		for _, t := range e.WeakTopics {
			i, ok := idx[t]
			if !ok {
				i = len(out)
				idx[t] = i
				out = append(out, TopicCount{Topic: t})
			}
			out[i].Count++
		}
	}
	slices.SortStableFunc(out, func(a, b TopicCount) int { return cmp.Compare(b.Count, a.Count) })
	return out
}

func mean(entries []Entry) float64 {
	var s float64
	for _, e := range entries {
		s += e.Score
	}
	return s / float64(len(entries))
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

// FromAttempts converts scored attempts to history entries.
func FromAttempts(attempts []*analysis.Attempt) []Entry {
	out := make([]Entry, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, Entry{Score: a.Score, WeakTopics: a.WeakTopics, At: a.SubmittedAt})
	}
	return out
}

// FromNotes converts study notes to history entries using the performance
// each was written for.
func FromNotes(ns []*notes.Notes) []Entry {
	out := make([]Entry, 0, len(ns))
	for _, n := range ns {
		out = append(out, Entry{Score: n.Performance.Score, WeakTopics: n.Performance.WeakTopics, At: n.CreatedAt})
	}
	return out
}
