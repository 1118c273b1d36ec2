package study

import (
	"cmp"
	"context"
	"math"
	"slices"
	"time"

	"github.com/54b3r/studyai-go/internal/quiz"
)

// QuizStatus is whether a quiz has been attempted.
type QuizStatus string

const (
	QuizPending   QuizStatus = "pending"
	QuizCompleted QuizStatus = "completed"
)

// QuizOverview is one quiz in the owner's list with its attempt history.
type QuizOverview struct {
	ID               string     `json:"id"`
	DocumentID       string     `json:"document_id"`
	Title            string     `json:"title"`
	Questions        int        `json:"questions"`
	EstimatedMinutes int        `json:"estimated_minutes"`
	CreatedAt        time.Time  `json:"created_at"`
	Status           QuizStatus `json:"quiz_status"`
	Attempts         int        `json:"attempts_count"`
	BestScore        *float64   `json:"best_score"`
	LatestScore      *float64   `json:"latest_score"`
	FirstAttempted   *time.Time `json:"first_attempted"`
	LastAttempted    *time.Time `json:"last_attempted"`
}

// QuizTotals summarises the owner's quizzes.
type QuizTotals struct {
	Total     int `json:"total_quizzes"`
	Completed int `json:"completed_quizzes"`
	Pending   int `json:"pending_quizzes"`
	// AverageScore is the mean best score over completed quizzes.
	AverageScore float64 `json:"average_score"`
	// CompletionRate is the percentage of quizzes attempted at least once.
	CompletionRate float64 `json:"completion_rate"`
}

// QuizSummary is the owner's quiz list, newest first, with totals.
type QuizSummary struct {
	Summary QuizTotals     `json:"summary"`
	Quizzes []QuizOverview `json:"quizzes"`
}

// QuizSummary lists the owner's quizzes with attempt statistics.
func (s *Service) QuizSummary(ctx context.Context, ownerID string) (*QuizSummary, error) {
	quizzes, err := s.store.QuizzesByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	out := &QuizSummary{Quizzes: make([]QuizOverview, 0, len(quizzes))}
	var bestSum float64
	for _, q := range quizzes {
		attempts, err := s.store.AttemptsByQuiz(ctx, q.ID)
		if err != nil {
			return nil, err
		}
		ov := overview(q)
		for _, a := range attempts {
			if a.OwnerID != ownerID {
				continue
			}
			ov.Attempts++
			at, score := a.SubmittedAt, a.Score
			if ov.BestScore == nil || score > *ov.BestScore {
				ov.BestScore = &score
			}
			if ov.LastAttempted == nil || !at.Before(*ov.LastAttempted) {
				ov.LastAttempted, ov.LatestScore = &at, &score
			}
			if ov.FirstAttempted == nil || at.Before(*ov.FirstAttempted) {
				ov.FirstAttempted = &at
			}
		}
		if ov.Attempts > 0 {
			ov.Status = QuizCompleted
			out.Summary.Completed++
			bestSum += *ov.BestScore
		}
		out.Quizzes = append(out.Quizzes, ov)
	}

	slices.SortStableFunc(out.Quizzes, func(a, b QuizOverview) int { return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano()) })

	out.Summary.Total = len(out.Quizzes)
	out.Summary.Pending = out.Summary.Total - out.Summary.Completed
	if out.Summary.Completed > 0 {
		out.Summary.AverageScore = round1(bestSum / float64(out.Summary.Completed))
	}
	if out.Summary.Total > 0 {
		out.Summary.CompletionRate = round1(100 * float64(out.Summary.Completed) / float64(out.Summary.Total))
	}
	return out, nil
}

func overview(q *quiz.Quiz) QuizOverview {
	return QuizOverview{
		ID:               q.ID,
		DocumentID:       q.DocumentID,
		Title:            q.Title,
		Questions:        len(q.Questions),
		EstimatedMinutes: q.EstimatedMinutes,
		CreatedAt:        q.CreatedAt,
		Status:           QuizPending,
	}
}

func round1(x float64) float64 { return math.Round(x*10) / 10 }
