package notes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/studyai-go/internal/analysis"
	"github.com/54b3r/studyai-go/internal/apperr"
	"github.com/54b3r/studyai-go/internal/budget"
	"github.com/54b3r/studyai-go/internal/logging"
	"github.com/54b3r/studyai-go/internal/provider"
	"github.com/54b3r/studyai-go/internal/retrieval"
	"github.com/54b3r/studyai-go/internal/retry"
)

// Defaults applied by NewSynthesizer.
const (
	DefaultMaxPromptTokens  = budget.DefaultMaxContextTokens
	DefaultPassagesPerTopic = 3
	DefaultPassageChars     = 400
	DefaultMaxAttempts      = 2
	DefaultMinutesPerTopic  = 30
)

// Config tunes synthesis.
type Config struct {
	// MaxPromptTokens bounds the estimated prompt size. Defaults to 3000.
	MaxPromptTokens int
	// PassagesPerTopic caps passages placed under one weak topic. Defaults to 3.
	PassagesPerTopic int
	// PassageChars caps each passage's text. Defaults to 400.
	PassageChars int
	// MaxAttempts bounds how many replies may be rejected for missing
	// sections. Defaults to 2.
	MaxAttempts int
	// Timeout bounds each model call. Defaults to provider.DefaultTimeout.
	Timeout time.Duration
	// Retry bounds retries of transient model failures within one attempt.
	Retry retry.Policy
	// MinutesPerTopic drives EstimatedMinutes. Defaults to 30.
	MinutesPerTopic int
	// Priorities maps performance levels to priorities. Defaults to
	// DefaultPriorities; unknown levels get PriorityMedium.
	Priorities map[analysis.Level]Priority
	// ReviewOffsets maps priorities to the delay before the next review.
	// Defaults to DefaultReviewOffsets.
	ReviewOffsets map[Priority]time.Duration
}

// Synthesizer writes study notes. It is safe for concurrent use.
type Synthesizer struct {
	model model.BaseChatModel
	repo  Repository
	cfg   Config
	now   func() time.Time
}

// NewSynthesizer returns a Synthesizer. repo may be nil, in which case
// notes are not persisted and every call generates afresh.
func NewSynthesizer(m model.BaseChatModel, repo Repository, cfg *Config) (*Synthesizer, error) {
	if m == nil {
		return nil, fmt.Errorf("notes: chat model must not be nil")
	}
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if c.MaxPromptTokens <= 0 {
		c.MaxPromptTokens = DefaultMaxPromptTokens
	}
	if c.PassagesPerTopic <= 0 {
		c.PassagesPerTopic = DefaultPassagesPerTopic
	}
	if c.PassageChars <= 0 {
		c.PassageChars = DefaultPassageChars
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Timeout <= 0 {
		c.Timeout = provider.DefaultTimeout
	}
	if c.MinutesPerTopic <= 0 {
		c.MinutesPerTopic = DefaultMinutesPerTopic
	}
	if len(c.Priorities) == 0 {
		c.Priorities = DefaultPriorities
	}
	if len(c.ReviewOffsets) == 0 {
		c.ReviewOffsets = DefaultReviewOffsets
	}
	return &Synthesizer{model: m, repo: repo, cfg: c, now: time.Now}, nil
}

// Priority returns the study priority for a performance level.
func (s *Synthesizer) Priority(level analysis.Level) Priority {
	if p, ok := s.cfg.Priorities[level]; ok {
		return p
	}
	return PriorityMedium
}

// Synthesize writes notes for perf using the evidence in res. When a
// Repository is configured and notes for perf.AttemptID already exist,
// they are returned unchanged without calling the model.
//
// Topics res could not cover are marked as insufficiently covered rather
// than dropped. If the model fails after retries, or never returns every
// required section, a retryable SynthesisFailed error is returned.
func (s *Synthesizer) Synthesize(ctx context.Context, perf Performance, res *retrieval.Result) (*Notes, error) {
	log := logging.FromContext(ctx)

	if perf.AttemptID == "" {
		return nil, apperr.New(apperr.StageSynthesis, apperr.KindInvalidInput, "synthesize", "attempt id is required")
	}
	if s.repo != nil {
		existing, err := s.repo.NotesByAttempt(ctx, perf.AttemptID)
		switch {
		case err == nil:
			log.Debug("notes: returning existing notes", slog.String("attempt_id", perf.AttemptID))
			return existing, nil
		case !errors.Is(err, apperr.ErrNotFound):
			return nil, err
		}
	}

	coverage, uncovered := coverageOf(perf.WeakTopics, res)
	ev := selectEvidence(perf.WeakTopics, res, s.cfg.PassagesPerTopic, s.cfg.PassageChars)
	head, tail := promptParts(perf, uncovered)
	fixed := scaffoldTokens(head, tail, perf.WeakTopics, uncovered)
	kept := fitEvidence(fixed, ev, s.cfg.MaxPromptTokens)
	if len(kept) < len(ev) {
		log.Info("notes: passages dropped to fit prompt budget",
			slog.String("attempt_id", perf.AttemptID),
			slog.Int("selected", len(ev)),
			slog.Int("kept", len(kept)),
		)
	}
	prompt := renderPrompt(head, tail, perf.WeakTopics, kept, uncovered)

	content, sections, attempts, err := s.generate(ctx, perf.AttemptID, prompt)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	priority := s.Priority(perf.Level)
	n := &Notes{
		ID:               IDForAttempt(perf.AttemptID),
		AttemptID:        perf.AttemptID,
		QuizID:           perf.QuizID,
		DocumentID:       perf.DocumentID,
		OwnerID:          perf.OwnerID,
		Title:            notesTitle(perf.DocumentTitle),
		Performance:      perf,
		Content:          content,
		Sections:         sections,
		Topics:           coverage,
		Priority:         priority,
		EstimatedMinutes: len(perf.WeakTopics) * s.cfg.MinutesPerTopic,
		NextReview:       now.Add(s.cfg.ReviewOffsets[priority]),
		Recommendations:  Recommendations(perf, uncovered),
		Stats: Stats{
			TopicsAnalyzed:        len(perf.WeakTopics),
			PassagesUsed:          len(kept),
			WeakAreasIdentified:   len(perf.WeakTopics),
			InsufficientlyCovered: uncovered,
			PromptTokens: budget.EstimateMessages([]*schema.Message{
				schema.SystemMessage(systemPrompt),
				schema.UserMessage(prompt),
			}),
			Attempts: attempts,
		},
		CreatedAt: now,
	}

	if s.repo != nil {
		stored, err := s.repo.InsertNotes(ctx, n)
		if err != nil {
			return nil, err
		}
		n = stored
	}
	log.Info("notes: synthesized",
		slog.String("attempt_id", perf.AttemptID),
		slog.String("notes_id", n.ID),
		slog.Int("passages", n.Stats.PassagesUsed),
		slog.Int("uncovered", len(uncovered)),
	)
	return n, nil
}

// generate calls the model until a reply carries every section.
func (s *Synthesizer) generate(ctx context.Context, attemptID, prompt string) (string, map[string]string, int, error) {
	log := logging.FromContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		userPrompt := prompt
		if lastErr != nil {
			userPrompt += "\nYour previous response was rejected: " + lastErr.Error() +
				"\nInclude every required heading."
		}

		var reply string
		err := retry.Do(ctx, s.cfg.Retry, "notes synthesize", func(ctx context.Context) error {
			r, err := provider.Complete(ctx, s.model, apperr.StageSynthesis, systemPrompt, userPrompt, s.cfg.Timeout)
			reply = r
			return err
		})
		switch {
		case err == nil:
		case errors.Is(err, apperr.ErrGenerationInvalid):
			lastErr = err
			continue
		case ctx.Err() != nil:
			return "", nil, attempt, err
		default:
			return "", nil, attempt, apperr.Wrap(apperr.StageSynthesis, apperr.KindSynthesisFailed, "synthesize", err)
		}

		sections, err := parseSections(reply)
		if err != nil {
			lastErr = err
			log.Warn("notes: model response rejected",
				slog.String("attempt_id", attemptID),
				slog.Int("attempt", attempt),
				logging.Err(err),
			)
			continue
		}
		return reply, sections, attempt, nil
	}

	// lastErr is GenerationInvalid, which would make the chain fatal, so it is
	// carried as text only.
	return "", nil, s.cfg.MaxAttempts, apperr.New(apperr.StageSynthesis, apperr.KindSynthesisFailed, "synthesize",
		fmt.Sprintf("no complete notes after %d attempts: %v", s.cfg.MaxAttempts, lastErr))
}

// coverageOf reports, in weak-topic order, which topics res covered.
func coverageOf(topics []string, res *retrieval.Result) ([]TopicCoverage, []string) {
	found := make(map[string]retrieval.Coverage)
	if res != nil {
		for _, c := range res.Topics {
			found[c.Topic] = c
		}
	}
	out := make([]TopicCoverage, 0, len(topics))
	uncovered := []string{}
	for _, t := range topics {
		c := found[t]
		ids := c.ChunkIDs
		if ids == nil {
			ids = []string{}
		}
		out = append(out, TopicCoverage{Topic: t, Covered: c.Covered, ChunkIDs: ids})
		if !c.Covered {
			uncovered = append(uncovered, t)
		}
	}
	return out, uncovered
}

func notesTitle(docTitle string) string {
	if docTitle == "" {
		return "Study Notes"
	}
	return "Study Notes: " + docTitle
}
