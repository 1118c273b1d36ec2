package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/google/uuid"

	"github.com/54b3r/studyai-go/internal/apperr"
	"github.com/54b3r/studyai-go/internal/chunker"
	"github.com/54b3r/studyai-go/internal/document"
	"github.com/54b3r/studyai-go/internal/logging"
	"github.com/54b3r/studyai-go/internal/provider"
	"github.com/54b3r/studyai-go/internal/retry"
)

// Defaults applied by NewGenerator.
const (
	DefaultNumQuestions       = 5
	DefaultMaxQuestions       = 50
	DefaultMaxAttempts        = 2
	DefaultSampleSize         = 8
	DefaultMaxContextChars    = 8000
	DefaultMinutesPerQuestion = 2
)

const systemPrompt = `You write quiz questions that test understanding of a study text.
Respond with ONLY a valid JSON array. No markdown, no explanations, no extra text.`

// Config tunes quiz generation.
type Config struct {
	// MaxAttempts bounds how many model responses may be rejected by
	// validation before the request fails. Defaults to 2.
	MaxAttempts int
	// Timeout bounds each model call. Defaults to provider.DefaultTimeout.
	Timeout time.Duration
	// Retry bounds retries of transient model failures within one attempt.
	Retry retry.Policy
	// SampleSize is the number of chunks placed in the prompt. Defaults to 8.
	SampleSize int
	// MaxContextChars caps the passage text in the prompt. Defaults to 8000.
	MaxContextChars int
	// MaxQuestions is the largest quiz that may be requested. Defaults to 50.
	MaxQuestions int
	// MinutesPerQuestion drives Quiz.EstimatedMinutes. Defaults to 2.
	MinutesPerQuestion int
}

// Source is the document a quiz is generated from.
type Source struct {
	Document *document.Document
	Chunks   []chunker.Chunk
}

// Request describes the quiz to generate. Zero values take defaults:
// DefaultNumQuestions questions across the full difficulty scale.
type Request struct {
	NumQuestions  int `json:"num_questions"`
	MinDifficulty int `json:"min_difficulty"`
	MaxDifficulty int `json:"max_difficulty"`
}

// Generator produces validated quizzes. It is safe for concurrent use.
type Generator struct {
	model model.BaseChatModel
	cfg   Config
	now   func() time.Time
}

// NewGenerator constructs a Generator around a chat model. A nil cfg uses
// defaults.
func NewGenerator(m model.BaseChatModel, cfg *Config) (*Generator, error) {
	if m == nil {
		return nil, fmt.Errorf("quiz: chat model must not be nil")
	}
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Timeout <= 0 {
		c.Timeout = provider.DefaultTimeout
	}
	if c.SampleSize <= 0 {
		c.SampleSize = DefaultSampleSize
	}
	if c.MaxContextChars <= 0 {
		c.MaxContextChars = DefaultMaxContextChars
	}
	if c.MaxQuestions <= 0 {
		c.MaxQuestions = DefaultMaxQuestions
	}
	if c.MinutesPerQuestion <= 0 {
		c.MinutesPerQuestion = DefaultMinutesPerQuestion
	}
	return &Generator{model: m, cfg: c, now: time.Now}, nil
}

// normalise applies defaults to req and validates it.
func (g *Generator) normalise(req Request) (Request, error) {
	if req.NumQuestions == 0 {
		req.NumQuestions = DefaultNumQuestions
	}
	if req.MinDifficulty == 0 {
		req.MinDifficulty = MinDifficulty
	}
	if req.MaxDifficulty == 0 {
		req.MaxDifficulty = MaxDifficulty
	}
	switch {
	case req.NumQuestions < 0 || req.NumQuestions > g.cfg.MaxQuestions:
		return req, apperr.New(apperr.StageGeneration, apperr.KindInvalidInput, "generate",
			fmt.Sprintf("num_questions must be between 1 and %d, got %d", g.cfg.MaxQuestions, req.NumQuestions))
	case req.MinDifficulty < MinDifficulty || req.MaxDifficulty > MaxDifficulty || req.MinDifficulty > req.MaxDifficulty:
		return req, apperr.New(apperr.StageGeneration, apperr.KindInvalidInput, "generate",
			fmt.Sprintf("difficulty range %d-%d must lie within %d-%d", req.MinDifficulty, req.MaxDifficulty, MinDifficulty, MaxDifficulty))
	}
	return req, nil
}

// Generate builds a quiz from src. The document must have completed
// ingestion. Transient model failures are retried under cfg.Retry; replies
// that fail validation are regenerated up to cfg.MaxAttempts times, after
// which a GenerationInvalid error is returned and no quiz is produced.
func (g *Generator) Generate(ctx context.Context, src Source, req Request) (*Quiz, error) {
	log := logging.FromContext(ctx)

	if src.Document == nil {
		return nil, apperr.New(apperr.StageGeneration, apperr.KindInvalidInput, "generate", "source document is required")
	}
	doc := src.Document
	if !doc.Ready() {
		return nil, apperr.New(apperr.StageGeneration, apperr.KindNotReady, "generate",
			fmt.Sprintf("document %s is %s", doc.ID, doc.Status))
	}
	if len(src.Chunks) == 0 {
		return nil, apperr.New(apperr.StageGeneration, apperr.KindInvalidInput, "generate",
			fmt.Sprintf("document %s has no content", doc.ID))
	}
	req, err := g.normalise(req)
	if err != nil {
		return nil, err
	}

	selected := SelectChunks(src.Chunks, g.cfg.SampleSize)
	prompt := buildPrompt(selected, req, g.cfg.MaxContextChars)

	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		userPrompt := prompt
		if lastErr != nil {
			userPrompt += "\n\nYour previous response was rejected: " + lastErr.Error() +
				"\nReturn a corrected JSON array that follows every rule."
		}

		var reply string
		err := retry.Do(ctx, g.cfg.Retry, "quiz generate", func(ctx context.Context) error {
			r, err := provider.Complete(ctx, g.model, apperr.StageGeneration, systemPrompt, userPrompt, g.cfg.Timeout)
			reply = r
			return err
		})
		if err != nil && !errors.Is(err, apperr.ErrGenerationInvalid) {
			return nil, err
		}

		var questions []Question
		if err == nil {
			questions, err = parseQuestions(reply, req)
		}
		if err != nil {
			lastErr = err
			log.Warn("quiz: model response rejected",
				slog.String("document_id", doc.ID),
				slog.Int("attempt", attempt),
				logging.Err(err),
			)
			continue
		}

		if len(questions) < req.NumQuestions {
			log.Warn("quiz: model returned fewer questions than requested",
				slog.String("document_id", doc.ID),
				slog.Int("requested", req.NumQuestions),
				slog.Int("returned", len(questions)),
			)
		}
		q := &Quiz{
			ID:               uuid.NewString(),
			DocumentID:       doc.ID,
			OwnerID:          doc.OwnerID,
			Title:            quizTitle(doc.Title),
			Questions:        questions,
			EstimatedMinutes: len(questions) * g.cfg.MinutesPerQuestion,
			CreatedAt:        g.now().UTC(),
		}
		log.Info("quiz: generated",
			slog.String("document_id", doc.ID),
			slog.String("quiz_id", q.ID),
			slog.Int("questions", len(questions)),
			slog.Int("attempts", attempt),
		)
		return q, nil
	}

	return nil, &apperr.Error{
		Stage: apperr.StageGeneration,
		Kind:  apperr.KindGenerationInvalid,
		Op:    "generate",
		Msg:   fmt.Sprintf("no valid quiz after %d attempts", g.cfg.MaxAttempts),
		Err:   lastErr,
	}
}

func quizTitle(docTitle string) string {
	if docTitle == "" {
		return "Quiz"
	}
	return "Quiz: " + docTitle
}

// SelectChunks picks up to n chunks spread evenly across the document: the
// chunks are divided into n equal position strata and the middle chunk of
// each stratum is taken, so questions do not cluster on the introduction.
func SelectChunks(chunks []chunker.Chunk, n int) []chunker.Chunk {
	if n <= 0 || len(chunks) <= n {
		return chunks
	}
	out := make([]chunker.Chunk, 0, n)
	for i := range n {
		start := i * len(chunks) / n
		end := (i + 1) * len(chunks) / n
		out = append(out, chunks[(start+end-1)/2])
	}
	return out
}

// buildPrompt renders the generation prompt. The passage budget is split
// evenly so every selected stratum is represented.
func buildPrompt(chunks []chunker.Chunk, req Request, maxChars int) string {
	per := maxChars
	if len(chunks) > 0 {
		per = maxChars / len(chunks)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Generate exactly %d quiz questions from the content below.\n\n", req.NumQuestions)
	b.WriteString(`Format each question exactly like this:
[
  {
    "question_text": "What is the main topic discussed?",
    "question_type": "multiple_choice",
    "options": ["Option A", "Option B", "Option C", "Option D"],
    "correct_answer": "Option A",
    "explanation": "Brief explanation of why this is correct",
    "difficulty": 2,
    "topics": ["main topic"]
  }
]

Rules:
- question_type must be: "multiple_choice", "true_false", or "short_answer"
`)
	fmt.Fprintf(&b, "- difficulty must be an integer from %d to %d\n", req.MinDifficulty, req.MaxDifficulty)
	b.WriteString(`- For multiple_choice: correct_answer must be copied exactly from options
- For true_false: options must be ["True", "False"]
- For short_answer: options must be null and correct_answer a short phrase
- topics lists one to three short noun phrases the question tests
- Spread questions across all passages below

Content:
`)
	for i, ch := range chunks {
		fmt.Fprintf(&b, "\n[Passage %d]\n%s\n", i+1, truncate(strings.TrimSpace(ch.Body()), per))
	}
	return b.String()
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
