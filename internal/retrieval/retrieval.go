// Package retrieval finds the source passages that explain a learner's weak
// topics. Every topic is searched within one document; results below the
// relevance threshold are discarded, and passages shared by several topics
// are kept once with all the topics they support.
package retrieval

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/54b3r/studyai-go/internal/apperr"
	"github.com/54b3r/studyai-go/internal/embedder"
	"github.com/54b3r/studyai-go/internal/index"
	"github.com/54b3r/studyai-go/internal/logging"
	"github.com/54b3r/studyai-go/internal/retry"
)

const (
	// DefaultThreshold is the minimum cosine score for a passage to count
	// as evidence.
	DefaultThreshold = 0.7
	// DefaultTopK is the number of candidates fetched per topic.
	DefaultTopK = 5
)

// Config tunes retrieval.
type Config struct {
	// TopK is the number of index matches requested per topic. Defaults to 5.
	TopK int
	// Retry bounds retries of transient embedding and index failures.
	Retry retry.Policy
}

// Query asks for evidence for Topics within one learner's document.
type Query struct {
	DocumentID string
	OwnerID    string
	Topics     []string
	// Threshold is the minimum score kept. Zero or less keeps every match;
	// values above 1 are rejected.
	Threshold float64
}

// Passage is a retrieved chunk with the weak topics it supports.
type Passage struct {
	ChunkID    string   `json:"chunk_id"`
	ChunkIndex int      `json:"chunk_index"`
	Text       string   `json:"text"`
	Score      float32  `json:"score"`
	Topics     []string `json:"topics"`
}

// Coverage records what retrieval found for one weak topic.
type Coverage struct {
	Topic     string   `json:"topic"`
	ChunkIDs  []string `json:"chunk_ids"`
	BestScore float32  `json:"best_score"`
	Covered   bool     `json:"covered"`
}

// Result is the evidence gathered for a set of weak topics.
type Result struct {
	DocumentID string  `json:"document_id"`
	Threshold  float64 `json:"threshold"`
	// Passages are unique by chunk id, ordered by descending score then
	// position in the document.
	Passages []Passage `json:"passages"`
	// Topics has one entry per distinct non-blank topic of the query, in
	// query order.
	Topics []Coverage `json:"topics"`
	// Gaps holds one InsufficientEvidence error per uncovered topic.
	Gaps []error `json:"-"`
}

// Insufficient returns the topics with no passage above the threshold.
func (r *Result) Insufficient() []string {
	var out []string
	for _, c := range r.Topics {
		if !c.Covered {
			out = append(out, c.Topic)
		}
	}
	return out
}

// PassagesFor returns the passages supporting topic, best first.
func (r *Result) PassagesFor(topic string) []Passage {
	var out []Passage
	for _, p := range r.Passages {
		if slices.Contains(p.Topics, topic) {
			out = append(out, p)
		}
	}
	return out
}

// Engine runs retrieval queries. It is safe for concurrent use.
type Engine struct {
	embedder embedder.Provider
	index    index.Index
	cfg      Config
}

// NewEngine returns an Engine. The embedder and index must share an
// identity; a mismatch is a DimensionMismatch configuration error.
func NewEngine(p embedder.Provider, ix index.Index, cfg *Config) (*Engine, error) {
	if p == nil || ix == nil {
		return nil, fmt.Errorf("retrieval: embedder and index must not be nil")
	}
	if p.Identity() != ix.Identity() {
		return nil, apperr.New(apperr.StageRetrieval, apperr.KindDimensionMismatch, "configure",
			fmt.Sprintf("embedder %s does not match index %s", p.Identity(), ix.Identity()))
	}
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	return &Engine{embedder: p, index: ix, cfg: c}, nil
}

// Retrieve gathers evidence for q.Topics. Topics that yield nothing above
// the threshold are recorded as uncovered with an InsufficientEvidence gap;
// they never abort the call. Embedding and index failures do.
func (e *Engine) Retrieve(ctx context.Context, q Query) (*Result, error) {
	log := logging.FromContext(ctx)

	if q.DocumentID == "" {
		return nil, apperr.New(apperr.StageRetrieval, apperr.KindInvalidInput, "retrieve", "document id is required")
	}
	if q.Threshold > 1 {
		return nil, apperr.New(apperr.StageRetrieval, apperr.KindInvalidInput, "retrieve",
			fmt.Sprintf("relevance threshold must be at most 1, got %v", q.Threshold))
	}

	res := &Result{DocumentID: q.DocumentID, Threshold: q.Threshold, Passages: []Passage{}, Topics: []Coverage{}}
	topics := dedupe(q.Topics)
	if len(topics) == 0 {
		return res, nil
	}

	var vecs [][]float32
	err := retry.Do(ctx, e.cfg.Retry, "retrieval embed", func(ctx context.Context) error {
		v, err := e.embedder.Embed(ctx, topics)
		vecs = v
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := embedder.CheckDimensions(vecs, e.index.Identity().Dimension); err != nil {
		return nil, err
	}
	if len(vecs) != len(topics) {
		return nil, apperr.New(apperr.StageEmbedding, apperr.KindProviderUnavailable, "embed",
			fmt.Sprintf("expected %d embeddings, got %d", len(topics), len(vecs)))
	}

	filter := index.Filter{DocumentID: q.DocumentID, OwnerID: q.OwnerID}
	byChunk := make(map[string]*Passage)
	for i, topic := range topics {
		var matches []index.Match
		err := retry.Do(ctx, e.cfg.Retry, "retrieval query", func(ctx context.Context) error {
			m, err := e.index.Query(ctx, vecs[i], e.cfg.TopK, filter)
			matches = m
			return err
		})
		if err != nil {
			return nil, err
		}

		cov := Coverage{Topic: topic, ChunkIDs: []string{}}
		for _, m := range matches {
			if q.Threshold > 0 && m.Score < float32(q.Threshold) {
				continue
			}
			cov.ChunkIDs = append(cov.ChunkIDs, m.ChunkID)
			cov.BestScore = max(cov.BestScore, m.Score)
			p, ok := byChunk[m.ChunkID]
			if !ok {
				p = &Passage{ChunkID: m.ChunkID, ChunkIndex: m.Metadata.ChunkIndex, Text: m.Metadata.Text, Score: m.Score}
				byChunk[m.ChunkID] = p
			}
			p.Score = max(p.Score, m.Score)
			p.Topics = append(p.Topics, topic)
		}
		cov.Covered = len(cov.ChunkIDs) > 0
		if !cov.Covered {
			res.Gaps = append(res.Gaps, apperr.New(apperr.StageRetrieval, apperr.KindInsufficientEvidence, "retrieve",
				fmt.Sprintf("no passage for %q scored at least %.2f", topic, q.Threshold)))
			log.Info("retrieval: topic insufficiently covered",
				slog.String("document_id", q.DocumentID),
				slog.String("topic", topic),
			)
		}
		res.Topics = append(res.Topics, cov)
	}

	for _, p := range byChunk {
		res.Passages = append(res.Passages, *p)
	}
	slices.SortFunc(res.Passages, func(a, b Passage) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ChunkIndex, b.ChunkIndex)
	})

	log.Debug("retrieval: complete",
		slog.String("document_id", q.DocumentID),
		slog.Int("topics", len(topics)),
		slog.Int("passages", len(res.Passages)),
		slog.Int("uncovered", len(res.Gaps)),
	)
	return res, nil
}

// dedupe trims topics and drops blanks and repeats, keeping order.
func dedupe(topics []string) []string {
	out := make([]string, 0, len(topics))
	seen := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
