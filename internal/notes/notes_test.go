package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/studyai-go/internal/analysis"
	"github.com/54b3r/studyai-go/internal/apperr"
	"github.com/54b3r/studyai-go/internal/provider/providertest"
	"github.com/54b3r/studyai-go/internal/retrieval"
	"github.com/54b3r/studyai-go/internal/retry"
)

const completeReply = `# Study Notes

## Summary
You scored 40% and should focus on photosynthesis.

## 1. Topic Explanations
### Photosynthesis
Plants convert light into chemical energy.

## Practice Recommendations:
- Draw the light reactions from memory.

## 📅 Study Plan
Day 1: re-read the chloroplast passages.
`

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type memRepo struct {
	mu    sync.Mutex
	notes map[string]*Notes
}

func (r *memRepo) NotesByAttempt(_ context.Context, attemptID string) (*Notes, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.notes[attemptID]; ok {
		return n, nil
	}
	return nil, apperr.New(apperr.StageStore, apperr.KindNotFound, "get notes", attemptID)
}

func (r *memRepo) InsertNotes(_ context.Context, n *Notes) (*Notes, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.notes == nil {
		r.notes = map[string]*Notes{}
	}
	if existing, ok := r.notes[n.AttemptID]; ok {
		return existing, nil
	}
	r.notes[n.AttemptID] = n
	return n, nil
}

func performance() Performance {
	return Performance{
		AttemptID: "attempt-1", QuizID: "quiz-1", DocumentID: "doc-1", OwnerID: "owner-1",
		DocumentTitle: "Cell Biology", Score: 40, Level: analysis.LevelNeedsImprovement,
		Correct: 2, Total: 5, WeakTopics: []string{"photosynthesis", "quantum tunnelling"},
	}
}

func evidenceFor() *retrieval.Result {
	return &retrieval.Result{
		DocumentID: "doc-1",
		Threshold:  0.7,
		Passages: []retrieval.Passage{
			{ChunkID: "c1", ChunkIndex: 1, Text: "Chloroplasts capture light energy.", Score: 0.91, Topics: []string{"photosynthesis"}},
			{ChunkID: "c4", ChunkIndex: 4, Text: "The Calvin cycle fixes carbon.", Score: 0.78, Topics: []string{"photosynthesis"}},
		},
		Topics: []retrieval.Coverage{
			{Topic: "photosynthesis", ChunkIDs: []string{"c1", "c4"}, BestScore: 0.91, Covered: true},
			{Topic: "quantum tunnelling", ChunkIDs: []string{}, Covered: false},
		},
	}
}

func newSynth(t *testing.T, m *providertest.Model, repo Repository, cfg *Config) *Synthesizer {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Retry = retry.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	s, err := NewSynthesizer(m, repo, cfg)
	require.NoError(t, err)
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestSynthesizeBuildsNotes(t *testing.T) {
	t.Parallel()

	m := providertest.Text(completeReply)
	n, err := newSynth(t, m, nil, nil).Synthesize(context.Background(), performance(), evidenceFor())
	require.NoError(t, err)

	assert.Equal(t, IDForAttempt("attempt-1"), n.ID)
	assert.Equal(t, "Study Notes: Cell Biology", n.Title)
	assert.Equal(t, PriorityHigh, n.Priority)
	assert.Equal(t, 60, n.EstimatedMinutes)
	assert.Equal(t, fixedNow.Add(48*time.Hour), n.NextReview)
	assert.Len(t, n.Sections, len(Sections))
	assert.Contains(t, n.Sections[SectionExplanations], "### Photosynthesis")

	require.Len(t, n.Topics, 2)
	assert.True(t, n.Topics[0].Covered)
	assert.Equal(t, []string{"c1", "c4"}, n.Topics[0].ChunkIDs)
	assert.False(t, n.Topics[1].Covered, "uncovered topic is kept and flagged")

	assert.Equal(t, Stats{
		TopicsAnalyzed:        2,
		PassagesUsed:          2,
		WeakAreasIdentified:   2,
		InsufficientlyCovered: []string{"quantum tunnelling"},
		PromptTokens:          n.Stats.PromptTokens,
		Attempts:              1,
	}, n.Stats)
	assert.Positive(t, n.Stats.PromptTokens)

	prompt := m.Prompt(0)
	assert.Contains(t, prompt, "=== TOPIC: quantum tunnelling ===\n(the document has no passage on this topic)")
	assert.Contains(t, prompt, "[Passage 1] Chloroplasts capture light energy.")
	assert.Contains(t, prompt, "Score: 40.0% (2 of 5 correct)")
	assert.Contains(t, strings.Join(n.Recommendations, "\n"), `"quantum tunnelling"`)
}

func TestSynthesizeRetriesMissingSection(t *testing.T) {
	t.Parallel()

	partial := "## Summary\nShort.\n## Study Plan\nTomorrow."
	m := providertest.New(providertest.Reply{Content: partial}, providertest.Reply{Content: completeReply})
	n, err := newSynth(t, m, nil, nil).Synthesize(context.Background(), performance(), evidenceFor())
	require.NoError(t, err)
	assert.Equal(t, 2, n.Stats.Attempts)
	assert.Equal(t, 2, m.Calls())
	assert.Contains(t, m.Prompt(1), "previous response was rejected")
	assert.Contains(t, m.Prompt(1), "Topic Explanations")
}

func TestSynthesizeFailsWithoutSections(t *testing.T) {
	t.Parallel()

	m := providertest.Text("Sorry, I can't help with that.")
	n, err := newSynth(t, m, nil, nil).Synthesize(context.Background(), performance(), evidenceFor())
	require.Error(t, err)
	assert.Nil(t, n, "no empty artifact is returned")
	assert.ErrorIs(t, err, apperr.ErrSynthesisFailed)
	assert.Equal(t, apperr.StageSynthesis, apperr.StageOf(err))
	assert.True(t, apperr.Retryable(err))
	assert.Equal(t, DefaultMaxAttempts, m.Calls())
}

func TestSynthesizeProviderFailure(t *testing.T) {
	t.Parallel()

	m := providertest.New(providertest.Reply{Err: errors.New("503 service unavailable")})
	_, err := newSynth(t, m, nil, nil).Synthesize(context.Background(), performance(), evidenceFor())
	assert.ErrorIs(t, err, apperr.ErrSynthesisFailed)
	assert.ErrorIs(t, err, apperr.ErrProviderUnavailable)
	assert.True(t, apperr.Retryable(err))
	assert.Equal(t, 2, m.Calls(), "transient failures are retried under the policy")
}

func TestSynthesizeIsIdempotentPerAttempt(t *testing.T) {
	t.Parallel()

	m := providertest.Text(completeReply)
	repo := &memRepo{}
	s := newSynth(t, m, repo, nil)

	first, err := s.Synthesize(context.Background(), performance(), evidenceFor())
	require.NoError(t, err)
	second, err := s.Synthesize(context.Background(), performance(), evidenceFor())
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Performance, second.Performance)
	assert.Equal(t, first.Topics, second.Topics)
	assert.Equal(t, 1, m.Calls(), "existing notes are returned without regenerating")
}

func TestSynthesizeDropsLowestRelevanceFirst(t *testing.T) {
	t.Parallel()

	a, b, c := strings.Repeat("a", 400), strings.Repeat("b", 400), strings.Repeat("c", 400)
	res := &retrieval.Result{
		Passages: []retrieval.Passage{
			{ChunkID: "a", Text: a, Score: 0.9, Topics: []string{"alpha"}},
			{ChunkID: "c", Text: c, Score: 0.8, Topics: []string{"alpha"}},
			{ChunkID: "b", Text: b, Score: 0.75, Topics: []string{"alpha"}},
		},
		Topics: []retrieval.Coverage{{Topic: "alpha", ChunkIDs: []string{"a", "c", "b"}, Covered: true}},
	}
	perf := performance()
	perf.WeakTopics = []string{"alpha"}

	head, tail := promptParts(perf, []string{})
	fixed := scaffoldTokens(head, tail, perf.WeakTopics, nil)
	per := passageTokens(evidence{text: a}, 3)

	m := providertest.Text(completeReply)
	n, err := newSynth(t, m, nil, &Config{MaxPromptTokens: fixed + 2*per + 1}).Synthesize(context.Background(), perf, res)
	require.NoError(t, err)

	assert.Equal(t, 2, n.Stats.PassagesUsed)
	assert.Contains(t, m.Prompt(0), a)
	assert.Contains(t, m.Prompt(0), c)
	assert.NotContains(t, m.Prompt(0), b)
}

func TestSynthesizePromptStaysWithinBudget(t *testing.T) {
	t.Parallel()

	topics := []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta", "eta", "theta"}
	res := &retrieval.Result{}
	for i, topic := range topics {
		res.Topics = append(res.Topics, retrieval.Coverage{Topic: topic, Covered: true})
		for j := range 3 {
			id := fmt.Sprintf("%s-%d", topic, j)
			res.Passages = append(res.Passages, retrieval.Passage{
				ChunkID: id,
				Text:    strings.Repeat(string(rune('a'+i)), 37+j*41),
				Score:   0.99 - float32(i*3+j)/100,
				Topics:  []string{topic},
			})
		}
	}
	perf := performance()
	perf.WeakTopics = append(topics, "uncovered topic")

	head, tail := promptParts(perf, []string{"uncovered topic"})
	fixed := scaffoldTokens(head, tail, perf.WeakTopics, []string{"uncovered topic"})
	for _, extra := range []int{0, 1, 7, 23, 60, 111, 250, 1000} {
		limit := fixed + extra
		n, err := newSynth(t, providertest.Text(completeReply), nil, &Config{MaxPromptTokens: limit, PassagesPerTopic: 3}).
			Synthesize(context.Background(), perf, res)
		require.NoError(t, err)
		assert.LessOrEqual(t, n.Stats.PromptTokens, limit, "budget %d", limit)
		if extra >= 250 {
			assert.Positive(t, n.Stats.PassagesUsed, "budget %d", limit)
		}
	}
}

func TestSelectEvidenceCapsPerTopicAndClips(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", 300) // 600 bytes
	res := &retrieval.Result{Passages: []retrieval.Passage{
		{ChunkID: "1", Text: long, Score: 0.9, Topics: []string{"x", "y"}},
		{ChunkID: "2", Text: "two", Score: 0.8, Topics: []string{"x"}},
		{ChunkID: "3", Text: "three", Score: 0.7, Topics: []string{"x", "y"}},
		{ChunkID: "4", Text: "four", Score: 0.6, Topics: []string{"x"}},
	}}

	ev := selectEvidence([]string{"x", "y"}, res, 3, 400)
	require.Len(t, ev, 3, "x takes three; y has nothing left")
	assert.Equal(t, "x", ev[0].topic)
	assert.True(t, strings.HasSuffix(ev[0].text, "..."))
	assert.LessOrEqual(t, len(ev[0].text), 403)
	assert.Equal(t, "three", ev[2].text)
}

func TestParseSectionsHeadingVariants(t *testing.T) {
	t.Parallel()

	got, err := parseSections(completeReply)
	require.NoError(t, err)
	assert.Equal(t, "You scored 40% and should focus on photosynthesis.", got[SectionSummary])
	assert.Equal(t, "Day 1: re-read the chloroplast passages.", got[SectionStudyPlan])

	_, err = parseSections("## Summary\n\n## Topic Explanations\nx\n## Practice Recommendations\ny\n## Study Plan\nz")
	assert.ErrorIs(t, err, apperr.ErrGenerationInvalid, "empty section body is rejected")
	assert.Contains(t, err.Error(), "Summary")
}

func TestPriorityAndReviewOffsetsAreConfigurable(t *testing.T) {
	t.Parallel()

	s := newSynth(t, providertest.Text(completeReply), nil, &Config{
		Priorities:    map[analysis.Level]Priority{analysis.LevelNeedsImprovement: PriorityLow},
		ReviewOffsets: map[Priority]time.Duration{PriorityLow: 24 * time.Hour},
	})
	assert.Equal(t, PriorityLow, s.Priority(analysis.LevelNeedsImprovement))
	assert.Equal(t, PriorityMedium, s.Priority(analysis.LevelExcellent), "unmapped level")

	n, err := s.Synthesize(context.Background(), performance(), evidenceFor())
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(24*time.Hour), n.NextReview)

	d := newSynth(t, providertest.Text(completeReply), nil, nil)
	for level, want := range map[analysis.Level]Priority{
		analysis.LevelNeedsImprovement: PriorityHigh,
		analysis.LevelFair:             PriorityHigh,
		analysis.LevelGood:             PriorityMedium,
		analysis.LevelExcellent:        PriorityLow,
	} {
		assert.Equal(t, want, d.Priority(level), string(level))
	}
}

func TestIDForAttemptIsStable(t *testing.T) {
	t.Parallel()

	assert.Equal(t, IDForAttempt("a"), IDForAttempt("a"))
	assert.NotEqual(t, IDForAttempt("a"), IDForAttempt("b"))
}
