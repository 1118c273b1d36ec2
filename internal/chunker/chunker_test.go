package chunker

import (
	"math/rand/v2"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/studyai-go/internal/apperr"
)

const sample = `Cells are the basic unit of life. Every organism is made of one or more cells.

Mitochondria produce most of the chemical energy needed to power the cell. They are often called the powerhouse of the cell!

Ribosomes synthesize proteins by translating messenger RNA. Proteins fold into shapes that determine their function.
Some proteins act as enzymes? Others provide structure.


The cell membrane controls what enters and leaves the cell.`

func TestChunkReassemblesSource(t *testing.T) {
	t.Parallel()

	inputs := map[string]string{
		"paragraphs":     sample,
		"single line":    strings.Repeat("word ", 500),
		"no whitespace":  strings.Repeat("x", 2345),
		"leading spaces": "\n\n   " + sample + "\n\n",
		"unicode":        strings.Repeat("Künstliche Intelligenz verändert Lernprozesse grundlegend. ", 40),
		"short":          "Just one sentence.",
	}

	for name, text := range inputs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			c, err := New(WithMaxSize(120), WithOverlap(20))
			require.NoError(t, err)

			chunks := c.Chunk("doc-1", text)
			require.NotEmpty(t, chunks)
			assert.Equal(t, text, Reassemble(chunks))

			for i, ch := range chunks {
				assert.NotEmpty(t, ch.Text, "chunk %d empty", i)
				assert.False(t, isBlank(ch.Body()), "chunk %d body is whitespace only", i)
				assert.LessOrEqual(t, len(ch.Text), 120, "chunk %d too long", i)
				assert.Equal(t, text[ch.Start:ch.End], ch.Text)
				assert.True(t, utf8.ValidString(ch.Text), "chunk %d splits a rune", i)
				assert.Equal(t, i, ch.Index)
				assert.Equal(t, "doc-1", ch.DocumentID)
				if i == 0 {
					assert.Zero(t, ch.Overlap)
					continue
				}
				prev := chunks[i-1]
				assert.Equal(t, prev.End, ch.Start+ch.Overlap, "chunk %d body must start where previous ends", i)
				assert.True(t, strings.HasSuffix(prev.Text, ch.Text[:ch.Overlap]))
				assert.LessOrEqual(t, ch.Overlap, 20)
			}
		})
	}
}

func TestChunkIDsAreStable(t *testing.T) {
	t.Parallel()

	c, err := New(WithMaxSize(100), WithOverlap(10))
	require.NoError(t, err)

	first := c.Chunk("doc-7", sample)
	second := c.Chunk("doc-7", sample)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Text, second[i].Text)
	}

	other := c.Chunk("doc-8", sample)
	assert.NotEqual(t, first[0].ID, other[0].ID)
	assert.Equal(t, ChunkID("doc-7", 0), first[0].ID)
}

func TestChunkPrefersParagraphBoundaries(t *testing.T) {
	t.Parallel()

	text := "First paragraph here.\n\nSecond paragraph here.\n\nThird paragraph here."
	c, err := New(WithMaxSize(30), WithOverlap(0))
	require.NoError(t, err)

	chunks := c.Chunk("doc", text)
	require.Len(t, chunks, 3)
	assert.Equal(t, "First paragraph here.\n\n", chunks[0].Text)
	assert.Equal(t, "Second paragraph here.\n\n", chunks[1].Text)
	assert.Equal(t, "Third paragraph here.", chunks[2].Text)
}

func TestChunkBlankInput(t *testing.T) {
	t.Parallel()

	c, err := New()
	require.NoError(t, err)
	assert.Empty(t, c.Chunk("doc", ""))
	assert.Empty(t, c.Chunk("doc", " \n\t "))
}

func TestChunkTopics(t *testing.T) {
	t.Parallel()

	c, err := New(WithMaxSize(400), WithOverlap(40), WithTopicTags(2))
	require.NoError(t, err)
	chunks := c.Chunk("doc", "Mitochondria make energy. Mitochondria divide. Energy flows.")
	require.Len(t, chunks, 1)
	assert.Equal(t, []string{"mitochondria", "energy"}, chunks[0].Topics)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []Option
	}{
		{"zero size", []Option{WithMaxSize(0)}},
		{"negative overlap", []Option{WithOverlap(-1)}},
		{"overlap equals size", []Option{WithMaxSize(50), WithOverlap(50)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tc.opts...)
			assert.ErrorIs(t, err, apperr.ErrInvalidInput)
		})
	}
}

func TestSplit(t *testing.T) {
	t.Parallel()

	chunks, err := Split("doc", sample, 200, 30)
	require.NoError(t, err)
	assert.Equal(t, sample, Reassemble(chunks))

	_, err = Split("doc", sample, 10, 20)
	assert.Error(t, err)
}

// generatedText builds prose of short words with sentence and paragraph
// breaks, deterministic for a given seed.
func generatedText(seed uint64, words int) string {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	var b strings.Builder
	for i := range words {
		n := 2 + r.IntN(5)
		for range n {
			b.WriteByte(byte('a' + r.IntN(26)))
		}
		if i == words-1 {
			break
		}
		switch r.IntN(10) {
		case 0:
			b.WriteString(".\n\n")
		case 1:
			b.WriteString(". ")
		case 2:
			b.WriteString(" \n\n")
		default:
			b.WriteByte(' ')
		}
	}
	if r.IntN(2) == 0 {
		b.WriteString("\n\n")
	}
	return b.String()
}

func TestChunkBodiesAreNeverBlank(t *testing.T) {
	t.Parallel()

	configs := []struct{ size, overlap int }{
		{17, 6},
		{24, 8},
		{DefaultMaxSize, DefaultOverlap},
	}
	for _, cfg := range configs {
		c, err := New(WithMaxSize(cfg.size), WithOverlap(cfg.overlap), WithTopicTags(0))
		require.NoError(t, err)
		for seed := range uint64(300) {
			text := generatedText(seed, 20+int(seed%400))
			chunks := c.Chunk("doc", text)
			require.Equal(t, text, Reassemble(chunks), "size=%d seed=%d", cfg.size, seed)
			for i, ch := range chunks {
				require.False(t, isBlank(ch.Body()), "size=%d seed=%d chunk %d body %q", cfg.size, seed, i, ch.Body())
				require.LessOrEqual(t, len(ch.Text), cfg.size, "size=%d seed=%d chunk %d", cfg.size, seed, i)
			}
		}
	}
}

func TestAbsorbBlank(t *testing.T) {
	t.Parallel()

	text := "abc  \n\nxyz"
	// "abc  " | "\n\n" | "xyz"
	got := absorbBlank(text, []span{{0, 5}, {5, 7}, {7, 10}}, 8)
	assert.Equal(t, []span{{0, 7}, {7, 10}}, got, "blank joins the previous unit")

	got = absorbBlank(text, []span{{0, 5}, {5, 7}, {7, 10}}, 6)
	assert.Equal(t, []span{{0, 5}, {5, 10}}, got, "blank joins the next unit when the previous is full")

	text = "\n\nabc"
	got = absorbBlank(text, []span{{0, 2}, {2, 5}}, 10)
	assert.Equal(t, []span{{0, 5}}, got, "leading blank joins the first unit")

	text = "ab cd \n\nxyzxyz"
	got = absorbBlank(text, []span{{0, 6}, {6, 8}, {8, 14}}, 6)
	assert.Equal(t, []span{{0, 3}, {3, 8}, {8, 14}}, got, "last word moves over to carry the blank")
}
