// Package chunker splits extracted document text into bounded, overlapping
// passages. Splits prefer paragraph boundaries, then sentence boundaries,
// and only fall back to hard cuts when a single sentence exceeds the budget.
//
// Every chunk is an exact span of the source text. Chunk k>0 begins with a
// copy of the tail of chunk k-1 (its Overlap prefix); dropping those
// prefixes and concatenating the texts reproduces the source exactly.
package chunker

import (
	"fmt"
	"regexp"
	"strconv"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/54b3r/studyai-go/internal/apperr"
	"github.com/54b3r/studyai-go/internal/keywords"
)

const (
	// DefaultMaxSize is the default upper bound on chunk length in bytes.
	DefaultMaxSize = 1000
	// DefaultOverlap is the default number of bytes repeated between
	// consecutive chunks.
	DefaultOverlap = 100
	// DefaultTopicTags is the default number of topic tags per chunk.
	DefaultTopicTags = 3
)

// chunkNamespace scopes chunk ids so they cannot collide with other
// SHA1-derived UUIDs in the system.
var chunkNamespace = uuid.MustParse("6f1c1d2e-8a47-4b8e-9a57-3c2f0d8b1e42")

var (
	paragraphBreak = regexp.MustCompile(`(?:\r?\n[ \t]*){2,}`)
	sentenceEnd    = regexp.MustCompile(`[.!?]+["')\]]*\s+`)
)

// Chunk is a positioned passage of a document.
type Chunk struct {
	// ID is derived from DocumentID and Index; identical input always yields
	// identical ids.
	ID string `json:"id"`
	// DocumentID is the owning document.
	DocumentID string `json:"document_id"`
	// Index is the zero-based sequence number within the document.
	Index int `json:"index"`
	// Text is source[Start:End], including the overlap prefix.
	Text string `json:"text"`
	// Start is the byte offset of Text in the source.
	Start int `json:"start"`
	// End is the byte offset one past the end of Text in the source.
	End int `json:"end"`
	// Overlap is the length of the prefix of Text repeated from the previous chunk.
	Overlap int `json:"overlap"`
	// Topics holds the most frequent meaningful words of the chunk.
	Topics []string `json:"topics,omitempty"`
}

// Body returns the chunk text without its overlap prefix.
func (c Chunk) Body() string { return c.Text[c.Overlap:] }

// Chunker splits text. It is immutable and safe for concurrent use.
type Chunker struct {
	maxSize   int
	overlap   int
	topicTags int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithMaxSize sets the maximum chunk length in bytes.
func WithMaxSize(n int) Option { return func(c *Chunker) { c.maxSize = n } }

// WithOverlap sets the number of bytes repeated between consecutive chunks.
func WithOverlap(n int) Option { return func(c *Chunker) { c.overlap = n } }

// WithTopicTags sets how many topic tags are attached to each chunk.
// Zero disables tagging.
func WithTopicTags(n int) Option { return func(c *Chunker) { c.topicTags = n } }

// New constructs a Chunker. It returns an InvalidInput error when the size
// and overlap cannot produce progress.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{maxSize: DefaultMaxSize, overlap: DefaultOverlap, topicTags: DefaultTopicTags}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxSize <= 0 {
		return nil, apperr.New(apperr.StageIngestion, apperr.KindInvalidInput, "chunk",
			fmt.Sprintf("max size must be positive, got %d", c.maxSize))
	}
	if c.overlap < 0 || c.overlap >= c.maxSize {
		return nil, apperr.New(apperr.StageIngestion, apperr.KindInvalidInput, "chunk",
			fmt.Sprintf("overlap must be in [0, %d), got %d", c.maxSize, c.overlap))
	}
	return c, nil
}

// MaxSize returns the configured maximum chunk length.
func (c *Chunker) MaxSize() int { return c.maxSize }

// Overlap returns the configured overlap length.
func (c *Chunker) Overlap() int { return c.overlap }

// span is a half-open byte range of the source text.
type span struct{ start, end int }

// Chunk splits text into ordered chunks owned by documentID. Text that is
// empty or whitespace-only yields no chunks.
func (c *Chunker) Chunk(documentID, text string) []Chunk {
	if isBlank(text) {
		return nil
	}

	units := c.units(text)

	var chunks []Chunk
	bodyStart, textStart := 0, 0
	for i := 0; i < len(units); {
		budget := c.maxSize - (bodyStart - textStart)
		end := bodyStart
		for i < len(units) && units[i].end-bodyStart <= budget {
			end = units[i].end
			i++
		}
		if end == bodyStart {
			// Units are capped at maxSize-overlap so this only triggers when
			// rune alignment pushed a hard cut past the cap.
			end = units[i].end
			i++
		}

		idx := len(chunks)
		ch := Chunk{
			ID:         ChunkID(documentID, idx),
			DocumentID: documentID,
			Index:      idx,
			Text:       text[textStart:end],
			Start:      textStart,
			End:        end,
			Overlap:    bodyStart - textStart,
		}
		if c.topicTags > 0 {
			ch.Topics = keywords.Top(ch.Body(), c.topicTags)
		}
		chunks = append(chunks, ch)

		textStart = overlapStart(text, bodyStart, end, c.overlap)
		bodyStart = end
	}
	return chunks
}

// Split is a convenience for New(WithMaxSize(maxSize), WithOverlap(overlap)).Chunk.
func Split(documentID, text string, maxSize, overlap int) ([]Chunk, error) {
	c, err := New(WithMaxSize(maxSize), WithOverlap(overlap))
	if err != nil {
		return nil, err
	}
	return c.Chunk(documentID, text), nil
}

// ChunkID returns the stable identifier of the index-th chunk of documentID.
func ChunkID(documentID string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(documentID+"#"+strconv.Itoa(index))).String()
}

// Reassemble concatenates chunk bodies in order, reproducing the source text.
func Reassemble(chunks []Chunk) string {
	n := 0
	for _, ch := range chunks {
		n += len(ch.Text) - ch.Overlap
	}
	buf := make([]byte, 0, n)
	for _, ch := range chunks {
		buf = append(buf, ch.Body()...)
	}
	return string(buf)
}

// units splits text into contiguous spans that each fit in a chunk body
// regardless of overlap. The spans cover text exactly.
func (c *Chunker) units(text string) []span {
	limit := c.maxSize - c.overlap

	var out []span
	for _, p := range splitAfter(text, span{0, len(text)}, paragraphBreak) {
		if p.end-p.start <= limit {
			out = append(out, p)
			continue
		}
		for _, s := range splitAfter(text, p, sentenceEnd) {
			if s.end-s.start <= limit {
				out = append(out, s)
				continue
			}
			out = append(out, hardCut(text, s, limit)...)
		}
	}
	return absorbBlank(text, out, limit)
}

// absorbBlank folds whitespace-only units into a neighbour so that no chunk
// body is blank: into the previous unit when it fits, else into the next,
// else the previous unit's last word moves over to carry it. A whitespace
// run too long for any of these stays a unit of its own.
func absorbBlank(text string, units []span, limit int) []span {
	out := make([]span, 0, len(units))
	for i := 0; i < len(units); i++ {
		u := units[i]
		if !isBlank(text[u.start:u.end]) {
			out = append(out, u)
			continue
		}
		n := len(out)
		if n > 0 && u.end-out[n-1].start <= limit {
			out[n-1].end = u.end
			continue
		}
		if i+1 < len(units) && units[i+1].end-u.start <= limit {
			units[i+1].start = u.start
			continue
		}
		if n > 0 {
			prev := out[n-1]
			cut := lastWordStart(text, prev)
			if cut > prev.start && u.end-cut <= limit && !isBlank(text[prev.start:cut]) {
				out[n-1].end = cut
				out = append(out, span{cut, u.end})
				continue
			}
		}
		out = append(out, u)
	}
	return out
}

// lastWordStart returns the offset of the last word in s, or s.start when
// there is none.
func lastWordStart(text string, s span) int {
	j := s.end
	for j > s.start && isSpace(text[j-1]) {
		j--
	}
	for j > s.start && !isSpace(text[j-1]) {
		j--
	}
	return j
}

// splitAfter splits the region r of text after every match of sep, so each
// separator stays attached to the span it terminates.
func splitAfter(text string, r span, sep *regexp.Regexp) []span {
	var out []span
	start := r.start
	for _, m := range sep.FindAllStringIndex(text[r.start:r.end], -1) {
		end := r.start + m[1]
		if end <= start {
			continue
		}
		out = append(out, span{start, end})
		start = end
	}
	if start < r.end {
		out = append(out, span{start, r.end})
	}
	return out
}

// hardCut splits r into pieces of at most limit bytes, cutting after the last
// whitespace in the second half of each piece when there is one and always
// on a rune boundary.
func hardCut(text string, r span, limit int) []span {
	var out []span
	for start := r.start; start < r.end; {
		end := start + limit
		if end >= r.end {
			out = append(out, span{start, r.end})
			break
		}
		for end > start && !utf8.RuneStart(text[end]) {
			end--
		}
		if end == start {
			_, size := utf8.DecodeRuneInString(text[start:])
			end = start + size
		}
		for j := end - 1; j > start+limit/2; j-- {
			if isSpace(text[j]) {
				end = j + 1
				break
			}
		}
		out = append(out, span{start, end})
		start = end
	}
	return out
}

// overlapStart returns where the next chunk's text begins: at most overlap
// bytes before end, never before bodyStart, on a rune boundary, and after a
// word break when one exists in the window.
func overlapStart(text string, bodyStart, end, overlap int) int {
	if overlap == 0 {
		return end
	}
	pos := end - overlap
	if pos < bodyStart {
		pos = bodyStart
	}
	for pos < end && !utf8.RuneStart(text[pos]) {
		pos++
	}
	if pos > 0 && pos < end && !isSpace(text[pos-1]) {
		for j := pos; j < end; j++ {
			if isSpace(text[j]) {
				pos = j + 1
				break
			}
		}
	}
	return pos
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}

func isBlank(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
