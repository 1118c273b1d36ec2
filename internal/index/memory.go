package index

import (
	"cmp"
	"context"
	"math"
	"slices"
	"sync"

	"github.com/54b3r/studyai-go/internal/embedder"
)

// MemoryIndex is an in-process Index using a linear cosine scan. It is the
// default when no Qdrant host is configured and the index used by tests.
type MemoryIndex struct {
	mu      sync.RWMutex
	id      embedder.Identity
	entries map[string]*memEntry
	nextSeq uint64
}

type memEntry struct {
	record Record
	norm   float64
	seq    uint64
}

// NewMemoryIndex returns an empty MemoryIndex for vectors of identity id.
func NewMemoryIndex(id embedder.Identity) *MemoryIndex {
	return &MemoryIndex{id: id, entries: make(map[string]*memEntry)}
}

// Identity reports the embedder identity the index accepts.
func (m *MemoryIndex) Identity() embedder.Identity { return m.id }

// Upsert stores records. Overwritten records keep their original insertion
// position for tie breaking.
func (m *MemoryIndex) Upsert(ctx context.Context, records ...Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateRecords(m.id.Dimension, records); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		r.Vector = slices.Clone(r.Vector)
		r.Metadata.Topics = slices.Clone(r.Metadata.Topics)
		if e, ok := m.entries[r.ChunkID]; ok {
			e.record = r
			e.norm = norm(r.Vector)
			continue
		}
		m.entries[r.ChunkID] = &memEntry{record: r, norm: norm(r.Vector), seq: m.nextSeq}
		m.nextSeq++
	}
	return nil
}

// Query scans every record that passes filter.
func (m *MemoryIndex) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateQuery(m.id.Dimension, vector, topK); err != nil {
		return nil, err
	}
	qn := norm(vector)

	type scored struct {
		match Match
		seq   uint64
	}

	m.mu.RLock()
	hits := make([]scored, 0, len(m.entries))
	for id, e := range m.entries {
		if !filter.matches(e.record.Metadata) {
			continue
		}
		hits = append(hits, scored{
			match: Match{ChunkID: id, Score: cosine(vector, qn, e.record.Vector, e.norm), Metadata: e.record.Metadata},
			seq:   e.seq,
		})
	}
	m.mu.RUnlock()

	slices.SortFunc(hits, func(a, b scored) int {
		if c := cmp.Compare(b.match.Score, a.match.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})

	out := make([]Match, 0, min(topK, len(hits)))
	for _, h := range hits[:min(topK, len(hits))] {
		out = append(out, h.match)
	}
	return out, nil
}

// DeleteDocument removes every record of documentID.
func (m *MemoryIndex) DeleteDocument(ctx context.Context, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries {
		if e.record.Metadata.DocumentID == documentID {
			delete(m.entries, id)
		}
	}
	return nil
}

// Len returns the number of stored records.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close is a no-op.
func (m *MemoryIndex) Close() error { return nil }

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

// cosine returns the cosine similarity of a and b given their norms, clamped
// to [-1, 1]. A zero vector scores 0 against everything.
func cosine(a []float32, an float64, b []float32, bn float64) float32 {
	if an == 0 || bn == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(max(-1, min(1, dot/(an*bn))))
}
