// Package index stores chunk embeddings and answers top-k similarity queries
// with exact-match metadata filters. Two implementations share the [Index]
// contract: an in-process [MemoryIndex] and a persistent [QdrantIndex].
//
// Every index is bound to one embedder identity. Vectors of any other length
// are rejected with a DimensionMismatch error before anything is written.
package index

import (
	"context"
	"fmt"

	"github.com/54b3r/studyai-go/internal/apperr"
	"github.com/54b3r/studyai-go/internal/embedder"
)

// Metadata is stored alongside each vector and returned with every match.
type Metadata struct {
	DocumentID string   `json:"document_id"`
	OwnerID    string   `json:"owner_id"`
	ChunkIndex int      `json:"chunk_index"`
	Start      int      `json:"start"`
	End        int      `json:"end"`
	Text       string   `json:"text"`
	Topics     []string `json:"topics,omitempty"`
}

// Record is one chunk vector to upsert.
type Record struct {
	ChunkID  string
	Vector   []float32
	Metadata Metadata
}

// Filter restricts a query by exact match. Empty fields match everything.
type Filter struct {
	DocumentID string
	OwnerID    string
}

func (f Filter) matches(m Metadata) bool {
	if f.DocumentID != "" && f.DocumentID != m.DocumentID {
		return false
	}
	if f.OwnerID != "" && f.OwnerID != m.OwnerID {
		return false
	}
	return true
}

// Match is one query result.
type Match struct {
	ChunkID  string   `json:"chunk_id"`
	Score    float32  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// Index is the semantic index contract.
// Implementations must be safe to call from multiple goroutines.
type Index interface {
	// Upsert stores records, overwriting any with the same chunk id. Either
	// every record is written or, on validation failure, none is.
	Upsert(ctx context.Context, records ...Record) error

	// Query returns up to topK matches ordered by descending cosine score,
	// ties broken by first insertion. An empty or missing index yields an
	// empty slice and no error.
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error)

	// DeleteDocument removes every record whose metadata names documentID.
	DeleteDocument(ctx context.Context, documentID string) error

	// Identity reports the embedder identity the index was created for.
	Identity() embedder.Identity

	// Close releases any resources held by the index.
	Close() error
}

// validateRecords checks every record before any is written.
func validateRecords(dim int, records []Record) error {
	for i, r := range records {
		if r.ChunkID == "" {
			return apperr.New(apperr.StageIndex, apperr.KindInvalidInput, "upsert",
				fmt.Sprintf("record %d has no chunk id", i))
		}
		if len(r.Vector) != dim {
			return apperr.New(apperr.StageIndex, apperr.KindDimensionMismatch, "upsert",
				fmt.Sprintf("chunk %s has %d dimensions, index expects %d", r.ChunkID, len(r.Vector), dim))
		}
	}
	return nil
}

func validateQuery(dim int, vector []float32, topK int) error {
	if len(vector) != dim {
		return apperr.New(apperr.StageIndex, apperr.KindDimensionMismatch, "query",
			fmt.Sprintf("query vector has %d dimensions, index expects %d", len(vector), dim))
	}
	if topK <= 0 {
		return apperr.New(apperr.StageIndex, apperr.KindInvalidInput, "query",
			fmt.Sprintf("top_k must be positive, got %d", topK))
	}
	return nil
}
