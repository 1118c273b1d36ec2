// Package document defines the ingested document record and its lifecycle.
package document

import "time"

// Status is the ingestion lifecycle state of a document.
type Status string

const (
	// StatusProcessing means chunks are being embedded and indexed. Readers
	// must not consume the document's chunks in this state.
	StatusProcessing Status = "processing"
	// StatusCompleted means every chunk has been indexed.
	StatusCompleted Status = "completed"
	// StatusFailed means the last ingestion failed; re-ingesting is safe.
	StatusFailed Status = "failed"
)

// Document is an ingested source text owned by one learner.
type Document struct {
	ID       string   `json:"id"`
	OwnerID  string   `json:"owner_id"`
	Title    string   `json:"title"`
	Status   Status   `json:"status"`
	ChunkIDs []string `json:"chunk_ids"`
	// Error holds the failure reason when Status is failed.
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ready reports whether the document's chunks may be consumed.
func (d *Document) Ready() bool { return d.Status == StatusCompleted }
