// Package apperr defines the error taxonomy shared by every pipeline stage.
// Each error records the stage that failed (ingestion, generation, analysis,
// synthesis, ...) and a Kind that tells callers whether retrying can help.
//
// Use errors.Is with the exported sentinels to test for a kind:
//
//	if errors.Is(err, apperr.ErrDimensionMismatch) { ... }
package apperr

import (
	"context"
	"errors"
	"strings"
)

// Stage names the pipeline component where an error originated.
type Stage string

const (
	StageIngestion  Stage = "ingestion"
	StageEmbedding  Stage = "embedding"
	StageIndex      Stage = "index"
	StageGeneration Stage = "generation"
	StageAnalysis   Stage = "analysis"
	StageRetrieval  Stage = "retrieval"
	StageSynthesis  Stage = "synthesis"
	StageAnalytics  Stage = "analytics"
	StageStore      Stage = "store"
)

// Kind classifies an error by what the caller should do about it.
type Kind string

const (
	// KindIngestionFailed means chunking, embedding, or the index write failed.
	// The document is marked failed; re-ingesting is safe.
	KindIngestionFailed Kind = "ingestion_failed"
	// KindProviderUnavailable means the embedding or generative backend could
	// not be reached after local retries.
	KindProviderUnavailable Kind = "provider_unavailable"
	// KindIndexUnavailable means the vector index could not be reached.
	KindIndexUnavailable Kind = "index_unavailable"
	// KindGenerationInvalid means model output failed structural validation
	// on every attempt.
	KindGenerationInvalid Kind = "generation_invalid"
	// KindDimensionMismatch is a configuration error: vector lengths differ
	// between provider and index. Never retried.
	KindDimensionMismatch Kind = "dimension_mismatch"
	// KindInsufficientEvidence marks a weak topic with no passage above the
	// relevance threshold. Non-fatal.
	KindInsufficientEvidence Kind = "insufficient_evidence"
	// KindSynthesisFailed means notes generation failed after its retry budget.
	KindSynthesisFailed Kind = "synthesis_failed"
	// KindNotFound means the referenced record does not exist.
	KindNotFound Kind = "not_found"
	// KindNotReady means the document has not finished ingestion.
	KindNotReady Kind = "not_ready"
	// KindInvalidInput means the request itself is malformed.
	KindInvalidInput Kind = "invalid_input"
	// KindForbidden means the caller does not own the referenced record.
	KindForbidden Kind = "forbidden"
)

// Sentinels for use with errors.Is. They match any *Error of the same Kind
// regardless of stage, op, or cause.
var (
	ErrIngestionFailed      = &Error{Kind: KindIngestionFailed}
	ErrProviderUnavailable  = &Error{Kind: KindProviderUnavailable}
	ErrIndexUnavailable     = &Error{Kind: KindIndexUnavailable}
	ErrGenerationInvalid    = &Error{Kind: KindGenerationInvalid}
	ErrDimensionMismatch    = &Error{Kind: KindDimensionMismatch}
	ErrInsufficientEvidence = &Error{Kind: KindInsufficientEvidence}
	ErrSynthesisFailed      = &Error{Kind: KindSynthesisFailed}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrNotReady             = &Error{Kind: KindNotReady}
	ErrInvalidInput         = &Error{Kind: KindInvalidInput}
	ErrForbidden            = &Error{Kind: KindForbidden}
)

// Error is a stage-tagged pipeline error.
type Error struct {
	// Stage is the component that failed.
	Stage Stage
	// Kind classifies the failure.
	Kind Kind
	// Op is the operation within the stage (e.g. "upsert", "embed").
	Op string
	// Msg is an optional human-readable detail.
	Msg string
	// Err is the underlying cause, if any.
	Err error
}

// New returns an *Error without an underlying cause.
func New(stage Stage, kind Kind, op, msg string) *Error {
	return &Error{Stage: stage, Kind: kind, Op: op, Msg: msg}
}

// Wrap returns an *Error wrapping err. A nil err yields nil.
func Wrap(stage Stage, kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Stage: stage, Kind: kind, Op: op, Err: err}
}

// Error renders "stage: op: kind: msg: cause", omitting empty parts.
func (e *Error) Error() string {
	parts := make([]string, 0, 5)
	if e.Stage != "" {
		parts = append(parts, string(e.Stage))
	}
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	parts = append(parts, strings.ReplaceAll(string(e.Kind), "_", " "))
	if e.Msg != "" {
		parts = append(parts, e.Msg)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind. A target with a
// Stage set also requires the stage to match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Stage == "" || t.Stage == e.Stage
}

// KindOf returns the Kind of the outermost *Error in err's chain, or "" if
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// StageOf returns the Stage of the outermost *Error in err's chain, or "" if
// there is none.
func StageOf(err error) Stage {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

// fatalKinds never succeed on retry without a change to the request or the
// deployment configuration.
var fatalKinds = []*Error{
	ErrDimensionMismatch,
	ErrGenerationInvalid,
	ErrInvalidInput,
	ErrNotFound,
	ErrForbidden,
}

// transientKinds may succeed when retried.
var transientKinds = []*Error{
	ErrProviderUnavailable,
	ErrIndexUnavailable,
	ErrIngestionFailed,
	ErrSynthesisFailed,
	ErrNotReady,
}

// Retryable reports whether retrying the operation that produced err can
// succeed. Fatal kinds anywhere in the chain win over transient ones, so an
// IngestionFailed caused by a DimensionMismatch is not retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	for _, k := range fatalKinds {
		if errors.Is(err, k) {
			return false
		}
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	for _, k := range transientKinds {
		if errors.Is(err, k) {
			return true
		}
	}
	return errors.Is(err, context.DeadlineExceeded)
}
