package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/studyai-go/internal/apperr"
	"github.com/54b3r/studyai-go/internal/logging"
)

// statusFor maps an error onto an HTTP status code.
func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch apperr.KindOf(err) {
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindNotReady:
		return http.StatusConflict
	case apperr.KindInsufficientEvidence:
		return http.StatusUnprocessableEntity
	case apperr.KindGenerationInvalid, apperr.KindIngestionFailed:
		return http.StatusBadGateway
	case apperr.KindProviderUnavailable, apperr.KindIndexUnavailable, apperr.KindSynthesisFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as the JSON error envelope. Server faults are
// logged with the full chain; the client sees the stage-tagged message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	kind := string(apperr.KindOf(err))
	if kind == "" {
		kind = "internal"
		if status == http.StatusGatewayTimeout {
			kind = "timeout"
		}
	}
	retryable := apperr.Retryable(err)

	log := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", slog.Int("status", status), logging.Err(err))
	} else {
		log.Debug("request rejected", slog.Int("status", status), logging.Err(err))
	}

	if retryable && status >= http.StatusInternalServerError {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, r, status, errorBody{Error: errorDetail{
		Stage:     string(apperr.StageOf(err)),
		Kind:      kind,
		Message:   err.Error(),
		Retryable: retryable,
	}})
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}

// decodeBody decodes a JSON body of at most limit bytes into dst. Unknown
// fields are rejected.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.New("", apperr.KindInvalidInput, "decode", fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

// ownerID returns the caller's learner id from the X-Owner-ID header.
func ownerID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(ownerHeader))
	if id == "" {
		return "", apperr.New("", apperr.KindForbidden, "authorize", ownerHeader+" header is required")
	}
	return id, nil
}
