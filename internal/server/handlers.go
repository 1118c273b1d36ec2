package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/54b3r/studyai-go/internal/analysis"
	"github.com/54b3r/studyai-go/internal/apperr"
	"github.com/54b3r/studyai-go/internal/document"
	"github.com/54b3r/studyai-go/internal/ingestion"
	"github.com/54b3r/studyai-go/internal/notes"
	"github.com/54b3r/studyai-go/internal/quiz"
)

// generationContext bounds a model-backed request by GenerationTimeout.
func (s *Server) generationContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.cfg.GenerationTimeout)
}

// handleIngest handles POST /api/documents. The response is the document
// record; 201 on success.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req ingestRequest
	if err := decodeBody(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	hasText, hasURL := strings.TrimSpace(req.Text) != "", strings.TrimSpace(req.URL) != ""
	if hasText == hasURL {
		writeError(w, r, apperr.New(apperr.StageIngestion, apperr.KindInvalidInput, "ingest", "exactly one of text and url is required"))
		return
	}

	ctx, cancel := s.generationContext(r)
	defer cancel()
	done := s.metrics.track("ingest")

	in := ingestion.Input{DocumentID: req.DocumentID, OwnerID: owner, Title: req.Title, Text: req.Text}
	var doc *document.Document
	if hasURL {
		doc, err = s.svc.IngestURL(ctx, in, req.URL)
	} else {
		doc, err = s.svc.Ingest(ctx, in)
	}
	done(err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, doc)
}

// handleListDocuments handles GET /api/documents.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	docs, err := s.svc.Documents(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []*document.Document{}
	}
	writeJSON(w, r, http.StatusOK, documentList{Documents: docs})
}

// handleGetDocument handles GET /api/documents/{id}.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	doc, err := s.svc.Document(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, doc)
}

// handleDeleteDocument handles DELETE /api/documents/{id}.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.DeleteDocument(r.Context(), owner, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGenerateQuiz handles POST /api/documents/{id}/quizzes. The body is
// optional; omitted fields take the generator defaults. The response
// carries the answer key so the author can review it.
func (s *Server) handleGenerateQuiz(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req quiz.Request
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}

	ctx, cancel := s.generationContext(r)
	defer cancel()
	done := s.metrics.track("quiz")
	q, err := s.svc.GenerateQuiz(ctx, owner, r.PathValue("id"), req)
	done(err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, q)
}

// handleListQuizzes handles GET /api/quizzes.
func (s *Server) handleListQuizzes(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sum, err := s.svc.QuizSummary(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sum)
}

// handleGetQuiz handles GET /api/quizzes/{id}. Answers are withheld.
func (s *Server) handleGetQuiz(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q, err := s.svc.Quiz(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, q)
}

// handleSubmitAttempt handles POST /api/quizzes/{id}/attempts.
func (s *Server) handleSubmitAttempt(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var sub analysis.Submission
	if err := decodeBody(w, r, s.cfg.MaxBodyBytes, &sub); err != nil {
		writeError(w, r, err)
		return
	}
	a, err := s.svc.SubmitAttempt(r.Context(), owner, r.PathValue("id"), sub)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, a)
}

// handleGetAttempt handles GET /api/attempts/{id}.
func (s *Server) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, err := s.svc.Attempt(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, a)
}

// handleListAttempts handles GET /api/quizzes/{id}/attempts.
func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	attempts, err := s.svc.QuizAttempts(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []*analysis.Attempt{}
	}
	writeJSON(w, r, http.StatusOK, attemptList{Attempts: attempts})
}

// handleGenerateNotes handles POST /api/attempts/{id}/notes. Repeating the
// request returns the notes produced the first time.
func (s *Server) handleGenerateNotes(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.generationContext(r)
	defer cancel()
	done := s.metrics.track("notes")
	n, err := s.svc.GenerateNotes(ctx, owner, r.PathValue("id"))
	done(err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, n)
}

// handleGetNotes handles GET /api/notes/{id}.
func (s *Server) handleGetNotes(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := s.svc.Notes(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, n)
}

// handleListNotes handles GET /api/notes, optionally narrowed by the
// document_id query parameter.
func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ns, err := s.svc.NotesList(r.Context(), owner, r.URL.Query().Get("document_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ns == nil {
		ns = []*notes.Notes{}
	}
	writeJSON(w, r, http.StatusOK, notesList{Notes: ns})
}

// handleAnalytics handles GET /api/analytics.
func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := s.svc.Analytics(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, snap)
}
