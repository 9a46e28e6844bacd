// Package handler exposes the exam engine as a JSON API for a local UI.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pavelanni/mockexam/internal/exam"
	"github.com/pavelanni/mockexam/internal/i18n"
	"github.com/pavelanni/mockexam/internal/model"
	"github.com/pavelanni/mockexam/internal/store"
)

// Papers registers uploaded papers by content hash.
type Papers interface {
	PutPaper(ctx context.Context, hash, title string, filePaths []string) (store.Paper, bool, error)
}

// Results archives finished attempts.
type Results interface {
	SaveResult(ctx context.Context, r model.SessionExport) error
}

// Options holds the optional collaborators of a Handler.
type Options struct {
	Papers  Papers
	Results Results
	Logger  *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	engine  *exam.Engine
	papers  Papers
	results Results
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a new Handler.
func New(engine *exam.Engine, opts Options) *Handler {
	h := &Handler{
		engine:  engine,
		papers:  opts.Papers,
		results: opts.Results,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Routes registers all API routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.handleStatus)
		r.Post("/papers", h.handleUploadPaper)
		r.Post("/resume", h.handleResume)
		r.Post("/reset", h.handleReset)

		r.Get("/questions", h.handleQuestions)
		r.Get("/questions/current", h.handleCurrent)
		r.Route("/questions/{qid}", func(r chi.Router) {
			r.Put("/answer", h.handleAnswer)
			r.Post("/submit", h.handleSubmit)
			r.Post("/skip", h.handleSkip)
			r.Get("/page", h.handlePage)
			r.Post("/hint", h.handleHint)
			r.Post("/explain", h.handleExplain)
			r.Post("/followup", h.handleFollowUp)
			r.Put("/quote", h.handleQuoteDraft)
			r.Post("/quote/insert", h.handleInsertQuote)
		})
		r.Post("/next", h.handleNext)
		r.Post("/goto", h.handleGoTo)

		r.Post("/finish", h.handleFinish)
		r.Get("/summary", h.handleSummary)
		r.Post("/studyplan", h.handleStudyPlan)
		r.Get("/export", h.handleExport)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Status())
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"resumed": h.engine.Resume(r.Context())})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Reset(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleFinish(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.Finish(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.results != nil {
		if err := h.results.SaveResult(r.Context(), h.engine.Export(h.now())); err != nil {
			h.logger.Error("failed to archive result", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Summary())
}

func (h *Handler) handleStudyPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.engine.StudyPlan(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, textResponse{Text: plan})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Disposition", `attachment; filename="mockexam-results.json"`)
	writeJSON(w, http.StatusOK, h.engine.Export(h.now()))
}

type textResponse struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeError maps engine errors to a status and a localized message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msgID := Classify(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		h.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: i18n.T(r.Context(), msgID), Detail: err.Error()})
}

// Classify returns the HTTP status and message ID for an engine error.
func Classify(err error) (int, string) {
	var pe *model.ParseError
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "ErrBadRequest"
	case errors.Is(err, model.ErrNotGraded):
		return http.StatusConflict, "ErrNoFeedback"
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, "ErrInvalidAnswer"
	case errors.Is(err, model.ErrUnknownQuestion):
		return http.StatusNotFound, "ErrUnknownQuestion"
	case errors.Is(err, model.ErrAlreadyGraded):
		return http.StatusConflict, "ErrAlreadyGraded"
	case errors.Is(err, model.ErrWrongPhase):
		return http.StatusConflict, "ErrWrongPhase"
	case errors.Is(err, model.ErrNoQuestions), errors.As(err, &pe):
		return http.StatusUnprocessableEntity, "ErrNoQuestions"
	default:
		return http.StatusInternalServerError, "ErrInternal"
	}
}
