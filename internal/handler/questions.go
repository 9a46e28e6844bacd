package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pavelanni/mockexam/internal/model"
)

var errBadRequest = errors.New("bad request")

const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

type questionView struct {
	model.Question
	Answer   *model.Answer   `json:"answer,omitempty"`
	Feedback *model.Feedback `json:"feedback,omitempty"`
	Skipped  bool            `json:"skipped"`
}

func view(s model.Session, q model.Question) questionView {
	v := questionView{Question: q, Skipped: s.Skipped[q.ID]}
	if a, ok := s.Answers[q.ID]; ok {
		v.Answer = &a
	}
	if fb, ok := s.Feedback[q.ID]; ok {
		v.Feedback = &fb
	}
	return v
}

func (h *Handler) handleQuestions(w http.ResponseWriter, r *http.Request) {
	s := h.engine.Snapshot()
	out := make([]questionView, 0, len(s.Questions))
	for _, q := range s.Questions {
		out = append(out, view(s, q))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	q, idx, err := h.engine.Current()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Index int `json:"index"`
		questionView
	}{Index: idx, questionView: view(h.engine.Snapshot(), q)})
}

func (h *Handler) question(r *http.Request) (model.Question, error) {
	qid := chi.URLParam(r, "qid")
	s := h.engine.Snapshot()
	q, ok := s.Question(qid)
	if !ok {
		return model.Question{}, fmt.Errorf("%w: %s", model.ErrUnknownQuestion, qid)
	}
	return q, nil
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	q, err := h.question(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req struct {
		Answer json.RawMessage `json:"answer"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(req.Answer) == 0 {
		h.writeError(w, r, fmt.Errorf("%w: answer is required", model.ErrValidation))
		return
	}
	a, err := model.ParseAnswer(q.Type, req.Answer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.engine.RecordAnswer(r.Context(), q.ID, a); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	fb, err := h.engine.Submit(r.Context(), chi.URLParam(r, "qid"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fb)
}

type moveResponse struct {
	Next int  `json:"next"`
	Done bool `json:"done"`
}

func (h *Handler) handleSkip(w http.ResponseWriter, r *http.Request) {
	next, done, err := h.engine.Skip(r.Context(), chi.URLParam(r, "qid"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, moveResponse{Next: next, Done: done})
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	next, done, err := h.engine.Next(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, moveResponse{Next: next, Done: done})
}

func (h *Handler) handleGoTo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index *int `json:"index"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Index == nil {
		h.writeError(w, r, fmt.Errorf("%w: index is required", errBadRequest))
		return
	}
	if err := h.engine.GoTo(r.Context(), *req.Index); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, moveResponse{Next: *req.Index})
}

func (h *Handler) handlePage(w http.ResponseWriter, r *http.Request) {
	q, err := h.question(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	page, ok := h.engine.PageFor(q.ID)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handleHint(w http.ResponseWriter, r *http.Request) {
	text, err := h.engine.Hint(r.Context(), chi.URLParam(r, "qid"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, textResponse{Text: text})
}

func (h *Handler) handleExplain(w http.ResponseWriter, r *http.Request) {
	text, err := h.engine.Explain(r.Context(), chi.URLParam(r, "qid"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, textResponse{Text: text})
}

func (h *Handler) handleFollowUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	msg, err := h.engine.FollowUp(r.Context(), chi.URLParam(r, "qid"), req.Message)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) handleQuoteDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.engine.SetQuoteDraft(r.Context(), chi.URLParam(r, "qid"), req.Text); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleInsertQuote(w http.ResponseWriter, r *http.Request) {
	q, err := h.question(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	inserted, err := h.engine.InsertQuote(r.Context(), q.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"inserted": inserted})
}
