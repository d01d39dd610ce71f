package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/quizforge/internal/auth"
	"github.com/gokatarajesh/quizforge/internal/logging"
	"github.com/gokatarajesh/quizforge/internal/quiz"
	"github.com/gokatarajesh/quizforge/internal/session"
	httperrors "github.com/gokatarajesh/quizforge/pkg/http/errors"
)

const maxBodyBytes = 1 << 20

type sessionHandlers struct {
	engine Engine
}

type nextResponse struct {
	Question *quiz.PublicQuestion `json:"question"`
}

// create handles POST /v1/sessions
func (h *sessionHandlers) create(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var in session.CreateInput
	if !decodeBody(w, r, &in) {
		return
	}
	snap, err := h.engine.CreateSession(r.Context(), owner, in)
	if err != nil {
		h.fail(w, r, err, "create session failed")
		return
	}
	respondJSON(w, http.StatusCreated, snap)
}

// get handles GET /v1/sessions/{token}
func (h *sessionHandlers) get(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	snap, err := h.engine.GetSnapshot(r.Context(), chi.URLParam(r, "token"), owner)
	if err != nil {
		h.fail(w, r, err, "get session failed")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// next handles POST /v1/sessions/{token}/next
func (h *sessionHandlers) next(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	q, err := h.engine.NextQuestion(r.Context(), chi.URLParam(r, "token"), owner)
	if err != nil {
		h.fail(w, r, err, "next question failed")
		return
	}
	respondJSON(w, http.StatusOK, nextResponse{Question: q})
}

// submit handles POST /v1/sessions/{token}/answers
func (h *sessionHandlers) submit(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var in session.SubmitInput
	if !decodeBody(w, r, &in) {
		return
	}
	if in.QuestionID == uuid.Nil {
		httperrors.RespondValidationError(w, "questionId is required", "questionId")
		return
	}
	res, err := h.engine.SubmitAnswer(r.Context(), chi.URLParam(r, "token"), owner, in)
	if err != nil {
		h.fail(w, r, err, "submit answer failed")
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// preferences handles PATCH /v1/sessions/{token}/preferences
func (h *sessionHandlers) preferences(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var prefs quiz.Preferences
	if !decodeBody(w, r, &prefs) {
		return
	}
	snap, err := h.engine.SetPreferences(r.Context(), chi.URLParam(r, "token"), owner, prefs)
	if err != nil {
		h.fail(w, r, err, "set preferences failed")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// finish handles POST /v1/sessions/{token}/finish
func (h *sessionHandlers) finish(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	summary, err := h.engine.Finish(r.Context(), chi.URLParam(r, "token"), owner)
	if err != nil {
		h.fail(w, r, err, "finish session failed")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (h *sessionHandlers) owner(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	owner, ok := auth.OwnerFromContext(r.Context())
	if !ok {
		httperrors.RespondUnauthorized(w, httperrors.ErrCodeAuthenticationRequired, "Authentication required")
	}
	return owner, ok
}

// fail logs server-side failures at error level and caller mistakes at
// debug, then writes the mapped response.
func (h *sessionHandlers) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	logger := logging.FromContext(r.Context(), zerolog.Nop())
	if session.IsCallerError(err) {
		logger.Debug().Err(err).Msg(msg)
	} else {
		logger.Error().Err(err).Msg(msg)
	}
	httperrors.RespondDomainError(w, err)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "Invalid JSON payload")
		return false
	}
	return true
}
