// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// bearerPrefix on the Authorization header, case-insensitive.
const bearerPrefix = "bearer "

// SessionHandler handles labeled session submissions.
type SessionHandler struct {
	deps       Dependencies
	authTokens map[string]string
}

// NewSessionHandler creates a new session handler. authTokens maps bearer
// tokens to subject labels.
func NewSessionHandler(deps Dependencies, authTokens map[string]string) *SessionHandler {
	return &SessionHandler{deps: deps, authTokens: authTokens}
}

// HandlePostSession handles POST /api/profiler/session requests. The
// subject label is taken from the bearer token, never from the payload,
// so a client cannot pollute another subject's training data.
func (h *SessionHandler) HandlePostSession(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_session"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	subject, ok := h.subjectFor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", NewKind(op, ErrUnauthorized))
		return
	}

	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("missing events")))
		return
	}

	if err := h.deps.SubmitLabeled(r.Context(), subject, req.Platform, req.Events); err != nil {
		writeError(w, http.StatusInternalServerError, "persistence", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "training session recorded for " + subject})
}

// subjectFor resolves the bearer token to a subject label.
func (h *SessionHandler) subjectFor(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if len(auth) <= len(bearerPrefix) || !strings.EqualFold(auth[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(auth[len(bearerPrefix):])
	subject, ok := h.authTokens[token]
	if !ok || subject == "" {
		return "", false
	}
	return subject, true
}
