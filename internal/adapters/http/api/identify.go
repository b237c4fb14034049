// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/keyprint/keyprint/internal/app"
	"github.com/keyprint/keyprint/internal/domain/feature"
)

// IdentifyHandler handles identification evidence submissions.
type IdentifyHandler struct {
	deps Dependencies
}

// NewIdentifyHandler creates a new identify handler.
func NewIdentifyHandler(deps Dependencies) *IdentifyHandler {
	return &IdentifyHandler{deps: deps}
}

// HandlePostIdentify handles POST /api/profiler/identify requests. Each
// call adds one evidence batch to the session named by sessionId (one is
// allocated when absent) and returns the session's progressive verdict.
func (h *IdentifyHandler) HandlePostIdentify(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_identify"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var req identifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	result, err := h.deps.Identify(r.Context(), req.SessionID, req.Events)
	if err != nil {
		if errors.Is(err, feature.ErrInsufficientInput) {
			writeError(w, http.StatusBadRequest, "insufficient_events", WrapKind(op, ErrBadRequest, err))
			return
		}
		writeError(w, http.StatusInternalServerError, "identify", err)
		return
	}

	writeJSON(w, http.StatusOK, identifyResponse{
		User:        result.User,
		Confidence:  result.Confidence * 100,
		SampleCount: result.SampleCount,
		Status:      string(result.Status),
		SessionID:   result.SessionID,
		Message:     verdictMessage(result),
	})
}

func verdictMessage(result app.IdentifyResult) string {
	switch result.Status {
	case app.StatusAuthenticated:
		return fmt.Sprintf("identified as %s", result.User)
	case app.StatusContinue:
		return "collecting evidence"
	default:
		return "model not trained"
	}
}
