// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"errors"
	"net/http"

	"github.com/keyprint/keyprint/internal/training"
)

// TrainHandler handles manual training requests.
type TrainHandler struct {
	deps Dependencies
}

// NewTrainHandler creates a new train handler.
func NewTrainHandler(deps Dependencies) *TrainHandler {
	return &TrainHandler{deps: deps}
}

// HandlePostTrain handles POST /api/profiler/train requests. The run is
// synchronous; the response carries the held-out quality figures.
func (h *TrainHandler) HandlePostTrain(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_train"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	record, err := h.deps.Train(r.Context())
	if err != nil {
		if errors.Is(err, training.ErrInsufficientData) {
			writeError(w, http.StatusBadRequest, "insufficient_data", WrapKind(op, ErrTraining, err))
			return
		}
		writeError(w, http.StatusInternalServerError, "training", WrapKind(op, ErrTraining, err))
		return
	}
	writeJSON(w, http.StatusOK, record)
}
