// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/keyprint/keyprint/internal/app"
	"github.com/keyprint/keyprint/internal/domain/event"
	"github.com/keyprint/keyprint/internal/training"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// SubmitLabeled persists one labeled typing session.
	SubmitLabeled(ctx context.Context, subject, platform string, events []event.Keystroke) error

	// Identify accumulates evidence for an identification session and
	// returns its current verdict.
	Identify(ctx context.Context, sessionID string, events []event.Keystroke) (app.IdentifyResult, error)

	// Train rebuilds the model from all persisted labeled sessions.
	Train(ctx context.Context) (*training.Metrics, error)
}

// Server wires HTTP routes for the profiler API.
type Server struct {
	sessionHandler  *SessionHandler
	identifyHandler *IdentifyHandler
	trainHandler    *TrainHandler
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
}

// NewServer creates a new API server with all handlers. authTokens maps
// bearer tokens to the subject labels they may submit sessions for.
func NewServer(deps Dependencies, statsProvider StatsProvider, authTokens map[string]string) *Server {
	return &Server{
		sessionHandler:  NewSessionHandler(deps, authTokens),
		identifyHandler: NewIdentifyHandler(deps),
		trainHandler:    NewTrainHandler(deps),
		healthHandler:   NewHealthHandler(statsProvider),
		statsHandler:    NewStatsHandler(statsProvider),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/api/profiler/session", MetricsMiddleware(s.sessionHandler.HandlePostSession, "session"))
	mux.HandleFunc("/api/profiler/identify", MetricsMiddleware(s.identifyHandler.HandlePostIdentify, "identify"))
	mux.HandleFunc("/api/profiler/train", MetricsMiddleware(s.trainHandler.HandlePostTrain, "train"))
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/metrics", s.healthHandler.HandleMetrics)
}

// sessionRequest is the payload for POST /api/profiler/session.
type sessionRequest struct {
	Platform string            `json:"platform"`
	Events   []event.Keystroke `json:"events"`
}

// identifyRequest is the payload for POST /api/profiler/identify.
type identifyRequest struct {
	SessionID string            `json:"sessionId"`
	Events    []event.Keystroke `json:"events"`
}

// identifyResponse is the verdict shape. Confidence is a percentage.
type identifyResponse struct {
	User        string  `json:"user"`
	Confidence  float64 `json:"confidence"`
	SampleCount int     `json:"sampleCount"`
	Status      string  `json:"status"`
	SessionID   string  `json:"sessionId"`
	Message     string  `json:"message,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
