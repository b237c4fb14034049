// Package app provides the core business service implementing the
// dependencies required by the HTTP API: submit, identify and train.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keyprint/keyprint/internal/adapters/repository"
	"github.com/keyprint/keyprint/internal/domain/calibrate"
	"github.com/keyprint/keyprint/internal/domain/classifier"
	"github.com/keyprint/keyprint/internal/domain/event"
	"github.com/keyprint/keyprint/internal/domain/evidence"
	"github.com/keyprint/keyprint/internal/domain/feature"
	"github.com/keyprint/keyprint/internal/training"
	"github.com/keyprint/keyprint/pkg/logger"
	"github.com/keyprint/keyprint/pkg/metrics"
)

// Status is the progressive identification verdict on the wire.
type Status string

// Verdict statuses.
const (
	StatusAuthenticated Status = "Authenticated"
	StatusContinue      Status = "Continue"
	StatusError         Status = "Error"
)

// Default service configuration.
const (
	defaultMinIdentifyEvents  = 5
	defaultAutoTrainEvery     = 10
	defaultAuthThreshold      = 0.75
	defaultAuthThresholdEarly = 0.90
	defaultTemperature        = 1.0
	defaultSessionTTL         = 10 * time.Minute

	// Sample counts at or below this use the stricter early threshold.
	earlySampleCount = 3
)

// IdentifyResult is the outcome of one identify call.
type IdentifyResult struct {
	User        string
	Confidence  float64 // 0..1
	SampleCount int
	Status      Status
	SessionID   string
}

// Service implements the API dependencies for the identification system.
type Service struct {
	mu sync.RWMutex

	// Core components
	store       repository.Store
	accumulator *evidence.Accumulator
	calibrator  *calibrate.Calibrator
	trainer     *training.Trainer

	// Live model artifact: read by every identify, replaced only by a
	// successful train. Readers take a snapshot under artifactMu and
	// predict outside it.
	artifactMu sync.Mutex
	artifact   *classifier.Artifact

	// Configuration
	dbPath             string
	modelPath          string
	metricsPath        string
	temperature        float64
	sessionTTL         time.Duration
	autoTrainEvery     int
	minIdentifyEvents  int
	authThreshold      float64
	authThresholdEarly float64
	eliminationBase    float64
	eliminationStep    float64
	eliminationCap     float64
	augmentWindow      float64
	augmentStep        float64
	holdout            float64
	folds              int

	// State
	started bool
	cancel  context.CancelFunc

	logger logger.Logger
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		dbPath:             "keyprint.db",
		modelPath:          "keyprint_model.bin",
		metricsPath:        "training_metrics.json",
		temperature:        defaultTemperature,
		sessionTTL:         defaultSessionTTL,
		autoTrainEvery:     defaultAutoTrainEvery,
		minIdentifyEvents:  defaultMinIdentifyEvents,
		authThreshold:      defaultAuthThreshold,
		authThresholdEarly: defaultAuthThresholdEarly,
		eliminationBase:    0.05,
		eliminationStep:    0.05,
		eliminationCap:     0.50,
		augmentWindow:      0.7,
		augmentStep:        0.3,
		holdout:            0.15,
		folds:              5,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes the store, loads any persisted model artifact and
// launches the evidence janitor.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}

	store, err := repository.OpenSQLite(s.dbPath)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	s.store = store

	s.calibrator = calibrate.New(calibrate.WithTemperature(s.temperature))
	s.accumulator = evidence.New(
		evidence.WithTTL(s.sessionTTL),
		evidence.WithEliminationSchedule(s.eliminationBase, s.eliminationStep, s.eliminationCap),
		evidence.WithLogger(s.logger.Named("evidence")),
	)
	s.trainer = training.New(s.store,
		training.WithAugmentation(s.augmentWindow, s.augmentStep),
		training.WithHoldout(s.holdout),
		training.WithFolds(s.folds),
		training.WithArtifactPaths(s.modelPath, s.metricsPath),
		training.WithLogger(s.logger.Named("training")),
	)

	janitorCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.accumulator.Start(janitorCtx)

	if artifact, err := classifier.Load(s.modelPath); err == nil {
		s.setArtifact(artifact)
		s.logger.Info(ctx, "loaded model artifact",
			logger.String("path", s.modelPath),
			logger.Int("labels", len(artifact.Labels)),
		)
	} else if !errors.Is(err, classifier.ErrModelNotReady) {
		s.logger.Warn(ctx, "ignoring unreadable model artifact",
			logger.String("path", s.modelPath), logger.Error(err))
	}

	s.started = true
	s.logger.Info(ctx, "identification service started",
		logger.String("db", s.dbPath),
		logger.String("model", s.modelPath),
	)
	return nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.accumulator.Stop()
	if err := s.store.Close(); err != nil {
		s.logger.Error(context.Background(), "closing session store", logger.Error(err))
	}
	s.started = false
	s.logger.Info(context.Background(), "identification service stopped")
}

// SubmitLabeled persists a labeled typing session and, when the labeled
// count reaches a multiple of the auto-train period, kicks off a
// background training run.
func (s *Service) SubmitLabeled(ctx context.Context, subject, platform string, events []event.Keystroke) error {
	raw, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("serialize events: %w", err)
	}

	row := repository.Session{
		ID:        uuid.NewString(),
		UserID:    subject,
		RawData:   string(raw),
		Platform:  platform,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Save(ctx, row); err != nil {
		metrics.RecordPersistenceError()
		return err
	}
	metrics.RecordSessionPersisted()

	count, err := s.store.CountLabeled(ctx)
	if err != nil {
		s.logger.Warn(ctx, "labeled count unavailable; skipping auto-train check", logger.Error(err))
		return nil
	}
	if s.autoTrainEvery > 0 && count%s.autoTrainEvery == 0 {
		s.logger.Info(ctx, "auto-train triggered", logger.Int("labeledSessions", count))
		go func() {
			// Detached from the request; auto-train is fire-and-forget.
			if _, err := s.Train(context.Background()); err != nil {
				s.logger.Error(context.Background(), "auto-train failed", logger.Error(err))
			}
		}()
	}
	return nil
}

// Identify runs the full pipeline over one evidence submission and
// returns the session's progressive verdict. An absent model yields a
// benign Unknown/Error result, not a failure.
func (s *Service) Identify(ctx context.Context, sessionID string, events []event.Keystroke) (IdentifyResult, error) {
	start := time.Now()
	defer func() {
		metrics.RecordIdentifyLatency(float64(time.Since(start).Milliseconds()))
	}()

	if len(events) < s.minIdentifyEvents {
		return IdentifyResult{}, fmt.Errorf("%w: %d events, need %d",
			feature.ErrInsufficientInput, len(events), s.minIdentifyEvents)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	artifact := s.snapshotArtifact()
	if artifact == nil {
		metrics.RecordIdentification(string(StatusError))
		return IdentifyResult{
			User:      evidence.UnknownLabel,
			Status:    StatusError,
			SessionID: sessionID,
		}, nil
	}

	vector := feature.Extract(event.Normalize(events), "")
	labels, scores, err := artifact.Predict(vector)
	if err != nil {
		metrics.RecordIdentification(string(StatusError))
		s.logger.Error(ctx, "prediction failed", logger.Error(err))
		return IdentifyResult{
			User:      evidence.UnknownLabel,
			Status:    StatusError,
			SessionID: sessionID,
		}, nil
	}

	prediction := s.calibrator.Calibrate(labels, scores)
	probs := make([]float64, len(prediction.Probabilities))
	for i, p := range prediction.Probabilities {
		probs[i] = float64(p)
	}

	verdict := s.accumulator.AddEvidence(ctx, sessionID, prediction.Labels, probs)

	// The session belief is capped by this sample's adjusted confidence:
	// an ambiguous sample cannot authenticate no matter how much evidence
	// has accumulated.
	confidence := verdict.Confidence
	if prediction.AdjustedConfidence < confidence {
		confidence = prediction.AdjustedConfidence
	}

	status := StatusContinue
	threshold := s.authThresholdEarly
	if verdict.SampleCount > earlySampleCount {
		threshold = s.authThreshold
	}
	if confidence > threshold {
		status = StatusAuthenticated
	}

	metrics.RecordIdentification(string(status))
	metrics.RecordIdentifyConfidence(confidence)

	s.logger.Debug(ctx, "identify step",
		logger.String("sessionID", sessionID),
		logger.String("user", verdict.Label),
		logger.Float64("confidence", confidence),
		logger.Float64("sessionConfidence", verdict.Confidence),
		logger.Int("sampleCount", verdict.SampleCount),
		logger.Int("survivors", verdict.Survivors),
		logger.Float64("entropy", prediction.Entropy),
		logger.Float64("margin", prediction.TopTwoMargin),
	)

	return IdentifyResult{
		User:        verdict.Label,
		Confidence:  confidence,
		SampleCount: verdict.SampleCount,
		Status:      status,
		SessionID:   sessionID,
	}, nil
}

// Train synchronously rebuilds the model and swaps the live artifact on
// success. In-flight predictions keep their snapshot; the next identify
// sees the new labels.
func (s *Service) Train(ctx context.Context) (*training.Metrics, error) {
	artifact, record, err := s.trainer.Run(ctx)
	if err != nil {
		return nil, err
	}
	s.setArtifact(artifact)
	s.logger.Info(ctx, "live model swapped",
		logger.Int("labels", len(artifact.Labels)),
		logger.String("algorithm", record.Algorithm),
	)
	return record, nil
}

// ModelReady reports whether a live artifact is present.
func (s *Service) ModelReady() bool {
	return s.snapshotArtifact() != nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]interface{} {
	stats := map[string]interface{}{
		"modelReady":      false,
		"knownSubjects":   0,
		"activeSessions":  0,
		"labeledSessions": 0,
	}

	if artifact := s.snapshotArtifact(); artifact != nil {
		stats["modelReady"] = true
		stats["knownSubjects"] = len(artifact.Labels)
		stats["algorithm"] = string(artifact.Algorithm)
		stats["trainedAt"] = artifact.TrainedAt
	}

	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if started {
		stats["activeSessions"] = s.accumulator.ActiveSessions()
		if count, err := s.store.CountLabeled(ctx); err == nil {
			stats["labeledSessions"] = count
		}
	}
	return stats
}

func (s *Service) snapshotArtifact() *classifier.Artifact {
	s.artifactMu.Lock()
	defer s.artifactMu.Unlock()
	return s.artifact
}

func (s *Service) setArtifact(a *classifier.Artifact) {
	s.artifactMu.Lock()
	s.artifact = a
	s.artifactMu.Unlock()
	metrics.RecordModelReload()
	metrics.UpdateModelLabels(len(a.Labels))
}
