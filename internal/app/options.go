package app

import (
	"path/filepath"
	"time"

	"github.com/keyprint/keyprint/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStorePaths sets the session database and model artifact locations.
func WithStorePaths(dbPath, modelPath string) Option {
	return func(s *Service) {
		if dbPath != "" {
			s.dbPath = dbPath
		}
		if modelPath != "" {
			s.modelPath = modelPath
			s.metricsPath = filepath.Join(filepath.Dir(modelPath), "training_metrics.json")
		}
	}
}

// WithTemperature sets the softmax temperature used during calibration.
func WithTemperature(t float64) Option {
	return func(s *Service) {
		if t > 0 {
			s.temperature = t
		}
	}
}

// WithSessionTTL sets the idle lifetime of identification sessions.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// WithAutoTrain sets the labeled-session period that triggers background
// training. Zero disables auto-training.
func WithAutoTrain(every int) Option {
	return func(s *Service) {
		if every >= 0 {
			s.autoTrainEvery = every
		}
	}
}

// WithMinIdentifyEvents sets the minimum events per identify call.
func WithMinIdentifyEvents(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.minIdentifyEvents = n
		}
	}
}

// WithAuthThresholds sets the confidence thresholds for the
// Authenticated verdict: early applies while a session has three or
// fewer evidence samples, standard afterwards.
func WithAuthThresholds(standard, early float64) Option {
	return func(s *Service) {
		if standard > 0 && standard <= 1 {
			s.authThreshold = standard
		}
		if early > 0 && early <= 1 {
			s.authThresholdEarly = early
		}
	}
}

// WithEliminationSchedule sets the progressive elimination threshold
// parameters passed through to the evidence accumulator.
func WithEliminationSchedule(base, step, cap float64) Option {
	return func(s *Service) {
		s.eliminationBase = base
		s.eliminationStep = step
		s.eliminationCap = cap
	}
}

// WithTrainingTuning sets augmentation and validation parameters passed
// through to the trainer.
func WithTrainingTuning(augmentWindow, augmentStep, holdout float64, folds int) Option {
	return func(s *Service) {
		if augmentWindow > 0 && augmentWindow <= 1 {
			s.augmentWindow = augmentWindow
		}
		if augmentStep > 0 && augmentStep <= 1 {
			s.augmentStep = augmentStep
		}
		if holdout > 0 && holdout < 1 {
			s.holdout = holdout
		}
		if folds > 1 {
			s.folds = folds
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}
