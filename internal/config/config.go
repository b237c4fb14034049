// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() initializer to build a Config with defaults.
// - Load(ctx) layers defaults, an optional YAML file, and environment variables.
// - External errors are wrapped with this package's sentinels.
package config

import "time"

// Config contains process configuration for the identification service.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DBPath is the SQLite database file holding labeled sessions.
	DBPath string `koanf:"db_path"`

	// ModelPath is the on-disk location of the serialized model artifact.
	// A sibling training_metrics.json holds the last training metrics record.
	ModelPath string `koanf:"model_path"`

	// AuthTokens maps bearer tokens to subject labels for labeled submits.
	// Stands in for the external auth collaborator.
	AuthTokens map[string]string `koanf:"auth_tokens"`

	// Temperature scales raw classifier scores before softmax.
	Temperature float64 `koanf:"temperature"`

	// SessionTTL is the sliding inactivity window for identification sessions.
	SessionTTL time.Duration `koanf:"session_ttl"`

	// AutoTrainEvery triggers a background training run whenever the number
	// of persisted labeled sessions is a multiple of this value.
	AutoTrainEvery int `koanf:"auto_train_every"`

	// MinIdentifyEvents is the minimum event count accepted by identify.
	MinIdentifyEvents int `koanf:"min_identify_events"`

	// Augmentation sliding-window fractions over the session event count.
	AugmentWindowFraction float64 `koanf:"augment_window_fraction"`
	AugmentStepFraction   float64 `koanf:"augment_step_fraction"`

	// TrainTestSplit is the held-out fraction for single-split evaluation.
	TrainTestSplit float64 `koanf:"train_test_split"`

	// CVFolds is the fold count for k-fold cross-validation.
	CVFolds int `koanf:"cv_folds"`

	// Progressive elimination threshold schedule.
	EliminationBase float64 `koanf:"elimination_base"`
	EliminationStep float64 `koanf:"elimination_step"`
	EliminationCap  float64 `koanf:"elimination_cap"`

	// Authentication thresholds on adjusted confidence.
	AuthThreshold      float64 `koanf:"auth_threshold"`
	AuthThresholdEarly float64 `koanf:"auth_threshold_early"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		Addr:                  ":8090",
		DBPath:                "keyprint.db",
		ModelPath:             "keyprint_model.bin",
		AuthTokens:            map[string]string{},
		Temperature:           1.0,
		SessionTTL:            10 * time.Minute,
		AutoTrainEvery:        10,
		MinIdentifyEvents:     5,
		AugmentWindowFraction: 0.7,
		AugmentStepFraction:   0.3,
		TrainTestSplit:        0.15,
		CVFolds:               5,
		EliminationBase:       0.05,
		EliminationStep:       0.05,
		EliminationCap:        0.50,
		AuthThreshold:         0.75,
		AuthThresholdEarly:    0.90,
	}
}
