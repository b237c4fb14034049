package classifier

import "errors"

// Sentinel errors for model fitting, prediction and persistence.
var (
	// ErrModelNotReady is returned when prediction is requested with no
	// fitted artifact present.
	ErrModelNotReady = errors.New("model not ready")

	// ErrSchemaMismatch is returned when an artifact was trained under a
	// different feature schema version.
	ErrSchemaMismatch = errors.New("feature schema mismatch")

	// ErrFit is returned for invalid fit inputs.
	ErrFit = errors.New("fit failed")

	// ErrArtifactCodec is returned for artifact serialization failures.
	ErrArtifactCodec = errors.New("artifact codec failure")
)
