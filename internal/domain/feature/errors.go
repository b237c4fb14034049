package feature

import "errors"

// Sentinel errors for feature extraction.
var (
	// ErrInsufficientInput is returned when a training extraction is
	// requested over too few events.
	ErrInsufficientInput = errors.New("insufficient input events")
)
