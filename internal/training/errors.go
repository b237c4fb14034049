package training

import "errors"

// Sentinel errors for training runs.
var (
	// ErrInsufficientData is returned when fewer than the minimum number
	// of valid feature vectors survive filtering.
	ErrInsufficientData = errors.New("insufficient training data")
)
