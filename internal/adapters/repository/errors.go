package repository

import "errors"

// Sentinel errors for the session store.
var (
	// ErrPersistence wraps store write failures.
	ErrPersistence = errors.New("persistence failure")

	// ErrClosed is returned after the store has been closed.
	ErrClosed = errors.New("store closed")
)
