// Package repository persists labeled typing sessions in SQLite.
package repository

import (
	"context"
	"time"
)

// Session is a persisted typing session row. RawDataJSON holds the
// client's keystroke events serialized as JSON. Rows are immutable after
// creation.
type Session struct {
	ID        string
	UserID    string
	RawData   string
	Platform  string
	CreatedAt time.Time
}

// Store provides append and read access to persisted sessions.
type Store interface {
	// Save appends a session row.
	Save(ctx context.Context, s Session) error

	// ListLabeled returns every session with a trusted subject label
	// (non-empty and not "Unknown"), oldest first.
	ListLabeled(ctx context.Context) ([]Session, error)

	// CountLabeled returns the number of labeled sessions.
	CountLabeled(ctx context.Context) (int, error)

	// Close releases the underlying connections.
	Close() error
}
