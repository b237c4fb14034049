package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	raw_data_json TEXT NOT NULL,
	platform      TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
`

const defaultPoolSize = 4

// SQLiteStore implements Store over a zombiezen sqlitex connection pool
// with WAL mode. Safe for concurrent use; individual connections are not
// shared between goroutines.
type SQLiteStore struct {
	pool *sqlitex.Pool

	mu     sync.Mutex
	closed bool
}

// Option applies a configuration option to openSQLite.
type Option func(*openOptions)

type openOptions struct {
	poolSize int
}

// WithPoolSize sets the connection pool size.
func WithPoolSize(n int) Option {
	return func(o *openOptions) {
		if n > 0 {
			o.poolSize = n
		}
	}
}

// OpenSQLite opens (and if needed creates) the session database at path.
// Use ":memory:" with a pool size of 1 for tests.
func OpenSQLite(path string, opts ...Option) (*SQLiteStore, error) {
	o := &openOptions{poolSize: defaultPoolSize}
	for _, opt := range opts {
		opt(o)
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: o.poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			pragmas := []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
				"PRAGMA busy_timeout=5000",
			}
			for _, pragma := range pragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("%s: %w", pragma, err)
				}
			}
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open session store %s: %w", path, err)
	}
	return &SQLiteStore{pool: pool}, nil
}

// Save appends a session row.
func (s *SQLiteStore) Save(ctx context.Context, row Session) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO sessions (id, user_id, raw_data_json, platform, created_at) VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{row.ID, row.UserID, row.RawData, row.Platform, row.CreatedAt.UnixMilli()},
		})
	if err != nil {
		return fmt.Errorf("%w: insert session %s: %v", ErrPersistence, row.ID, err)
	}
	return nil
}

// ListLabeled returns every trusted-label session, oldest first.
func (s *SQLiteStore) ListLabeled(ctx context.Context) ([]Session, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var rows []Session
	err = sqlitex.Execute(conn,
		`SELECT id, user_id, raw_data_json, platform, created_at
		 FROM sessions
		 WHERE user_id != '' AND user_id != 'Unknown'
		 ORDER BY created_at ASC`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rows = append(rows, Session{
					ID:        stmt.ColumnText(0),
					UserID:    stmt.ColumnText(1),
					RawData:   stmt.ColumnText(2),
					Platform:  stmt.ColumnText(3),
					CreatedAt: time.UnixMilli(stmt.ColumnInt64(4)),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("list labeled sessions: %w", err)
	}
	return rows, nil
}

// CountLabeled returns the number of trusted-label sessions.
func (s *SQLiteStore) CountLabeled(ctx context.Context) (int, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	count := 0
	err = sqlitex.Execute(conn,
		`SELECT COUNT(*) FROM sessions WHERE user_id != '' AND user_id != 'Unknown'`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("count labeled sessions: %w", err)
	}
	return count, nil
}

// Close releases the pool. Subsequent calls are no-ops.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("close session store: %w", err)
	}
	return nil
}

func (s *SQLiteStore) take(ctx context.Context) (*sqlite.Conn, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("take connection: %w", err)
	}
	return conn, nil
}
