// Package history persists a log of processed queries so operators can
// audit what the agent did and how confident it was.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS queries (
	id             TEXT PRIMARY KEY,
	query          TEXT NOT NULL,
	operation      TEXT NOT NULL,
	success        INTEGER NOT NULL,
	confidence     REAL NOT NULL,
	execution_time REAL NOT NULL,
	created_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queries_created ON queries(created_at DESC);
`

// Record is one processed query.
type Record struct {
	ID            string    `db:"id" json:"id"`
	Query         string    `db:"query" json:"query"`
	Operation     string    `db:"operation" json:"operation"`
	Success       bool      `db:"success" json:"success"`
	Confidence    float64   `db:"confidence" json:"confidence"`
	ExecutionTime float64   `db:"execution_time" json:"execution_time"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Store is the sqlite-backed query log.
type Store struct {
	db *sqlx.DB
}

// Open creates (or opens) the history database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Add appends one record. A zero ID gets a fresh UUID; a zero CreatedAt
// gets the current time.
func (s *Store) Add(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queries (id, query, operation, success, confidence, execution_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Query, rec.Operation, rec.Success, rec.Confidence, rec.ExecutionTime, rec.CreatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("recording query: %w", err)
	}
	return rec, nil
}

// List returns records newest-first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []Record
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, query, operation, success, confidence, execution_time, created_at
		FROM queries
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing queries: %w", err)
	}
	return out, nil
}

// Count returns the total number of recorded queries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM queries`); err != nil {
		return 0, fmt.Errorf("counting queries: %w", err)
	}
	return n, nil
}
