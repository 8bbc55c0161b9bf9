package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store mirrors connection records into PostgreSQL for operator visibility.
// All writes are best-effort; the in-memory index in Registry stays
// authoritative for live state.
type Store struct {
	db *sql.DB
}

// NewStore creates a connection-record store backed by the given database
// handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert records a newly accepted connection.
func (s *Store) Insert(ctx context.Context, connID, remoteAddr string, createdAt time.Time) error {
	const query = `
		INSERT INTO connections (id, remote_addr, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, connID, remoteAddr, createdAt); err != nil {
		return fmt.Errorf("registry: insert connection: %w", err)
	}
	return nil
}

// SetUser populates the user field once the connection authenticates. An
// empty userID clears the field, for logout.
func (s *Store) SetUser(ctx context.Context, connID, userID string) error {
	const query = `UPDATE connections SET user_id = NULLIF($2, '') WHERE id = $1`

	if _, err := s.db.ExecContext(ctx, query, connID, userID); err != nil {
		return fmt.Errorf("registry: set connection user: %w", err)
	}
	return nil
}

// Delete removes a connection record. Deleting an absent row is not an error.
func (s *Store) Delete(ctx context.Context, connID string) error {
	const query = `DELETE FROM connections WHERE id = $1`

	if _, err := s.db.ExecContext(ctx, query, connID); err != nil {
		return fmt.Errorf("registry: delete connection: %w", err)
	}
	return nil
}

// PurgeAll clears every connection record. Run at startup: a single gateway
// process owns all live connections, so rows from a previous process are
// stale by definition.
func (s *Store) PurgeAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM connections`); err != nil {
		return fmt.Errorf("registry: purge connections: %w", err)
	}
	return nil
}

// CountByUser returns the number of recorded connections for a user, for
// operational queries against the durable mirror.
func (s *Store) CountByUser(ctx context.Context, userID string) (int, error) {
	const query = `SELECT COUNT(*) FROM connections WHERE user_id = $1`

	var count int
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("registry: count connections: %w", err)
	}
	return count, nil
}
