// Package directory provides read access to the user records the gateway
// needs: resolving usernames to ids for moderation actions and labelling
// freshly registered accounts.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// NewUserAge is how long an account counts as "new" for the new-user
// posting restriction.
const NewUserAge = 24 * time.Hour

// ErrUserNotFound is returned when no user matches the query.
var ErrUserNotFound = errors.New("directory: user not found")

// Store reads user records from PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a directory store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// FindIDByUsername resolves a username to its user id.
func (s *Store) FindIDByUsername(ctx context.Context, username string) (string, error) {
	const query = `SELECT id FROM users WHERE username = $1`

	var id string
	err := s.db.QueryRowContext(ctx, query, username).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("directory: find user by name: %w", err)
	}
	return id, nil
}

// UsernamesByID resolves a batch of user ids to their usernames. Unknown ids
// are silently absent from the result, which suits administrative listings
// where a sealed id may belong to a since-deleted account.
func (s *Store) UsernamesByID(ctx context.Context, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}

	const query = `SELECT id, username FROM users WHERE id = ANY($1)`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("directory: usernames by id: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string, len(ids))
	for rows.Next() {
		var id, username string
		if err := rows.Scan(&id, &username); err != nil {
			return nil, fmt.Errorf("directory: scan username row: %w", err)
		}
		out[id] = username
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directory: usernames by id: %w", err)
	}
	return out, nil
}

// IsNewUser reports whether the account was created within NewUserAge.
func (s *Store) IsNewUser(ctx context.Context, userID string) (bool, error) {
	const query = `SELECT created_at FROM users WHERE id = $1`

	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrUserNotFound
	}
	if err != nil {
		return false, fmt.Errorf("directory: new-user check: %w", err)
	}
	return time.Since(createdAt) < NewUserAge, nil
}

// LastLoginIP returns the user's last recorded login IP, or "" when never
// recorded. Used by the seal-all-online-IPs administrative action.
func (s *Store) LastLoginIP(ctx context.Context, userID string) (string, error) {
	const query = `SELECT COALESCE(last_login_ip, '') FROM users WHERE id = $1`

	var ip string
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&ip)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("directory: last login ip: %w", err)
	}
	return ip, nil
}
