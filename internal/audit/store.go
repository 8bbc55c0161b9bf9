// Package audit provides PostgreSQL-backed storage for administrative
// actions. Each entry captures who acted, what they did, and the subject,
// with free-form detail for moderator review. A small in-memory tail serves
// the common "what just happened" query without touching the database.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Action values recorded by the gateway.
const (
	ActionSealUser    = "seal_user"
	ActionSealIP      = "seal_ip"
	ActionUnsealUser  = "unseal_user"
	ActionUnsealIP    = "unseal_ip"
	ActionBanName     = "ban_username"
	ActionUnbanName   = "unban_username"
	ActionForceLogout = "force_logout"
	ActionConfig      = "update_config"
)

// validActions is the set of allowed action values, matching the CHECK
// constraint on the audit_log table.
var validActions = map[string]bool{
	ActionSealUser:    true,
	ActionSealIP:      true,
	ActionUnsealUser:  true,
	ActionUnsealIP:    true,
	ActionBanName:     true,
	ActionUnbanName:   true,
	ActionForceLogout: true,
	ActionConfig:      true,
}

// Entry represents a single administrative action to be persisted.
type Entry struct {
	Actor   string            `json:"actor"` // admin user id
	Action  string            `json:"action"`
	Subject string            `json:"subject"` // user id, ip, or username acted on
	Detail  map[string]string `json:"detail,omitempty"`
	At      time.Time         `json:"at"`
}

// Store manages the audit log in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates an audit store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts an audit entry. Detail is marshalled to JSONB. The action
// is validated against the allowed set before insertion.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if !validActions[e.Action] {
		return fmt.Errorf("audit: invalid action %q", e.Action)
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	var detailJSON []byte
	if len(e.Detail) > 0 {
		var err error
		detailJSON, err = json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("audit: marshal detail: %w", err)
		}
	}

	const query = `
		INSERT INTO audit_log (actor, action, subject, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.ExecContext(ctx, query, e.Actor, e.Action, e.Subject, detailJSON, e.At)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// ListRecent returns the newest entries, newest first, up to limit.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	const query = `
		SELECT actor, action, subject, COALESCE(detail, 'null'), created_at
		FROM audit_log
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: list recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var detailJSON []byte
		if err := rows.Scan(&e.Actor, &e.Action, &e.Subject, &detailJSON, &e.At); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
			return nil, fmt.Errorf("audit: decode detail: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: list recent: %w", err)
	}
	return out, nil
}

// CountRecentByActor returns the number of actions an admin performed within
// the given time window, for operational anomaly checks.
func (s *Store) CountRecentByActor(ctx context.Context, actor string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM audit_log
		WHERE actor = $1
		  AND created_at >= NOW() - $2::interval`

	var count int
	err := s.db.QueryRowContext(ctx, query, actor, window.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("audit: count by actor: %w", err)
	}
	return count, nil
}
