// Package moderation provides Redis-backed seal and ban management. Seals are
// moderation blocks on users or IP addresses stored as key-value pairs with
// optional TTL-based expiry:
//
//	Key:   seal:user:<user_id>  or  seal:ip:<ip>
//	Value: the subject id
//	TTL:   seal duration (0 = permanent)
//
// Banned usernames live in a separate permanent namespace (bannedname:<name>)
// and only block future registrations.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// SubjectKind distinguishes the seal namespaces so a sealed user id and a
// sealed IP can never collide.
type SubjectKind string

const (
	SubjectUser SubjectKind = "user"
	SubjectIP   SubjectKind = "ip"
)

const (
	sealPrefix       = "seal:"
	bannedNamePrefix = "bannedname:"

	// DefaultUserSealTTL is the default duration for user seals.
	DefaultUserSealTTL = 10 * time.Minute

	// DefaultIPSealTTL is the default duration for IP seals.
	DefaultIPSealTTL = 6 * time.Hour
)

var (
	// ErrAlreadySealed is returned by Seal when the subject already has an
	// active seal. The existing entry (including its TTL) is left untouched;
	// callers must unseal first to re-seal with a different duration.
	ErrAlreadySealed = errors.New("moderation: subject already sealed")

	// ErrNotSealed is returned by Unseal when the subject has no active seal.
	ErrNotSealed = errors.New("moderation: subject not sealed")

	// ErrAlreadyBanned is returned by BanUsername for a name already banned.
	ErrAlreadyBanned = errors.New("moderation: username already banned")

	// ErrNotBanned is returned by UnbanUsername for a name not banned.
	ErrNotBanned = errors.New("moderation: username not banned")
)

// Store manages seal and banned-username records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a moderation store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func sealKey(kind SubjectKind, subject string) string {
	return sealPrefix + string(kind) + ":" + subject
}

// Seal places a seal on the subject. A ttl of 0 makes the seal permanent.
// Sealing an already-sealed subject returns ErrAlreadySealed without altering
// the existing entry's expiry (SETNX leaves the key as-is).
func (s *Store) Seal(ctx context.Context, kind SubjectKind, subject string, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, sealKey(kind, subject), subject, ttl).Result()
	if err != nil {
		return fmt.Errorf("moderation: seal %s %s: %w", kind, subject, err)
	}
	if !ok {
		return ErrAlreadySealed
	}
	return nil
}

// Unseal removes the seal on the subject. Returns ErrNotSealed when there is
// no active seal to remove.
func (s *Store) Unseal(ctx context.Context, kind SubjectKind, subject string) error {
	n, err := s.client.Del(ctx, sealKey(kind, subject)).Result()
	if err != nil {
		return fmt.Errorf("moderation: unseal %s %s: %w", kind, subject, err)
	}
	if n == 0 {
		return ErrNotSealed
	}
	return nil
}

// IsSealed reports whether the subject currently has an active seal. Expired
// seals disappear on their own through Redis TTL; there is no cleanup pass.
func (s *Store) IsSealed(ctx context.Context, kind SubjectKind, subject string) (bool, error) {
	n, err := s.client.Exists(ctx, sealKey(kind, subject)).Result()
	if err != nil {
		return false, fmt.Errorf("moderation: seal check %s %s: %w", kind, subject, err)
	}
	return n > 0, nil
}

// ListSealed enumerates every non-expired sealed subject of the given kind by
// scanning the key namespace. This is an administrative operation, not meant
// for the per-event hot path.
func (s *Store) ListSealed(ctx context.Context, kind SubjectKind) ([]string, error) {
	prefix := sealPrefix + string(kind) + ":"
	return s.scanKeys(ctx, prefix)
}

// BanUsername permanently bans a username from future registration. Existing
// accounts with that name are unaffected.
func (s *Store) BanUsername(ctx context.Context, username string) error {
	ok, err := s.client.SetNX(ctx, bannedNamePrefix+username, username, 0).Result()
	if err != nil {
		return fmt.Errorf("moderation: ban username %s: %w", username, err)
	}
	if !ok {
		return ErrAlreadyBanned
	}
	return nil
}

// UnbanUsername lifts a username ban. Returns ErrNotBanned when the name was
// not on the list.
func (s *Store) UnbanUsername(ctx context.Context, username string) error {
	n, err := s.client.Del(ctx, bannedNamePrefix+username).Result()
	if err != nil {
		return fmt.Errorf("moderation: unban username %s: %w", username, err)
	}
	if n == 0 {
		return ErrNotBanned
	}
	return nil
}

// IsUsernameBanned reports whether a username is on the ban list.
func (s *Store) IsUsernameBanned(ctx context.Context, username string) (bool, error) {
	n, err := s.client.Exists(ctx, bannedNamePrefix+username).Result()
	if err != nil {
		return false, fmt.Errorf("moderation: banned username check %s: %w", username, err)
	}
	return n > 0, nil
}

// ListBannedUsernames enumerates all banned usernames.
func (s *Store) ListBannedUsernames(ctx context.Context) ([]string, error) {
	return s.scanKeys(ctx, bannedNamePrefix)
}

// scanKeys collects every key under prefix via SCAN and strips the prefix.
func (s *Store) scanKeys(ctx context.Context, prefix string) ([]string, error) {
	var subjects []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		subjects = append(subjects, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("moderation: scan %s: %w", prefix, err)
	}
	return subjects, nil
}
