// Package ratelimit provides Redis-backed rate limiting using atomic
// fixed-window counters. Each (subject, action) pair gets a counter keyed by
// the current time bucket:
//
//	Key: rl:<action>:<subject>:<floor(now/window)>
//
// The first increment of a bucket sets its expiry to the window width;
// later increments never touch the expiry, so a sustained attacker cannot
// extend their own window. Expiry is authoritative; there is no cleanup pass.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines a rate limiting policy: the maximum number of events allowed
// per window and the window width. A Limit <= 0 disables the rule entirely
// (explicit escape hatch for trusted subjects).
type Rule struct {
	Limit  int
	Window time.Duration
}

// DefaultRule bounds any event without a dedicated rule: 60 per minute.
var DefaultRule = Rule{Limit: 60, Window: time.Minute}

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
	now    func() time.Time
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client, now: time.Now}
}

// bucketKey builds the counter key for the window containing now.
func (l *Limiter) bucketKey(subject, action string, window time.Duration) string {
	bucket := l.now().Unix() / int64(window.Seconds())
	return fmt.Sprintf("rl:%s:%s:%d", action, subject, bucket)
}

// CheckAndIncrement records one attempt by subject for action and reports
// whether it is within the rule's limit. The check is a single atomic
// increment-then-compare; there is no read-then-write race window.
//
// Redis errors are returned so the caller can choose its failure policy
// (the middleware chain fails closed by default).
func (l *Limiter) CheckAndIncrement(ctx context.Context, subject, action string, rule Rule) (bool, error) {
	if rule.Limit <= 0 {
		return true, nil
	}
	if rule.Window <= 0 {
		rule.Window = DefaultRule.Window
	}

	key := l.bucketKey(subject, action, rule.Window)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: incr %s: %w", key, err)
	}

	// On the first increment, set the expiry to define the window boundary.
	// Subsequent increments within the same bucket must not reset it.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			// The key exists but has no TTL and would persist. Best effort:
			// delete it so it doesn't throttle the subject forever.
			l.client.Del(ctx, key)
			return false, fmt.Errorf("ratelimit: expire %s: %w", key, err)
		}
	}

	return count <= int64(rule.Limit), nil
}

// Remaining returns the number of attempts the subject has left in the
// current window. It returns the full limit if the bucket does not exist yet.
func (l *Limiter) Remaining(ctx context.Context, subject, action string, rule Rule) (int, error) {
	if rule.Limit <= 0 {
		return 0, nil
	}
	if rule.Window <= 0 {
		rule.Window = DefaultRule.Window
	}

	key := l.bucketKey(subject, action, rule.Window)
	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ratelimit: get %s: %w", key, err)
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
