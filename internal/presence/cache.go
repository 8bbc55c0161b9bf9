// Package presence answers "is this user online" cheaply by memoizing
// registry lookups for a short, bounded staleness window.
package presence

import (
	"sync"
	"time"
)

// DefaultTTL is the staleness bound for cached online checks.
const DefaultTTL = 60 * time.Second

// entry is one memoized lookup result.
type entry struct {
	value     bool
	expiresAt time.Time
}

// Cache is a process-local memo table over an online-status lookup. Entries
// are pruned only by the expiry check on read; there is no background sweep.
// The key space is bounded by the set of concurrently-queried users.
//
// Cache is safe for concurrent use by multiple connection goroutines.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
	lookup  func(userID string) bool
}

// NewCache creates a Cache with the given TTL over the lookup function,
// which is consulted on every miss (typically the connection registry's
// FindByUser). A ttl <= 0 falls back to DefaultTTL.
func NewCache(ttl time.Duration, lookup func(userID string) bool) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
		lookup:  lookup,
	}
}

// IsOnline reports whether the user is online, serving from the memo table
// when a non-expired entry exists and refreshing from the lookup otherwise.
func (c *Cache) IsOnline(userID string) bool {
	c.mu.Lock()
	e, ok := c.entries[userID]
	if ok && c.now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.value
	}
	// Expired entries are dropped here rather than by a sweeper.
	delete(c.entries, userID)
	c.mu.Unlock()

	value := c.lookup(userID)

	c.mu.Lock()
	c.entries[userID] = entry{value: value, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return value
}

// Len returns the number of memoized entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	return n
}
