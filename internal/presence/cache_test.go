package presence

import (
	"testing"
	"time"
)

func TestIsOnline_MemoizesWithinTTL(t *testing.T) {
	calls := 0
	online := true
	cache := NewCache(time.Minute, func(userID string) bool {
		calls++
		return online
	})

	now := time.Unix(1000, 0)
	cache.now = func() time.Time { return now }

	if !cache.IsOnline("u1") {
		t.Fatal("expected online=true")
	}
	if calls != 1 {
		t.Fatalf("expected 1 lookup, got %d", calls)
	}

	// Within the TTL the memoized value is served even though the underlying
	// state changed.
	online = false
	now = now.Add(30 * time.Second)
	if !cache.IsOnline("u1") {
		t.Error("expected stale online=true within TTL")
	}
	if calls != 1 {
		t.Errorf("expected no further lookup within TTL, got %d", calls)
	}
}

func TestIsOnline_StalenessBound(t *testing.T) {
	online := true
	cache := NewCache(time.Minute, func(userID string) bool { return online })

	now := time.Unix(2000, 0)
	cache.now = func() time.Time { return now }

	if !cache.IsOnline("u1") {
		t.Fatal("expected online=true")
	}

	// The user goes offline; once the TTL has elapsed the cache must never
	// report true again.
	online = false
	now = now.Add(time.Minute)
	if cache.IsOnline("u1") {
		t.Error("expected online=false once TTL elapsed")
	}
}

func TestIsOnline_DistinctUsers(t *testing.T) {
	state := map[string]bool{"u1": true, "u2": false}
	cache := NewCache(time.Minute, func(userID string) bool { return state[userID] })

	if !cache.IsOnline("u1") {
		t.Error("expected u1 online")
	}
	if cache.IsOnline("u2") {
		t.Error("expected u2 offline")
	}
	if cache.Len() != 2 {
		t.Errorf("expected 2 memo entries, got %d", cache.Len())
	}
}

func TestIsOnline_ExpiredEntryDroppedOnRead(t *testing.T) {
	cache := NewCache(time.Second, func(userID string) bool { return false })

	now := time.Unix(3000, 0)
	cache.now = func() time.Time { return now }

	cache.IsOnline("u1")
	now = now.Add(2 * time.Second)
	cache.IsOnline("u1")

	// The expired entry is replaced, not accumulated.
	if cache.Len() != 1 {
		t.Errorf("expected 1 memo entry after refresh, got %d", cache.Len())
	}
}
