package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/emberchat/gateway/internal/moderation"
	"github.com/emberchat/gateway/internal/ratelimit"
)

// fakeSealer is an in-memory SealChecker with expiring entries and an
// injectable clock, so seal TTL behavior can be simulated without Redis.
type fakeSealer struct {
	entries map[string]time.Time // "<kind>:<subject>" -> expiry (zero = permanent)
	now     time.Time
	err     error
}

func newFakeSealer() *fakeSealer {
	return &fakeSealer{entries: make(map[string]time.Time), now: time.Unix(1_700_000_000, 0)}
}

func (f *fakeSealer) seal(kind moderation.SubjectKind, subject string, ttl time.Duration) {
	var expiry time.Time
	if ttl > 0 {
		expiry = f.now.Add(ttl)
	}
	f.entries[string(kind)+":"+subject] = expiry
}

func (f *fakeSealer) IsSealed(ctx context.Context, kind moderation.SubjectKind, subject string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	expiry, ok := f.entries[string(kind)+":"+subject]
	if !ok {
		return false, nil
	}
	if !expiry.IsZero() && !f.now.Before(expiry) {
		delete(f.entries, string(kind)+":"+subject)
		return false, nil
	}
	return true, nil
}

// fakeLimiter counts per (subject, action) without windows; enough for chain
// ordering tests.
type fakeLimiter struct {
	counts map[string]int
	err    error
}

func newFakeLimiter() *fakeLimiter {
	return &fakeLimiter{counts: make(map[string]int)}
}

func (f *fakeLimiter) CheckAndIncrement(ctx context.Context, subject, action string, rule ratelimit.Rule) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if rule.Limit <= 0 {
		return true, nil
	}
	key := subject + ":" + action
	f.counts[key]++
	return f.counts[key] <= rule.Limit, nil
}

func testTable() *Table {
	return NewTable(map[string]Handler{
		"sendMessage": {RequireAuth: true, Fn: func(c *Context) (interface{}, error) {
			var payload struct {
				Content string `json:"content"`
			}
			if err := c.Bind(&payload); err != nil {
				return nil, err
			}
			return map[string]string{"echo": payload.Content}, nil
		}},
		"guestPing": {Fn: func(c *Context) (interface{}, error) {
			return map[string]string{"msg": "pong"}, nil
		}},
		"sealUser": {RequireAuth: true, RequireAdmin: true, Fn: func(c *Context) (interface{}, error) {
			return map[string]string{"msg": "ok"}, nil
		}},
		"alwaysFails": {Fn: func(c *Context) (interface{}, error) {
			return nil, errors.New("username already exists")
		}},
		"panics": {Fn: func(c *Context) (interface{}, error) {
			panic("boom")
		}},
	})
}

func newTestChain(seals SealChecker, limiter RateLimiter) *Chain {
	return NewChain(seals, limiter, testTable(), Config{
		Admins:      map[string]bool{"admin1": true},
		Rates:       map[string]ratelimit.Rule{"sendMessage": {Limit: 3, Window: time.Minute}},
		DefaultRate: ratelimit.Rule{Limit: 100, Window: time.Minute},
	})
}

func eventCtx(event, connID, addr, userID string) *Context {
	return &Context{
		Ctx:        context.Background(),
		ConnID:     connID,
		RemoteAddr: addr,
		UserID:     userID,
		Event:      event,
		Data:       json.RawMessage(`{"content":"hello"}`),
	}
}

func wantKind(t *testing.T, err error, kind Kind) *Rejection {
	t.Helper()
	if err == nil {
		t.Fatalf("expected rejection of kind %v, got nil error", kind)
	}
	rej, ok := err.(*Rejection)
	if !ok {
		t.Fatalf("expected *Rejection, got %T: %v", err, err)
	}
	if rej.Kind != kind {
		t.Fatalf("expected kind %v, got %v (%q)", kind, rej.Kind, rej.Message)
	}
	return rej
}

func TestProcess_Dispatches(t *testing.T) {
	chain := newTestChain(newFakeSealer(), newFakeLimiter())

	result, err := chain.Process(eventCtx("sendMessage", "c1", "203.0.113.9", "u1"))
	if err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	m, ok := result.(map[string]string)
	if !ok || m["echo"] != "hello" {
		t.Errorf("unexpected result %v", result)
	}
}

func TestProcess_SealPrecedesEverything(t *testing.T) {
	seals := newFakeSealer()
	seals.seal(moderation.SubjectIP, "203.0.113.9", time.Hour)
	limiter := newFakeLimiter()
	chain := newTestChain(seals, limiter)

	// A sealed IP with valid credentials must see the seal rejection, never
	// an authentication or rate-limit one, even for an auth-required event.
	rej := wantKind(t, secondOf(chain.Process(eventCtx("sendMessage", "c1", "203.0.113.9", "u1"))), KindModeration)
	if rej.Message != MsgSealed {
		t.Errorf("unexpected message %q", rej.Message)
	}

	// The rate limiter must not even have been consulted.
	if len(limiter.counts) != 0 {
		t.Errorf("rate limiter consulted for a sealed subject: %v", limiter.counts)
	}

	// Same for a sealed user on a clean IP.
	seals = newFakeSealer()
	seals.seal(moderation.SubjectUser, "u1", time.Hour)
	chain = newTestChain(seals, newFakeLimiter())
	wantKind(t, secondOf(chain.Process(eventCtx("sendMessage", "c1", "198.51.100.1", "u1"))), KindModeration)
}

func TestProcess_SealExpiry(t *testing.T) {
	seals := newFakeSealer()
	seals.seal(moderation.SubjectUser, "u1", 600*time.Second)
	chain := newTestChain(seals, newFakeLimiter())

	wantKind(t, secondOf(chain.Process(eventCtx("sendMessage", "c1", "198.51.100.1", "u1"))), KindModeration)

	// After the 600s TTL elapses, the identical event reaches its handler.
	seals.now = seals.now.Add(600 * time.Second)
	result, err := chain.Process(eventCtx("sendMessage", "c1", "198.51.100.1", "u1"))
	if err != nil {
		t.Fatalf("expected event accepted after seal expiry, got %v", err)
	}
	if m := result.(map[string]string); m["echo"] != "hello" {
		t.Errorf("unexpected result %v", result)
	}
}

func TestProcess_AuthRequired(t *testing.T) {
	chain := newTestChain(newFakeSealer(), newFakeLimiter())

	// Unauthenticated access to an auth-required handler is rejected at
	// dispatch time, not by the annotation stage.
	rej := wantKind(t, secondOf(chain.Process(eventCtx("sendMessage", "c1", "198.51.100.1", ""))), KindUnauthenticated)
	if rej.Message != MsgLoginNeeded {
		t.Errorf("unexpected message %q", rej.Message)
	}

	// The same unauthenticated connection can still reach open handlers.
	if _, err := chain.Process(eventCtx("guestPing", "c1", "198.51.100.1", "")); err != nil {
		t.Errorf("open handler rejected for guest: %v", err)
	}
}

func TestProcess_AdminRequired(t *testing.T) {
	chain := newTestChain(newFakeSealer(), newFakeLimiter())

	wantKind(t, secondOf(chain.Process(eventCtx("sealUser", "c1", "198.51.100.1", "u1"))), KindForbidden)

	if _, err := chain.Process(eventCtx("sealUser", "c1", "198.51.100.1", "admin1")); err != nil {
		t.Errorf("configured administrator rejected: %v", err)
	}
}

func TestProcess_RateLimited(t *testing.T) {
	chain := newTestChain(newFakeSealer(), newFakeLimiter())

	// sendMessage allows 3 per window in the test config.
	for i := 0; i < 3; i++ {
		if _, err := chain.Process(eventCtx("sendMessage", "c1", "198.51.100.1", "u1")); err != nil {
			t.Fatalf("call %d unexpectedly rejected: %v", i+1, err)
		}
	}
	rej := wantKind(t, secondOf(chain.Process(eventCtx("sendMessage", "c1", "198.51.100.1", "u1"))), KindRateLimited)
	if rej.Message != MsgRateLimited {
		t.Errorf("unexpected message %q", rej.Message)
	}

	// A different user has its own budget.
	if _, err := chain.Process(eventCtx("sendMessage", "c2", "198.51.100.1", "u2")); err != nil {
		t.Errorf("different subject throttled: %v", err)
	}
}

func TestProcess_UnknownEvent(t *testing.T) {
	chain := newTestChain(newFakeSealer(), newFakeLimiter())

	rej := wantKind(t, secondOf(chain.Process(eventCtx("noSuchEvent", "c1", "198.51.100.1", "u1"))), KindUnknownEvent)
	if rej.Message != "unknown event: noSuchEvent" {
		t.Errorf("unexpected message %q", rej.Message)
	}
}

func TestProcess_HandlerErrorContained(t *testing.T) {
	chain := newTestChain(newFakeSealer(), newFakeLimiter())

	rej := wantKind(t, secondOf(chain.Process(eventCtx("alwaysFails", "c1", "198.51.100.1", "u1"))), KindHandler)
	if rej.Message != "username already exists" {
		t.Errorf("unexpected message %q", rej.Message)
	}
}

func TestProcess_HandlerPanicContained(t *testing.T) {
	chain := newTestChain(newFakeSealer(), newFakeLimiter())

	wantKind(t, secondOf(chain.Process(eventCtx("panics", "c1", "198.51.100.1", "u1"))), KindHandler)
}

func TestProcess_DependencyFailureFailsClosed(t *testing.T) {
	seals := newFakeSealer()
	seals.err = errors.New("redis: connection refused")
	chain := newTestChain(seals, newFakeLimiter())

	rej := wantKind(t, secondOf(chain.Process(eventCtx("guestPing", "c1", "198.51.100.1", ""))), KindDependency)
	if rej.Message != MsgDependency {
		t.Errorf("unexpected message %q", rej.Message)
	}
}

func TestProcess_DependencyFailureFailOpenWhenConfigured(t *testing.T) {
	seals := newFakeSealer()
	seals.err = errors.New("redis: connection refused")
	limiter := newFakeLimiter()
	limiter.err = errors.New("redis: connection refused")

	chain := NewChain(seals, limiter, testTable(), Config{
		Admins:        map[string]bool{},
		DefaultRate:   ratelimit.Rule{Limit: 100, Window: time.Minute},
		FailOpenReads: true,
	})

	if _, err := chain.Process(eventCtx("guestPing", "c1", "198.51.100.1", "")); err != nil {
		t.Errorf("expected fail-open to let the event through, got %v", err)
	}
}

// secondOf discards a (result, error) pair down to the error, keeping the
// rejection assertions readable.
func secondOf(_ interface{}, err error) error { return err }
