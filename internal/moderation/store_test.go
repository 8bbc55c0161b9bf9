package moderation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestStore creates a Store connected to a local Redis instance and scrubs
// test keys before and after the test. Tests that call this helper require a
// running Redis on localhost:6379.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	scrub := func() {
		for _, pattern := range []string{
			sealPrefix + "user:test_*",
			sealPrefix + "ip:198.51.*",
			bannedNamePrefix + "test_*",
			flagPrefix + "*",
		} {
			iter := client.Scan(ctx, 0, pattern, 100).Iterator()
			for iter.Next(ctx) {
				client.Del(ctx, iter.Val())
			}
		}
	}
	scrub()
	t.Cleanup(func() {
		scrub()
		client.Close()
	})
	return NewStore(client)
}

func TestSealAndCheck(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sealed, err := store.IsSealed(ctx, SubjectUser, "test_u1")
	if err != nil {
		t.Fatalf("IsSealed() error: %v", err)
	}
	if sealed {
		t.Fatal("expected not sealed before Seal()")
	}

	if err := store.Seal(ctx, SubjectUser, "test_u1", time.Minute); err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	sealed, err = store.IsSealed(ctx, SubjectUser, "test_u1")
	if err != nil {
		t.Fatalf("IsSealed() error: %v", err)
	}
	if !sealed {
		t.Error("expected sealed=true after Seal()")
	}
}

func TestSeal_IdempotentReject(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Seal(ctx, SubjectUser, "test_u2", 10*time.Minute); err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	// Second seal must be rejected and must not touch the existing TTL.
	err := store.Seal(ctx, SubjectUser, "test_u2", time.Second)
	if !errors.Is(err, ErrAlreadySealed) {
		t.Fatalf("expected ErrAlreadySealed, got %v", err)
	}

	ttl, err := store.client.TTL(ctx, sealKey(SubjectUser, "test_u2")).Result()
	if err != nil {
		t.Fatalf("TTL() error: %v", err)
	}
	// Still close to the original 10 minutes, not the 1s from the rejected call.
	if ttl < 9*time.Minute || ttl > 10*time.Minute {
		t.Errorf("expected TTL ~10m preserved, got %v", ttl)
	}
}

func TestSeal_NamespacesDoNotCollide(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// A subject id sealed as a user must not read as a sealed IP.
	if err := store.Seal(ctx, SubjectUser, "test_shared", time.Minute); err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	sealed, err := store.IsSealed(ctx, SubjectIP, "test_shared")
	if err != nil {
		t.Fatalf("IsSealed() error: %v", err)
	}
	if sealed {
		t.Error("user seal leaked into the ip namespace")
	}
}

func TestUnseal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Unseal(ctx, SubjectIP, "198.51.100.7"); !errors.Is(err, ErrNotSealed) {
		t.Fatalf("expected ErrNotSealed, got %v", err)
	}

	if err := store.Seal(ctx, SubjectIP, "198.51.100.7", time.Minute); err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	if err := store.Unseal(ctx, SubjectIP, "198.51.100.7"); err != nil {
		t.Fatalf("Unseal() error: %v", err)
	}

	sealed, _ := store.IsSealed(ctx, SubjectIP, "198.51.100.7")
	if sealed {
		t.Error("expected not sealed after Unseal()")
	}
}

func TestListSealed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"test_a", "test_b", "test_c"} {
		if err := store.Seal(ctx, SubjectUser, id, time.Minute); err != nil {
			t.Fatalf("Seal(%s) error: %v", id, err)
		}
	}

	sealed, err := store.ListSealed(ctx, SubjectUser)
	if err != nil {
		t.Fatalf("ListSealed() error: %v", err)
	}

	found := make(map[string]bool)
	for _, id := range sealed {
		found[id] = true
	}
	for _, id := range []string{"test_a", "test_b", "test_c"} {
		if !found[id] {
			t.Errorf("expected %s in sealed list, got %v", id, sealed)
		}
	}
}

func TestBanUsername(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.BanUsername(ctx, "test_alice"); err != nil {
		t.Fatalf("BanUsername() error: %v", err)
	}
	if err := store.BanUsername(ctx, "test_alice"); !errors.Is(err, ErrAlreadyBanned) {
		t.Fatalf("expected ErrAlreadyBanned, got %v", err)
	}

	banned, err := store.IsUsernameBanned(ctx, "test_alice")
	if err != nil {
		t.Fatalf("IsUsernameBanned() error: %v", err)
	}
	if !banned {
		t.Error("expected banned=true")
	}

	// Username bans are permanent: no TTL on the key.
	ttl, err := store.client.TTL(ctx, bannedNamePrefix+"test_alice").Result()
	if err != nil {
		t.Fatalf("TTL() error: %v", err)
	}
	if ttl != -1*time.Second {
		t.Errorf("expected no TTL (-1), got %v", ttl)
	}

	if err := store.UnbanUsername(ctx, "test_alice"); err != nil {
		t.Fatalf("UnbanUsername() error: %v", err)
	}
	if err := store.UnbanUsername(ctx, "test_alice"); !errors.Is(err, ErrNotBanned) {
		t.Fatalf("expected ErrNotBanned, got %v", err)
	}
}

func TestFlags(t *testing.T) {
	store := newTestStore(t)
	flags := NewFlags(store.client)
	ctx := context.Background()

	disabled, err := flags.IsDisabled(ctx, FlagRegistration)
	if err != nil {
		t.Fatalf("IsDisabled() error: %v", err)
	}
	if disabled {
		t.Fatal("expected registration enabled by default")
	}

	if err := flags.SetDisabled(ctx, FlagRegistration, true); err != nil {
		t.Fatalf("SetDisabled() error: %v", err)
	}
	disabled, _ = flags.IsDisabled(ctx, FlagRegistration)
	if !disabled {
		t.Error("expected registration disabled after toggle")
	}

	all, err := flags.All(ctx)
	if err != nil {
		t.Fatalf("All() error: %v", err)
	}
	if !all[FlagRegistration] {
		t.Errorf("All() missing disabled registration flag: %v", all)
	}
	if all[FlagCreateGroup] {
		t.Errorf("All() reports createGroup disabled unexpectedly: %v", all)
	}

	if err := flags.SetDisabled(ctx, "nonsense", true); !errors.Is(err, ErrUnknownFlag) {
		t.Fatalf("expected ErrUnknownFlag, got %v", err)
	}
}
