package github

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-portfolio-backend/internal/kv"
)

func newBadger(t *testing.T) *kv.BadgerStore {
	t.Helper()
	s, err := kv.OpenBadger("")
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRateGuard_LockAndExpire(t *testing.T) {
	store := newBadger(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	g := NewRateGuard(store, "octocat").WithClock(func() time.Time { return now })

	if _, locked := g.IsLocked(ctx); locked {
		t.Fatalf("fresh guard must be unlocked")
	}

	reset := now.Add(10 * time.Minute)
	g.Lock(ctx, reset)
	at, locked := g.IsLocked(ctx)
	if !locked || !at.Equal(reset) {
		t.Fatalf("IsLocked = %v, %v; want %v, true", at, locked, reset)
	}

	now = reset
	if _, locked := g.IsLocked(ctx); locked {
		t.Fatalf("guard must unlock once now >= reset")
	}
	if _, err := store.Get(ctx, RateLimitKey("octocat")); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expired reset must be cleared, got %v", err)
	}
}

func TestRateGuard_GarbageIsCleared(t *testing.T) {
	store := newBadger(t)
	ctx := context.Background()
	_ = store.Set(ctx, RateLimitKey("octocat"), []byte("soon"))

	g := NewRateGuard(store, "octocat")
	if _, locked := g.IsLocked(ctx); locked {
		t.Fatalf("unparseable value must read as unlocked")
	}
	if _, err := store.Get(ctx, RateLimitKey("octocat")); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("unparseable value must be cleared, got %v", err)
	}
}

func TestRateGuard_ZeroTimeIgnored(t *testing.T) {
	store := newBadger(t)
	g := NewRateGuard(store, "octocat")
	g.Lock(context.Background(), time.Time{})
	if _, err := store.Get(context.Background(), RateLimitKey("octocat")); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("zero reset must not be stored, got %v", err)
	}
}

func TestRateGuard_UnavailableStorage(t *testing.T) {
	g := NewRateGuard(kv.Unavailable{}, "octocat")
	g.Lock(context.Background(), time.Now().Add(time.Hour))
	if _, locked := g.IsLocked(context.Background()); locked {
		t.Fatalf("guard without storage must stay unlocked")
	}
}
