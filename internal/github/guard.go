package github

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-portfolio-backend/internal/kv"
)

// RateGuard persists a single "locked until" instant for one tracked
// username. A stored instant that has already passed is cleared on the next
// read, so a locked guard always reports a reset time in the future.
type RateGuard struct {
	store kv.Store
	key   string
	now   func() time.Time
	log   zerolog.Logger
}

// RateLimitKey is the storage key of the guard for username.
func RateLimitKey(username string) string { return "gh_rate_limit_reset_" + username }

// NewRateGuard returns the guard for username stored in s.
func NewRateGuard(s kv.Store, username string) *RateGuard {
	return &RateGuard{
		store: s,
		key:   RateLimitKey(username),
		now:   time.Now,
		log:   log.With().Str("component", "github").Logger(),
	}
}

// WithClock replaces the guard's time source.
func (g *RateGuard) WithClock(now func() time.Time) *RateGuard {
	g.now = now
	return g
}

// IsLocked returns the reset instant and true while the guard is locked.
// An expired or unreadable value is removed and reported as unlocked.
func (g *RateGuard) IsLocked(ctx context.Context) (time.Time, bool) {
	raw, err := g.store.Get(ctx, g.key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			g.log.Debug().Err(err).Msg("rate guard read failed")
		}
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || g.now().UnixMilli() >= ms {
		g.clear(ctx)
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// Lock stores resetAt unconditionally. A zero time is ignored.
func (g *RateGuard) Lock(ctx context.Context, resetAt time.Time) {
	if resetAt.IsZero() {
		return
	}
	v := strconv.FormatInt(resetAt.UnixMilli(), 10)
	if err := g.store.Set(ctx, g.key, []byte(v)); err != nil {
		g.log.Debug().Err(err).Msg("rate guard write failed")
	}
}

func (g *RateGuard) clear(ctx context.Context) {
	if err := g.store.Delete(ctx, g.key); err != nil {
		g.log.Debug().Err(err).Msg("rate guard clear failed")
	}
}
