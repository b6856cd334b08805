// Package cache stores conditional-fetch results as {data, etag, updatedAt}
// entries on top of a kv.Store.
//
// The store is pure data access: it never decides freshness policy (see
// IsFresh) and never fails. Missing, corrupt or unreadable entries read as
// nil, and write failures are logged and dropped, so a service without
// working storage keeps running and simply refetches every cycle.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-portfolio-backend/internal/kv"
)

// Entry is one cached upstream resource.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	ETag      *string         `json:"etag"`
	UpdatedAt int64           `json:"updatedAt"` // epoch milliseconds
}

// ETagValue returns the entry's etag, or "" when there is none.
func (e *Entry) ETagValue() string {
	if e == nil || e.ETag == nil {
		return ""
	}
	return *e.ETag
}

// Decode unmarshals the cached data into v.
func (e *Entry) Decode(v any) error {
	if e == nil || len(e.Data) == 0 {
		return errors.New("cache: empty entry")
	}
	return json.Unmarshal(e.Data, v)
}

// IsFresh reports whether entry was stored less than ttl before now.
// A nil entry is never fresh.
func IsFresh(entry *Entry, ttl time.Duration, now time.Time) bool {
	if entry == nil {
		return false
	}
	return now.UnixMilli()-entry.UpdatedAt < ttl.Milliseconds()
}

// Store reads and writes cache entries.
type Store struct {
	kv  kv.Store
	now func() time.Time
	log zerolog.Logger
}

// New returns a Store over s.
func New(s kv.Store) *Store {
	return &Store{
		kv:  s,
		now: time.Now,
		log: log.With().Str("component", "cache").Logger(),
	}
}

// WithClock replaces the time source used to stamp entries.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Get returns the entry stored under key, or nil when it is missing, corrupt
// or the storage is unavailable.
func (s *Store) Get(ctx context.Context, key string) *Entry {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.log.Debug().Err(err).Str("key", key).Msg("cache read failed")
		}
		return nil
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil || len(e.Data) == 0 {
		s.log.Debug().Err(err).Str("key", key).Msg("discarding corrupt cache entry")
		return nil
	}
	return &e
}

// Put overwrites key with data and etag, stamped with the current time.
// An empty etag is stored as null.
func (s *Store) Put(ctx context.Context, key string, data json.RawMessage, etag string) {
	e := Entry{Data: data, UpdatedAt: s.now().UnixMilli()}
	if etag != "" {
		e.ETag = &etag
	}
	s.write(ctx, key, &e)
}

// Touch refreshes updatedAt of an existing entry, preserving data and etag.
// Touching a missing entry does nothing.
func (s *Store) Touch(ctx context.Context, key string) {
	e := s.Get(ctx, key)
	if e == nil {
		return
	}
	e.UpdatedAt = s.now().UnixMilli()
	s.write(ctx, key, e)
}

// Remove deletes key.
func (s *Store) Remove(ctx context.Context, key string) {
	if err := s.kv.Delete(ctx, key); err != nil {
		s.log.Debug().Err(err).Str("key", key).Msg("cache remove failed")
	}
}

func (s *Store) write(ctx context.Context, key string, e *Entry) {
	raw, err := json.Marshal(e)
	if err != nil {
		s.log.Debug().Err(err).Str("key", key).Msg("cache encode failed")
		return
	}
	if err := s.kv.Set(ctx, key, raw); err != nil {
		s.log.Debug().Err(err).Str("key", key).Msg("cache write failed")
	}
}
