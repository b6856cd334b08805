// Package kv provides the persistent local key-value storage the cache, the
// rate-limit guard and visitor sessions are built on.
//
// Three backends implement Store:
//
//   - SQLStore: rows in the service's sqlite database (default).
//   - BadgerStore: an embedded badger database directory.
//   - Unavailable: every call fails with domain.ErrStorageUnavailable, the
//     equivalent of a restricted browser profile with storage disabled.
//
// Callers layer policy on top; Store itself only moves bytes.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// Store is a flat byte-oriented key-value store. Implementations must be safe
// for concurrent use.
type Store interface {
	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set overwrites the value for key.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Prefixed returns a Store that namespaces every key under prefix.
func Prefixed(s Store, prefix string) Store {
	return prefixed{s: s, prefix: prefix}
}

type prefixed struct {
	s      Store
	prefix string
}

func (p prefixed) Get(ctx context.Context, key string) ([]byte, error) {
	return p.s.Get(ctx, p.prefix+key)
}

func (p prefixed) Set(ctx context.Context, key string, value []byte) error {
	return p.s.Set(ctx, p.prefix+key, value)
}

func (p prefixed) Delete(ctx context.Context, key string) error {
	return p.s.Delete(ctx, p.prefix+key)
}
