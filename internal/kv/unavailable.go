package kv

import (
	"context"

	"github.com/tbourn/go-portfolio-backend/internal/domain"
)

// Unavailable is a Store whose every operation fails with
// domain.ErrStorageUnavailable. It backs KV_BACKEND=none.
type Unavailable struct{}

func (Unavailable) Get(context.Context, string) ([]byte, error) {
	return nil, domain.ErrStorageUnavailable
}

func (Unavailable) Set(context.Context, string, []byte) error {
	return domain.ErrStorageUnavailable
}

func (Unavailable) Delete(context.Context, string) error {
	return domain.ErrStorageUnavailable
}
