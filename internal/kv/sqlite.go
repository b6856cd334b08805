package kv

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-portfolio-backend/internal/domain"
	"github.com/tbourn/go-portfolio-backend/internal/repo"
)

// SQLStore keeps entries in the kv_entries table of the service database.
type SQLStore struct {
	DB *gorm.DB
}

// NewSQLStore returns a Store over db. The kv_entries table must exist
// (see repo.AutoMigrate).
func NewSQLStore(db *gorm.DB) *SQLStore { return &SQLStore{DB: db} }

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := repo.GetKV(ctx, s.DB, key)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, domain.StorageUnavailable(err)
	}
	return v, nil
}

func (s *SQLStore) Set(ctx context.Context, key string, value []byte) error {
	if err := repo.PutKV(ctx, s.DB, key, value); err != nil {
		return domain.StorageUnavailable(err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if err := repo.DeleteKV(ctx, s.DB, key); err != nil {
		return domain.StorageUnavailable(err)
	}
	return nil
}
