// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file stores GitHub profile snapshot documents.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-portfolio-backend/internal/domain"
)

// UpsertProfileSnapshot writes s at s.Path, replacing every field of an
// existing snapshot.
func UpsertProfileSnapshot(ctx context.Context, db *gorm.DB, s *domain.ProfileSnapshot) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "path"}},
			UpdateAll: true,
		}).
		Create(s).Error
}

// GetProfileSnapshotByLogin returns the most recently synced snapshot for
// login, or ErrNotFound.
func GetProfileSnapshotByLogin(ctx context.Context, db *gorm.DB, login string) (*domain.ProfileSnapshot, error) {
	var s domain.ProfileSnapshot
	err := db.WithContext(ctx).
		Where("LOWER(login) = LOWER(?)", login).
		Order("synced_at DESC").
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
