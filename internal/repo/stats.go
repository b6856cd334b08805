// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for weak
// ETags on the admin listing endpoints.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-portfolio-backend/internal/domain"
)

// ChatsStats returns the number of chat roots and the greatest
// last_message_at among them. maxActivity is nil when there are no chats.
//
// Unread flags change without moving last_message_at, so the unread totals
// are returned as well for the ETag.
func ChatsStats(ctx context.Context, db *gorm.DB) (count int64, unread int64, maxActivity *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Chat{})

	if err = q.Count(&count).Error; err != nil {
		return 0, 0, nil, err
	}
	if count == 0 {
		return 0, 0, nil, nil
	}

	if err = db.WithContext(ctx).Model(&domain.Chat{}).
		Select("COALESCE(SUM(unread_for_admin + unread_for_visitor), 0)").
		Scan(&unread).Error; err != nil {
		return 0, 0, nil, err
	}

	// Latest activity (avoid MAX() -> TEXT in SQLite)
	var row struct {
		LastMessageAt time.Time
	}
	if err = db.WithContext(ctx).Model(&domain.Chat{}).
		Select("last_message_at").Order("last_message_at DESC").Limit(1).
		Scan(&row).Error; err != nil {
		return 0, 0, nil, err
	}
	return count, unread, &row.LastMessageAt, nil
}

// MessagesStats returns the number of messages in a chat and the greatest
// CreatedAt among them. maxCreatedAt is nil when the chat has no messages.
func MessagesStats(ctx context.Context, db *gorm.DB, chatID string) (count int64, maxCreatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Message{}).Where("chat_id = ?", chatID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	var row struct {
		CreatedAt time.Time
	}
	if err = db.WithContext(ctx).Model(&domain.Message{}).Where("chat_id = ?", chatID).
		Select("created_at").Order("created_at DESC").Limit(1).
		Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}
