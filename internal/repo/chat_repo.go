// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Chat root
// records.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only persistence
// and query composition.
//
// Writes to a chat root are merge-writes: a row is created when missing and
// otherwise only the named columns are updated, so the visitor and the admin
// can each touch their own fields without clobbering the other's.
//
// Functions:
//
//   - UpsertChatRoot(ctx, db, chat) -> error
//     Creates the root with its initial summary or merges visitor metadata.
//
//   - MergeChat(ctx, db, chatID, patch, now) -> error
//     Applies a ChatPatch, creating the row when it does not exist yet.
//
//   - GetChat(ctx, db, id) -> *domain.Chat, error
//
//   - ListChatsByRecency(ctx, db, limit) -> []domain.Chat, error
//     Newest activity first.
//
//   - CountChats / ListChatsPage: paginated admin listing.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-portfolio-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ChatPatch names the chat root fields a merge-write touches. Nil fields are
// left unchanged. StampLastMessage sets last_message_at to the server time.
type ChatPatch struct {
	VisitorUID       *string
	VisitorName      *string
	LastMessageText  *string
	StampLastMessage bool
	UnreadForAdmin   *int
	UnreadForVisitor *int
}

// UpsertChatRoot creates the chat root with the given initial values or, when
// it already exists, merges only the visitor uid and name. CreatedAt and the
// message summary of an existing root are preserved.
func UpsertChatRoot(ctx context.Context, db *gorm.DB, chat *domain.Chat) error {
	chat.CreatedAt = chat.CreatedAt.UTC()
	chat.LastMessageAt = chat.LastMessageAt.UTC()
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"visitor_uid", "visitor_name"}),
		}).
		Create(chat).Error
}

// MergeChat applies patch to the chat root identified by chatID, creating the
// row first when it is missing. now is used for CreatedAt on creation and for
// last_message_at when patch.StampLastMessage is set. Times are stored in
// UTC so the text timestamps sort chronologically.
func MergeChat(ctx context.Context, db *gorm.DB, chatID string, patch ChatPatch, now time.Time) error {
	now = now.UTC()
	updates := map[string]any{}
	row := domain.Chat{ID: chatID, CreatedAt: now, LastMessageAt: now}

	if patch.VisitorUID != nil {
		updates["visitor_uid"] = *patch.VisitorUID
		row.VisitorUID = *patch.VisitorUID
	}
	if patch.VisitorName != nil {
		updates["visitor_name"] = *patch.VisitorName
		row.VisitorName = *patch.VisitorName
	}
	if patch.LastMessageText != nil {
		updates["last_message_text"] = *patch.LastMessageText
		row.LastMessageText = *patch.LastMessageText
	}
	if patch.StampLastMessage {
		updates["last_message_at"] = now
	}
	if patch.UnreadForAdmin != nil {
		updates["unread_for_admin"] = *patch.UnreadForAdmin
		row.UnreadForAdmin = *patch.UnreadForAdmin
	}
	if patch.UnreadForVisitor != nil {
		updates["unread_for_visitor"] = *patch.UnreadForVisitor
		row.UnreadForVisitor = *patch.UnreadForVisitor
	}
	if len(updates) == 0 {
		return nil
	}

	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(updates),
		}).
		Create(&row).Error
}

// GetChat fetches a single chat root by id, or ErrNotFound if missing.
func GetChat(ctx context.Context, db *gorm.DB, id string) (*domain.Chat, error) {
	var c domain.Chat
	err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChatsByRecency returns up to limit chat roots ordered by
// last_message_at descending (ties by id for determinism).
func ListChatsByRecency(ctx context.Context, db *gorm.DB, limit int) ([]domain.Chat, error) {
	var out []domain.Chat
	q := db.WithContext(ctx).Order("last_message_at DESC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountChats returns the total number of chat roots.
func CountChats(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Chat{}).Count(&n).Error
	return n, err
}

// ListChatsPage returns a page of chat roots ordered like ListChatsByRecency.
func ListChatsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Chat, error) {
	var out []domain.Chat
	err := db.WithContext(ctx).
		Order("last_message_at DESC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
