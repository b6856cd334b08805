// Package docstore is the chat document store: chat roots, their message
// subsequences and profile snapshots, persisted through repo and published
// as live queries through a realtime.Feed.
//
// Every successful write notifies the topic of the collection it touched:
// ChatsTopic for chat roots and MessagesTopic(id) for a chat's messages.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-portfolio-backend/internal/domain"
	"github.com/tbourn/go-portfolio-backend/internal/observability"
	"github.com/tbourn/go-portfolio-backend/internal/realtime"
	"github.com/tbourn/go-portfolio-backend/internal/repo"
)

// ChatsTopic is notified after any write to a chat root.
const ChatsTopic = "chats"

// MessagesTopic is notified after a message is added to chatID.
func MessagesTopic(chatID string) string { return "chats/" + chatID + "/messages" }

// Store implements the chat document operations on a gorm database.
type Store struct {
	db   *gorm.DB
	feed *realtime.Feed
	now  func() time.Time
}

// New returns a Store writing to db and notifying feed.
func New(db *gorm.DB, feed *realtime.Feed) *Store {
	return &Store{db: db, feed: feed, now: time.Now}
}

// WithClock replaces the store's time source, which stamps message and
// summary times.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// DB exposes the underlying handle for read-only reporting queries.
func (s *Store) DB() *gorm.DB { return s.db }

// EnsureChat creates the chat root with the start marker or, when it
// exists, merges the visitor uid and name only.
func (s *Store) EnsureChat(ctx context.Context, chatID, visitorUID, visitorName string) error {
	ctx, span := otel.Tracer("docstore/Store").Start(ctx, "EnsureChat",
		trace.WithAttributes(attribute.String("chat.id", chatID)))
	defer span.End()

	now := s.now().UTC()
	err := repo.UpsertChatRoot(ctx, s.db, &domain.Chat{
		ID:              chatID,
		VisitorUID:      visitorUID,
		VisitorName:     visitorName,
		CreatedAt:       now,
		LastMessageAt:   now,
		LastMessageText: domain.ChatStartedMarker,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("ensure chat %s: %w", chatID, err)
	}
	s.feed.Notify(ctx, ChatsTopic)
	return nil
}

// MergeChat applies patch to the chat root.
func (s *Store) MergeChat(ctx context.Context, chatID string, patch repo.ChatPatch) error {
	if err := repo.MergeChat(ctx, s.db, chatID, patch, s.now().UTC()); err != nil {
		return fmt.Errorf("merge chat %s: %w", chatID, err)
	}
	s.feed.Notify(ctx, ChatsTopic)
	return nil
}

// AddMessage appends a message to chatID, stamped with server time.
func (s *Store) AddMessage(ctx context.Context, chatID, sender, text string) (*domain.Message, error) {
	ctx, span := otel.Tracer("docstore/Store").Start(ctx, "AddMessage",
		trace.WithAttributes(attribute.String("chat.id", chatID), attribute.String("message.sender", sender)))
	defer span.End()

	m, err := repo.CreateMessage(ctx, s.db, chatID, sender, text, s.now())
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("add message to %s: %w", chatID, err)
	}
	observability.ChatMessages.WithLabelValues(sender).Inc()
	s.feed.Notify(ctx, MessagesTopic(chatID))
	return m, nil
}

// GetChat returns one chat root or a NotFound error.
func (s *Store) GetChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	c, err := repo.GetChat(ctx, s.db, chatID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, domain.NotFound("chats/" + chatID)
	}
	return c, err
}

// WatchChats streams chat roots by most recent activity, at most limit.
func (s *Store) WatchChats(limit int) (*realtime.Subscription[[]domain.Chat], error) {
	return realtime.Watch(s.feed, ChatsTopic, func(ctx context.Context) ([]domain.Chat, error) {
		return repo.ListChatsByRecency(ctx, s.db, limit)
	})
}

// WatchMessages streams the most recent limit messages of chatID, oldest
// first.
func (s *Store) WatchMessages(chatID string, limit int) (*realtime.Subscription[[]domain.Message], error) {
	return realtime.Watch(s.feed, MessagesTopic(chatID), func(ctx context.Context) ([]domain.Message, error) {
		return repo.ListRecentMessages(ctx, s.db, chatID, limit)
	})
}

// ListChatsPage returns one page of chat roots by recency and the total
// number of chats. page is 1-based.
func (s *Store) ListChatsPage(ctx context.Context, page, pageSize int) ([]domain.Chat, int64, error) {
	total, err := repo.CountChats(ctx, s.db)
	if err != nil {
		return nil, 0, fmt.Errorf("count chats: %w", err)
	}
	items, err := repo.ListChatsPage(ctx, s.db, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list chats: %w", err)
	}
	return items, total, nil
}

// ListMessagesPage returns one page of a chat's messages, oldest first, and
// the chat's message count. A missing chat is a NotFound error.
func (s *Store) ListMessagesPage(ctx context.Context, chatID string, page, pageSize int) ([]domain.Message, int64, error) {
	if _, err := s.GetChat(ctx, chatID); err != nil {
		return nil, 0, err
	}
	total, err := repo.CountMessages(ctx, s.db, chatID)
	if err != nil {
		return nil, 0, fmt.Errorf("count messages of %s: %w", chatID, err)
	}
	items, err := repo.ListMessagesPage(ctx, s.db, chatID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages of %s: %w", chatID, err)
	}
	return items, total, nil
}

// ChatsETag is a weak validator of the whole chat list. It changes when a
// chat is created, receives a message or has its unread flags changed.
func (s *Store) ChatsETag(ctx context.Context) (string, error) {
	count, unread, maxAt, err := repo.ChatsStats(ctx, s.db)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`W/"chats:%d:%d:%d"`, count, unread, unixNano(maxAt)), nil
}

// MessagesETag is a weak validator of one chat's messages.
func (s *Store) MessagesETag(ctx context.Context, chatID string) (string, error) {
	count, maxAt, err := repo.MessagesStats(ctx, s.db, chatID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`W/"messages:%s:%d:%d"`, chatID, count, unixNano(maxAt)), nil
}

func unixNano(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixNano()
}

// PutProfileSnapshot overwrites the snapshot document at snap.Path.
func (s *Store) PutProfileSnapshot(ctx context.Context, snap *domain.ProfileSnapshot) error {
	if snap.SyncedAt.IsZero() {
		snap.SyncedAt = s.now().UTC()
	}
	if err := repo.UpsertProfileSnapshot(ctx, s.db, snap); err != nil {
		return fmt.Errorf("put profile snapshot %s: %w", snap.Path, err)
	}
	return nil
}

// ProfileSnapshot returns the latest snapshot stored for login.
func (s *Store) ProfileSnapshot(ctx context.Context, login string) (*domain.ProfileSnapshot, error) {
	snap, err := repo.GetProfileSnapshotByLogin(ctx, s.db, login)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, domain.NotFound("profiles/" + login)
	}
	return snap, err
}
