package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-portfolio-backend/internal/domain"
)

func newChatRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("chat_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func ptr[T any](v T) *T { return &v }

func TestUpsertChatRoot_Error_NoTable(t *testing.T) {
	db := newChatRepoDB(t /* no migrations */)
	err := UpsertChatRoot(context.Background(), db, &domain.Chat{ID: "c1"})
	if err == nil {
		t.Fatalf("expected error without table")
	}
}

func TestUpsertChatRoot_CreateThenMergeKeepsSummary(t *testing.T) {
	db := newChatRepoDB(t, &domain.Chat{})
	ctx := context.Background()
	created := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	if err := UpsertChatRoot(ctx, db, &domain.Chat{
		ID: "c1", VisitorUID: "u1", VisitorName: "Ana",
		CreatedAt: created, LastMessageAt: created, LastMessageText: domain.ChatStartedMarker,
	}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// The visitor posts, then re-submits their name.
	if err := MergeChat(ctx, db, "c1", ChatPatch{LastMessageText: ptr("hello"), StampLastMessage: true, UnreadForAdmin: ptr(1)}, created.Add(time.Minute)); err != nil {
		t.Fatalf("merge: %v", err)
	}
	later := created.Add(time.Hour)
	if err := UpsertChatRoot(ctx, db, &domain.Chat{
		ID: "c1", VisitorUID: "u2", VisitorName: "Ana Maria",
		CreatedAt: later, LastMessageAt: later, LastMessageText: domain.ChatStartedMarker,
	}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := GetChat(ctx, db, "c1")
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if got.VisitorUID != "u2" || got.VisitorName != "Ana Maria" {
		t.Fatalf("visitor metadata not merged: %+v", got)
	}
	if got.LastMessageText != "hello" || got.UnreadForAdmin != 1 {
		t.Fatalf("summary must survive a name re-submit: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("CreatedAt changed: got %v want %v", got.CreatedAt, created)
	}

	var n int64
	db.Model(&domain.Chat{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected exactly one chat root, got %d", n)
	}
}

func TestMergeChat_CreatesMissingRow(t *testing.T) {
	db := newChatRepoDB(t, &domain.Chat{})
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	if err := MergeChat(ctx, db, "fresh", ChatPatch{UnreadForVisitor: ptr(1)}, now); err != nil {
		t.Fatalf("merge: %v", err)
	}
	got, err := GetChat(ctx, db, "fresh")
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if got.UnreadForVisitor != 1 || got.UnreadForAdmin != 0 || !got.CreatedAt.Equal(now) {
		t.Fatalf("unexpected row: %+v", got)
	}
}

func TestMergeChat_OnlyTouchesNamedFields(t *testing.T) {
	db := newChatRepoDB(t, &domain.Chat{})
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	_ = UpsertChatRoot(ctx, db, &domain.Chat{ID: "c1", VisitorUID: "u1", VisitorName: "Bo", CreatedAt: t0, LastMessageAt: t0, UnreadForAdmin: 1})
	if err := MergeChat(ctx, db, "c1", ChatPatch{UnreadForAdmin: ptr(0)}, t0.Add(time.Hour)); err != nil {
		t.Fatalf("merge: %v", err)
	}
	got, _ := GetChat(ctx, db, "c1")
	if got.UnreadForAdmin != 0 || got.VisitorName != "Bo" || !got.LastMessageAt.Equal(t0) {
		t.Fatalf("unexpected row after read receipt: %+v", got)
	}

	// Empty patch is a no-op.
	if err := MergeChat(ctx, db, "missing", ChatPatch{}, t0); err != nil {
		t.Fatalf("empty patch: %v", err)
	}
	if _, err := GetChat(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty patch must not create a row, err=%v", err)
	}
}

func TestListChatsByRecency_OrderAndLimit(t *testing.T) {
	db := newChatRepoDB(t, &domain.Chat{})
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("c%d", i)
		_ = UpsertChatRoot(ctx, db, &domain.Chat{ID: id, CreatedAt: base, LastMessageAt: base.Add(time.Duration(i) * time.Minute)})
	}

	got, err := ListChatsByRecency(ctx, db, 3)
	if err != nil {
		t.Fatalf("ListChatsByRecency: %v", err)
	}
	if len(got) != 3 || got[0].ID != "c4" || got[1].ID != "c3" || got[2].ID != "c2" {
		t.Fatalf("unexpected order: %+v", got)
	}

	n, err := CountChats(ctx, db)
	if err != nil || n != 5 {
		t.Fatalf("CountChats = %d, %v", n, err)
	}
	page, err := ListChatsPage(ctx, db, 3, 10)
	if err != nil || len(page) != 2 || page[0].ID != "c1" {
		t.Fatalf("ListChatsPage unexpected: %+v err=%v", page, err)
	}
}

func TestListChatsByRecency_MixedZones(t *testing.T) {
	db := newChatRepoDB(t, &domain.Chat{})
	ctx := context.Background()
	pdt := time.FixedZone("PDT", -7*60*60)
	t0 := time.Date(2024, 6, 1, 5, 0, 0, 0, pdt) // 12:00 UTC

	if err := UpsertChatRoot(ctx, db, &domain.Chat{ID: "a", CreatedAt: t0, LastMessageAt: t0}); err != nil {
		t.Fatalf("upsert a: %v", err)
	}
	if err := UpsertChatRoot(ctx, db, &domain.Chat{ID: "b", CreatedAt: t0.Add(30 * time.Minute).UTC(), LastMessageAt: t0.Add(30 * time.Minute).UTC()}); err != nil {
		t.Fatalf("upsert b: %v", err)
	}
	// a gets the newest message, stamped with a local-zone clock.
	if err := MergeChat(ctx, db, "a", ChatPatch{StampLastMessage: true}, t0.Add(time.Hour)); err != nil {
		t.Fatalf("MergeChat: %v", err)
	}

	got, err := ListChatsByRecency(ctx, db, 1)
	if err != nil {
		t.Fatalf("ListChatsByRecency: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("most recent chat = %+v, want a", got)
	}
	if !got[0].LastMessageAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("last_message_at = %v, want %v", got[0].LastMessageAt, t0.Add(time.Hour))
	}
}

func TestGetChat_NotFound(t *testing.T) {
	db := newChatRepoDB(t, &domain.Chat{})
	if _, err := GetChat(context.Background(), db, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
