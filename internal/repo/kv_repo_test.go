package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-portfolio-backend/internal/domain"
)

func TestKV_PutGetOverwriteDelete(t *testing.T) {
	db := newChatRepoDB(t, &domain.KVEntry{})
	ctx := context.Background()

	if _, err := GetKV(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := PutKV(ctx, db, "gh_profile_octocat", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("PutKV: %v", err)
	}
	if err := PutKV(ctx, db, "gh_profile_octocat", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("PutKV overwrite: %v", err)
	}
	v, err := GetKV(ctx, db, "gh_profile_octocat")
	if err != nil || string(v) != `{"a":2}` {
		t.Fatalf("GetKV = %q, %v", v, err)
	}

	if err := DeleteKV(ctx, db, "gh_profile_octocat"); err != nil {
		t.Fatalf("DeleteKV: %v", err)
	}
	if err := DeleteKV(ctx, db, "gh_profile_octocat"); err != nil {
		t.Fatalf("DeleteKV twice must not fail: %v", err)
	}
	if _, err := GetKV(ctx, db, "gh_profile_octocat"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestKV_NoTable(t *testing.T) {
	db := newChatRepoDB(t)
	if err := PutKV(context.Background(), db, "k", []byte("v")); err == nil {
		t.Fatalf("expected error without kv table")
	}
}

func TestProfileSnapshot_UpsertAndGet(t *testing.T) {
	db := newChatRepoDB(t, &domain.ProfileSnapshot{})
	ctx := context.Background()
	t0 := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	if _, err := GetProfileSnapshotByLogin(ctx, db, "octocat"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	s := &domain.ProfileSnapshot{Path: "profiles/octocat", Login: "octocat", Name: "The Octocat", PublicRepos: 8, SyncedAt: t0}
	if err := UpsertProfileSnapshot(ctx, db, s); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	s2 := &domain.ProfileSnapshot{Path: "profiles/octocat", Login: "octocat", Name: "Mona", PublicRepos: 9, SyncedAt: t0.Add(time.Hour)}
	if err := UpsertProfileSnapshot(ctx, db, s2); err != nil {
		t.Fatalf("upsert replace: %v", err)
	}

	got, err := GetProfileSnapshotByLogin(ctx, db, "OctoCat")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Mona" || got.PublicRepos != 9 || !got.SyncedAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("snapshot not replaced: %+v", got)
	}
	var n int64
	db.Model(&domain.ProfileSnapshot{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected one snapshot row, got %d", n)
	}
}
