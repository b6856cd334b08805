package realtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func newFeed(t *testing.T) *Feed {
	t.Helper()
	f := NewFeed()
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func next[T any](t *testing.T, s *Subscription[T]) Snapshot[T] {
	t.Helper()
	select {
	case snap, ok := <-s.C():
		if !ok {
			t.Fatalf("subscription closed unexpectedly")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
	}
	return Snapshot[T]{}
}

func TestWatch_InitialSnapshotThenRequery(t *testing.T) {
	f := newFeed(t)
	var n atomic.Int32
	s, err := Watch(f, "chats", func(context.Context) (int32, error) { return n.Load(), nil })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer s.Close()

	if snap := next(t, s); snap.Err != nil || snap.Value != 0 {
		t.Fatalf("initial snapshot = %+v", snap)
	}

	n.Store(7)
	f.Notify(context.Background(), "chats")
	if snap := next(t, s); snap.Value != 7 {
		t.Fatalf("after notify = %+v", snap)
	}
}

func TestWatch_TopicsAreIsolated(t *testing.T) {
	f := newFeed(t)
	var calls atomic.Int32
	s, err := Watch(f, "chats/a/messages", func(context.Context) (int32, error) { return calls.Add(1), nil })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer s.Close()
	next(t, s)

	f.Notify(context.Background(), "chats/b/messages")
	select {
	case snap := <-s.C():
		t.Fatalf("unexpected snapshot from foreign topic: %+v", snap)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatch_QueryErrorIsDelivered(t *testing.T) {
	f := newFeed(t)
	boom := errors.New("boom")
	s, err := Watch(f, "chats", func(context.Context) ([]string, error) { return nil, boom })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer s.Close()
	if snap := next(t, s); !errors.Is(snap.Err, boom) {
		t.Fatalf("expected query error, got %+v", snap)
	}
}

func TestClose_IsSynchronousAndIdempotent(t *testing.T) {
	f := newFeed(t)
	s, err := Watch(f, "chats", func(context.Context) (string, error) { return "x", nil })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	next(t, s)

	s.Close()
	s.Close()
	f.Notify(context.Background(), "chats")

	// The channel is closed and drained: nothing arrives after Close.
	if snap, ok := <-s.C(); ok {
		t.Fatalf("snapshot after Close: %+v", snap)
	}
}

func TestWatch_ClosedFeed(t *testing.T) {
	f := NewFeed()
	_ = f.Close()
	if _, err := Watch(f, "chats", func(context.Context) (int, error) { return 0, nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
