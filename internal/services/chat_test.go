package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tbourn/go-portfolio-backend/internal/auth"
	"github.com/tbourn/go-portfolio-backend/internal/docstore"
	"github.com/tbourn/go-portfolio-backend/internal/domain"
	"github.com/tbourn/go-portfolio-backend/internal/kv"
	"github.com/tbourn/go-portfolio-backend/internal/realtime"
	"github.com/tbourn/go-portfolio-backend/internal/repo"
)

type chatEnv struct {
	store  *docstore.Store
	local  kv.Store
	issuer *auth.Issuer
}

func newChatEnv(t *testing.T) *chatEnv {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	feed := realtime.NewFeed()
	local, err := kv.OpenBadger("")
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	issuer, err := auth.NewIssuer("0123456789abcdef-test", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	t.Cleanup(func() {
		_ = feed.Close()
		_ = local.Close()
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return &chatEnv{store: docstore.New(db, feed), local: local, issuer: issuer}
}

func (e *chatEnv) visitor(t *testing.T, device string) *VisitorSession {
	t.Helper()
	return e.visitorWithToken(t, device, "")
}

func (e *chatEnv) visitorWithToken(t *testing.T, device, token string) *VisitorSession {
	t.Helper()
	s := NewVisitorSession(e.store, kv.Prefixed(e.local, "visitor:"+device+":"), e.issuer, token,
		VisitorOptions{HistoryLimit: 100, MaxMessageRunes: 20})
	t.Cleanup(s.Dispose)
	return s
}

// waitVisitor reads events until match returns true.
func waitVisitor(t *testing.T, s *VisitorSession, match func(VisitorEvent) bool) VisitorEvent {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatalf("event stream closed")
			}
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for visitor event")
		}
	}
}

func waitAdmin(t *testing.T, c *AdminConsole, match func(AdminEvent) bool) AdminEvent {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				t.Fatalf("event stream closed")
			}
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for admin event")
		}
	}
}

func TestVisitor_ShortNameRejectedWithoutSideEffects(t *testing.T) {
	env := newChatEnv(t)
	ctx := context.Background()
	s := env.visitor(t, "d1")
	if err := s.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	waitVisitor(t, s, func(ev VisitorEvent) bool { return ev.NeedsName })

	for _, name := range []string{"A", "  b  ", ""} {
		if err := s.SubmitName(ctx, name); !errors.Is(err, ErrNameTooShort) || !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("SubmitName(%q) = %v", name, err)
		}
	}
	if _, err := env.store.GetChat(ctx, s.ChatID()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("chat root must not exist, got %v", err)
	}
	if s.principal != nil {
		t.Fatalf("anonymous session must not be created")
	}
}

func TestVisitor_SubmitNameAndSend(t *testing.T) {
	env := newChatEnv(t)
	ctx := context.Background()
	s := env.visitor(t, "d1")
	_ = s.Open(ctx)

	if err := s.SendMessage(ctx, "hello"); !errors.Is(err, ErrNoVisitorName) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	if err := s.SendMessage(ctx, "   "); err != nil {
		t.Fatalf("blank message must be a no-op, got %v", err)
	}

	if err := s.SubmitName(ctx, "  Ana  "); err != nil {
		t.Fatalf("SubmitName: %v", err)
	}
	chat, err := env.store.GetChat(ctx, s.ChatID())
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if chat.VisitorName != "Ana" || chat.LastMessageText != domain.ChatStartedMarker || chat.VisitorUID == "" {
		t.Fatalf("unexpected chat root: %+v", chat)
	}
	waitVisitor(t, s, func(ev VisitorEvent) bool { return ev.Type == VisitorEventSystem })

	if err := s.SendMessage(ctx, "this message is far too long"); !errors.Is(err, ErrMessageTooLong) {
		t.Fatalf("expected too-long error, got %v", err)
	}
	if err := s.SendMessage(ctx, "hi there"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	ev := waitVisitor(t, s, func(ev VisitorEvent) bool { return ev.Type == VisitorEventMessages && len(ev.Messages) == 1 })
	if m := ev.Messages[0]; m.Sender != domain.SenderVisitor || m.Text != "hi there" {
		t.Fatalf("unexpected message: %+v", m)
	}
	chat, _ = env.store.GetChat(ctx, s.ChatID())
	if chat.UnreadForAdmin != 1 || chat.LastMessageText != "hi there" {
		t.Fatalf("summary not merged: %+v", chat)
	}
}

func TestVisitor_ResumesOnReopen(t *testing.T) {
	env := newChatEnv(t)
	ctx := context.Background()

	first := env.visitor(t, "d1")
	_ = first.Open(ctx)
	if err := first.SubmitName(ctx, "Bo"); err != nil {
		t.Fatalf("SubmitName: %v", err)
	}
	chatID := first.ChatID()
	token := waitVisitor(t, first, func(ev VisitorEvent) bool {
		return ev.Type == VisitorEventSession && ev.Token != ""
	}).Token
	first.Dispose()

	again := env.visitorWithToken(t, "d1", token)
	if err := again.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	ev := waitVisitor(t, again, func(ev VisitorEvent) bool { return ev.Type == VisitorEventConversation })
	if ev.ChatID != chatID || ev.Name != "Bo" {
		t.Fatalf("not resumed: %+v", ev)
	}

	other := env.visitor(t, "d2")
	_ = other.Open(ctx)
	if other.ChatID() == chatID {
		t.Fatalf("devices must not share a chat")
	}
}

func TestVisitor_ResumeRequiresOwningPrincipal(t *testing.T) {
	env := newChatEnv(t)
	ctx := context.Background()

	owner := env.visitor(t, "d1")
	_ = owner.Open(ctx)
	if err := owner.SubmitName(ctx, "Bo"); err != nil {
		t.Fatalf("SubmitName: %v", err)
	}
	chatID := owner.ChatID()
	owner.Dispose()

	// Same device pointer, but no token: a fresh principal.
	intruder := env.visitor(t, "d1")
	if err := intruder.Open(ctx); !errors.Is(err, ErrChatNotOwned) {
		t.Fatalf("Open: expected ErrChatNotOwned, got %v", err)
	}
	if got := domain.KindOf(intruder.Open(ctx)); got != domain.KindForbidden {
		t.Fatalf("kind = %v, want forbidden", got)
	}
	if err := intruder.SubmitName(ctx, "Eve"); !errors.Is(err, ErrChatNotOwned) {
		t.Fatalf("SubmitName: expected ErrChatNotOwned, got %v", err)
	}

	chat, err := env.store.GetChat(ctx, chatID)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if chat.VisitorName != "Bo" || chat.VisitorUID == "" {
		t.Fatalf("owner overwritten: %+v", chat)
	}

	// The rejected session never subscribed to the transcript.
	intruder.Dispose()
	for ev := range intruder.Events() {
		if ev.Type == VisitorEventMessages || ev.Type == VisitorEventConversation {
			t.Fatalf("leaked %s event to another principal", ev.Type)
		}
	}
}

func TestVisitor_DisposeClosesEventsAndRejectsCommands(t *testing.T) {
	env := newChatEnv(t)
	s := env.visitor(t, "d1")
	_ = s.Open(context.Background())
	_ = s.SubmitName(context.Background(), "Ana")

	s.Dispose()
	s.Dispose()
	for range s.Events() {
	}
	if err := s.SendMessage(context.Background(), "late"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func newConsole(t *testing.T, env *chatEnv) *AdminConsole {
	t.Helper()
	c := NewAdminConsole(env.store, auth.NewAllowList([]string{"admin@example.com"}),
		AdminOptions{ListLimit: 50, HistoryLimit: 200, MaxMessageRunes: 2000})
	t.Cleanup(c.Dispose)
	return c
}

func TestAdmin_SignInFailsClosed(t *testing.T) {
	env := newChatEnv(t)
	c := newConsole(t, env)
	ctx := context.Background()

	err := c.SignIn(ctx, auth.Principal{UID: "u", Email: "stranger@example.com", Kind: auth.KindAdmin})
	if !errors.Is(err, ErrNotAllowListed) || !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if c.chats != nil {
		t.Fatalf("no subscription may be opened for a refused principal")
	}
	if err := c.SelectChat(ctx, "c1"); !errors.Is(err, ErrNotSignedIn) {
		t.Fatalf("expected ErrNotSignedIn, got %v", err)
	}
}

func TestAdmin_ListSelectReply(t *testing.T) {
	env := newChatEnv(t)
	ctx := context.Background()

	v := env.visitor(t, "d1")
	_ = v.Open(ctx)
	_ = v.SubmitName(ctx, "Ana")
	_ = v.SendMessage(ctx, "hello")

	c := newConsole(t, env)
	if err := c.SignIn(ctx, auth.Principal{UID: "g", Email: "Admin@Example.com", Kind: auth.KindAdmin}); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	list := waitAdmin(t, c, func(ev AdminEvent) bool { return ev.Type == AdminEventChats && len(ev.Chats) == 1 })
	if list.Chats[0].UnreadForAdmin != 1 {
		t.Fatalf("expected unread chat, got %+v", list.Chats[0])
	}

	if err := c.Reply(ctx, "hi"); !errors.Is(err, ErrNoChatSelected) {
		t.Fatalf("expected ErrNoChatSelected, got %v", err)
	}
	if err := c.SelectChat(ctx, v.ChatID()); err != nil {
		t.Fatalf("SelectChat: %v", err)
	}
	msgs := waitAdmin(t, c, func(ev AdminEvent) bool { return ev.Type == AdminEventMessages })
	if msgs.ChatID != v.ChatID() || len(msgs.Messages) != 1 || msgs.Messages[0].Text != "hello" {
		t.Fatalf("unexpected messages event: %+v", msgs)
	}
	chat, _ := env.store.GetChat(ctx, v.ChatID())
	if chat.UnreadForAdmin != 0 {
		t.Fatalf("select must clear admin unread: %+v", chat)
	}

	if err := c.Reply(ctx, "welcome!"); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	chat, _ = env.store.GetChat(ctx, v.ChatID())
	if chat.UnreadForVisitor != 1 || chat.LastMessageText != "welcome!" {
		t.Fatalf("reply summary not merged: %+v", chat)
	}
	ev := waitVisitor(t, v, func(ev VisitorEvent) bool {
		return ev.Type == VisitorEventMessages && len(ev.Messages) == 2
	})
	if ev.Messages[1].Sender != domain.SenderAdmin {
		t.Fatalf("visitor did not see the admin reply last: %+v", ev.Messages)
	}
}

func TestAdmin_SwitchingChatsDoesNotLeak(t *testing.T) {
	env := newChatEnv(t)
	ctx := context.Background()
	a, b := env.visitor(t, "a"), env.visitor(t, "b")
	for _, v := range []*VisitorSession{a, b} {
		_ = v.Open(ctx)
		_ = v.SubmitName(ctx, "Visitor")
	}

	c := newConsole(t, env)
	_ = c.SignIn(ctx, auth.Principal{Email: "admin@example.com"})
	_ = c.SelectChat(ctx, a.ChatID())
	_ = c.SelectChat(ctx, b.ChatID())
	if c.Selected() != b.ChatID() {
		t.Fatalf("selected = %s", c.Selected())
	}

	// Writes to the old chat must not reach the console once switched.
	_ = a.SendMessage(ctx, "to a")
	_ = b.SendMessage(ctx, "to b")
	waitAdmin(t, c, func(ev AdminEvent) bool {
		return ev.Type == AdminEventMessages && ev.ChatID == b.ChatID() && len(ev.Messages) == 1
	})

	drain := time.After(200 * time.Millisecond)
	for {
		select {
		case ev := <-c.Events():
			if ev.Type == AdminEventMessages && ev.ChatID == a.ChatID() && len(ev.Messages) > 0 {
				t.Fatalf("leaked message event from previous chat: %+v", ev)
			}
		case <-drain:
			return
		}
	}
}

func TestAdmin_SignOutTearsDown(t *testing.T) {
	env := newChatEnv(t)
	ctx := context.Background()
	c := newConsole(t, env)
	_ = c.SignIn(ctx, auth.Principal{Email: "admin@example.com"})
	_ = c.SelectChat(ctx, "c1")

	c.SignOut()
	if c.chats != nil || c.messages != nil || c.Selected() != "" {
		t.Fatalf("sign-out left state behind")
	}
	waitAdmin(t, c, func(ev AdminEvent) bool { return ev.Type == AdminEventStatus && ev.Status == AdminSignedOut })
	if err := c.Reply(ctx, "x"); !errors.Is(err, ErrNotSignedIn) {
		t.Fatalf("expected ErrNotSignedIn, got %v", err)
	}
}
