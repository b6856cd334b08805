package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tbourn/go-portfolio-backend/internal/domain"
	"github.com/tbourn/go-portfolio-backend/internal/services"
)

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s: %v (status %d)", path, err, status)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, cmd command) {
	t.Helper()
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("write %s: %v", cmd.Type, err)
	}
}

// await reads frames until match accepts one.
func await[E any](t *testing.T, conn *websocket.Conn, match func(E) bool) E {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var ev E
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		if match(ev) {
			return ev
		}
	}
}

func visitorType(typ string) func(services.VisitorEvent) bool {
	return func(ev services.VisitorEvent) bool { return ev.Type == typ }
}

func TestVisitorStream_RejectsBadDevice(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws/visitor?device=" + strings.Repeat("x", 65))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestVisitorStream_NameThenMessage(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dial(t, srv, "/ws/visitor?device=device-1")
	first := await(t, conn, visitorType(services.VisitorEventSession))
	if !first.NeedsName || first.ChatID == "" {
		t.Fatalf("expected a name prompt, got %+v", first)
	}

	send(t, conn, command{Type: cmdSubmitName, Name: "A"})
	if ev := await(t, conn, visitorType(services.VisitorEventError)); ev.Code != ErrCodeBadRequest {
		t.Fatalf("short name: code=%q", ev.Code)
	}

	send(t, conn, command{Type: cmdSubmitName, Name: "Ada"})
	conv := await(t, conn, visitorType(services.VisitorEventConversation))
	if conv.Name != "Ada" || conv.ChatID != first.ChatID {
		t.Fatalf("unexpected conversation %+v", conv)
	}

	send(t, conn, command{Type: cmdSend, Text: "hello there"})
	msgs := await(t, conn, func(ev services.VisitorEvent) bool {
		return ev.Type == services.VisitorEventMessages && len(ev.Messages) > 0
	})
	if got := msgs.Messages[len(msgs.Messages)-1]; got.Text != "hello there" || got.Sender != domain.SenderVisitor {
		t.Fatalf("unexpected message %+v", got)
	}

	chat, err := env.store.GetChat(context.Background(), first.ChatID)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if chat.VisitorName != "Ada" {
		t.Fatalf("chat root not written: %+v", chat)
	}

	send(t, conn, command{Type: "dance"})
	if ev := await(t, conn, visitorType(services.VisitorEventError)); ev.Code != ErrCodeBadRequest {
		t.Fatalf("unknown command: code=%q", ev.Code)
	}
}

func TestVisitorStream_ResumesForSameDevice(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dial(t, srv, "/ws/visitor?device=device-2")
	first := await(t, conn, visitorType(services.VisitorEventSession))
	send(t, conn, command{Type: cmdSubmitName, Name: "Grace"})
	signedIn := await(t, conn, func(ev services.VisitorEvent) bool {
		return ev.Type == services.VisitorEventSession && ev.Token != ""
	})
	await(t, conn, visitorType(services.VisitorEventConversation))
	_ = conn.Close()

	again := dial(t, srv, "/ws/visitor?device=device-2&token="+url.QueryEscape(signedIn.Token))
	conv := await(t, again, visitorType(services.VisitorEventConversation))
	if conv.ChatID != first.ChatID || conv.Name != "Grace" {
		t.Fatalf("did not resume: %+v", conv)
	}
}

func TestVisitorStream_ResumeWithoutOwnerTokenForbidden(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dial(t, srv, "/ws/visitor?device=device-3")
	await(t, conn, visitorType(services.VisitorEventSession))
	send(t, conn, command{Type: cmdSubmitName, Name: "Grace"})
	await(t, conn, visitorType(services.VisitorEventConversation))
	_ = conn.Close()

	again := dial(t, srv, "/ws/visitor?device=device-3")
	ev := await(t, again, func(ev services.VisitorEvent) bool {
		if ev.Type == services.VisitorEventConversation || ev.Type == services.VisitorEventMessages {
			t.Fatalf("transcript exposed to another principal: %+v", ev)
		}
		return ev.Type == services.VisitorEventError
	})
	if ev.Code != ErrCodeForbidden {
		t.Fatalf("code=%q, want %q", ev.Code, ErrCodeForbidden)
	}
}

func TestAdminStream_RequiresAdminSession(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/admin"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestAdminStream_DeniedForRemovedAdmin(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dial(t, srv, "/ws/admin?token="+env.adminToken(t, "former-admin@example.com"))
	ev := await(t, conn, func(ev services.AdminEvent) bool { return ev.Type == services.AdminEventStatus })
	if ev.Status != services.AdminDenied {
		t.Fatalf("status=%q", ev.Status)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("expected normal close, got %v", err)
			}
			return
		}
	}
}

func TestAdminStream_SelectAndReply(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.store.EnsureChat(ctx, "chat-1", "anon-1", "Ada"); err != nil {
		t.Fatalf("EnsureChat: %v", err)
	}
	if _, err := env.store.AddMessage(ctx, "chat-1", domain.SenderVisitor, "is anyone there?"); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	srv := httptest.NewServer(env.router)
	defer srv.Close()
	conn := dial(t, srv, "/ws/admin?token="+env.adminToken(t, ownerEmail))

	status := await(t, conn, func(ev services.AdminEvent) bool { return ev.Type == services.AdminEventStatus })
	if status.Status != services.AdminSignedIn {
		t.Fatalf("status=%q", status.Status)
	}
	list := await(t, conn, func(ev services.AdminEvent) bool {
		return ev.Type == services.AdminEventChats && len(ev.Chats) > 0
	})
	if list.Chats[0].ID != "chat-1" {
		t.Fatalf("unexpected chats %+v", list.Chats)
	}

	send(t, conn, command{Type: cmdReply, Text: "too early"})
	if ev := await(t, conn, func(ev services.AdminEvent) bool { return ev.Type == services.AdminEventError }); ev.Code != ErrCodeConflict {
		t.Fatalf("reply without selection: code=%q", ev.Code)
	}

	send(t, conn, command{Type: cmdSelectChat, ChatID: "chat-1"})
	await(t, conn, func(ev services.AdminEvent) bool {
		return ev.Type == services.AdminEventMessages && ev.ChatID == "chat-1" && len(ev.Messages) == 1
	})

	send(t, conn, command{Type: cmdReply, Text: "hi Ada"})
	msgs := await(t, conn, func(ev services.AdminEvent) bool {
		return ev.Type == services.AdminEventMessages && ev.ChatID == "chat-1" && len(ev.Messages) == 2
	})
	if got := msgs.Messages[1]; got.Text != "hi Ada" || got.Sender != domain.SenderAdmin {
		t.Fatalf("unexpected reply %+v", got)
	}

	send(t, conn, command{Type: cmdSignOut})
	out := await(t, conn, func(ev services.AdminEvent) bool { return ev.Type == services.AdminEventStatus })
	if out.Status != services.AdminSignedOut {
		t.Fatalf("status=%q", out.Status)
	}
}
