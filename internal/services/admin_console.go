// Package services – AdminConsole
//
// AdminConsole is the admin side of the chat, one per admin connection.
// After an allow-listed SignIn it streams the chat list by recency; selecting
// a chat streams that chat's messages and clears its admin unread flag.
// At most one message subscription is open: selecting another chat stops the
// previous one before the next is opened.
package services

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-portfolio-backend/internal/auth"
	"github.com/tbourn/go-portfolio-backend/internal/domain"
	"github.com/tbourn/go-portfolio-backend/internal/realtime"
	"github.com/tbourn/go-portfolio-backend/internal/repo"
)

// Admin event types.
const (
	AdminEventStatus   = "status"
	AdminEventChats    = "chats"
	AdminEventMessages = "messages"
	AdminEventError    = "error"
)

// Admin statuses carried by status events.
const (
	AdminSignedIn  = "signed_in"
	AdminSignedOut = "signed_out"
	AdminDenied    = "denied"
)

// AdminEvent is one update for the admin's client. Message events carry the
// chat they belong to.
type AdminEvent struct {
	Type     string           `json:"type"`
	Status   string           `json:"status,omitempty"`
	Email    string           `json:"email,omitempty"`
	Chats    []domain.Chat    `json:"chats,omitempty"`
	ChatID   string           `json:"chat_id,omitempty"`
	Messages []domain.Message `json:"messages,omitempty"`
	Code     string           `json:"code,omitempty"`
	Text     string           `json:"text,omitempty"`
}

// AdminOptions tunes an AdminConsole.
type AdminOptions struct {
	ListLimit       int
	HistoryLimit    int
	MaxMessageRunes int
}

// AdminConsole is safe for concurrent use.
type AdminConsole struct {
	store ChatStore
	allow auth.AllowList
	opts  AdminOptions
	log   zerolog.Logger

	mu        sync.Mutex
	principal *auth.Principal
	selected  string
	chats     *forwarder
	messages  *forwarder
	closed    bool

	events    chan AdminEvent
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewAdminConsole creates a signed-out console.
func NewAdminConsole(store ChatStore, allow auth.AllowList, opts AdminOptions) *AdminConsole {
	if opts.ListLimit <= 0 {
		opts.ListLimit = 50
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 200
	}
	return &AdminConsole{
		store:  store,
		allow:  allow,
		opts:   opts,
		log:    log.With().Str("component", "admin_console").Logger(),
		events: make(chan AdminEvent, 32),
		done:   make(chan struct{}),
	}
}

// Events is the console's output. It is closed by Dispose.
func (c *AdminConsole) Events() <-chan AdminEvent { return c.events }

// Selected returns the selected chat id, or "".
func (c *AdminConsole) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// SignIn opens the chat list for an allow-listed principal. Anyone else is
// refused and no subscription is opened.
func (c *AdminConsole) SignIn(ctx context.Context, p auth.Principal) error {
	_, span := otel.Tracer("services/AdminConsole").Start(ctx, "SignIn")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	if !c.allow.Allows(p.Email) {
		c.log.Info().Str("email", p.Email).Msg("admin sign-in refused")
		c.emit(AdminEvent{Type: AdminEventStatus, Status: AdminDenied, Email: p.Email})
		return ErrNotAllowListed
	}
	if c.principal != nil {
		return nil
	}

	sub, err := c.store.WatchChats(c.opts.ListLimit)
	if err != nil {
		span.RecordError(err)
		return err
	}
	c.principal = &p
	c.chats = forward(&c.wg, sub, func(snap realtime.Snapshot[[]domain.Chat], quit <-chan struct{}) {
		ev := AdminEvent{Type: AdminEventChats, Chats: snap.Value}
		if snap.Err != nil {
			c.log.Warn().Err(snap.Err).Msg("chat list query failed")
			ev = AdminEvent{Type: AdminEventError, Code: codeQueryFailed, Text: "could not load chats"}
		}
		c.send(ev, quit)
	})
	c.emit(AdminEvent{Type: AdminEventStatus, Status: AdminSignedIn, Email: p.Email})
	return nil
}

// SelectChat switches the message stream to chatID and marks it read. The
// previous stream is fully stopped before the new one starts.
func (c *AdminConsole) SelectChat(ctx context.Context, chatID string) error {
	chatID = normalizeText(chatID)
	if chatID == "" {
		return ErrChatIDRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	if c.principal == nil {
		return ErrNotSignedIn
	}

	ctx, span := otel.Tracer("services/AdminConsole").Start(ctx, "SelectChat",
		trace.WithAttributes(attribute.String("chat.id", chatID)))
	defer span.End()

	c.messages.stop()
	c.messages = nil
	c.selected = ""

	sub, err := c.store.WatchMessages(chatID, c.opts.HistoryLimit)
	if err != nil {
		span.RecordError(err)
		return err
	}
	c.selected = chatID
	c.messages = forward(&c.wg, sub, func(snap realtime.Snapshot[[]domain.Message], quit <-chan struct{}) {
		ev := AdminEvent{Type: AdminEventMessages, ChatID: chatID, Messages: snap.Value}
		if snap.Err != nil {
			c.log.Warn().Err(snap.Err).Str("chat_id", chatID).Msg("message query failed")
			ev = AdminEvent{Type: AdminEventError, ChatID: chatID, Code: codeQueryFailed, Text: "could not load messages"}
		}
		c.send(ev, quit)
	})

	read := 0
	if err := c.store.MergeChat(ctx, chatID, repo.ChatPatch{UnreadForAdmin: &read}); err != nil {
		c.log.Warn().Err(err).Str("chat_id", chatID).Msg("read receipt failed")
	}
	return nil
}

// Reply appends an admin message to the selected chat and flags it unread
// for the visitor. Blank input is ignored.
func (c *AdminConsole) Reply(ctx context.Context, text string) error {
	text = normalizeText(text)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	if c.principal == nil {
		return ErrNotSignedIn
	}
	if c.selected == "" {
		return ErrNoChatSelected
	}
	if tooLong(text, c.opts.MaxMessageRunes) {
		return ErrMessageTooLong
	}

	ctx, span := otel.Tracer("services/AdminConsole").Start(ctx, "Reply",
		trace.WithAttributes(attribute.String("chat.id", c.selected)))
	defer span.End()

	if _, err := c.store.AddMessage(ctx, c.selected, domain.SenderAdmin, text); err != nil {
		span.RecordError(err)
		return err
	}
	unread := 1
	if err := c.store.MergeChat(ctx, c.selected, repo.ChatPatch{
		LastMessageText:  &text,
		StampLastMessage: true,
		UnreadForVisitor: &unread,
	}); err != nil {
		c.log.Warn().Err(err).Str("chat_id", c.selected).Msg("chat summary update failed")
	}
	return nil
}

// SignOut stops both streams and clears the selection.
func (c *AdminConsole) SignOut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.principal == nil {
		return
	}
	c.teardown()
	c.emit(AdminEvent{Type: AdminEventStatus, Status: AdminSignedOut})
}

// Dispose signs out and closes the event stream. It is idempotent.
func (c *AdminConsole) Dispose() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.closed = true
		c.teardown()
		c.mu.Unlock()

		c.wg.Wait()
		close(c.events)
	})
}

// teardown stops every stream. Callers hold c.mu.
func (c *AdminConsole) teardown() {
	c.messages.stop()
	c.chats.stop()
	c.messages, c.chats = nil, nil
	c.selected = ""
	c.principal = nil
}

// send delivers a stream event unless its forwarder or the console stops.
func (c *AdminConsole) send(ev AdminEvent, quit <-chan struct{}) {
	select {
	case c.events <- ev:
	case <-quit:
	case <-c.done:
	}
}

// emit queues a command result. Callers hold c.mu.
func (c *AdminConsole) emit(ev AdminEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}
