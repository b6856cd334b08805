// Package services – VisitorSession
//
// VisitorSession is the visitor side of the chat, one per connected device.
// It owns the device's chat id and display name (persisted in the device's
// namespace of the local store), an anonymous principal, and at most one
// live subscription to the chat's messages.
//
// Lifecycle: NewVisitorSession, Open, commands, Dispose. Output is an event
// stream (Events) that is closed after Dispose.
package services

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-portfolio-backend/internal/auth"
	"github.com/tbourn/go-portfolio-backend/internal/domain"
	"github.com/tbourn/go-portfolio-backend/internal/kv"
	"github.com/tbourn/go-portfolio-backend/internal/realtime"
	"github.com/tbourn/go-portfolio-backend/internal/repo"
)

// Local keys in a device namespace.
const (
	KeyVisitorName = "chat_visitor_name_v1"
	KeyChatID      = "chat_id_v1"
	KeySubmitted   = "chat_widget_submitted"
)

// Visitor event types.
const (
	VisitorEventSession      = "session"
	VisitorEventConversation = "conversation"
	VisitorEventMessages     = "messages"
	VisitorEventSystem       = "system"
	VisitorEventError        = "error"
)

const maxNameRunes = 80

// AnonymousAuth issues idempotent anonymous sessions; *auth.Issuer
// implements it.
type AnonymousAuth interface {
	Anonymous(current string) (string, auth.Principal, error)
}

// VisitorEvent is one update for the visitor's client.
type VisitorEvent struct {
	Type      string           `json:"type"`
	ChatID    string           `json:"chat_id,omitempty"`
	Name      string           `json:"name,omitempty"`
	NeedsName bool             `json:"needs_name,omitempty"`
	Token     string           `json:"token,omitempty"`
	UID       string           `json:"uid,omitempty"`
	Messages  []domain.Message `json:"messages,omitempty"`
	Text      string           `json:"text,omitempty"`
	Code      string           `json:"code,omitempty"`
}

// VisitorOptions tunes a VisitorSession.
type VisitorOptions struct {
	HistoryLimit    int // most recent messages shown
	MaxMessageRunes int
}

// VisitorSession is safe for concurrent use.
type VisitorSession struct {
	store ChatStore
	local kv.Store
	auth  AnonymousAuth
	opts  VisitorOptions
	log   zerolog.Logger

	mu        sync.Mutex
	token     string
	principal *auth.Principal
	chatID    string
	name      string
	messages  *forwarder
	closed    bool

	events    chan VisitorEvent
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewVisitorSession creates a session for one device. local must already be
// namespaced to the device (see kv.Prefixed). token is the device's current
// anonymous session token, possibly empty.
func NewVisitorSession(store ChatStore, local kv.Store, issuer AnonymousAuth, token string, opts VisitorOptions) *VisitorSession {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 100
	}
	return &VisitorSession{
		store:  store,
		local:  local,
		auth:   issuer,
		opts:   opts,
		token:  token,
		log:    log.With().Str("component", "visitor_session").Logger(),
		events: make(chan VisitorEvent, 32),
		done:   make(chan struct{}),
	}
}

// Events is the session's output. It is closed by Dispose.
func (s *VisitorSession) Events() <-chan VisitorEvent { return s.events }

// ChatID returns the device's chat id (empty before Open).
func (s *VisitorSession) ChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID
}

// Open hydrates the session from local storage. A device that already
// submitted its name resumes its conversation; otherwise the client is asked
// for a name. Resuming requires the anonymous principal that created the
// chat; any other principal gets ErrChatNotOwned. Local storage failures are
// tolerated: the session then lives in memory only.
func (s *VisitorSession) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	s.chatID = s.readLocal(ctx, KeyChatID)
	if s.chatID == "" {
		s.chatID = uuid.NewString()
		s.writeLocal(ctx, KeyChatID, s.chatID)
	}
	name := s.readLocal(ctx, KeyVisitorName)
	submitted := s.readLocal(ctx, KeySubmitted) != ""

	if !submitted || name == "" {
		s.emit(VisitorEvent{Type: VisitorEventSession, ChatID: s.chatID, NeedsName: true})
		return nil
	}

	if err := s.ensureAuth(); err != nil {
		return err
	}
	if err := s.checkOwner(ctx); err != nil {
		return err
	}
	s.name = name
	s.emit(VisitorEvent{Type: VisitorEventConversation, ChatID: s.chatID, Name: s.name})
	return s.subscribe()
}

// SubmitName validates name, creates or merges the chat root and opens the
// conversation. A rejected name changes nothing.
func (s *VisitorSession) SubmitName(ctx context.Context, name string) error {
	ctx, span := otel.Tracer("services/VisitorSession").Start(ctx, "SubmitName")
	defer span.End()

	name = normalizeText(name)
	if len([]rune(name)) < 2 {
		return ErrNameTooShort
	}
	if tooLong(name, maxNameRunes) {
		return ErrNameTooLong
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.chatID == "" {
		return domain.Precondition("session is not open")
	}
	span.SetAttributes(attribute.String("chat.id", s.chatID))

	if err := s.ensureAuth(); err != nil {
		return err
	}
	if err := s.checkOwner(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	if err := s.store.EnsureChat(ctx, s.chatID, s.principal.UID, name); err != nil {
		span.RecordError(err)
		return err
	}
	s.name = name
	s.writeLocal(ctx, KeyVisitorName, name)
	s.writeLocal(ctx, KeySubmitted, "1")

	s.emit(VisitorEvent{Type: VisitorEventConversation, ChatID: s.chatID, Name: name})
	if s.messages == nil {
		if err := s.subscribe(); err != nil {
			return err
		}
	}
	s.emit(VisitorEvent{Type: VisitorEventSystem, Text: greeting(name)})
	return nil
}

// SendMessage appends a visitor message and flags the chat unread for the
// admin. Blank input is ignored.
func (s *VisitorSession) SendMessage(ctx context.Context, text string) error {
	text = normalizeText(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.name == "" {
		return ErrNoVisitorName
	}
	if tooLong(text, s.opts.MaxMessageRunes) {
		return ErrMessageTooLong
	}

	ctx, span := otel.Tracer("services/VisitorSession").Start(ctx, "SendMessage",
		trace.WithAttributes(attribute.String("chat.id", s.chatID)))
	defer span.End()

	if err := s.ensureAuth(); err != nil {
		return err
	}
	if _, err := s.store.AddMessage(ctx, s.chatID, domain.SenderVisitor, text); err != nil {
		span.RecordError(err)
		return err
	}
	// The summary is advisory; the message list stays authoritative.
	unread := 1
	if err := s.store.MergeChat(ctx, s.chatID, repo.ChatPatch{
		LastMessageText:  &text,
		StampLastMessage: true,
		UnreadForAdmin:   &unread,
	}); err != nil {
		s.log.Warn().Err(err).Str("chat_id", s.chatID).Msg("chat summary update failed")
	}
	return nil
}

// Dispose closes the subscription and the event stream. It is idempotent
// and returns once no more events can be produced.
func (s *VisitorSession) Dispose() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		f := s.messages
		s.messages = nil
		s.mu.Unlock()

		f.stop()
		s.wg.Wait()
		close(s.events)
	})
}

// ensureAuth signs in anonymously once per session. Callers hold s.mu.
func (s *VisitorSession) ensureAuth() error {
	if s.principal != nil {
		return nil
	}
	tok, p, err := s.auth.Anonymous(s.token)
	if err != nil {
		return err
	}
	s.token, s.principal = tok, &p
	s.emit(VisitorEvent{Type: VisitorEventSession, ChatID: s.chatID, Token: tok, UID: p.UID})
	return nil
}

// checkOwner rejects a chat root owned by another principal. A chat that
// does not exist yet belongs to whoever creates it. Callers hold s.mu.
func (s *VisitorSession) checkOwner(ctx context.Context) error {
	chat, err := s.store.GetChat(ctx, s.chatID)
	switch {
	case domain.KindOf(err) == domain.KindNotFound:
		return nil
	case err != nil:
		return err
	case chat.VisitorUID != "" && chat.VisitorUID != s.principal.UID:
		s.log.Warn().Str("chat_id", s.chatID).Str("uid", s.principal.UID).Msg("chat owned by another visitor")
		return ErrChatNotOwned
	}
	return nil
}

// subscribe opens the live message query. Callers hold s.mu.
func (s *VisitorSession) subscribe() error {
	sub, err := s.store.WatchMessages(s.chatID, s.opts.HistoryLimit)
	if err != nil {
		return err
	}
	chatID := s.chatID
	s.messages = forward(&s.wg, sub, func(snap realtime.Snapshot[[]domain.Message], quit <-chan struct{}) {
		ev := VisitorEvent{Type: VisitorEventMessages, ChatID: chatID, Messages: snap.Value}
		if snap.Err != nil {
			s.log.Warn().Err(snap.Err).Str("chat_id", chatID).Msg("message query failed")
			ev = VisitorEvent{Type: VisitorEventError, Code: codeQueryFailed, Text: "could not load messages"}
		}
		select {
		case s.events <- ev:
		case <-quit:
		case <-s.done:
		}
	})
	return nil
}

// emit queues ev unless the session is shutting down. Callers hold s.mu.
func (s *VisitorSession) emit(ev VisitorEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *VisitorSession) readLocal(ctx context.Context, key string) string {
	v, err := s.local.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.log.Debug().Err(err).Str("key", key).Msg("local read failed")
		}
		return ""
	}
	return string(v)
}

func (s *VisitorSession) writeLocal(ctx context.Context, key, value string) {
	if err := s.local.Set(ctx, key, []byte(value)); err != nil {
		s.log.Debug().Err(err).Str("key", key).Msg("local write failed")
	}
}

func greeting(name string) string {
	return "Hi " + name + "! Leave a message and I will reply here as soon as I can."
}
