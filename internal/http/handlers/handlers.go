// Package handlers provides HTTP handler implementations for the public API.
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results and domain errors into HTTP responses
// (including conditional 304 responses and websocket streams).
package handlers

import (
	"context"

	"github.com/gorilla/websocket"

	"github.com/tbourn/go-portfolio-backend/internal/auth"
	"github.com/tbourn/go-portfolio-backend/internal/domain"
	"github.com/tbourn/go-portfolio-backend/internal/kv"
	"github.com/tbourn/go-portfolio-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// DashboardRefresher runs one dashboard refresh cycle;
// *services.DashboardController implements it.
type DashboardRefresher interface {
	Refresh(ctx context.Context) error
}

// DashboardReader exposes what the dashboard currently shows;
// *services.MemoryView implements it.
type DashboardReader interface {
	State() services.DashboardState
}

// ProfileReader reads stored profile snapshots; *docstore.Store implements it.
type ProfileReader interface {
	ProfileSnapshot(ctx context.Context, login string) (*domain.ProfileSnapshot, error)
}

// SessionIssuer issues session tokens; *auth.Issuer implements it.
type SessionIssuer interface {
	Anonymous(current string) (string, auth.Principal, error)
	Admin(p auth.Principal) (string, error)
}

// IDTokenVerifier verifies Google ID tokens; *auth.GoogleVerifier
// implements it.
type IDTokenVerifier interface {
	Verify(ctx context.Context, idToken string) (auth.Principal, error)
}

// ChatReader serves the paginated admin listings; *docstore.Store
// implements it.
type ChatReader interface {
	ListChatsPage(ctx context.Context, page, pageSize int) ([]domain.Chat, int64, error)
	ListMessagesPage(ctx context.Context, chatID string, page, pageSize int) ([]domain.Message, int64, error)
	ChatsETag(ctx context.Context) (string, error)
	MessagesETag(ctx context.Context, chatID string) (string, error)
}

// Deps are the collaborators of Handlers. Every field is required.
type Deps struct {
	Dashboard DashboardRefresher
	View      DashboardReader
	Profiles  ProfileReader
	Sessions  SessionIssuer
	Google    IDTokenVerifier
	Chats     ChatReader

	// ChatStore backs the live visitor and admin sessions.
	ChatStore services.ChatStore
	// Local holds per-device visitor state; each device gets its own
	// kv.Prefixed namespace.
	Local kv.Store
	Allow auth.AllowList

	Visitor services.VisitorOptions
	Admin   services.AdminOptions

	// AllowedOrigins restricts websocket upgrades; empty allows any origin.
	AllowedOrigins []string
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints of the dashboard, sessions, admin
// listings and live streams.
type Handlers struct {
	d        Deps
	upgrader *websocket.Upgrader
}

// New constructs Handlers bound to d.
func New(d Deps) *Handlers {
	return &Handlers{d: d, upgrader: newUpgrader(d.AllowedOrigins)}
}
