// Package services holds the application logic: the GitHub dashboard refresh
// controller, the visitor chat session and the admin chat console.
//
// This file centralizes the service-level errors. They are *domain.Error
// values, so callers match them either directly or by kind
// (errors.Is(err, domain.ErrValidation)), and the HTTP layer maps the kind
// to a status code.
package services

import "github.com/tbourn/go-portfolio-backend/internal/domain"

// Visitor errors.
var (
	// ErrNameTooShort is returned when a submitted visitor name has fewer
	// than two characters after trimming.
	ErrNameTooShort = domain.Validation("name must be at least 2 characters")

	// ErrNameTooLong caps display names.
	ErrNameTooLong = domain.Validation("name is too long")

	// ErrNoVisitorName is returned by SendMessage before a name was submitted.
	ErrNoVisitorName = domain.Precondition("submit your name before sending messages")

	// ErrChatNotOwned is returned when the device's chat was created by a
	// different anonymous principal than the one presenting the session.
	ErrChatNotOwned = domain.Forbidden("chat belongs to another visitor")
)

// Shared chat errors.
var (
	// ErrMessageTooLong is returned when a message exceeds the configured
	// rune limit.
	ErrMessageTooLong = domain.Validation("message is too long")

	// ErrSessionClosed is returned by commands issued after Dispose.
	ErrSessionClosed = domain.Precondition("session is closed")
)

// Admin errors.
var (
	// ErrNotSignedIn is returned by console commands before SignIn.
	ErrNotSignedIn = domain.Unauthorized("sign in required")

	// ErrNotAllowListed is returned by SignIn for principals outside the
	// admin allow-list.
	ErrNotAllowListed = domain.Forbidden("account is not an admin")

	// ErrNoChatSelected is returned by Reply when no chat is selected.
	ErrNoChatSelected = domain.Precondition("select a chat first")

	// ErrChatIDRequired is returned by SelectChat for an empty chat id.
	ErrChatIDRequired = domain.Validation("chat id is required")
)
