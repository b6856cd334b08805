// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the caller's session token into an auth.Principal.
// Tokens are read from "Authorization: Bearer <token>" or, for websocket
// upgrades, from the "token" query parameter.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-portfolio-backend/internal/auth"
)

const (
	// userIDKey holds the principal uid; the rate limiter and access log
	// key on it.
	userIDKey = "userID"
	// principalKey holds the auth.Principal.
	principalKey = "principal"
	// tokenKey holds the raw verified token.
	tokenKey = "sessionToken"
)

// TokenVerifier verifies session tokens. *auth.Issuer implements it.
type TokenVerifier interface {
	Verify(token string) (auth.Principal, error)
}

// Authenticate identifies the caller when a valid token is presented. It
// never rejects: a missing or invalid token leaves the request without a
// principal, and routes that need one are guarded by RequireKind.
func Authenticate(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := BearerToken(c)
		if tok == "" {
			c.Next()
			return
		}
		p, err := v.Verify(tok)
		if err != nil {
			LoggerFrom(c).Debug().Err(err).Msg("ignoring invalid session token")
			c.Next()
			return
		}
		c.Set(principalKey, p)
		c.Set(userIDKey, p.UID)
		c.Set(tokenKey, tok)
		c.Next()
	}
}

// RequireKind rejects requests whose principal is missing (401) or of
// another kind (403).
func RequireKind(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "valid session token required")
			return
		}
		if p.Kind != kind {
			abortJSON(c, http.StatusForbidden, "forbidden", "session does not grant access")
			return
		}
		c.Next()
	}
}

// PrincipalFrom returns the principal set by Authenticate.
func PrincipalFrom(c *gin.Context) (auth.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return auth.Principal{}, false
	}
	p, ok := v.(auth.Principal)
	return p, ok
}

// TokenFrom returns the verified raw token set by Authenticate, or "".
func TokenFrom(c *gin.Context) string {
	return c.GetString(tokenKey)
}

// BearerToken extracts the presented token without verifying it.
func BearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		scheme, tok, found := strings.Cut(strings.TrimSpace(h), " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return strings.TrimSpace(c.Query("token"))
}
