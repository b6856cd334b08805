// Session HTTP handlers.
//
// This file exposes session issuance:
//   - POST /auth/anonymous   (visitor session, idempotent per device)
//   - POST /auth/google      (admin session from a Google ID token)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-portfolio-backend/internal/auth"
	"github.com/tbourn/go-portfolio-backend/internal/http/middleware"
)

//
// DTOs
//

// SessionResponse is a freshly issued session.
type SessionResponse struct {
	Token string `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
	UID   string `json:"uid" example:"anon-5f0c3c1e-3b8e-4a55-9d59-0f4c1f1b2c3d"`
	Kind  string `json:"kind" example:"anonymous"`
	Email string `json:"email,omitempty" example:"owner@example.com"`
}

// GoogleSessionRequest carries the ID token obtained from Google sign-in.
type GoogleSessionRequest struct {
	IDToken string `json:"id_token" binding:"required,max=8192"`
}

// AnonymousSession godoc
// @ID          anonymousSession
// @Summary     Start or resume an anonymous visitor session
// @Description Issues an anonymous session token. When a still-valid anonymous token is presented as Bearer, the same uid is re-issued.
// @Tags        Sessions
// @Produce     json
//
// @Param       Authorization  header  string  false  "Bearer <current anonymous token>"
//
// @Success     200  {object} handlers.SessionResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /auth/anonymous [post]
func (h *Handlers) AnonymousSession(c *gin.Context) {
	tok, p, err := h.d.Sessions.Anonymous(middleware.BearerToken(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, SessionResponse{Token: tok, UID: p.UID, Kind: p.Kind})
}

// GoogleSession godoc
// @ID          googleSession
// @Summary     Exchange a Google ID token for an admin session
// @Description Verifies the ID token against the configured client id and issues an admin session for allow-listed emails only.
// @Tags        Sessions
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.GoogleSessionRequest  true  "Google ID token"
//
// @Success     200  {object} handlers.SessionResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Invalid ID token"
// @Failure     403  {object} handlers.ErrorResponse "Not allow-listed"
// @Router      /auth/google [post]
func (h *Handlers) GoogleSession(c *gin.Context) {
	var req GoogleSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id_token is required")
		return
	}
	p, err := h.d.Google.Verify(c.Request.Context(), req.IDToken)
	if err != nil {
		failErr(c, err)
		return
	}
	if !h.d.Allow.Allows(p.Email) {
		middleware.LoggerFrom(c).Warn().Msg("admin sign-in refused: email not allow-listed")
		fail(c, http.StatusForbidden, ErrCodeForbidden, "this account may not administer chats")
		return
	}
	tok, err := h.d.Sessions.Admin(p)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, SessionResponse{Token: tok, UID: p.UID, Kind: auth.KindAdmin, Email: p.Email})
}
