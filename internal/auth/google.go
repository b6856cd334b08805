package auth

import (
	"context"
	"strings"

	"google.golang.org/api/idtoken"

	"github.com/tbourn/go-portfolio-backend/internal/domain"
)

// ValidateFunc checks an ID token against an audience. It matches
// idtoken.Validate.
type ValidateFunc func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// GoogleVerifier turns a Google sign-in ID token into a principal.
type GoogleVerifier struct {
	audience string
	validate ValidateFunc
}

// NewGoogleVerifier verifies tokens issued for clientID.
func NewGoogleVerifier(clientID string) *GoogleVerifier {
	return &GoogleVerifier{audience: clientID, validate: idtoken.Validate}
}

// WithValidator replaces the token validator.
func (v *GoogleVerifier) WithValidator(fn ValidateFunc) *GoogleVerifier {
	v.validate = fn
	return v
}

// Verify validates idToken and returns the signed-in principal. Tokens
// without a verified email are rejected.
func (v *GoogleVerifier) Verify(ctx context.Context, idToken string) (Principal, error) {
	if v.audience == "" {
		return Principal{}, domain.Unauthorized("google sign-in is not configured")
	}
	if strings.TrimSpace(idToken) == "" {
		return Principal{}, domain.Validation("id_token is required")
	}
	payload, err := v.validate(ctx, idToken, v.audience)
	if err != nil {
		return Principal{}, domain.Unauthorized("invalid google id token")
	}
	email, _ := payload.Claims["email"].(string)
	verified, _ := payload.Claims["email_verified"].(bool)
	if email == "" || !verified {
		return Principal{}, domain.Unauthorized("google account email is not verified")
	}
	return Principal{UID: payload.Subject, Email: normalizeEmail(email), Kind: KindAdmin}, nil
}
