package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tbourn/go-portfolio-backend/internal/domain"
)

const issuerName = "go-portfolio-backend"

// Claims are the session token claims. The uid is the subject.
type Claims struct {
	Kind  string `json:"kind"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer signing with secret; tokens expire after ttl.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("session secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive")
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// WithClock replaces the issuer's time source.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Anonymous returns an anonymous session. When current is a valid anonymous
// token its uid is kept, so repeated sign-ins from one device share an
// identity; any other input yields a fresh uid.
func (i *Issuer) Anonymous(current string) (string, Principal, error) {
	uid := ""
	if current != "" {
		if p, err := i.Verify(current); err == nil && p.IsAnonymous() {
			uid = p.UID
		}
	}
	if uid == "" {
		uid = "anon-" + uuid.NewString()
	}
	p := Principal{UID: uid, Kind: KindAnonymous}
	tok, err := i.sign(p)
	return tok, p, err
}

// Admin returns an admin session for a verified Google principal.
func (i *Issuer) Admin(p Principal) (string, error) {
	p.Kind = KindAdmin
	return i.sign(p)
}

// Verify parses token and returns its principal. Every failure is an
// Unauthorized error.
func (i *Issuer) Verify(token string) (Principal, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithIssuer(issuerName),
		jwt.WithTimeFunc(i.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !parsed.Valid {
		return Principal{}, domain.Unauthorized("invalid session token")
	}
	if claims.Subject == "" || (claims.Kind != KindAnonymous && claims.Kind != KindAdmin) {
		return Principal{}, domain.Unauthorized("invalid session claims")
	}
	return Principal{UID: claims.Subject, Email: claims.Email, Kind: claims.Kind}, nil
}

func (i *Issuer) sign(p Principal) (string, error) {
	now := i.now()
	claims := &Claims{
		Kind:  p.Kind,
		Email: p.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   p.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return s, nil
}
