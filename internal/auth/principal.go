// Package auth issues and verifies the session tokens of the two chat
// audiences: anonymous visitors and allow-listed admins.
//
// Visitors obtain an anonymous session that is idempotent per device: a
// still-valid anonymous token is re-issued for the same uid. Admins exchange
// a Google ID token for an admin session; whether that admin may read chats
// is a separate AllowList decision.
package auth

import "strings"

// Session kinds carried in the token.
const (
	KindAnonymous = "anonymous"
	KindAdmin     = "admin"
)

// Principal is an authenticated caller.
type Principal struct {
	UID   string `json:"uid"`
	Email string `json:"email,omitempty"`
	Kind  string `json:"kind"`
}

// IsAnonymous reports whether p is an anonymous visitor session.
func (p Principal) IsAnonymous() bool { return p.Kind == KindAnonymous }

// AllowList is the static set of admin emails. Matching ignores case and
// surrounding space.
type AllowList struct {
	emails map[string]struct{}
}

// NewAllowList builds an allow-list from emails; blank entries are skipped.
func NewAllowList(emails []string) AllowList {
	m := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		if e = normalizeEmail(e); e != "" {
			m[e] = struct{}{}
		}
	}
	return AllowList{emails: m}
}

// Allows reports whether email is allow-listed. An empty email never is.
func (a AllowList) Allows(email string) bool {
	email = normalizeEmail(email)
	if email == "" {
		return false
	}
	_, ok := a.emails[email]
	return ok
}

// Len is the number of allow-listed emails.
func (a AllowList) Len() int { return len(a.emails) }

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
