// Package session holds the per-login auth context. It is created at
// login, passed explicitly to every component that needs the principal
// or the bearer token, and discarded at logout. There is no package
// level state.
package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hydrotreat/invoice-review/internal/capability"
)

// Principal identifies the authenticated user for the lifetime of a
// session. Immutable once issued.
type Principal struct {
	Username string
	Role     capability.Role
}

// Session is the auth context: principal plus bearer token. The expiry
// is read from the token's claims without signature verification; the
// backend remains the authority, this only lets the client surface an
// authorization failure before spending a round-trip.
type Session struct {
	Principal
	token     string
	expiresAt time.Time
}

// New builds a session from a login response.
func New(username string, role capability.Role, token string) *Session {
	s := &Session{
		Principal: Principal{Username: username, Role: role},
		token:     token,
	}
	if claims := parseClaims(token); claims != nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			s.expiresAt = exp.Time
		}
	}
	return s
}

func parseClaims(token string) jwt.MapClaims {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil
	}
	return claims
}

// Token returns the bearer token for the Authorization header.
func (s *Session) Token() string {
	return s.token
}

// Expired reports whether the token's exp claim has passed. Tokens
// without a readable exp claim are treated as live; the backend will
// reject them if they are not.
func (s *Session) Expired(now time.Time) bool {
	if s.token == "" {
		return true
	}
	if s.expiresAt.IsZero() {
		return false
	}
	return now.After(s.expiresAt)
}

// Can reports whether this session's principal may perform the action.
func (s *Session) Can(action capability.Action) bool {
	return capability.Can(s.Role, action)
}

// Invalidate tears the session down at logout. A logged-out session
// reports expired and carries no token.
func (s *Session) Invalidate() {
	s.token = ""
	s.expiresAt = time.Time{}
	s.Principal = Principal{Role: capability.RoleUnknown}
}
