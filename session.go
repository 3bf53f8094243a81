package auth

import (
	"time"

	"github.com/google/uuid"
)

// Identity is the authenticated user attached to a session.
type Identity struct {
	ID       uuid.UUID      `json:"id"`
	Email    string         `json:"email,omitempty"`
	Role     string         `json:"role,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Session is the credential bundle issued by the identity provider. A
// session is replaced wholesale whenever a new one arrives and is never
// modified once handed to the store.
type Session struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	TokenType    string         `json:"token_type,omitempty"`
	IssuedAt     *time.Time     `json:"issued_at,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	User         *Identity      `json:"user,omitempty"`
	Raw          map[string]any `json:"-"`
}

// Identity returns the user embedded in the session.
func (s *Session) Identity() *Identity {
	if s == nil {
		return nil
	}
	return s.User
}

// Expired reports whether the session expiry is before now. Sessions
// without expiry metadata never expire locally.
func (s *Session) Expired(now time.Time) bool {
	if s == nil || s.ExpiresAt == nil {
		return false
	}
	return !now.Before(*s.ExpiresAt)
}

// UserID returns the identity ID as a string, or empty for a nil session.
func (s *Session) UserID() string {
	if s == nil || s.User == nil {
		return ""
	}
	return s.User.ID.String()
}

// State is the auth state exposed to consumers.
type State struct {
	Identity          *Identity `json:"identity"`
	Session           *Session  `json:"-"`
	Loading           bool      `json:"loading"`
	URLAuthProcessing bool      `json:"url_auth_processing"`
}

// Authenticated reports whether the state holds a signed in identity.
func (s State) Authenticated() bool {
	return s.Identity != nil
}

func (s State) equal(other State) bool {
	return s.Identity == other.Identity &&
		s.Session == other.Session &&
		s.Loading == other.Loading &&
		s.URLAuthProcessing == other.URLAuthProcessing
}
