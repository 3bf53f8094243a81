package gotrue

import (
	"fmt"

	auth "github.com/goliatone/go-dashboard-auth"
	"github.com/google/uuid"
)

type userResponse struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	UserMetadata map[string]any `json:"user_metadata"`
	AppMetadata  map[string]any `json:"app_metadata"`
}

type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user"`
}

// identity prefers the user object returned with the token and falls back
// to the token claims.
func (r tokenResponse) identity(claims *Claims) (*auth.Identity, error) {
	rawID := ""
	email := ""
	role := ""
	var metadata map[string]any

	if r.User != nil {
		rawID, email, role, metadata = r.User.ID, r.User.Email, r.User.Role, r.User.UserMetadata
	}
	if claims != nil {
		if rawID == "" {
			rawID = claims.Subject
		}
		if email == "" {
			email = claims.Email
		}
		if role == "" {
			role = claims.Role
		}
		if metadata == nil {
			metadata = claims.UserMetadata
		}
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, &APIError{Operation: "session", Code: "invalid_user", Message: fmt.Sprintf("invalid user id %q", rawID), Err: err}
	}

	return &auth.Identity{
		ID:       id,
		Email:    email,
		Role:     role,
		Metadata: metadata,
	}, nil
}
