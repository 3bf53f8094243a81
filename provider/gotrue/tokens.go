package gotrue

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-dashboard-auth"
	goerrors "github.com/goliatone/go-errors"
)

// ErrTokenInvalid is returned when an access token fails verification.
var ErrTokenInvalid = goerrors.New("access token invalid", goerrors.CategoryAuth).
	WithTextCode("GOTRUE_TOKEN_INVALID").
	WithCode(goerrors.CodeUnauthorized)

// Claims are the access token claims issued by the auth server.
type Claims struct {
	jwt.RegisteredClaims
	Email        string         `json:"email,omitempty"`
	Phone        string         `json:"phone,omitempty"`
	Role         string         `json:"role,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	AAL          string         `json:"aal,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
}

// TokenVerifier parses access tokens.
type TokenVerifier struct {
	keyFunc jwt.Keyfunc
	parser  *jwt.Parser
	jwks    *keyfunc.JWKS
}

// NewTokenVerifier builds a verifier from cfg. With neither a secret nor a
// JWKS URL the verifier decodes claims without checking the signature; the
// token was received directly from the auth server over TLS.
func NewTokenVerifier(cfg Config) (*TokenVerifier, error) {
	v := &TokenVerifier{}

	switch {
	case cfg.JWTSecret != "":
		v.keyFunc = signingKeyFunc(jwt.SigningMethodHS256.Alg(), []byte(cfg.JWTSecret))
		v.parser = jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	case cfg.JWKSURL != "":
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfuncOptions(cfg.Logger))
		if err != nil {
			return nil, fmt.Errorf("gotrue: failed to load JWKS: %w", err)
		}
		v.jwks = jwks
		v.keyFunc = jwks.Keyfunc
		v.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256", "ES256"}))
	default:
		v.parser = jwt.NewParser()
	}

	return v, nil
}

// Verify parses token and returns its claims.
func (v *TokenVerifier) Verify(token string) (*Claims, error) {
	claims := &Claims{}

	var err error
	if v.keyFunc == nil {
		_, _, err = v.parser.ParseUnverified(token, claims)
	} else {
		_, err = v.parser.ParseWithClaims(token, claims, v.keyFunc)
	}
	if err != nil {
		return nil, invalidToken(err)
	}

	return claims, nil
}

// Close stops background JWKS refreshes.
func (v *TokenVerifier) Close() {
	if v != nil && v.jwks != nil {
		v.jwks.EndBackground()
	}
}

func invalidToken(err error) error {
	clone := ErrTokenInvalid.Clone()
	if clone == nil {
		return err
	}
	clone.Source = err
	return clone.WithMetadata(map[string]any{
		"expired": stderrors.Is(err, jwt.ErrTokenExpired),
		"cause":   err.Error(),
	})
}

func keyfuncOptions(logger auth.Logger) keyfunc.Options {
	if logger == nil {
		logger = slog.Default()
	}
	return keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			logger.Error("failed to do a background refresh of JWT set", "error", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	}
}

func signingKeyFunc(alg string, key any) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		got, ok := token.Header["alg"].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected JWT signing method: expected %q got: missing alg", alg)
		}
		if got != alg {
			return nil, fmt.Errorf("unexpected jwt signing method: expected: %q: got: %q", alg, got)
		}
		return key, nil
	}
}
