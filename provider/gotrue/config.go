package gotrue

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	auth "github.com/goliatone/go-dashboard-auth"
)

// Config holds auth server configuration.
type Config struct {
	// URL is the project base URL, e.g. "https://xyz.supabase.co".
	URL string

	// AnonKey is sent as the apikey header on every request.
	AnonKey string

	// JWTSecret verifies HS256 access tokens. Optional.
	JWTSecret string

	// JWKSURL verifies asymmetric access tokens. Optional, ignored when
	// JWTSecret is set.
	JWKSURL string

	// RefreshMargin is how long before expiry AutoRefresh renews a session.
	// Default: 1 minute.
	RefreshMargin time.Duration

	HTTPClient *http.Client
	Logger     auth.Logger
}

const defaultRefreshMargin = time.Minute

func (c Config) authURL(path string, query url.Values) (string, error) {
	base := strings.TrimSpace(c.URL)
	if base == "" {
		return "", fmt.Errorf("gotrue: URL is required")
	}
	u, err := url.Parse(strings.TrimSuffix(base, "/") + "/auth/v1" + path)
	if err != nil {
		return "", fmt.Errorf("gotrue: invalid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("gotrue: invalid URL: %s", base)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

func (c Config) refreshMargin() time.Duration {
	if c.RefreshMargin > 0 {
		return c.RefreshMargin
	}
	return defaultRefreshMargin
}
