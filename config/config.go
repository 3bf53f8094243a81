// Package config loads dashboard settings from the environment.
package config

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
)

const TextCodeConfigInvalid = "CONFIG_INVALID"

const (
	KeySupabaseURL       = "SUPABASE_URL"
	KeySupabaseAnonKey   = "SUPABASE_ANON_KEY"
	KeyRedirectURL       = "AUTH_REDIRECT_URL"
	KeyJWTSecret         = "AUTH_JWT_SECRET"
	KeyJWKSURL           = "AUTH_JWKS_URL"
	KeyLoadingTimeout    = "AUTH_LOADING_TIMEOUT"
	KeyLocationsFunction = "SYNC_LOCATIONS_FUNCTION"
	KeyExportFunction    = "SYNC_EXPORT_FUNCTION"
	KeyExportBucket      = "SYNC_EXPORT_BUCKET"
	KeyLocationsTenantID = "SYNC_LOCATIONS_TENANT_ID"
	KeySyncTimeout       = "SYNC_TIMEOUT"
	KeyActivityDSN       = "ACTIVITY_DB_DSN"
	KeyActivityRetention = "ACTIVITY_RETENTION"
	KeyServerAddr        = "SERVER_ADDR"
	KeySecureCookies     = "SERVER_SECURE_COOKIES"
)

var defaults = map[string]string{
	KeyLoadingTimeout:    "10s",
	KeyLocationsFunction: "fetch-locations",
	KeyExportFunction:    "sync-to-gcs",
	KeySyncTimeout:       "60s",
	KeyActivityDSN:       "file:activity.db?cache=shared",
	KeyActivityRetention: "720h",
	KeyServerAddr:        "127.0.0.1:8572",
	KeySecureCookies:     "true",
}

var required = []string{KeySupabaseURL, KeySupabaseAnonKey}

// Config is immutable once loaded.
type Config struct {
	SupabaseURL       string        `json:"supabase_url"`
	SupabaseAnonKey   string        `json:"-"`
	RedirectURL       string        `json:"redirect_url,omitempty"`
	JWTSecret         string        `json:"-"`
	JWKSURL           string        `json:"jwks_url,omitempty"`
	LoadingTimeout    time.Duration `json:"loading_timeout"`
	LocationsFunction string        `json:"locations_function"`
	ExportFunction    string        `json:"export_function"`
	ExportBucket      string        `json:"export_bucket,omitempty"`
	LocationsTenantID string        `json:"locations_tenant_id,omitempty"`
	SyncTimeout       time.Duration `json:"sync_timeout"`
	ActivityDSN       string        `json:"activity_dsn"`
	ActivityRetention time.Duration `json:"activity_retention"`
	ServerAddr        string        `json:"server_addr"`
	SecureCookies     bool          `json:"secure_cookies"`
}

// Load reads .env files (when present) and the process environment.
// Every missing or malformed key is reported in a single error.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			files = []string{".env"}
		}
	}
	if len(files) > 0 {
		if err := godotenv.Load(files...); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load env file").
				WithTextCode(TextCodeConfigInvalid)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary key lookup.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	problems := map[string]string{}

	get := func(key string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return defaults[key]
	}

	for _, key := range required {
		if get(key) == "" {
			problems[key] = "missing"
		}
	}

	duration := func(key string) time.Duration {
		raw := get(key)
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			problems[key] = "invalid duration: " + raw
			return 0
		}
		return d
	}

	boolean := func(key string) bool {
		raw := get(key)
		b, err := strconv.ParseBool(raw)
		if err != nil {
			problems[key] = "invalid boolean: " + raw
		}
		return b
	}

	cfg := &Config{
		SupabaseURL:       strings.TrimRight(get(KeySupabaseURL), "/"),
		SupabaseAnonKey:   get(KeySupabaseAnonKey),
		RedirectURL:       get(KeyRedirectURL),
		JWTSecret:         get(KeyJWTSecret),
		JWKSURL:           get(KeyJWKSURL),
		LoadingTimeout:    duration(KeyLoadingTimeout),
		LocationsFunction: get(KeyLocationsFunction),
		ExportFunction:    get(KeyExportFunction),
		ExportBucket:      get(KeyExportBucket),
		LocationsTenantID: get(KeyLocationsTenantID),
		SyncTimeout:       duration(KeySyncTimeout),
		ActivityDSN:       get(KeyActivityDSN),
		ActivityRetention: duration(KeyActivityRetention),
		ServerAddr:        get(KeyServerAddr),
		SecureCookies:     boolean(KeySecureCookies),
	}

	if len(problems) > 0 {
		keys := make([]string, 0, len(problems))
		for k := range problems {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		metadata := make(map[string]any, len(problems))
		for k, v := range problems {
			metadata[k] = v
		}

		return nil, goerrors.New("invalid configuration: "+strings.Join(keys, ", "), goerrors.CategoryValidation).
			WithTextCode(TextCodeConfigInvalid).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(metadata)
	}

	return cfg, nil
}

func (c *Config) GetSupabaseURL() string {
	return c.SupabaseURL
}

func (c *Config) GetAnonKey() string {
	return c.SupabaseAnonKey
}

func (c *Config) GetRedirectURL() string {
	return c.RedirectURL
}

func (c *Config) GetJWTSecret() string {
	return c.JWTSecret
}

func (c *Config) GetJWKSURL() string {
	return c.JWKSURL
}

func (c *Config) GetLoadingTimeout() time.Duration {
	return c.LoadingTimeout
}

func (c *Config) GetLocationsFunction() string {
	return c.LocationsFunction
}

func (c *Config) GetExportFunction() string {
	return c.ExportFunction
}

func (c *Config) GetExportBucket() string {
	return c.ExportBucket
}

func (c *Config) GetLocationsTenantID() string {
	return c.LocationsTenantID
}

func (c *Config) GetSyncTimeout() time.Duration {
	return c.SyncTimeout
}

func (c *Config) GetActivityDSN() string {
	return c.ActivityDSN
}

func (c *Config) GetActivityRetention() time.Duration {
	return c.ActivityRetention
}

func (c *Config) GetServerAddr() string {
	return c.ServerAddr
}

func (c *Config) GetSecureCookies() bool {
	return c.SecureCookies
}
