package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	auth "github.com/goliatone/go-dashboard-auth"
	goerrors "github.com/goliatone/go-errors"
)

const functionsPath = "/functions/v1/"

// ErrNoSession is returned when a call requires an access token and none
// is available.
var ErrNoSession = goerrors.New("no active session for proxy call", goerrors.CategoryAuth).
	WithTextCode("PROXY_NO_SESSION").
	WithCode(goerrors.CodeUnauthorized)

// TransportError describes a proxy call that did not produce a usable
// response.
type TransportError struct {
	Function string
	Status   int
	Body     string
	Err      error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "proxy transport error"
	}
	switch {
	case e.Err != nil && e.Status > 0:
		return fmt.Sprintf("proxy %s: status %d: %v", e.Function, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("proxy %s: %v", e.Function, e.Err)
	case e.Body != "":
		return fmt.Sprintf("proxy %s: status %d: %s", e.Function, e.Status, e.Body)
	default:
		return fmt.Sprintf("proxy %s: status %d", e.Function, e.Status)
	}
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TokenSource yields the bearer token for a call.
type TokenSource func(ctx context.Context) (string, error)

// SessionTokenSource reads the access token from the auth surface bound
// to the request context, falling back to surface when the context has
// none.
func SessionTokenSource(surface auth.Surface) TokenSource {
	return func(ctx context.Context) (string, error) {
		s := surface
		if auth.HasSurface(ctx) {
			s = auth.FromContext(ctx)
		}
		if s == nil {
			return "", ErrNoSession
		}
		session := s.State().Session
		if session == nil || session.AccessToken == "" {
			return "", ErrNoSession
		}
		return session.AccessToken, nil
	}
}

// Config holds proxy client configuration.
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Tokens     TokenSource
}

// Client invokes named backend functions over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	tokens     TokenSource
}

// New creates a new proxy client.
func New(cfg Config) *Client {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: client,
		tokens:     cfg.Tokens,
	}
}

// Invoke POSTs body as JSON to the named function and decodes the JSON
// response into out. Any failure before a 2xx response is decoded is a
// *TransportError.
func (c *Client) Invoke(ctx context.Context, name string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &TransportError{Function: name, Err: err}
	}

	endpoint := c.baseURL + functionsPath + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return &TransportError{Function: name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}

	bearer := c.apiKey
	if c.tokens != nil {
		token, err := c.tokens(ctx)
		if err != nil {
			return &TransportError{Function: name, Err: err}
		}
		bearer = token
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Function: name, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Function: name, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Function: name, Status: resp.StatusCode, Body: errorText(raw)}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &TransportError{Function: name, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// errorText extracts a message from a JSON error body, or returns the
// trimmed body.
func errorText(raw []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		for _, s := range []string{payload.Error, payload.Message, payload.Msg} {
			if s != "" {
				return s
			}
		}
	}
	return strings.TrimSpace(string(raw))
}
