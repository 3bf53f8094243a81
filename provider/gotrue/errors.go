package gotrue

import (
	"encoding/json"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// ErrSessionSuperseded is returned when a session changed while a refresh
// or code exchange was in flight. The stale result is not installed.
var ErrSessionSuperseded = goerrors.New("session changed while request was in flight", goerrors.CategoryConflict).
	WithTextCode("GOTRUE_SESSION_SUPERSEDED").
	WithCode(http.StatusConflict)

// APIError is an error response from the auth server. Error returns the
// server message unchanged so callers can show it to the user.
type APIError struct {
	Operation string
	Status    int
	Code      string
	Message   string
	Err       error
}

func (e *APIError) Error() string {
	if e == nil {
		return "auth server error"
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Status > 0 {
		return http.StatusText(e.Status)
	}
	return "auth server error"
}

func (e *APIError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Metadata returns a loggable summary of the error.
func (e *APIError) Metadata() map[string]any {
	if e == nil {
		return nil
	}
	meta := map[string]any{"operation": e.Operation}
	if e.Status > 0 {
		meta["status"] = e.Status
	}
	if e.Code != "" {
		meta["code"] = e.Code
	}
	return meta
}

// parseAPIError understands the error shapes the auth server returns:
// {"error","error_description"}, {"code","msg"} and {"error_code","message"}.
func parseAPIError(operation string, status int, raw []byte) error {
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		ErrorCode        string `json:"error_code"`
		Msg              string `json:"msg"`
		Message          string `json:"message"`
	}

	apiErr := &APIError{Operation: operation, Status: status}
	if err := json.Unmarshal(raw, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(raw))
		return apiErr
	}

	apiErr.Code = firstNonEmpty(payload.ErrorCode, payload.Error)
	apiErr.Message = firstNonEmpty(payload.ErrorDescription, payload.Msg, payload.Message)
	return apiErr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
