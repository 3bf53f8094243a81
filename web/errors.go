package web

import (
	"errors"
	"net/http"

	auth "github.com/goliatone/go-dashboard-auth"
	"github.com/goliatone/go-dashboard-auth/syncop"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

const codeVerifierCookie = "code_verifier"

const (
	TextCodeBadRequest   = "WEB_BAD_REQUEST"
	TextCodeUnauthorized = "WEB_UNAUTHORIZED"
	TextCodeSyncDisabled = "WEB_SYNC_DISABLED"
	TextCodeNotOperator  = "WEB_OPERATOR_REQUIRED"
	TextCodeExportsBusy  = "WEB_EXPORTS_BUSY"
)

var errMissingCode = errors.New("missing code query parameter")

var errNoExchanger = goerrors.New("callback sign in is not configured", goerrors.CategoryInternal).
	WithCode(http.StatusNotImplemented)

var errSyncDisabled = goerrors.New("sync operation not available", goerrors.CategoryNotFound).
	WithTextCode(TextCodeSyncDisabled).
	WithCode(goerrors.CodeNotFound)

var errOperatorRequired = goerrors.New("sign in required", goerrors.CategoryAuth).
	WithTextCode(TextCodeNotOperator).
	WithCode(goerrors.CodeUnauthorized)

var errExportsBusy = goerrors.New("too many exports in progress", goerrors.CategoryOperation).
	WithTextCode(TextCodeExportsBusy).
	WithCode(http.StatusServiceUnavailable)

func badRequest(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid request").
		WithTextCode(TextCodeBadRequest).
		WithCode(goerrors.CodeBadRequest)
}

func unauthorized(msg string) error {
	return goerrors.New(msg, goerrors.CategoryAuth).
		WithTextCode(TextCodeUnauthorized).
		WithCode(goerrors.CodeUnauthorized)
}

type errorBody struct {
	Error    string         `json:"error"`
	TextCode string         `json:"text_code,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// writeError renders err as JSON. Categorized errors carry their own status
// code; anything else came from the identity provider and is reported with
// fallback and its message unchanged.
func (c *Controller) writeError(ctx router.Context, err error, fallback int) error {
	status := fallback
	body := errorBody{Error: err.Error()}

	var richErr *goerrors.Error
	if errors.As(err, &richErr) {
		if richErr.Code > 0 {
			status = richErr.Code
		}
		body.Error = richErr.Message
		body.TextCode = richErr.TextCode
		body.Metadata = richErr.Metadata
		if richErr.TextCode == auth.TextCodeInvalidCredentials && richErr.Source != nil {
			body.Error = richErr.Source.Error()
		}
	}

	c.Logger.Info("request failed",
		"path", ctx.Path(),
		"status", status,
		"error", body.Error,
		"details", print.MaybePrettyJSON(body.Metadata),
	)

	return ctx.JSON(status, body)
}

type outcomeEntry struct {
	Operation  string `json:"operation"`
	Phase      string `json:"phase"`
	Kind       string `json:"kind"`
	Summary    string `json:"summary,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

func newOutcomeEntry(o syncop.Outcome) outcomeEntry {
	entry := outcomeEntry{
		Operation:  o.Operation,
		Phase:      o.Phase.String(),
		Kind:       o.Kind,
		Summary:    o.Summary,
		DurationMS: o.Duration.Milliseconds(),
	}
	if o.Err != nil {
		entry.Error = syncop.Message(o.Err)
	}
	return entry
}

// outcomeStatus maps a sync outcome to a response status.
func outcomeStatus(o syncop.Outcome) int {
	switch {
	case o.Succeeded():
		return http.StatusOK
	case syncop.IsInFlight(o.Err):
		return http.StatusConflict
	case errors.Is(o.Err, syncop.ErrClosed):
		return http.StatusServiceUnavailable
	}

	switch o.Kind {
	case syncop.KindPreconditionUnmet:
		return http.StatusBadRequest
	case syncop.KindApplication:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func (c *Controller) writeOutcome(ctx router.Context, o syncop.Outcome) error {
	return ctx.JSON(outcomeStatus(o), newOutcomeEntry(o))
}
