package syncop

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodePreconditionUnmet = "SYNC_PRECONDITION_UNMET"
	TextCodeTransport         = "SYNC_TRANSPORT_ERROR"
	TextCodeApplication       = "SYNC_APPLICATION_ERROR"
	TextCodeClosed            = "SYNC_CONTROLLER_CLOSED"
)

// Failure kinds reported in outcomes, notifications and metrics.
const (
	KindPreconditionUnmet = "precondition_unmet"
	KindTransport         = "transport_error"
	KindApplication       = "application_error"
	KindSucceeded         = "succeeded"
)

// ErrPreconditionUnmet is returned when a trigger is rejected locally
// before any network call is made.
var ErrPreconditionUnmet = goerrors.New("sync precondition unmet", goerrors.CategoryValidation).
	WithTextCode(TextCodePreconditionUnmet).
	WithCode(goerrors.CodeBadRequest)

// ErrTransport marks failures reaching the proxy.
var ErrTransport = goerrors.New("sync transport failed", goerrors.CategoryOperation).
	WithTextCode(TextCodeTransport).
	WithCode(goerrors.CodeInternal)

// ErrApplication marks a proxy response that reported a domain failure.
var ErrApplication = goerrors.New("sync rejected by remote", goerrors.CategoryOperation).
	WithTextCode(TextCodeApplication).
	WithCode(goerrors.CodeInternal)

// ErrClosed is returned by triggers issued after Close.
var ErrClosed = goerrors.New("sync controller closed", goerrors.CategoryConflict).
	WithTextCode(TextCodeClosed).
	WithCode(goerrors.CodeConflict)

// ApplicationError is returned by an Operation when the proxy was reached
// but the payload reported a failure.
type ApplicationError struct {
	Message string
	Payload any
}

func (e *ApplicationError) Error() string {
	return e.Message
}

// Application returns an ApplicationError carrying msg. An empty message is
// replaced with a generic one so the notification is never blank.
func Application(msg string, payload any) *ApplicationError {
	if msg == "" {
		msg = "remote reported a failure without details"
	}
	return &ApplicationError{Message: msg, Payload: payload}
}

// Kind maps err to the failure taxonomy. Nil maps to KindSucceeded.
func Kind(err error) string {
	if err == nil {
		return KindSucceeded
	}

	var appErr *ApplicationError
	if errors.As(err, &appErr) {
		return KindApplication
	}

	var richErr *goerrors.Error
	if errors.As(err, &richErr) {
		switch richErr.TextCode {
		case TextCodePreconditionUnmet, TextCodeClosed:
			return KindPreconditionUnmet
		case TextCodeApplication:
			return KindApplication
		}
	}

	return KindTransport
}

// IsPreconditionUnmet reports whether err was a local rejection.
func IsPreconditionUnmet(err error) bool {
	return err != nil && Kind(err) == KindPreconditionUnmet
}

// IsInFlight reports whether err rejected a trigger because another call
// was still outstanding.
func IsInFlight(err error) bool {
	var richErr *goerrors.Error
	if !errors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == TextCodePreconditionUnmet && errors.Is(richErr.Source, errAlreadyInFlight)
}

func preconditionUnmet(operation string, cause error) error {
	clone := ErrPreconditionUnmet.Clone()
	if clone == nil {
		return ErrPreconditionUnmet
	}
	clone.Source = cause
	meta := map[string]any{"operation": operation}
	if cause != nil {
		meta["reason"] = cause.Error()
	}
	return clone.WithMetadata(meta)
}

// Message returns the text surfaced to users for err: the remote message
// for application failures, the local reason for rejections, and the raw
// error otherwise.
func Message(err error) string {
	if err == nil {
		return ""
	}

	var appErr *ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Message
	}

	var richErr *goerrors.Error
	if errors.As(err, &richErr) {
		if richErr.TextCode == TextCodePreconditionUnmet && richErr.Source != nil {
			return richErr.Source.Error()
		}
		if richErr.Message != "" {
			return richErr.Message
		}
	}
	return err.Error()
}

var errAlreadyInFlight = errors.New("sync already in progress")
