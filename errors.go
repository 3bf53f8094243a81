package auth

import (
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeNotMounted         = "AUTH_PROVIDER_NOT_MOUNTED"
	TextCodeAlreadyMounted     = "AUTH_PROVIDER_ALREADY_MOUNTED"
	TextCodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	TextCodeProviderPanic      = "AUTH_PROVIDER_PANIC"
)

// ErrNotMounted is returned by every mutator when no provider is mounted.
var ErrNotMounted = goerrors.New("auth provider not mounted", goerrors.CategoryInternal).
	WithTextCode(TextCodeNotMounted).
	WithCode(goerrors.CodeInternal)

// ErrAlreadyMounted is returned when a provider is mounted a second time.
var ErrAlreadyMounted = goerrors.New("auth provider already mounted", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyMounted).
	WithCode(goerrors.CodeConflict)

// ErrInvalidCredentials is returned when credentials fail local validation
// before the identity provider is contacted.
var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeBadRequest)

// ErrProviderPanic is returned when the identity provider panics during a call.
var ErrProviderPanic = goerrors.New("identity provider panicked", goerrors.CategoryInternal).
	WithTextCode(TextCodeProviderPanic).
	WithCode(goerrors.CodeInternal)

// IsNotMounted reports whether err is the not mounted sentinel.
func IsNotMounted(err error) bool {
	return hasTextCode(err, TextCodeNotMounted)
}

// IsInvalidCredentials reports whether err came from local credential validation.
func IsInvalidCredentials(err error) bool {
	return hasTextCode(err, TextCodeInvalidCredentials)
}

// IsProviderError reports whether err originated at the identity provider
// rather than in this package.
func IsProviderError(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !errors.As(err, &richErr) {
		return true
	}
	switch richErr.TextCode {
	case TextCodeNotMounted, TextCodeAlreadyMounted, TextCodeInvalidCredentials:
		return false
	}
	return true
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !errors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

func invalidCredentials(err error) error {
	clone := ErrInvalidCredentials.Clone()
	if clone == nil {
		return ErrInvalidCredentials
	}
	clone.Source = err
	return clone.WithMetadata(map[string]any{"validation": err.Error()})
}

func providerPanic(operation string, recovered any) error {
	clone := ErrProviderPanic.Clone()
	if clone == nil {
		return ErrProviderPanic
	}
	clone.Source = fmt.Errorf("%v", recovered)
	return clone.WithMetadata(map[string]any{"operation": operation})
}
