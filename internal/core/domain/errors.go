package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrTemporary    = errors.New("temporary failure")

	// Generation/embedding backend failures. Auth and quota are never retried.
	ErrBackendAuth      = errors.New("backend authentication failed")
	ErrBackendQuota     = errors.New("backend quota exhausted")
	ErrRateLimited      = errors.New("backend rate limited")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrTimeout          = errors.New("backend timeout")

	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// IsRetryable reports whether a backend failure may be retried with the same inputs.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsFatalBackend(err) {
		return false
	}
	return IsKind(err, ErrTemporary) || IsKind(err, ErrTimeout) || IsKind(err, ErrRateLimited)
}

// IsFatalBackend reports failures that must reach the caller instead of degrading to a rejection.
func IsFatalBackend(err error) bool {
	return IsKind(err, ErrBackendAuth) || IsKind(err, ErrBackendQuota)
}

// UserMessage returns text that is safe to show to end users for err.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case IsKind(err, ErrInvalidInput):
		return "La richiesta non è valida."
	case IsKind(err, ErrUnauthorized):
		return "Accesso non autorizzato."
	case IsKind(err, ErrBackendAuth), IsKind(err, ErrBackendQuota):
		return "Il servizio non è temporaneamente disponibile. Riprovare più tardi."
	default:
		return "Si è verificato un errore interno. Riprovare più tardi."
	}
}
