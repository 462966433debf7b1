package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/verified-rag/internal/core/domain"
)

// HTTPStatusError is a non-2xx response from a JSON backend.
type HTTPStatusError struct {
	Service    string
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "http status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("%s %s status: %s", e.Service, e.Operation, e.Status)
	}
	return fmt.Sprintf("%s %s status: %s: %s", e.Service, e.Operation, e.Status, strings.TrimSpace(e.Body))
}

// KindForHTTPStatus maps an HTTP status onto a domain error kind.
func KindForHTTPStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return domain.ErrBackendAuth
	case code == http.StatusPaymentRequired:
		return domain.ErrBackendQuota
	case code == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case code == http.StatusNotFound:
		return domain.ErrModelUnavailable
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return domain.ErrTimeout
	case code >= 500:
		return domain.ErrTemporary
	default:
		return domain.ErrInvalidInput
	}
}

// MapTransportError attaches a domain kind to a raw client error so the executor
// and the pipeline can tell retryable failures from fatal ones.
func MapTransportError(operation string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{
		domain.ErrBackendAuth, domain.ErrBackendQuota, domain.ErrRateLimited,
		domain.ErrModelUnavailable, domain.ErrTimeout, domain.ErrTemporary,
		domain.ErrUpstreamUnavailable, domain.ErrInvalidInput,
	} {
		if errors.Is(err, kind) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrTimeout, operation, err)
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return domain.WrapError(KindForHTTPStatus(statusErr.StatusCode), operation, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return domain.WrapError(domain.ErrTimeout, operation, err)
		}
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
