package resilience

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/verified-rag/internal/core/domain"
)

// ErrorClassification tells the executor whether to try again and whether the
// failure says something about backend health.
type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

// Executor wraps backend calls in a bounded retry loop behind one circuit
// breaker per operation name. Safe for concurrent use.
type Executor struct {
	policy Policy

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func NewExecutor(policy Policy) *Executor {
	return &Executor{
		policy:   policy.withDefaults(),
		breakers: map[string]*gobreaker.CircuitBreaker[struct{}]{},
	}
}

// Execute runs fn under the executor's policy. An open circuit surfaces as
// domain.ErrUpstreamUnavailable without calling fn.
func (e *Executor) Execute(ctx context.Context, operation string, fn func(context.Context) error, classify ErrorClassifier) error {
	if fn == nil {
		return errors.New("resilience: nil operation")
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classify == nil {
		classify = ClassifyDomainError
	}

	attempt := func() error { return e.retry(ctx, op, fn, classify) }
	if e.policy.Breaker.Disabled {
		return attempt()
	}

	_, err := e.breaker(op, classify).Execute(func() (struct{}, error) {
		return struct{}{}, attempt()
	})
	if IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrUpstreamUnavailable, op, err)
	}
	return err
}

// Do is Execute for calls that produce a value. A nil executor calls fn directly.
func Do[T any](ctx context.Context, e *Executor, operation string, fn func(context.Context) (T, error), classify ErrorClassifier) (T, error) {
	if e == nil {
		attemptCtx, cancel := attemptContext(ctx, 0)
		defer cancel()
		out, err := fn(attemptCtx)
		return out, asAttemptTimeout(ctx, attemptCtx, operation, err)
	}
	var out T
	err := e.Execute(ctx, operation, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			out = v
		}
		return err
	}, classify)
	return out, err
}

func (e *Executor) retry(ctx context.Context, op string, fn func(context.Context) error, classify ErrorClassifier) error {
	rp := e.policy.Retry
	nextDelay := rp.delays()

	var err error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}
		attemptCtx, cancel := attemptContext(ctx, rp.AttemptTimeout)
		err = asAttemptTimeout(ctx, attemptCtx, op, fn(attemptCtx))
		cancel()
		if err == nil {
			return nil
		}
		if attempt >= rp.Attempts || !classify(err).Retryable {
			return err
		}

		delay := nextDelay()
		slog.Warn("retry_attempt",
			"operation", op,
			"attempt", attempt,
			"max_attempts", rp.Attempts,
			"backoff_ms", float64(delay.Microseconds())/1000.0,
			"error", err,
		)
		if !sleep(ctx, delay) {
			return err
		}
	}
}

// attemptContext bounds one attempt by the call timeout carried in ctx, or by
// fallback when ctx carries none.
func attemptContext(ctx context.Context, fallback time.Duration) (context.Context, context.CancelFunc) {
	d, ok := domain.CallTimeout(ctx)
	if !ok {
		d = fallback
	}
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// asAttemptTimeout tags an attempt that ran out its own deadline, while the
// caller is still waiting, as a retryable timeout.
func asAttemptTimeout(ctx, attemptCtx context.Context, op string, err error) error {
	if err == nil || ctx.Err() != nil || attemptCtx.Err() == nil || domain.IsKind(err, domain.ErrTimeout) {
		return err
	}
	return domain.WrapError(domain.ErrTimeout, op, err)
}

// sleep reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (e *Executor) breaker(op string, classify ErrorClassifier) *gobreaker.CircuitBreaker[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[op]; ok {
		return cb
	}
	bp := e.policy.Breaker
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        op,
		MaxRequests: bp.HalfOpenProbes,
		Timeout:     bp.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= bp.MinRequests &&
				float64(c.TotalFailures)/float64(c.Requests) >= bp.TripRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classify(err).RecordFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
		},
	})
	e.breakers[op] = cb
	return cb
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// ClassifyDomainError classifies errors already tagged with a domain kind.
// Caller cancellation, bad input and fatal backend errors never count against
// the breaker; only retryable kinds are attempted again.
func ClassifyDomainError(err error) ErrorClassification {
	if err == nil {
		return ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || domain.IsFatalBackend(err) || domain.IsKind(err, domain.ErrInvalidInput) {
		return ErrorClassification{}
	}
	return ErrorClassification{Retryable: domain.IsRetryable(err), RecordFailure: true}
}
