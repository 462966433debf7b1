package resilience

import "time"

// RetryPolicy bounds how often one backend call is attempted.
// Attempts counts the first call, so 2 means a single retry.
type RetryPolicy struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
	Multiplier float64
	// AttemptTimeout bounds each attempt when the call context carries no
	// domain.WithCallTimeout value. Zero leaves attempts unbounded.
	AttemptTimeout time.Duration
}

// BreakerPolicy configures the per-operation circuit breaker.
type BreakerPolicy struct {
	Disabled bool
	// MinRequests is the sample size before TripRatio is evaluated.
	MinRequests    uint32
	TripRatio      float64
	Cooldown       time.Duration
	HalfOpenProbes uint32
}

type Policy struct {
	Retry   RetryPolicy
	Breaker BreakerPolicy
}

// DefaultPolicy retries a transient failure exactly once and trips after half of
// ten calls fail.
func DefaultPolicy() Policy {
	return Policy{
		Retry: RetryPolicy{
			Attempts:   2,
			Backoff:    200 * time.Millisecond,
			MaxBackoff: time.Second,
			Multiplier: 2,
		},
		Breaker: BreakerPolicy{
			MinRequests:    10,
			TripRatio:      0.5,
			Cooldown:       30 * time.Second,
			HalfOpenProbes: 2,
		},
	}
}

// RetryOnce is a policy without a breaker and with a fixed pause between the
// two attempts. Tests and one-shot tools use it.
func RetryOnce(pause time.Duration) Policy {
	return Policy{
		Retry:   RetryPolicy{Attempts: 2, Backoff: pause, MaxBackoff: pause, Multiplier: 1},
		Breaker: BreakerPolicy{Disabled: true},
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	p.Retry = p.Retry.withDefaults(def.Retry)
	p.Breaker = p.Breaker.withDefaults(def.Breaker)
	return p
}

func (r RetryPolicy) withDefaults(def RetryPolicy) RetryPolicy {
	if r.Attempts < 1 {
		r.Attempts = def.Attempts
	}
	if r.Backoff <= 0 {
		r.Backoff = def.Backoff
	}
	r.MaxBackoff = max(r.MaxBackoff, r.Backoff)
	if r.Multiplier < 1 {
		r.Multiplier = def.Multiplier
	}
	return r
}

func (b BreakerPolicy) withDefaults(def BreakerPolicy) BreakerPolicy {
	if b.MinRequests == 0 {
		b.MinRequests = def.MinRequests
	}
	if !(b.TripRatio > 0 && b.TripRatio <= 1) {
		b.TripRatio = def.TripRatio
	}
	if b.Cooldown <= 0 {
		b.Cooldown = def.Cooldown
	}
	if b.HalfOpenProbes == 0 {
		b.HalfOpenProbes = def.HalfOpenProbes
	}
	return b
}

// delays yields the pause before each retry, growing by Multiplier up to MaxBackoff.
func (r RetryPolicy) delays() func() time.Duration {
	next := r.Backoff
	return func() time.Duration {
		cur := min(next, r.MaxBackoff)
		next = min(time.Duration(float64(next)*r.Multiplier), r.MaxBackoff)
		return cur
	}
}
