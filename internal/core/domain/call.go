package domain

import (
	"context"
	"time"
)

type callTimeoutKey struct{}

// WithCallTimeout bounds every backend attempt made under the returned context
// by d. Each retry gets a fresh deadline; ctx's own deadline still bounds the
// whole call.
func WithCallTimeout(ctx context.Context, d time.Duration) context.Context {
	if d <= 0 {
		return ctx
	}
	return context.WithValue(ctx, callTimeoutKey{}, d)
}

// CallTimeout reports the per-attempt bound set by WithCallTimeout.
func CallTimeout(ctx context.Context) (time.Duration, bool) {
	d, ok := ctx.Value(callTimeoutKey{}).(time.Duration)
	return d, ok && d > 0
}
