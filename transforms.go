package stream

import (
	"context"

	"golang.org/x/time/rate"
)

// Tap returns a transform that invokes fn for its side effect and passes
// the value through unchanged.
//
// Example:
//
//	s.Use([]stream.Transform[Order]{
//	    stream.Tap(func(ctx context.Context, o Order) {
//	        slog.Info("processing order", "id", o.ID)
//	    }),
//	    enrich,
//	})
func Tap[T any](fn func(ctx context.Context, value T)) Transform[T] {
	return func(ctx context.Context, value T) (T, error) {
		fn(ctx, value)
		return value, nil
	}
}

// Throttle returns a transform that paces values through a local token
// bucket: rps values per second with the given burst. It blocks until a
// token is available or the context is cancelled.
//
// The limiter is shared across all values flowing through the transform,
// so install it once per Use call.
func Throttle[T any](rps float64, burst int) Transform[T] {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(ctx context.Context, value T) (T, error) {
		if err := limiter.Wait(ctx); err != nil {
			var zero T
			return zero, err
		}
		return value, nil
	}
}
