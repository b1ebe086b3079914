package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrUnlistened is the synthetic terminal error dispatched to error
	// listeners when Unlisten is called with KindError. It is not tied to
	// any real failure.
	ErrUnlistened = errors.New("stream unlistened")
)

// RetryExhaustedError indicates all retry attempts have been exhausted
// for a value in the middleware pipeline.
type RetryExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}

// IsRetryExhausted checks if an error indicates retry exhaustion.
func IsRetryExhausted(err error) bool {
	var exhausted *RetryExhaustedError
	return errors.As(err, &exhausted)
}
