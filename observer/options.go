package observer

import "log/slog"

// options holds configuration for an observer (unexported)
type options struct {
	continueOnError bool
	recovery        bool
	logger          *slog.Logger
}

// Option configures an observer
type Option func(*options)

// WithContinueOnError controls dispatch behavior when a handler fails.
// When enabled, a failing handler is logged and dispatch continues to the
// remaining handlers. When disabled (default), dispatch stops at the first
// failure and Next returns the error.
func WithContinueOnError(enabled bool) Option {
	return func(o *options) {
		o.continueOnError = enabled
	}
}

// WithRecovery enables/disables panic recovery in handlers.
// Recovery should always be enabled, can be disabled for testing.
func WithRecovery(enabled bool) Option {
	return func(o *options) {
		o.recovery = enabled
	}
}

// WithLogger sets the logger for the observer
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// newOptions creates options with defaults and applies provided options
func newOptions(opts ...Option) *options {
	o := &options{
		continueOnError: false,
		recovery:        true,
		logger:          slog.Default().With("component", "observer"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
