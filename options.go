package stream

import "log/slog"

// Unbounded disables the capacity limit on the pause buffer.
const Unbounded = -1

// DefaultName is the default stream name used in logs, metrics and spans.
var DefaultName = "stream"

// streamOptions holds configuration for a stream (unexported)
type streamOptions struct {
	name            string
	maxBufferSize   int
	continueOnError bool
	tracingEnabled  bool
	metricsEnabled  bool
	recoveryEnabled bool
	logger          *slog.Logger
}

// Option configures a stream
type Option func(*streamOptions)

// WithName sets the stream name used for the logger component,
// metric attributes and span names.
func WithName(name string) Option {
	return func(o *streamOptions) {
		if name != "" {
			o.name = name
		}
	}
}

// WithMaxBufferSize bounds the pause buffer. Values produced while the
// stream is paused beyond this capacity are silently dropped. A size of 0
// buffers nothing; Unbounded (the default) removes the limit.
func WithMaxBufferSize(size int) Option {
	return func(o *streamOptions) {
		o.maxBufferSize = size
	}
}

// WithContinueOnError controls handler failure isolation on both internal
// observers. When enabled, one listener's failure does not abort dispatch
// to the remaining listeners. Default is false.
func WithContinueOnError(enabled bool) Option {
	return func(o *streamOptions) {
		o.continueOnError = enabled
	}
}

// WithTracing enables/disables OpenTelemetry tracing for emissions
func WithTracing(enabled bool) Option {
	return func(o *streamOptions) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables/disables OpenTelemetry metrics
func WithMetrics(enabled bool) Option {
	return func(o *streamOptions) {
		o.metricsEnabled = enabled
	}
}

// WithRecovery enables/disables panic recovery in listener handlers and
// middleware stages. Recovery should always be enabled, can be disabled
// for testing.
func WithRecovery(enabled bool) Option {
	return func(o *streamOptions) {
		o.recoveryEnabled = enabled
	}
}

// WithLogger sets a custom logger for the stream
func WithLogger(l *slog.Logger) Option {
	return func(o *streamOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// newStreamOptions creates options with defaults and applies provided options
func newStreamOptions(opts ...Option) *streamOptions {
	o := &streamOptions{
		name:            DefaultName,
		maxBufferSize:   Unbounded,
		continueOnError: false,
		tracingEnabled:  true,
		metricsEnabled:  true,
		recoveryEnabled: true,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
