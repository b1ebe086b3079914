package stream

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// Transform is a middleware stage: a value-transform function composed into
// the pipeline between the source and output observers.
type Transform[T any] func(ctx context.Context, value T) (T, error)

// DelayFunc maps a zero-based attempt index and the configured base delay
// to the delay before the next attempt.
type DelayFunc func(attempt int, base time.Duration) time.Duration

// ExponentialDelay is the default DelayFunc: base * 2^attempt.
func ExponentialDelay(attempt int, base time.Duration) time.Duration {
	return base << attempt
}

// Strategy names a middleware execution strategy.
type Strategy int

const (
	// StrategyChained runs stages sequentially, each stage's output
	// feeding the next stage's input.
	StrategyChained Strategy = iota
	// StrategyConcurrent runs all stages concurrently against the same
	// original input and keeps only the last stage's result.
	StrategyConcurrent
)

func (s Strategy) String() string {
	switch s {
	case StrategyChained:
		return "chained"
	case StrategyConcurrent:
		return "concurrent"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// useOptions holds configuration for one Use installation (unexported)
type useOptions struct {
	retries        int
	retryDelay     time.Duration
	maxRetryDelay  time.Duration
	jitter         float64
	delayFn        DelayFunc
	errorHandler   func(error)
	suppressErrors bool
	chained        *bool
}

// UseOption configures a Use installation
type UseOption func(*useOptions)

// WithRetries sets the number of retry attempts after the initial one.
// With n retries the full chain runs up to n+1 times per value.
// Default is 0.
func WithRetries(n int) UseOption {
	return func(o *useOptions) {
		if n >= 0 {
			o.retries = n
		}
	}
}

// WithRetryDelay sets the base delay fed to the delay function between
// attempts. Default is 0.
func WithRetryDelay(d time.Duration) UseOption {
	return func(o *useOptions) {
		o.retryDelay = d
	}
}

// WithMaxRetryDelay caps the computed (jittered) delay between attempts.
// Default is 0, no cap.
func WithMaxRetryDelay(d time.Duration) UseOption {
	return func(o *useOptions) {
		o.maxRetryDelay = d
	}
}

// WithJitter sets the randomized delay variance as a fraction in [0, 1].
// The computed delay becomes delay * (1 + jitter * uniform(-1, 1)).
// Default is 0.
func WithJitter(factor float64) UseOption {
	return func(o *useOptions) {
		if factor >= 0 && factor <= 1 {
			o.jitter = factor
		}
	}
}

// WithDelayFunc replaces the default exponential backoff delay function.
func WithDelayFunc(fn DelayFunc) UseOption {
	return func(o *useOptions) {
		if fn != nil {
			o.delayFn = fn
		}
	}
}

// WithPipelineErrorHandler sets a side-effect callback invoked with the
// terminal error before propagation. It does not stop propagation.
func WithPipelineErrorHandler(fn func(error)) UseOption {
	return func(o *useOptions) {
		o.errorHandler = fn
	}
}

// WithSuppressErrors suppresses propagating terminal pipeline errors to
// the output observer's error listeners. The error handler, if set, still
// runs. Default is false.
func WithSuppressErrors(enabled bool) UseOption {
	return func(o *useOptions) {
		o.suppressErrors = enabled
	}
}

// WithChainedExecution forces the execution strategy regardless of the
// retry configuration: true forces StrategyChained, false forces
// StrategyConcurrent. When unset, retries > 0 selects chained and
// retries == 0 selects concurrent.
func WithChainedExecution(enabled bool) UseOption {
	return func(o *useOptions) {
		o.chained = &enabled
	}
}

// newUseOptions creates options with defaults and applies provided options
func newUseOptions(opts ...UseOption) *useOptions {
	o := &useOptions{
		delayFn: ExponentialDelay,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// strategy resolves the execution strategy for this installation. The
// explicit toggle wins; otherwise the retry configuration decides.
func (o *useOptions) strategy() Strategy {
	if o.chained != nil {
		if *o.chained {
			return StrategyChained
		}
		return StrategyConcurrent
	}
	if o.retries > 0 {
		return StrategyChained
	}
	return StrategyConcurrent
}

// pipeline is one Use installation: an ordered sequence of transforms plus
// its retry configuration. Every emitted value runs through every installed
// pipeline independently.
type pipeline[T any] struct {
	id         string
	stream     *Stream[T]
	transforms []Transform[T]
	cfg        *useOptions
}

// Use installs a middleware pipeline over the emission path. Each call
// registers an additional, independent pipeline that processes every
// emitted value (fan-out processing, not chaining across calls). Returns
// the stream for chaining.
func (s *Stream[T]) Use(transforms []Transform[T], opts ...UseOption) *Stream[T] {
	p := &pipeline[T]{
		id:         NewID(),
		stream:     s,
		transforms: make([]Transform[T], len(transforms)),
		cfg:        newUseOptions(opts...),
	}
	copy(p.transforms, transforms)

	s.mu.Lock()
	s.pipelines = append(s.pipelines, p)
	s.mu.Unlock()

	s.logger.Debug("installed pipeline",
		"pipeline", p.id,
		"stages", len(p.transforms),
		"strategy", p.cfg.strategy().String())
	return s
}

// process runs one value through the pipeline. On success the result is
// delivered through the pause gate; on terminal failure the error handler
// runs, then the error is dispatched to error listeners unless suppressed.
// A failing value never halts the stream.
func (p *pipeline[T]) process(ctx context.Context, value T) {
	var result T
	var err error
	switch p.cfg.strategy() {
	case StrategyChained:
		result, err = p.runChained(ctx, value)
	default:
		result, err = p.runConcurrent(ctx, value)
	}

	if err != nil {
		p.stream.metrics.PipelineError(ctx)
		p.stream.logger.Warn("pipeline failed",
			"pipeline", p.id,
			"error", err)
		if p.cfg.errorHandler != nil {
			p.cfg.errorHandler(err)
		}
		if !p.cfg.suppressErrors {
			p.stream.out.Error(ctx, err)
		}
		return
	}
	p.stream.deliver(ctx, result)
}

// runChained runs the full chain sequentially inside a retry loop of up to
// retries+1 attempts. The delay before attempt n+1 is
// cap(jitter(delayFn(n, retryDelay))). Exhausting all attempts returns a
// RetryExhaustedError wrapping the last error.
func (p *pipeline[T]) runChained(ctx context.Context, value T) (T, error) {
	attempts := p.cfg.retries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			p.stream.metrics.Retried(ctx)
			delay := Jitter(p.cfg.delayFn(attempt-1, p.cfg.retryDelay), p.cfg.jitter)
			if p.cfg.maxRetryDelay > 0 && delay > p.cfg.maxRetryDelay {
				delay = p.cfg.maxRetryDelay
			}
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					var zero T
					return zero, ctx.Err()
				}
			}
		}

		out, err := p.runSequence(ctx, value)
		if err == nil {
			return out, nil
		}
		lastErr = err
		p.stream.logger.Debug("pipeline attempt failed",
			"pipeline", p.id,
			"attempt", attempt+1,
			"error", err)
	}

	var zero T
	if p.cfg.retries > 0 {
		return zero, &RetryExhaustedError{Attempts: attempts, LastErr: lastErr}
	}
	return zero, lastErr
}

// runSequence runs the stages once, each stage's output feeding the next
// stage's input.
func (p *pipeline[T]) runSequence(ctx context.Context, value T) (T, error) {
	current := value
	for i, fn := range p.transforms {
		out, err := p.call(ctx, fn, current)
		if err != nil {
			var zero T
			return zero, fmt.Errorf("stage %d: %w", i, err)
		}
		current = out
	}
	return current, nil
}

// runConcurrent runs all stages concurrently against the same original
// input. Results are collected in call order, not completion order; the
// reported failure is the first in call order and only the last stage's
// result is kept.
func (p *pipeline[T]) runConcurrent(ctx context.Context, value T) (T, error) {
	if len(p.transforms) == 0 {
		return value, nil
	}

	results := make([]T, len(p.transforms))
	errs := make([]error, len(p.transforms))
	var wg sync.WaitGroup
	for i, fn := range p.transforms {
		i, fn := i, fn
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = p.call(ctx, fn, value)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			var zero T
			return zero, fmt.Errorf("stage %d: %w", i, err)
		}
	}
	return results[len(results)-1], nil
}

// call invokes one stage with panic recovery per the stream's recovery
// setting.
func (p *pipeline[T]) call(ctx context.Context, fn Transform[T], value T) (out T, err error) {
	if p.stream.recoveryEnabled {
		defer func() {
			if r := recover(); r != nil {
				p.stream.logger.Error("transform panic recovered",
					"pipeline", p.id,
					"error", r,
					"stack", string(debug.Stack()))
				err = fmt.Errorf("transform panic: %v", r)
			}
		}()
	}
	return fn(ctx, value)
}
