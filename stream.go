package stream

import (
	"context"
	"log/slog"
	"sync"

	"github.com/emitq/stream/observer"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	spanKeyStreamID   = "stream.id"
	spanKeyStreamName = "stream.name"
)

// Teardown releases producer-side resources. It is captured at construction
// and invoked by Unlisten.
type Teardown func()

// Producer writes values into the source observer. It may return a teardown
// action; nil means no teardown is needed.
type Producer[T any] func(src *observer.Observer[T]) Teardown

// Listener holds the optional handlers registered by Listen. Only the
// provided handlers are registered on the output observer.
type Listener[T any] struct {
	Next     observer.Handler[T]
	Error    observer.ErrorHandler
	Complete observer.CompleteHandler
}

// Stream is a push-based value stream. It owns exactly one source observer,
// which the producer writes into, and one output observer, which listeners
// subscribe to, both fixed for the stream's lifetime.
//
// All mutating operations return the stream for chaining. Safe for
// concurrent use: the paused flag and the pause buffer are serialized by a
// mutex, so a Resume drain and a concurrent emission never race on the
// buffer.
type Stream[T any] struct {
	id       string
	name     string
	source   *observer.Observer[T]
	out      *observer.Observer[T]
	teardown Teardown

	mu            sync.Mutex
	paused        bool
	buffer        []T
	maxBufferSize int
	pipelines     []*pipeline[T]

	recoveryEnabled bool
	tracingEnabled  bool
	logger          *slog.Logger
	metrics         *streamMetrics
}

// New creates a stream and synchronously invokes the producer with a fresh
// source observer. Emissions are accepted immediately, there is no separate
// start step. A panic raised by the producer is not caught and propagates
// to the caller.
func New[T any](producer Producer[T], opts ...Option) *Stream[T] {
	o := newStreamOptions(opts...)

	s := &Stream[T]{
		id:              NewID(),
		name:            o.name,
		maxBufferSize:   o.maxBufferSize,
		recoveryEnabled: o.recoveryEnabled,
		tracingEnabled:  o.tracingEnabled,
		logger:          o.logger.With("component", "stream>"+o.name),
		teardown:        func() {},
	}
	if o.metricsEnabled {
		s.metrics = newStreamMetrics(o.name)
	}

	obsOpts := []observer.Option{
		observer.WithContinueOnError(o.continueOnError),
		observer.WithRecovery(o.recoveryEnabled),
		observer.WithLogger(s.logger),
	}
	s.source = observer.New[T](obsOpts...)
	s.out = observer.New[T](obsOpts...)

	// Source emissions route through the installed pipelines, terminal
	// events pass through unchanged.
	s.source.OnNext(s.route)
	s.source.OnError(func(ctx context.Context, err error) {
		s.out.Error(ctx, err)
	})
	s.source.OnComplete(func(ctx context.Context) {
		s.out.Complete(ctx)
	})

	if producer != nil {
		if td := producer(s.source); td != nil {
			s.teardown = td
		}
	}
	return s
}

// ID returns the stream ID
func (s *Stream[T]) ID() string {
	return s.id
}

// Name returns the stream name
func (s *Stream[T]) Name() string {
	return s.name
}

// Observer exposes the source observer for direct emission by advanced
// callers.
func (s *Stream[T]) Observer() *observer.Observer[T] {
	return s.source
}

// Listen registers the provided handlers on the output observer. Repeat
// calls register additional, independent handler sets; there is no
// deduplication or replacement.
func (s *Stream[T]) Listen(l Listener[T]) *Stream[T] {
	if l.Next != nil {
		s.out.OnNext(l.Next)
	}
	if l.Error != nil {
		s.out.OnError(l.Error)
	}
	if l.Complete != nil {
		s.out.OnComplete(l.Complete)
	}
	return s
}

// Pause suspends delivery. Values arriving while paused are appended to the
// bounded pause buffer, or silently dropped once it is full. Idempotent.
func (s *Stream[T]) Pause() *Stream[T] {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	return s
}

// Resume clears the paused flag and drains the buffer into the output
// observer in strict FIFO order. A Pause issued mid-drain stops the drain;
// the remaining values stay buffered in order.
func (s *Stream[T]) Resume() *Stream[T] {
	ctx := context.Background()
	s.mu.Lock()
	s.paused = false
	for len(s.buffer) > 0 && !s.paused {
		value := s.buffer[0]
		s.buffer = s.buffer[1:]
		s.mu.Unlock()
		s.metrics.Delivered(ctx)
		if err := s.out.Next(ctx, value); err != nil {
			s.logger.Warn("listener failed during drain", "error", err)
		}
		s.mu.Lock()
	}
	s.mu.Unlock()
	return s
}

// Unlisten fires the selected terminal event on the output observer
// (default complete; KindError dispatches ErrUnlistened), then invokes the
// producer teardown. Repeat calls re-fire the terminal event and re-invoke
// the teardown.
func (s *Stream[T]) Unlisten(kind ...observer.Kind) *Stream[T] {
	k := observer.KindComplete
	if len(kind) > 0 {
		k = kind[0]
	}
	ctx := context.Background()
	if k == observer.KindError {
		s.out.Error(ctx, ErrUnlistened)
	} else {
		s.out.Complete(ctx)
	}
	s.teardown()
	s.logger.Debug("unlistened", "kind", string(k))
	return s
}

// route is the single next handler on the source observer. With no
// pipeline installed values pass through to delivery unchanged; otherwise
// every installed pipeline runs independently over the value.
func (s *Stream[T]) route(ctx context.Context, value T) error {
	s.metrics.Emitted(ctx)

	if s.tracingEnabled {
		tracer := otel.Tracer("stream")
		var span trace.Span
		ctx, span = tracer.Start(ctx, s.name+".emit",
			trace.WithAttributes(
				attribute.String(spanKeyStreamID, s.id),
				attribute.String(spanKeyStreamName, s.name)),
			trace.WithSpanKind(trace.SpanKindProducer))
		defer span.End()
	}

	s.mu.Lock()
	pipelines := make([]*pipeline[T], len(s.pipelines))
	copy(pipelines, s.pipelines)
	s.mu.Unlock()

	if len(pipelines) == 0 {
		return s.deliver(ctx, value)
	}
	for _, p := range pipelines {
		p.process(ctx, value)
	}
	return nil
}

// deliver applies the pause gate, then dispatches to the output observer.
// While paused the value is buffered only if capacity remains; otherwise it
// is dropped without any signal upstream.
func (s *Stream[T]) deliver(ctx context.Context, value T) error {
	s.mu.Lock()
	if s.paused {
		if s.bufferHasCapacity() {
			s.buffer = append(s.buffer, value)
			s.mu.Unlock()
			return nil
		}
		buffered := len(s.buffer)
		s.mu.Unlock()
		s.metrics.Dropped(ctx)
		s.logger.Debug("dropping value, pause buffer full",
			"buffered", buffered,
			"max_buffer_size", s.maxBufferSize)
		return nil
	}
	s.mu.Unlock()
	s.metrics.Delivered(ctx)
	return s.out.Next(ctx, value)
}

// bufferHasCapacity reports whether the pause buffer can accept one more
// value. Callers must hold s.mu.
func (s *Stream[T]) bufferHasCapacity() bool {
	if s.maxBufferSize == 0 {
		return false
	}
	return s.maxBufferSize < 0 || len(s.buffer) < s.maxBufferSize
}
