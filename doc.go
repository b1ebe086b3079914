// Package stream provides a push-based value stream: a producer emits
// values, errors, or a completion signal into a source observer, and zero or
// more listeners consume a transformed version of that sequence from an
// output observer.
//
// Between the two observers sits an optional middleware pipeline that
// transforms each value (with retry and backoff) before it reaches the
// output, and a pause/resume buffer that intercepts delivery for
// backpressure control.
//
// Basic example:
//
//	s := stream.New(func(src *observer.Observer[int]) stream.Teardown {
//	    ctx := context.Background()
//	    src.Next(ctx, 1)
//	    src.Next(ctx, 2)
//	    return func() { /* release producer resources */ }
//	})
//
//	s.Listen(stream.Listener[int]{
//	    Next: func(ctx context.Context, v int) error {
//	        fmt.Println("got", v)
//	        return nil
//	    },
//	    Complete: func(ctx context.Context) { fmt.Println("done") },
//	})
//
// Middleware with retry:
//
//	s.Use([]stream.Transform[int]{fetchEnrichment},
//	    stream.WithRetries(3),
//	    stream.WithRetryDelay(50*time.Millisecond),
//	    stream.WithJitter(0.3))
//
// Backpressure:
//
//	s.Pause()
//	// values produced now are buffered (bounded by WithMaxBufferSize)
//	s.Resume() // drains the buffer in FIFO order
//
// Stream Options:
//   - WithMaxBufferSize: bound the pause buffer. Default is unbounded.
//   - WithContinueOnError: isolate listener failures. Default is false.
//   - WithTracing: enable/disable OpenTelemetry tracing. Default is true.
//   - WithMetrics: enable/disable OpenTelemetry metrics. Default is true.
//   - WithLogger: set logger for the stream.
//   - WithName: set the stream name used in logs, metrics and spans.
//
// Use Options:
//   - WithRetries, WithRetryDelay, WithMaxRetryDelay, WithJitter,
//     WithDelayFunc: retry loop configuration.
//   - WithPipelineErrorHandler: side-effect callback on terminal failure.
//   - WithSuppressErrors: do not propagate terminal failures to listeners.
//   - WithChainedExecution: force sequential chaining regardless of the
//     retry configuration.
//
// A failing value in the pipeline never halts the stream; only Unlisten or
// producer-side teardown stops future delivery.
package stream
