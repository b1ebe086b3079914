package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestUseTransform(t *testing.T) {
	ctx := context.Background()
	s := New[int](nil, WithTracing(false), WithMetrics(false))

	var got []int
	s.Listen(Listener[int]{
		Next: func(ctx context.Context, v int) error {
			got = append(got, v)
			return nil
		},
	})

	double := func(ctx context.Context, v int) (int, error) {
		return v * 2, nil
	}
	s.Use([]Transform[int]{double})

	s.Observer().Next(ctx, 5)
	if diff := cmp.Diff([]int{10}, got); diff != "" {
		t.Errorf("transformed value mismatch (-want +got):\n%s", diff)
	}
}

func TestUseEmptyPipelineIsIdentity(t *testing.T) {
	ctx := context.Background()
	s := New[int](nil, WithTracing(false), WithMetrics(false))

	var got []int
	s.Listen(Listener[int]{
		Next: func(ctx context.Context, v int) error {
			got = append(got, v)
			return nil
		},
	})
	s.Use(nil)

	s.Observer().Next(ctx, 5)
	if diff := cmp.Diff([]int{5}, got); diff != "" {
		t.Errorf("identity pipeline mismatch (-want +got):\n%s", diff)
	}
}

func TestRetryEventuallySucceeds(t *testing.T) {
	ctx := context.Background()
	s := New[int](nil, WithTracing(false), WithMetrics(false))

	var got []int
	var gotErrs []error
	s.Listen(Listener[int]{
		Next: func(ctx context.Context, v int) error {
			got = append(got, v)
			return nil
		},
		Error: func(ctx context.Context, err error) {
			gotErrs = append(gotErrs, err)
		},
	})

	var attempts int32
	flaky := func(ctx context.Context, v int) (int, error) {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			return 0, errors.New("transient")
		}
		return v * 2, nil
	}
	s.Use([]Transform[int]{flaky}, WithRetries(3))

	s.Observer().Next(ctx, 5)

	// The failing attempts are transparent to the listener.
	if diff := cmp.Diff([]int{10}, got); diff != "" {
		t.Errorf("delivered value mismatch (-want +got):\n%s", diff)
	}
	if len(gotErrs) != 0 {
		t.Errorf("expected no errors, got %v", gotErrs)
	}
	if n := atomic.LoadInt32(&attempts); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestRetryExhaustion(t *testing.T) {
	ctx := context.Background()
	s := New[int](nil, WithTracing(false), WithMetrics(false))

	var got []int
	var gotErrs []error
	s.Listen(Listener[int]{
		Next: func(ctx context.Context, v int) error {
			got = append(got, v)
			return nil
		},
		Error: func(ctx context.Context, err error) {
			gotErrs = append(gotErrs, err)
		},
	})

	errBroken := errors.New("broken")
	var attempts int32
	failing := func(ctx context.Context, v int) (int, error) {
		atomic.AddInt32(&attempts, 1)
		return 0, errBroken
	}
	s.Use([]Transform[int]{failing}, WithRetries(2))

	s.Observer().Next(ctx, 5)

	if len(got) != 0 {
		t.Errorf("expected no delivery, got %v", got)
	}
	if n := atomic.LoadInt32(&attempts); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
	if len(gotErrs) != 1 {
		t.Fatalf("expected 1 terminal error, got %d", len(gotErrs))
	}
	if !IsRetryExhausted(gotErrs[0]) {
		t.Errorf("expected RetryExhaustedError, got %v", gotErrs[0])
	}
	if !errors.Is(gotErrs[0], errBroken) {
		t.Errorf("expected terminal error to wrap the last failure, got %v", gotErrs[0])
	}
	var exhausted *RetryExhaustedError
	if errors.As(gotErrs[0], &exhausted) && exhausted.Attempts != 3 {
		t.Errorf("expected 3 recorded attempts, got %d", exhausted.Attempts)
	}

	// The stream is still live after a failed value.
	var attemptsAfter int32 = atomic.LoadInt32(&attempts)
	s.Observer().Next(ctx, 6)
	if atomic.LoadInt32(&attempts) <= attemptsAfter {
		t.Error("pipeline did not run for the next value")
	}
}

func TestConcurrentStagesKeepLastResult(t *testing.T) {
	ctx := context.Background()
	s := New[int](nil, WithTracing(false), WithMetrics(false))

	var got []int
	s.Listen(Listener[int]{
		Next: func(ctx context.Context, v int) error {
			got = append(got, v)
			return nil
		},
	})

	var mu sync.Mutex
	var inputs []int
	record := func(v int) {
		mu.Lock()
		inputs = append(inputs, v)
		mu.Unlock()
	}
	double := func(ctx context.Context, v int) (int, error) {
		record(v)
		return v * 2, nil
	}
	increment := func(ctx context.Context, v int) (int, error) {
		record(v)
		return v + 1, nil
	}
	s.Use([]Transform[int]{double, increment})

	s.Observer().Next(ctx, 5)

	// Without retries the stages run against the same original input and
	// only the last stage's result is kept.
	if diff := cmp.Diff([]int{6}, got); diff != "" {
		t.Errorf("delivered value mismatch (-want +got):\n%s", diff)
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]int{5, 5}, inputs); diff != "" {
		t.Errorf("stage inputs mismatch (-want +got):\n%s", diff)
	}
}

func TestChainedExecutionToggle(t *testing.T) {
	ctx := context.Background()
	s := New[int](nil, WithTracing(false), WithMetrics(false))

	var got []int
	s.Listen(Listener[int]{
		Next: func(ctx context.Context, v int) error {
			got = append(got, v)
			return nil
		},
	})

	double := func(ctx context.Context, v int) (int, error) {
		return v * 2, nil
	}
	increment := func(ctx context.Context, v int) (int, error) {
		return v + 1, nil
	}
	s.Use([]Transform[int]{double, increment}, WithChainedExecution(true))

	s.Observer().Next(ctx, 5)
	if diff := cmp.Diff([]int{11}, got); diff != "" {
		t.Errorf("chained result mismatch (-want +got):\n%s", diff)
	}
}

func TestRetriedPipelineChainsStages(t *testing.T) {
	ctx := context.Background()
	s := New[int](nil, WithTracing(false), WithMetrics(false))

	var got []int
	s.Listen(Listener[int]{
		Next: func(ctx context.Context, v int) error {
			got = append(got, v)
			return nil
		},
	})

	double := func(ctx context.Context, v int) (int, error) {
		return v * 2, nil
	}
	increment := func(ctx context.Context, v int) (int, error) {
		return v + 1, nil
	}
	s.Use([]Transform[int]{double, increment}, WithRetries(1))

	s.Observer().Next(ctx, 5)
	if diff := cmp.Diff([]int{11}, got); diff != "" {
		t.Errorf("chained result mismatch (-want +got):\n%s", diff)
	}
}

func TestErrorHandlerSideEffect(t *testing.T) {
	ctx := context.Background()

	t.Run("does not stop propagation", func(t *testing.T) {
		s := New[int](nil, WithTracing(false), WithMetrics(false))
		var handled, propagated error
		s.Listen(Listener[int]{
			Error: func(ctx context.Context, err error) { propagated = err },
		})

		errBoom := errors.New("boom")
		failing := func(ctx context.Context, v int) (int, error) {
			return 0, errBoom
		}
		s.Use([]Transform[int]{failing},
			WithPipelineErrorHandler(func(err error) { handled = err }))

		s.Observer().Next(ctx, 1)
		if !errors.Is(handled, errBoom) {
			t.Errorf("error handler got %v", handled)
		}
		if !errors.Is(propagated, errBoom) {
			t.Errorf("listener got %v", propagated)
		}
	})

	t.Run("suppression keeps the side effect", func(t *testing.T) {
		s := New[int](nil, WithTracing(false), WithMetrics(false))
		var handled, propagated error
		s.Listen(Listener[int]{
			Error: func(ctx context.Context, err error) { propagated = err },
		})

		errBoom := errors.New("boom")
		failing := func(ctx context.Context, v int) (int, error) {
			return 0, errBoom
		}
		s.Use([]Transform[int]{failing},
			WithPipelineErrorHandler(func(err error) { handled = err }),
			WithSuppressErrors(true))

		s.Observer().Next(ctx, 1)
		if !errors.Is(handled, errBoom) {
			t.Errorf("error handler got %v", handled)
		}
		if propagated != nil {
			t.Errorf("expected no propagation, listener got %v", propagated)
		}
	})
}

func TestCustomDelayFunc(t *testing.T) {
	ctx := context.Background()
	s := New[int](nil, WithTracing(false), WithMetrics(false))
	s.Listen(Listener[int]{
		Error: func(ctx context.Context, err error) {},
	})

	var mu sync.Mutex
	type call struct {
		Attempt int
		Base    time.Duration
	}
	var calls []call
	delayFn := func(attempt int, base time.Duration) time.Duration {
		mu.Lock()
		calls = append(calls, call{attempt, base})
		mu.Unlock()
		return 0
	}

	failing := func(ctx context.Context, v int) (int, error) {
		return 0, errors.New("broken")
	}
	s.Use([]Transform[int]{failing},
		WithRetries(2),
		WithRetryDelay(7*time.Millisecond),
		WithDelayFunc(delayFn))

	s.Observer().Next(ctx, 1)

	mu.Lock()
	defer mu.Unlock()
	want := []call{{0, 7 * time.Millisecond}, {1, 7 * time.Millisecond}}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Errorf("delay calls mismatch (-want +got):\n%s", diff)
	}
}

func TestMaxRetryDelayCaps(t *testing.T) {
	ctx := context.Background()
	s := New[int](nil, WithTracing(false), WithMetrics(false))
	s.Listen(Listener[int]{
		Error: func(ctx context.Context, err error) {},
	})

	failing := func(ctx context.Context, v int) (int, error) {
		return 0, errors.New("broken")
	}
	s.Use([]Transform[int]{failing},
		WithRetries(2),
		WithRetryDelay(time.Hour),
		WithMaxRetryDelay(time.Millisecond))

	start := time.Now()
	s.Observer().Next(ctx, 1)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("retry delays were not capped, took %s", elapsed)
	}
}

func TestExponentialDelay(t *testing.T) {
	tests := []struct {
		attempt int
		base    time.Duration
		want    time.Duration
	}{
		{0, 10 * time.Millisecond, 10 * time.Millisecond},
		{1, 10 * time.Millisecond, 20 * time.Millisecond},
		{3, 10 * time.Millisecond, 80 * time.Millisecond},
		{2, 0, 0},
	}
	for _, tt := range tests {
		if got := ExponentialDelay(tt.attempt, tt.base); got != tt.want {
			t.Errorf("ExponentialDelay(%d, %s) = %s, want %s", tt.attempt, tt.base, got, tt.want)
		}
	}
}

func TestJitterBounds(t *testing.T) {
	d := 100 * time.Millisecond
	if got := Jitter(d, 0); got != d {
		t.Errorf("zero factor should return the input, got %s", got)
	}
	if got := Jitter(d, 1.5); got != d {
		t.Errorf("out-of-range factor should return the input, got %s", got)
	}

	lo := time.Duration(float64(d) * 0.7)
	hi := time.Duration(float64(d) * 1.3)
	for i := 0; i < 100; i++ {
		got := Jitter(d, 0.3)
		if got < lo || got > hi {
			t.Fatalf("jittered delay %s outside [%s, %s]", got, lo, hi)
		}
	}
}

func TestMultipleUseFanOut(t *testing.T) {
	ctx := context.Background()
	s := New[int](nil, WithTracing(false), WithMetrics(false))

	var got []int
	s.Listen(Listener[int]{
		Next: func(ctx context.Context, v int) error {
			got = append(got, v)
			return nil
		},
	})

	double := func(ctx context.Context, v int) (int, error) {
		return v * 2, nil
	}
	triple := func(ctx context.Context, v int) (int, error) {
		return v * 3, nil
	}
	s.Use([]Transform[int]{double})
	s.Use([]Transform[int]{triple})

	s.Observer().Next(ctx, 5)

	// Each installation runs its own pipeline over every value, in
	// installation order.
	if diff := cmp.Diff([]int{10, 15}, got); diff != "" {
		t.Errorf("fan-out results mismatch (-want +got):\n%s", diff)
	}
}

func TestTransformPanicRecovered(t *testing.T) {
	ctx := context.Background()
	s := New[int](nil, WithTracing(false), WithMetrics(false))

	var gotErrs []error
	s.Listen(Listener[int]{
		Error: func(ctx context.Context, err error) {
			gotErrs = append(gotErrs, err)
		},
	})

	panicking := func(ctx context.Context, v int) (int, error) {
		panic("bad stage")
	}
	s.Use([]Transform[int]{panicking})

	s.Observer().Next(ctx, 1)
	if len(gotErrs) != 1 {
		t.Fatalf("expected 1 error, got %d", len(gotErrs))
	}
}

func TestTap(t *testing.T) {
	ctx := context.Background()
	s := New[int](nil, WithTracing(false), WithMetrics(false))

	var seen, got []int
	s.Listen(Listener[int]{
		Next: func(ctx context.Context, v int) error {
			got = append(got, v)
			return nil
		},
	})
	s.Use([]Transform[int]{
		Tap(func(ctx context.Context, v int) { seen = append(seen, v) }),
	}, WithChainedExecution(true))

	s.Observer().Next(ctx, 5)
	if diff := cmp.Diff([]int{5}, seen); diff != "" {
		t.Errorf("tap side effect mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{5}, got); diff != "" {
		t.Errorf("tap should pass values through (-want +got):\n%s", diff)
	}
}

func TestThrottle(t *testing.T) {
	ctx := context.Background()
	s := New[int](nil, WithTracing(false), WithMetrics(false))

	var got []int
	s.Listen(Listener[int]{
		Next: func(ctx context.Context, v int) error {
			got = append(got, v)
			return nil
		},
	})
	s.Use([]Transform[int]{Throttle[int](200, 1)})

	start := time.Now()
	for v := 1; v <= 3; v++ {
		s.Observer().Next(ctx, v)
	}
	elapsed := time.Since(start)

	if diff := cmp.Diff([]int{1, 2, 3}, got); diff != "" {
		t.Errorf("throttled values mismatch (-want +got):\n%s", diff)
	}
	// 200 values/s with burst 1: the second and third value each wait
	// roughly 5ms for a token.
	if elapsed < 8*time.Millisecond {
		t.Errorf("throttle did not pace deliveries, took %s", elapsed)
	}
}
