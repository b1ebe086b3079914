// Package observer provides a named-event registration primitive with three
// event kinds: next (carries a value), error (carries an error, terminal by
// convention) and complete (carries nothing, terminal by convention).
//
// Multiple handlers may be registered per kind; they are invoked in
// registration order. A configuration flag controls whether one handler's
// failure isolates or aborts dispatch to the remaining handlers.
//
// Both the source and output roles of a stream reuse this primitive.
package observer

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Kind identifies an event kind on an observer.
type Kind string

const (
	// KindNext carries one value
	KindNext Kind = "next"
	// KindError carries one error value
	KindError Kind = "error"
	// KindComplete carries nothing
	KindComplete Kind = "complete"
)

// Handler processes a value dispatched on the next kind.
// A non-nil return is treated as a handler failure.
type Handler[T any] func(ctx context.Context, value T) error

// ErrorHandler processes an error dispatched on the error kind.
type ErrorHandler func(ctx context.Context, err error)

// CompleteHandler processes a completion signal.
type CompleteHandler func(ctx context.Context)

// Observer is a named-event dispatcher. The zero value is not usable,
// create one with New. Safe for concurrent use.
type Observer[T any] struct {
	mu        sync.RWMutex
	next      []Handler[T]
	errs      []ErrorHandler
	completes []CompleteHandler

	continueOnError bool
	recovery        bool
	logger          *slog.Logger
}

// New creates a new observer.
func New[T any](opts ...Option) *Observer[T] {
	o := newOptions(opts...)
	return &Observer[T]{
		continueOnError: o.continueOnError,
		recovery:        o.recovery,
		logger:          o.logger,
	}
}

// OnNext registers a handler for the next kind.
func (o *Observer[T]) OnNext(h Handler[T]) {
	if h == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.next = append(o.next, h)
}

// OnError registers a handler for the error kind.
func (o *Observer[T]) OnError(h ErrorHandler) {
	if h == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, h)
}

// OnComplete registers a handler for the complete kind.
func (o *Observer[T]) OnComplete(h CompleteHandler) {
	if h == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completes = append(o.completes, h)
}

// Next dispatches a value to all next handlers in registration order.
// Without continue-on-error, dispatch stops at the first failing handler
// and its error is returned. With continue-on-error, failures are logged
// and the remaining handlers still run; Next returns nil.
func (o *Observer[T]) Next(ctx context.Context, value T) error {
	o.mu.RLock()
	handlers := make([]Handler[T], len(o.next))
	copy(handlers, o.next)
	o.mu.RUnlock()

	for _, h := range handlers {
		if err := o.call(ctx, h, value); err != nil {
			if !o.continueOnError {
				return err
			}
			o.logger.Warn("next handler failed", "error", err)
		}
	}
	return nil
}

// Error dispatches an error to all error handlers in registration order.
// Handler panics are recovered per the recovery setting; continue-on-error
// decides whether a panicking handler aborts dispatch to the rest.
func (o *Observer[T]) Error(ctx context.Context, err error) {
	o.mu.RLock()
	handlers := make([]ErrorHandler, len(o.errs))
	copy(handlers, o.errs)
	o.mu.RUnlock()

	for _, h := range handlers {
		if herr := o.callErr(ctx, h, err); herr != nil {
			if !o.continueOnError {
				return
			}
			o.logger.Warn("error handler failed", "error", herr)
		}
	}
}

// Complete dispatches a completion signal to all complete handlers.
func (o *Observer[T]) Complete(ctx context.Context) {
	o.mu.RLock()
	handlers := make([]CompleteHandler, len(o.completes))
	copy(handlers, o.completes)
	o.mu.RUnlock()

	for _, h := range handlers {
		if herr := o.callComplete(ctx, h); herr != nil {
			if !o.continueOnError {
				return
			}
			o.logger.Warn("complete handler failed", "error", herr)
		}
	}
}

// Clear removes all registered handlers for all kinds.
func (o *Observer[T]) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.next = nil
	o.errs = nil
	o.completes = nil
}

// HandlerCount returns the number of handlers registered for a kind.
func (o *Observer[T]) HandlerCount(kind Kind) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	switch kind {
	case KindNext:
		return len(o.next)
	case KindError:
		return len(o.errs)
	case KindComplete:
		return len(o.completes)
	}
	return 0
}

func (o *Observer[T]) call(ctx context.Context, h Handler[T], value T) (err error) {
	if o.recovery {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("handler panic recovered",
					"error", r,
					"stack", string(debug.Stack()))
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
	}
	return h(ctx, value)
}

func (o *Observer[T]) callErr(ctx context.Context, h ErrorHandler, dispatched error) (err error) {
	if o.recovery {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("handler panic recovered",
					"error", r,
					"stack", string(debug.Stack()))
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
	}
	h(ctx, dispatched)
	return nil
}

func (o *Observer[T]) callComplete(ctx context.Context, h CompleteHandler) (err error) {
	if o.recovery {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("handler panic recovered",
					"error", r,
					"stack", string(debug.Stack()))
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
	}
	h(ctx)
	return nil
}
