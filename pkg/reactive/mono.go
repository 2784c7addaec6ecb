// Package reactive provides Mono, a lazily evaluated single value whose steps
// run in order and share one context.Context.
package reactive

import (
	"context"
)

// Mono is a deferred computation yielding one value or an error. Nothing runs
// until Block or Subscribe is called, and it runs again on every call.
type Mono[T any] struct {
	run func(ctx context.Context) (T, error)
}

// Defer wraps fn. fn is not called when ctx is already done.
func Defer[T any](fn func(ctx context.Context) (T, error)) Mono[T] {
	return Mono[T]{run: func(ctx context.Context) (T, error) {
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, err
		}
		return fn(ctx)
	}}
}

func Just[T any](value T) Mono[T] {
	return Mono[T]{run: func(context.Context) (T, error) { return value, nil }}
}

func Error[T any](err error) Mono[T] {
	return Mono[T]{run: func(context.Context) (T, error) {
		var zero T
		return zero, err
	}}
}

// FromContext yields a value derived from the subscriber's context.
func FromContext[T any](fn func(ctx context.Context) T) Mono[T] {
	return Mono[T]{run: func(ctx context.Context) (T, error) { return fn(ctx), nil }}
}

func Map[T, R any](m Mono[T], fn func(T) R) Mono[R] {
	return Mono[R]{run: func(ctx context.Context) (R, error) {
		value, err := m.subscribe(ctx)
		if err != nil {
			var zero R
			return zero, err
		}
		return fn(value), nil
	}}
}

// FlatMap chains a dependent step. The step starts only after m completed,
// and not at all if m failed or ctx was cancelled in between.
func FlatMap[T, R any](m Mono[T], fn func(ctx context.Context, value T) Mono[R]) Mono[R] {
	return Mono[R]{run: func(ctx context.Context) (R, error) {
		value, err := m.subscribe(ctx)
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			var zero R
			return zero, err
		}
		return fn(ctx, value).subscribe(ctx)
	}}
}

// OnErrorResume switches to the Mono returned by fn when m fails.
func (m Mono[T]) OnErrorResume(fn func(ctx context.Context, err error) Mono[T]) Mono[T] {
	return Mono[T]{run: func(ctx context.Context) (T, error) {
		value, err := m.subscribe(ctx)
		if err != nil {
			return fn(ctx, err).subscribe(ctx)
		}
		return value, nil
	}}
}

// DoFinally runs fn after m terminates, successfully or not.
func (m Mono[T]) DoFinally(fn func(ctx context.Context, err error)) Mono[T] {
	return Mono[T]{run: func(ctx context.Context) (T, error) {
		value, err := m.subscribe(ctx)
		fn(ctx, err)
		return value, err
	}}
}

// ContextWrite runs m with the context returned by fn.
func (m Mono[T]) ContextWrite(fn func(ctx context.Context) context.Context) Mono[T] {
	return Mono[T]{run: func(ctx context.Context) (T, error) {
		return m.subscribe(fn(ctx))
	}}
}

func (m Mono[T]) subscribe(ctx context.Context) (T, error) {
	if m.run == nil {
		var zero T
		return zero, nil
	}
	return m.run(ctx)
}

// Block runs m on the calling goroutine.
func (m Mono[T]) Block(ctx context.Context) (T, error) {
	return m.subscribe(ctx)
}

// Result is the terminal signal delivered by Subscribe.
type Result[T any] struct {
	Value T
	Err   error
}

// Subscribe runs m on its own goroutine and delivers the outcome on the
// returned channel, which is closed afterwards.
func (m Mono[T]) Subscribe(ctx context.Context) <-chan Result[T] {
	out := make(chan Result[T], 1)
	go func() {
		defer close(out)
		value, err := m.subscribe(ctx)
		out <- Result[T]{Value: value, Err: err}
	}()
	return out
}
