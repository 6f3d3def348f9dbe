// Package engine holds the contracts of the dataflow: streams, query processors, operators, their
// registry and JSON codec, and the contexts operators are initialized and queried with.
package engine

import (
	"context"
	"errors"
	"io"
)

// Stream is a lazily pulled sequence. Next returns io.EOF once the stream is exhausted.
// Any other error terminates the stream: later calls return io.EOF.
type Stream[T any] interface {
	Next(ctx context.Context) (T, error)
}

// StreamFunc adapts a function to a Stream.
type StreamFunc[T any] func(ctx context.Context) (T, error)

func (f StreamFunc[T]) Next(ctx context.Context) (T, error) {
	return f(ctx)
}

// Terminating wraps next so that an error ends the stream, and context cancellation is honoured.
func Terminating[T any](next func(ctx context.Context) (T, error)) Stream[T] {
	done := false
	return StreamFunc[T](func(ctx context.Context) (T, error) {
		var zero T
		if done {
			return zero, io.EOF
		}
		if err := ctx.Err(); err != nil {
			done = true
			return zero, err
		}
		item, err := next(ctx)
		if err != nil {
			done = true
			return zero, err
		}
		return item, nil
	})
}

func FromSlice[T any](items []T) Stream[T] {
	i := 0
	return Terminating(func(context.Context) (T, error) {
		if i >= len(items) {
			var zero T
			return zero, io.EOF
		}
		item := items[i]
		i++
		return item, nil
	})
}

func Empty[T any]() Stream[T] {
	return FromSlice[T](nil)
}

// Failing yields items and then err.
func Failing[T any](err error, items ...T) Stream[T] {
	inner := FromSlice(items)
	failed := false
	return StreamFunc[T](func(ctx context.Context) (T, error) {
		item, nextErr := inner.Next(ctx)
		if errors.Is(nextErr, io.EOF) {
			var zero T
			if failed {
				return zero, io.EOF
			}
			failed = true
			return zero, err
		}
		return item, nextErr
	})
}

// Map applies fn to every item. An error of fn terminates the stream.
func Map[In, Out any](src Stream[In], fn func(ctx context.Context, in In) (Out, error)) Stream[Out] {
	return Terminating(func(ctx context.Context) (Out, error) {
		in, err := src.Next(ctx)
		if err != nil {
			var zero Out
			return zero, err
		}
		return fn(ctx, in)
	})
}

// Collect drains the stream. It stops at the first error.
func Collect[T any](ctx context.Context, src Stream[T]) ([]T, error) {
	var items []T
	for {
		item, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return items, nil
		}
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
}

// ForEach calls fn for every item until the stream ends.
func ForEach[T any](ctx context.Context, src Stream[T], fn func(T) error) error {
	for {
		item, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err = fn(item); err != nil {
			return err
		}
	}
}

// IsEOF reports whether err signals the end of a stream.
func IsEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
