package platform

import "context"

type Result[T any] struct {
	Value T
	Err   error
}

// Async runs fn in the background. The returned channel yields exactly one result and is then closed.
func Async[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) <-chan Result[T] {
	results := make(chan Result[T], 1)
	go func() {
		defer close(results)
		value, err := fn(ctx)
		results <- Result[T]{Value: value, Err: err}
	}()
	return results
}
