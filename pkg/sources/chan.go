// Package sources adapts push-style transports to stream.Source.
package sources

import (
	"context"

	"github.com/go-go-golems/convoflow/pkg/stream"
)

// Chan streams the values received on C until C is closed.
type Chan[T any] struct {
	C <-chan T
}

var _ stream.Source = Chan[string]{}

func FromChan[T any](c <-chan T) Chan[T] {
	return Chan[T]{C: c}
}

func (c Chan[T]) Run(ctx context.Context, emit stream.EmitFunc) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v, ok := <-c.C:
			if !ok {
				return nil
			}
			if err := emit(v); err != nil {
				return err
			}
		}
	}
}
