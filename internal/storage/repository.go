package storage

import (
	"context"
	"errors"
)

// ErrStackNotFound is returned by LoadStack when no stack with the given name
// has been saved.
var ErrStackNotFound = errors.New("stack not found")

// Repository persists applied stacks. Implementations are safe for
// concurrent use; serialising applies to the same stack is the caller's job.
type Repository interface {
	Ping(ctx context.Context) error
	LoadStack(ctx context.Context, name string) (Stack, error)
	SaveStack(ctx context.Context, stack Stack) error
	// DeleteStack removes the stack. Deleting a missing stack is not an
	// error.
	DeleteStack(ctx context.Context, name string) error
	// ListStacks returns every saved stack name in sorted order.
	ListStacks(ctx context.Context) ([]string, error)
	Close(ctx context.Context) error
}
