package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks an absent document set, directory or collection.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument marks malformed input such as mismatched chunk and embedding counts.
	ErrInvalidArgument = errors.New("invalid argument")
)

// ProviderError is a failure of the embedding backend.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// GenerationError is a failure of the generation backend, including mid-stream.
type GenerationError struct {
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation provider %s: %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// StorageError is a failed vector-store operation.
type StorageError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("vector store %s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsTimeout reports whether err was caused by an expired deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
