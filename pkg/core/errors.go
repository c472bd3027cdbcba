// Package core provides the memrank client: the write gate, ranked search,
// review scheduling and access to archival, working memory and checkpoints.
package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrNotFound indicates that a requested memory was not found.
	ErrNotFound = errors.New("memory not found")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidInput indicates that the provided input is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStorageOperation indicates that a storage operation failed.
	ErrStorageOperation = errors.New("storage operation failed")

	// ErrEmbeddingFailed indicates that embedding generation failed.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrLLMOperation indicates that an LLM operation failed.
	ErrLLMOperation = errors.New("llm operation failed")

	// ErrNoStore indicates that the client was built without a store.
	ErrNoStore = errors.New("no store configured")
)

// MemoryError wraps errors with operation context.
//
// Example:
//
//	err := &MemoryError{
//	    Op:  "Save",
//	    Err: ErrInvalidInput,
//	}
//	// Error() returns: "memrank: Save: invalid input"
type MemoryError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns "memrank: <Op>: <Err>".
func (e *MemoryError) Error() string {
	return fmt.Sprintf("memrank: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error so errors.Is and errors.As see through
// the wrapper.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewMemoryError creates a new MemoryError wrapping err. A nil err yields
// nil, so it is safe to use on any return path:
//
//	if err != nil {
//	    return NewMemoryError("Save", err)
//	}
func NewMemoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MemoryError{
		Op:  op,
		Err: err,
	}
}
