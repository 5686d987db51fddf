package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig indicates that the provided configuration is invalid.
var ErrInvalidConfig = errors.New("invalid configuration")

// ErrSemanticSearchDisabled signals inside the search path that no embedding
// provider is configured. Search degrades to filtered retrieval instead of
// surfacing it.
var ErrSemanticSearchDisabled = errors.New("semantic search disabled")

// errorMessage formats a taxonomy error the same way across all types:
// "hybridmem: <op>: <cause>", with the backing service inserted when known.
func errorMessage(op, service string, err error) string {
	if service != "" {
		return fmt.Sprintf("hybridmem: %s (%s): %v", op, service, err)
	}
	return fmt.Sprintf("hybridmem: %s: %v", op, err)
}

// StorageError reports a vector backend failure: store, retrieve, search or
// collection management.
type StorageError struct {
	// Op is the operation that failed.
	Op string

	// MemoryID is the memory involved, when known.
	MemoryID string

	// ThreadID is the thread involved, when known.
	ThreadID string

	// Service names the backing store ("sqlite", "postgres", ...).
	Service string

	// Timestamp is when the failure was observed.
	Timestamp time.Time

	// Err is the underlying cause.
	Err error
}

func (e *StorageError) Error() string { return errorMessage(e.Op, e.Service, e.Err) }

// Unwrap returns the underlying error so errors.Is and errors.As see
// through the wrapper.
func (e *StorageError) Unwrap() error { return e.Err }

// RelationshipError reports a graph backend failure: node or relationship
// writes, queries, schema management or transactions.
type RelationshipError struct {
	Op        string
	MemoryID  string
	ThreadID  string
	Service   string
	Timestamp time.Time
	Err       error
}

func (e *RelationshipError) Error() string { return errorMessage(e.Op, e.Service, e.Err) }
func (e *RelationshipError) Unwrap() error { return e.Err }

// EmbeddingError reports an embedding provider failure: configuration, API
// access or generation.
type EmbeddingError struct {
	Op        string
	MemoryID  string
	ThreadID  string
	Service   string
	Timestamp time.Time
	Err       error
}

func (e *EmbeddingError) Error() string { return errorMessage(e.Op, e.Service, e.Err) }
func (e *EmbeddingError) Unwrap() error { return e.Err }

// TimeoutError reports an operation that ran out of time against a backend
// or provider.
type TimeoutError struct {
	Op        string
	MemoryID  string
	ThreadID  string
	Service   string
	Timestamp time.Time
	Err       error
}

func (e *TimeoutError) Error() string { return errorMessage(e.Op, e.Service, e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }

// ConfigurationError reports invalid or missing settings.
type ConfigurationError struct {
	Op        string
	Timestamp time.Time
	Err       error
}

func (e *ConfigurationError) Error() string { return errorMessage(e.Op, "", e.Err) }
func (e *ConfigurationError) Unwrap() error { return e.Err }

// OperationError is the catch-all for failures that fit no other type,
// input validation included.
type OperationError struct {
	Op        string
	MemoryID  string
	ThreadID  string
	Service   string
	Timestamp time.Time
	Err       error
}

func (e *OperationError) Error() string { return errorMessage(e.Op, e.Service, e.Err) }
func (e *OperationError) Unwrap() error { return e.Err }

// classifyStorage wraps a vector backend failure, preserving deadline
// expiry as a TimeoutError. Returns nil when err is nil.
func classifyStorage(op, service, threadID, memoryID string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Service: service, ThreadID: threadID, MemoryID: memoryID, Timestamp: time.Now(), Err: err}
	}
	return &StorageError{Op: op, Service: service, ThreadID: threadID, MemoryID: memoryID, Timestamp: time.Now(), Err: err}
}

// classifyEmbedding wraps an embedding provider failure, preserving
// deadline expiry as a TimeoutError. Returns nil when err is nil.
func classifyEmbedding(op, service string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Service: service, Timestamp: time.Now(), Err: err}
	}
	return &EmbeddingError{Op: op, Service: service, Timestamp: time.Now(), Err: err}
}

// newOperationError wraps err in an OperationError. Returns nil when err is
// nil, allowing unconditional wrapping at return sites.
func newOperationError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Op: op, Timestamp: time.Now(), Err: err}
}

// newConfigurationError wraps err in a ConfigurationError. Returns nil when
// err is nil.
func newConfigurationError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ConfigurationError{Op: op, Timestamp: time.Now(), Err: err}
}
