// Package storage provides interfaces and types for vector storage backends.
//
// It defines the VectorStore interface that all storage implementations must
// satisfy, the canonical Memory record they persist, and the filter and option
// types shared by implementations (in-memory, SQLite, PostgreSQL, MySQL, Qdrant).
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Predefined errors returned by storage backends.
var (
	// ErrNotFound indicates that a requested memory was not found.
	ErrNotFound = errors.New("memory not found")

	// ErrInvalidInput indicates that a memory failed content validation
	// (empty content, oversized content, malformed fields).
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidCollection indicates that a collection name failed validation.
	ErrInvalidCollection = errors.New("invalid collection name")
)

// MaxContentLength is the maximum number of characters allowed in Memory.Content.
const MaxContentLength = 100000

// collectionNameRe constrains collection and identifier names that are
// interpolated into backend statements. Values outside this set are rejected
// before any query is built.
var collectionNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// ValidateCollectionName checks a collection/table name against the allowed
// identifier pattern ([A-Za-z0-9_-], 1-100 chars).
//
// Returns ErrInvalidCollection (wrapped with the offending name) on violation.
func ValidateCollectionName(name string) error {
	if !collectionNameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, name)
	}
	return nil
}

// ValidateContent checks memory content for emptiness and the size bound.
//
// Returns ErrInvalidInput (wrapped with the reason) on violation.
func ValidateContent(content string) error {
	if content == "" {
		return fmt.Errorf("%w: content is empty", ErrInvalidInput)
	}
	if len([]rune(content)) > MaxContentLength {
		return fmt.Errorf("%w: content exceeds %d characters", ErrInvalidInput, MaxContentLength)
	}
	return nil
}

// MemoryType classifies what a memory entry represents.
//
// The type drives graph projection (summaries and preferences get dedicated
// edges) and type-restricted search.
type MemoryType string

const (
	// TypeConversation is a regular conversational turn. Default.
	TypeConversation MemoryType = "conversation"

	// TypeFact is a standalone factual statement.
	TypeFact MemoryType = "fact"

	// TypeContext is background/context information for a thread.
	TypeContext MemoryType = "context"

	// TypePreference is a user preference statement.
	TypePreference MemoryType = "preference"

	// TypeSummary is the persisted output of a summarization step, covering
	// earlier memories in the same thread.
	TypeSummary MemoryType = "summary"

	// TypeCustom is caller-defined content with no special handling.
	TypeCustom MemoryType = "custom"
)

// Valid reports whether t is one of the known memory types.
func (t MemoryType) Valid() bool {
	switch t {
	case TypeConversation, TypeFact, TypeContext, TypePreference, TypeSummary, TypeCustom:
		return true
	}
	return false
}

// Memory is the canonical record persisted by vector backends.
//
// This type is defined in the storage package so that the graph, retention and
// search packages can share it without importing the user-facing core package.
type Memory struct {
	// ID is the unique, opaque identifier of the memory.
	ID string

	// ThreadID groups memories into a conversation/session.
	ThreadID string

	// Content is the text content (non-empty, at most MaxContentLength chars).
	Content string

	// Embedding is the vector used for similarity search. Nil when semantic
	// search is disabled or embedding generation degraded at store time.
	Embedding []float64

	// Type classifies the memory. Defaults to TypeConversation.
	Type MemoryType

	// Source records where the content came from (optional).
	Source string

	// Importance weighs the memory for retention and ranking (0.0-1.0).
	Importance float64

	// Persistent exempts the memory from every automatic eviction path.
	Persistent bool

	// Tags are caller-supplied labels with set semantics.
	Tags []string

	// UserID identifies the user the memory belongs to (optional).
	UserID string

	// Extra carries open structured metadata. Backends store it natively
	// where they can and fall back to a serialized JSON string otherwise.
	Extra map[string]interface{}

	// CreatedAt is when the memory was stored.
	CreatedAt time.Time

	// LastAccessedAt is when the memory was last retrieved (nil if never).
	LastAccessedAt *time.Time

	// AccessCount counts retrievals. Monotonically non-decreasing.
	AccessCount int64

	// Score is the transient relevance from search operations. Not persisted.
	Score float64
}

// Clone returns a deep copy of the memory. Backends that keep records in
// process memory return clones so callers cannot alias internal state.
func (m *Memory) Clone() *Memory {
	if m == nil {
		return nil
	}
	cp := *m
	if m.Embedding != nil {
		cp.Embedding = append([]float64(nil), m.Embedding...)
	}
	if m.Tags != nil {
		cp.Tags = append([]string(nil), m.Tags...)
	}
	if m.Extra != nil {
		cp.Extra = make(map[string]interface{}, len(m.Extra))
		for k, v := range m.Extra {
			cp.Extra[k] = v
		}
	}
	if m.LastAccessedAt != nil {
		t := *m.LastAccessedAt
		cp.LastAccessedAt = &t
	}
	return &cp
}

// HasTag reports whether the memory carries the given tag.
func (m *Memory) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// SearchOptions contains options for similarity search operations.
type SearchOptions struct {
	// ThreadID restricts results to a single thread.
	ThreadID string

	// UserID restricts results to a single user.
	UserID string

	// Types restricts results to the given memory types.
	Types []MemoryType

	// Tags restricts results to memories carrying all given tags.
	Tags []string

	// Limit sets the maximum number of results to return.
	Limit int

	// MinScore drops results scoring below the threshold.
	MinScore float64

	// Filters provides additional Extra-metadata equality filters.
	Filters map[string]interface{}
}

// Filter selects memories for retrieval and bulk deletion.
//
// A nil or zero Filter matches everything. Non-zero fields are combined
// with AND; IDs match any of the listed identifiers.
type Filter struct {
	// IDs match memories by identifier.
	IDs []string

	// ThreadID matches memories in a thread.
	ThreadID string

	// UserID matches memories owned by a user.
	UserID string

	// Types matches memories of any of the given types.
	Types []MemoryType

	// Tags matches memories carrying all given tags.
	Tags []string
}

// Matches reports whether the memory satisfies the filter. Used by backends
// without native filter pushdown.
func (f *Filter) Matches(m *Memory) bool {
	if f == nil {
		return true
	}
	if len(f.IDs) > 0 {
		found := false
		for _, id := range f.IDs {
			if m.ID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ThreadID != "" && m.ThreadID != f.ThreadID {
		return false
	}
	if f.UserID != "" && m.UserID != f.UserID {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if m.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, tag := range f.Tags {
		if !m.HasTag(tag) {
			return false
		}
	}
	return true
}

// Stats describes the state of a vector backend.
type Stats struct {
	// Backend names the implementation ("inmemory", "sqlite", "postgres", ...).
	Backend string

	// Collection is the collection/table the stats cover.
	Collection string

	// TotalMemories is the number of stored memories.
	TotalMemories int64

	// TotalThreads is the number of distinct threads.
	TotalThreads int64

	// PersistentCount is the number of eviction-exempt memories.
	PersistentCount int64

	// AverageContentLength is the mean content length in characters.
	AverageContentLength float64
}

// VectorStore defines the interface for vector storage backends.
//
// All implementations must treat Delete as idempotent: deleting ids that do
// not exist is not an error and contributes zero to the returned count.
type VectorStore interface {
	// Store upserts a single memory.
	Store(ctx context.Context, memory *Memory) error

	// StoreBatch upserts multiple memories. Implementations may fan out
	// concurrent writes bounded by the batch size.
	StoreBatch(ctx context.Context, memories []*Memory) error

	// Search performs vector similarity search.
	//
	// Parameters:
	//   - ctx: Context for cancellation
	//   - embedding: Query embedding vector
	//   - opts: Search options (thread/user/type filters, Limit, MinScore)
	//
	// Returns matching memories sorted by relevance (highest first) with
	// Score populated (1 = identical, 0 = unrelated).
	Search(ctx context.Context, embedding []float64, opts *SearchOptions) ([]*Memory, error)

	// GetDocuments retrieves memories matching the filter, sorted by
	// CreatedAt descending. limit <= 0 means no limit. A nil filter
	// matches everything.
	GetDocuments(ctx context.Context, filter *Filter, limit int) ([]*Memory, error)

	// Delete removes memories by id and returns how many existed.
	Delete(ctx context.Context, ids []string) (int, error)

	// DeleteByFilter removes all memories matching the filter and returns
	// how many were removed.
	DeleteByFilter(ctx context.Context, filter *Filter) (int, error)

	// IncrementAccess bumps AccessCount and LastAccessedAt for the ids.
	// Missing ids are skipped silently.
	IncrementAccess(ctx context.Context, ids []string) error

	// GetStats reports backend state.
	GetStats(ctx context.Context) (*Stats, error)

	// Close closes the backend and releases resources.
	Close() error
}
