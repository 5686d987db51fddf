// Package core provides the hybrid memory client: vector-backed storage,
// graph-backed relationships and policy-driven retention behind one façade.
package core

import (
	"time"

	"github.com/hybridmem/hybridmem-go/pkg/graph"
	"github.com/hybridmem/hybridmem-go/pkg/retention"
	"github.com/hybridmem/hybridmem-go/pkg/storage"
)

// MemoryType categorizes a memory and drives its graph relationships.
type MemoryType = storage.MemoryType

// Memory type values accepted by the client.
const (
	TypeConversation = storage.TypeConversation
	TypeFact         = storage.TypeFact
	TypeContext      = storage.TypeContext
	TypePreference   = storage.TypePreference
	TypeSummary      = storage.TypeSummary
	TypeCustom       = storage.TypeCustom
)

// DefaultImportance is assigned to memories stored without an explicit
// importance.
const DefaultImportance = 0.5

// Metadata describes a memory beyond its content.
type Metadata struct {
	// Type categorizes the memory. Defaults to TypeConversation.
	Type MemoryType `json:"type,omitempty"`

	// Source records where the memory came from (free-form).
	Source string `json:"source,omitempty"`

	// Importance weighs the memory in ranking and eviction, in [0, 1].
	// Nil means DefaultImportance.
	Importance *float64 `json:"importance,omitempty"`

	// Persistent exempts the memory from retention eviction.
	Persistent bool `json:"persistent,omitempty"`

	// Tags label the memory for filtering and topic derivation.
	Tags []string `json:"tags,omitempty"`

	// UserID attributes the memory to a user.
	UserID string `json:"user_id,omitempty"`

	// Extra carries open-ended attributes, usable as search filters.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// MemoryEntry is one remembered item as callers see it.
//
// Example:
//
//	entry, _ := client.Store(ctx, "thread_001", "User prefers dark mode",
//	    core.WithMemoryType(core.TypePreference),
//	    core.WithTags("ui"),
//	)
type MemoryEntry struct {
	// ID is the unique identifier of the memory.
	ID string `json:"id"`

	// ThreadID is the conversation thread this memory belongs to.
	ThreadID string `json:"thread_id"`

	// Content is the remembered text. Non-empty, at most 100,000 characters.
	Content string `json:"content"`

	// Embedding is the vector representation, empty when the memory was
	// stored degraded (embedding disabled or failed).
	Embedding []float64 `json:"embedding,omitempty"`

	// Metadata describes the memory.
	Metadata Metadata `json:"metadata"`

	// CreatedAt is when the memory was stored.
	CreatedAt time.Time `json:"created_at"`

	// LastAccessedAt is when the memory was last retrieved, nil if never.
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	// AccessCount is how many times the memory was retrieved.
	AccessCount int64 `json:"access_count"`

	// RelevanceScore is the transient search relevance. Zero outside of
	// search results.
	RelevanceScore float64 `json:"relevance_score,omitempty"`
}

// AnswerResult is the outcome of SearchForAnswer: supporting evidence, a
// confidence estimate and the distinct sources it came from.
type AnswerResult struct {
	// Entries holds the supporting memories, best match first.
	Entries []*MemoryEntry `json:"entries"`

	// Confidence estimates answer quality in [0, 1].
	Confidence float64 `json:"confidence"`

	// Sources lists the distinct non-empty source values of the evidence.
	Sources []string `json:"sources"`
}

// CleanupStats aggregates counters across retention cleanup runs.
type CleanupStats = retention.Stats

// CleanupPreview describes what a cleanup run would remove.
type CleanupPreview = retention.Preview

// Stats combines the state of the vector backend, the graph backend and the
// retention engine.
type Stats struct {
	// Vector reports the vector backend state.
	Vector storage.Stats `json:"vector"`

	// Graph reports the graph backend state, nil when the graph is
	// disabled.
	Graph *graph.Stats `json:"graph,omitempty"`

	// Cleanup reports retention engine counters.
	Cleanup CleanupStats `json:"cleanup"`
}
