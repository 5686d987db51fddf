// Package graph provides interfaces and types for graph storage backends and
// the best-effort graph projection of memories (Mirror).
//
// It defines the GraphStore interface that all graph implementations must
// satisfy, node/relationship types, and the relationship-type allow-list that
// guards Cypher identifier interpolation.
package graph

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Predefined errors returned by graph backends.
var (
	// ErrNotFound indicates that a requested node was not found.
	ErrNotFound = errors.New("node not found")

	// ErrInvalidRelationshipType indicates a relationship type that failed
	// the allow-list check. Relationship types are structural identifiers
	// interpolated into queries, so they are validated, never parameterized.
	ErrInvalidRelationshipType = errors.New("invalid relationship type")

	// ErrCypherUnsupported is returned by backends without a query language
	// (the in-memory store) for ExecuteCypher, BatchExecute and
	// RunTransaction.
	ErrCypherUnsupported = errors.New("cypher execution not supported by this backend")
)

// Node labels used by the memory projection.
const (
	// LabelMemory marks memory entry nodes.
	LabelMemory = "Memory"

	// LabelThread marks thread nodes.
	LabelThread = "Thread"
)

// Relationship types used by the memory projection.
const (
	// RelHasMemory links a thread to each of its memories.
	RelHasMemory = "HAS_MEMORY"

	// RelFollowedBy chains memories temporally. Every non-summary memory has
	// at most one outgoing FOLLOWED_BY edge.
	RelFollowedBy = "FOLLOWED_BY"

	// RelSummarizes links a summary memory to the earlier memories it covers.
	RelSummarizes = "SUMMARIZES"

	// RelHasPreference links a thread to a preference memory.
	RelHasPreference = "HAS_PREFERENCE"

	// RelSemanticallySimilar links semantically close memories, weighted by
	// similarity.
	RelSemanticallySimilar = "SEMANTICALLY_SIMILAR"
)

// relationshipTypeRe constrains relationship-type identifiers. Types are
// interpolated into Cypher (identifiers cannot be parameterized), so anything
// outside this pattern is rejected up front.
var relationshipTypeRe = regexp.MustCompile(`^[A-Z][A-Z0-9_]{0,63}$`)

// knownRelationships is the allow-list of projection edge types.
var knownRelationships = map[string]bool{
	RelHasMemory:           true,
	RelFollowedBy:          true,
	RelSummarizes:          true,
	RelHasPreference:       true,
	RelSemanticallySimilar: true,
}

// ValidateRelationshipType checks a relationship type against the identifier
// pattern and the projection allow-list.
//
// Returns ErrInvalidRelationshipType (wrapped with the offending type) on
// violation.
func ValidateRelationshipType(relType string) error {
	if !relationshipTypeRe.MatchString(relType) || !knownRelationships[relType] {
		return fmt.Errorf("%w: %q", ErrInvalidRelationshipType, relType)
	}
	return nil
}

// Direction selects which edges to follow relative to a node.
type Direction string

const (
	// DirectionOut follows outgoing edges.
	DirectionOut Direction = "out"

	// DirectionIn follows incoming edges.
	DirectionIn Direction = "in"

	// DirectionBoth follows edges regardless of direction. Default.
	DirectionBoth Direction = "both"
)

// Node is a graph node with a label and open properties.
//
// The projection stores plain values (string, int64, float64, bool,
// time.Time, []string) so every backend can persist them natively.
type Node struct {
	// ID is the unique identifier within the label (memory id or thread id).
	ID string

	// Label is the node label (LabelMemory, LabelThread).
	Label string

	// Properties carries the node's attributes.
	Properties map[string]interface{}
}

// Relationship is a typed, optionally weighted edge between two nodes.
type Relationship struct {
	// Type is the relationship type. Must pass ValidateRelationshipType.
	Type string

	// FromLabel and FromID identify the source node.
	FromLabel string
	FromID    string

	// ToLabel and ToID identify the target node.
	ToLabel string
	ToID    string

	// Properties carries edge attributes (e.g. "weight" for
	// SEMANTICALLY_SIMILAR).
	Properties map[string]interface{}
}

// Neighbor is a node reached over a single edge.
type Neighbor struct {
	// Node is the adjacent node.
	Node *Node

	// RelType is the type of the connecting edge.
	RelType string

	// Direction is the edge direction relative to the origin node.
	Direction Direction

	// Weight is the edge's "weight" property, zero when absent.
	Weight float64
}

// TraverseOptions bounds a multi-hop traversal.
type TraverseOptions struct {
	// StartLabel and StartID identify the origin node.
	StartLabel string
	StartID    string

	// RelTypes restricts traversal to the given edge types. Empty means all
	// projection edge types. Every listed type must pass the allow-list.
	RelTypes []string

	// Direction selects edge orientation. Defaults to DirectionBoth.
	Direction Direction

	// MaxDepth bounds the number of hops. Defaults to 2 when <= 0.
	MaxDepth int

	// Limit bounds the number of returned hits. <= 0 means no limit.
	Limit int
}

// TraversalHit is a node discovered during traversal, annotated with the hop
// distance at which it was first reached.
type TraversalHit struct {
	// Node is the discovered node.
	Node *Node

	// Depth is the minimal hop count from the start node (>= 1).
	Depth int
}

// Statement is a single parameterized query for batch execution.
type Statement struct {
	// Query is the query text. Only values are parameterized; identifiers
	// must already be validated.
	Query string

	// Params are the query parameters.
	Params map[string]interface{}
}

// Tx runs parameterized queries inside a backend transaction.
type Tx interface {
	// Run executes a query within the transaction.
	Run(ctx context.Context, query string, params map[string]interface{}) ([]map[string]interface{}, error)
}

// Stats describes the state of a graph backend.
type Stats struct {
	// Backend names the implementation ("inmemory", "neo4j").
	Backend string

	// Nodes is the total node count.
	Nodes int64

	// Relationships is the total edge count.
	Relationships int64

	// MemoryNodes is the number of Memory-labeled nodes.
	MemoryNodes int64

	// ThreadNodes is the number of Thread-labeled nodes.
	ThreadNodes int64
}

// GraphStore defines the interface for graph storage backends.
//
// CreateNode has merge semantics on (Label, ID): creating an existing node
// updates its properties. Deletes are idempotent.
type GraphStore interface {
	// CreateNode merges a node by (Label, ID), updating properties when the
	// node already exists.
	CreateNode(ctx context.Context, node *Node) error

	// CreateRelationship merges an edge of the given type between two
	// existing nodes. The type must pass ValidateRelationshipType.
	CreateRelationship(ctx context.Context, rel *Relationship) error

	// FindNodes returns nodes of a label whose properties equal the given
	// values. limit <= 0 means no limit.
	FindNodes(ctx context.Context, label string, properties map[string]interface{}, limit int) ([]*Node, error)

	// FindNeighbors returns nodes one hop from the given node over edges of
	// the listed types (empty = all known types). limit <= 0 means no limit.
	FindNeighbors(ctx context.Context, label, id string, relTypes []string, direction Direction, limit int) ([]*Neighbor, error)

	// Traverse performs a depth-bounded breadth-first expansion from the
	// start node and returns each distinct reached node once, at its
	// minimal depth.
	Traverse(ctx context.Context, opts *TraverseOptions) ([]*TraversalHit, error)

	// DeleteNodes detaches and deletes nodes by id, returning how many
	// existed.
	DeleteNodes(ctx context.Context, label string, ids []string) (int, error)

	// DeleteRelationships removes edges of a type between two nodes. Empty
	// fromID/toID act as wildcards on that side.
	DeleteRelationships(ctx context.Context, relType, fromID, toID string) error

	// ExecuteCypher runs a raw parameterized query and returns the result
	// rows as maps. Backends without a query language return
	// ErrCypherUnsupported.
	ExecuteCypher(ctx context.Context, query string, params map[string]interface{}) ([]map[string]interface{}, error)

	// BatchExecute runs multiple statements sequentially in one session.
	BatchExecute(ctx context.Context, statements []Statement) error

	// RunTransaction executes fn inside a single write transaction.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error

	// GetStats reports backend state.
	GetStats(ctx context.Context) (*Stats, error)

	// Close closes the backend and releases resources.
	Close(ctx context.Context) error
}
