// Package inmemory provides a map-backed implementation of the graph store.
//
// It mirrors the semantics of the Neo4j backend for structured operations so
// the relationship mirror behaves identically against either. Raw Cypher is
// not supported.
package inmemory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/hybridmem/hybridmem-go/pkg/graph"
)

// Client implements graph.GraphStore with in-process maps.
type Client struct {
	mu sync.RWMutex

	// nodes is keyed by label + id.
	nodes map[string]*graph.Node

	// edges is keyed by relType + from + to, giving MERGE semantics.
	edges map[string]*graph.Relationship

	// outgoing and incoming index edge keys by node key.
	outgoing map[string]map[string]struct{}
	incoming map[string]map[string]struct{}
}

// NewClient creates an empty in-memory graph store.
func NewClient() *Client {
	return &Client{
		nodes:    make(map[string]*graph.Node),
		edges:    make(map[string]*graph.Relationship),
		outgoing: make(map[string]map[string]struct{}),
		incoming: make(map[string]map[string]struct{}),
	}
}

func nodeKey(label, id string) string {
	return label + "\x00" + id
}

func edgeKey(relType, fromKey, toKey string) string {
	return relType + "\x00" + fromKey + "\x00" + toKey
}

// CreateNode inserts a node or merges properties into an existing one.
func (c *Client) CreateNode(ctx context.Context, node *graph.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := nodeKey(node.Label, node.ID)
	existing, ok := c.nodes[key]
	if !ok {
		c.nodes[key] = &graph.Node{
			ID:         node.ID,
			Label:      node.Label,
			Properties: copyProperties(node.Properties),
		}
		return nil
	}

	if existing.Properties == nil {
		existing.Properties = make(map[string]interface{})
	}
	for k, v := range node.Properties {
		existing.Properties[k] = v
	}
	return nil
}

// CreateRelationship inserts or merges an edge. Both endpoints must exist.
func (c *Client) CreateRelationship(ctx context.Context, rel *graph.Relationship) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := graph.ValidateRelationshipType(rel.Type); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fromKey := nodeKey(rel.FromLabel, rel.FromID)
	toKey := nodeKey(rel.ToLabel, rel.ToID)
	if _, ok := c.nodes[fromKey]; !ok {
		return graph.ErrNotFound
	}
	if _, ok := c.nodes[toKey]; !ok {
		return graph.ErrNotFound
	}

	key := edgeKey(rel.Type, fromKey, toKey)
	if existing, ok := c.edges[key]; ok {
		if existing.Properties == nil {
			existing.Properties = make(map[string]interface{})
		}
		for k, v := range rel.Properties {
			existing.Properties[k] = v
		}
		return nil
	}

	c.edges[key] = &graph.Relationship{
		Type:       rel.Type,
		FromLabel:  rel.FromLabel,
		FromID:     rel.FromID,
		ToLabel:    rel.ToLabel,
		ToID:       rel.ToID,
		Properties: copyProperties(rel.Properties),
	}

	if c.outgoing[fromKey] == nil {
		c.outgoing[fromKey] = make(map[string]struct{})
	}
	c.outgoing[fromKey][key] = struct{}{}
	if c.incoming[toKey] == nil {
		c.incoming[toKey] = make(map[string]struct{})
	}
	c.incoming[toKey][key] = struct{}{}

	return nil
}

// FindNodes returns nodes of a label whose properties match all given values.
func (c *Client) FindNodes(ctx context.Context, label string, properties map[string]interface{}, limit int) ([]*graph.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var result []*graph.Node
	for _, node := range c.nodes {
		if node.Label != label {
			continue
		}
		if !propertiesMatch(node.Properties, properties) {
			continue
		}
		result = append(result, cloneNode(node))
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// FindNeighbors returns the direct neighbors of a node.
func (c *Client) FindNeighbors(ctx context.Context, label, id string, relTypes []string, direction graph.Direction, limit int) ([]*graph.Neighbor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	key := nodeKey(label, id)
	if _, ok := c.nodes[key]; !ok {
		return nil, graph.ErrNotFound
	}

	neighbors := c.neighborsLocked(key, relTypes, direction)
	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Node.ID != neighbors[j].Node.ID {
			return neighbors[i].Node.ID < neighbors[j].Node.ID
		}
		return neighbors[i].RelType < neighbors[j].RelType
	})
	if limit > 0 && len(neighbors) > limit {
		neighbors = neighbors[:limit]
	}
	return neighbors, nil
}

// neighborsLocked collects neighbors without sorting or limiting. The caller
// must hold at least a read lock.
func (c *Client) neighborsLocked(key string, relTypes []string, direction graph.Direction) []*graph.Neighbor {
	typeSet := make(map[string]struct{}, len(relTypes))
	for _, t := range relTypes {
		typeSet[t] = struct{}{}
	}

	var neighbors []*graph.Neighbor

	collect := func(edgeKeys map[string]struct{}, dir graph.Direction) {
		for ek := range edgeKeys {
			rel := c.edges[ek]
			if len(typeSet) > 0 {
				if _, ok := typeSet[rel.Type]; !ok {
					continue
				}
			}
			otherKey := nodeKey(rel.ToLabel, rel.ToID)
			if dir == graph.DirectionIn {
				otherKey = nodeKey(rel.FromLabel, rel.FromID)
			}
			other, ok := c.nodes[otherKey]
			if !ok {
				continue
			}
			neighbors = append(neighbors, &graph.Neighbor{
				Node:      cloneNode(other),
				RelType:   rel.Type,
				Direction: dir,
				Weight:    weightOf(rel),
			})
		}
	}

	if direction == graph.DirectionOut || direction == graph.DirectionBoth {
		collect(c.outgoing[key], graph.DirectionOut)
	}
	if direction == graph.DirectionIn || direction == graph.DirectionBoth {
		collect(c.incoming[key], graph.DirectionIn)
	}

	return neighbors
}

// Traverse walks the graph breadth-first from a start node.
//
// The start node itself is not part of the result. Each reachable node is
// reported once at its shortest depth.
func (c *Client) Traverse(ctx context.Context, opts *graph.TraverseOptions) ([]*graph.TraversalHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	startKey := nodeKey(opts.StartLabel, opts.StartID)
	if _, ok := c.nodes[startKey]; !ok {
		return nil, graph.ErrNotFound
	}

	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 2
	}
	direction := opts.Direction
	if direction == "" {
		direction = graph.DirectionBoth
	}

	type queueEntry struct {
		key   string
		depth int
	}

	visited := map[string]struct{}{startKey: {}}
	queue := []queueEntry{{key: startKey, depth: 0}}
	var hits []*graph.TraversalHit

	for len(queue) > 0 {
		entry := queue[0]
		queue = queue[1:]

		if entry.depth == maxDepth {
			continue
		}

		neighbors := c.neighborsLocked(entry.key, opts.RelTypes, direction)
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].Node.ID < neighbors[j].Node.ID })

		for _, neighbor := range neighbors {
			nk := nodeKey(neighbor.Node.Label, neighbor.Node.ID)
			if _, seen := visited[nk]; seen {
				continue
			}
			visited[nk] = struct{}{}

			hits = append(hits, &graph.TraversalHit{
				Node:  neighbor.Node,
				Depth: entry.depth + 1,
			})
			if opts.Limit > 0 && len(hits) >= opts.Limit {
				return hits, nil
			}

			queue = append(queue, queueEntry{key: nk, depth: entry.depth + 1})
		}
	}

	return hits, nil
}

// DeleteNodes removes nodes and all their relationships, detach style.
func (c *Client) DeleteNodes(ctx context.Context, label string, ids []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		key := nodeKey(label, id)
		if _, ok := c.nodes[key]; !ok {
			continue
		}

		for ek := range c.outgoing[key] {
			c.detachEdgeLocked(ek)
		}
		for ek := range c.incoming[key] {
			c.detachEdgeLocked(ek)
		}

		delete(c.nodes, key)
		delete(c.outgoing, key)
		delete(c.incoming, key)
		deleted++
	}

	return deleted, nil
}

// detachEdgeLocked removes an edge from the edge map and both adjacency
// indexes. The caller must hold the write lock.
func (c *Client) detachEdgeLocked(ek string) {
	rel, ok := c.edges[ek]
	if !ok {
		return
	}
	fromKey := nodeKey(rel.FromLabel, rel.FromID)
	toKey := nodeKey(rel.ToLabel, rel.ToID)
	delete(c.edges, ek)
	if set, ok := c.outgoing[fromKey]; ok {
		delete(set, ek)
	}
	if set, ok := c.incoming[toKey]; ok {
		delete(set, ek)
	}
}

// DeleteRelationships removes edges of a type between two nodes. Empty
// fromID or toID act as wildcards.
func (c *Client) DeleteRelationships(ctx context.Context, relType, fromID, toID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := graph.ValidateRelationshipType(relType); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []string
	for ek, rel := range c.edges {
		if rel.Type != relType {
			continue
		}
		if fromID != "" && rel.FromID != fromID {
			continue
		}
		if toID != "" && rel.ToID != toID {
			continue
		}
		toRemove = append(toRemove, ek)
	}
	for _, ek := range toRemove {
		c.detachEdgeLocked(ek)
	}

	return nil
}

// ExecuteCypher is not supported by the in-memory backend.
func (c *Client) ExecuteCypher(ctx context.Context, query string, params map[string]interface{}) ([]map[string]interface{}, error) {
	return nil, graph.ErrCypherUnsupported
}

// BatchExecute is not supported by the in-memory backend.
func (c *Client) BatchExecute(ctx context.Context, statements []graph.Statement) error {
	return graph.ErrCypherUnsupported
}

// RunTransaction is not supported by the in-memory backend.
func (c *Client) RunTransaction(ctx context.Context, fn func(tx graph.Tx) error) error {
	return graph.ErrCypherUnsupported
}

// GetStats reports node and relationship totals.
func (c *Client) GetStats(ctx context.Context) (*graph.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := &graph.Stats{
		Backend:       "inmemory",
		Nodes:         int64(len(c.nodes)),
		Relationships: int64(len(c.edges)),
	}
	for key := range c.nodes {
		switch label(key) {
		case graph.LabelMemory:
			stats.MemoryNodes++
		case graph.LabelThread:
			stats.ThreadNodes++
		}
	}
	return stats, nil
}

// Close releases the store's contents.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes = make(map[string]*graph.Node)
	c.edges = make(map[string]*graph.Relationship)
	c.outgoing = make(map[string]map[string]struct{})
	c.incoming = make(map[string]map[string]struct{})
	return nil
}

func label(key string) string {
	if i := strings.IndexByte(key, 0); i >= 0 {
		return key[:i]
	}
	return key
}

func copyProperties(props map[string]interface{}) map[string]interface{} {
	if props == nil {
		return nil
	}
	out := make(map[string]interface{}, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

func cloneNode(node *graph.Node) *graph.Node {
	return &graph.Node{
		ID:         node.ID,
		Label:      node.Label,
		Properties: copyProperties(node.Properties),
	}
}

func propertiesMatch(have, want map[string]interface{}) bool {
	for k, v := range want {
		got, ok := have[k]
		if !ok || got != v {
			return false
		}
	}
	return true
}

func weightOf(rel *graph.Relationship) float64 {
	if rel.Properties == nil {
		return 0
	}
	switch v := rel.Properties["weight"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
