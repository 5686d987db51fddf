// Package inmemory provides an in-process implementation of the vector store.
//
// It keeps memories in a map guarded by a RWMutex and computes cosine
// similarity in Go. Intended for tests, examples and single-process
// deployments that do not need durability.
package inmemory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/hybridmem/hybridmem-go/pkg/storage"
)

// Client implements storage.VectorStore with process-local state.
type Client struct {
	mu         sync.RWMutex
	memories   map[string]*storage.Memory
	collection string
}

// Config contains configuration for the in-memory vector store.
type Config struct {
	// CollectionName names the logical collection. Validated against the
	// identifier pattern like every other backend.
	CollectionName string
}

// NewClient creates a new in-memory vector store.
func NewClient(cfg *Config) (*Client, error) {
	name := cfg.CollectionName
	if name == "" {
		name = "memories"
	}
	if err := storage.ValidateCollectionName(name); err != nil {
		return nil, err
	}
	return &Client{
		memories:   make(map[string]*storage.Memory),
		collection: name,
	}, nil
}

// Store upserts a single memory.
func (c *Client) Store(ctx context.Context, memory *storage.Memory) error {
	if err := storage.ValidateContent(memory.Content); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.memories[memory.ID] = memory.Clone()
	return nil
}

// StoreBatch upserts multiple memories.
func (c *Client) StoreBatch(ctx context.Context, memories []*storage.Memory) error {
	for _, m := range memories {
		if err := c.Store(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Search performs cosine-similarity search over all stored embeddings.
//
// Memories without an embedding never match. Results are sorted by score
// descending with CreatedAt descending as the tie-break.
func (c *Client) Search(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*storage.Memory, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var results []*storage.Memory
	for _, m := range c.memories {
		if !searchMatches(m, opts) || m.Embedding == nil {
			continue
		}
		score := cosineSimilarity(embedding, m.Embedding)
		if score < opts.MinScore {
			continue
		}
		cp := m.Clone()
		cp.Score = score
		results = append(results, cp)
	}

	sortByScore(results)
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// GetDocuments retrieves memories matching the filter, newest first.
func (c *Client) GetDocuments(ctx context.Context, filter *storage.Filter, limit int) ([]*storage.Memory, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var results []*storage.Memory
	for _, m := range c.memories {
		if filter.Matches(m) {
			results = append(results, m.Clone())
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].ID < results[j].ID
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes memories by id. Missing ids are skipped.
func (c *Client) Delete(ctx context.Context, ids []string) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, id := range ids {
		if _, ok := c.memories[id]; ok {
			delete(c.memories, id)
			removed++
		}
	}
	return removed, nil
}

// DeleteByFilter removes all memories matching the filter.
func (c *Client) DeleteByFilter(ctx context.Context, filter *storage.Filter) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, m := range c.memories {
		if filter.Matches(m) {
			delete(c.memories, id)
			removed++
		}
	}
	return removed, nil
}

// IncrementAccess bumps access stats for the given ids.
func (c *Client) IncrementAccess(ctx context.Context, ids []string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if m, ok := c.memories[id]; ok {
			m.AccessCount++
			t := now
			m.LastAccessedAt = &t
		}
	}
	return nil
}

// GetStats reports totals for the collection.
func (c *Client) GetStats(ctx context.Context) (*storage.Stats, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := &storage.Stats{
		Backend:    "inmemory",
		Collection: c.collection,
	}
	threads := make(map[string]struct{})
	var contentLen int64
	for _, m := range c.memories {
		stats.TotalMemories++
		if m.Persistent {
			stats.PersistentCount++
		}
		threads[m.ThreadID] = struct{}{}
		contentLen += int64(len([]rune(m.Content)))
	}
	stats.TotalThreads = int64(len(threads))
	if stats.TotalMemories > 0 {
		stats.AverageContentLength = float64(contentLen) / float64(stats.TotalMemories)
	}
	return stats, nil
}

// Close releases the store's state.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memories = make(map[string]*storage.Memory)
	return nil
}

// searchMatches applies SearchOptions filters to a memory.
func searchMatches(m *storage.Memory, opts *storage.SearchOptions) bool {
	if opts.ThreadID != "" && m.ThreadID != opts.ThreadID {
		return false
	}
	if opts.UserID != "" && m.UserID != opts.UserID {
		return false
	}
	if len(opts.Types) > 0 {
		found := false
		for _, t := range opts.Types {
			if m.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, tag := range opts.Tags {
		if !m.HasTag(tag) {
			return false
		}
	}
	for k, v := range opts.Filters {
		if m.Extra == nil || m.Extra[k] != v {
			return false
		}
	}
	return true
}

// cosineSimilarity computes the cosine similarity between two vectors.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sortByScore orders results by score descending, CreatedAt descending on
// ties, id as the final stable key.
func sortByScore(memories []*storage.Memory) {
	sort.Slice(memories, func(i, j int) bool {
		if memories[i].Score != memories[j].Score {
			return memories[i].Score > memories[j].Score
		}
		if !memories[i].CreatedAt.Equal(memories[j].CreatedAt) {
			return memories[i].CreatedAt.After(memories[j].CreatedAt)
		}
		return memories[i].ID < memories[j].ID
	})
}
