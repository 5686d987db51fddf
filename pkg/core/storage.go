package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hybridmem/hybridmem-go/pkg/storage"
)

// Embedding generation retries with doubling backoff; everything else gets
// a single attempt.
const (
	embedMaxAttempts = 3
	embedBaseBackoff = time.Second
	embedMaxBackoff  = 5 * time.Second
)

// Similar memories discovered at store time are linked in the graph when
// their similarity clears this threshold.
const (
	similarLinkThreshold = 0.9
	similarLinkLimit     = 5
)

// semanticAdapter exposes the client's raw semantic search to the search
// package without widening the public API.
type semanticAdapter struct {
	client *Client
}

func (a semanticAdapter) SearchSimilar(ctx context.Context, query string, opts *storage.SearchOptions) ([]*storage.Memory, error) {
	return a.client.searchMemories(ctx, query, opts)
}

// newMemory validates store inputs and builds the canonical record with
// defaults filled in.
func (c *Client) newMemory(threadID, content string, options *StoreOptions) (*storage.Memory, error) {
	if threadID == "" {
		return nil, fmt.Errorf("%w: thread id is required", storage.ErrInvalidInput)
	}
	if err := storage.ValidateContent(content); err != nil {
		return nil, err
	}

	memType := options.Type
	if memType == "" {
		memType = TypeConversation
	}
	if !memType.Valid() {
		return nil, fmt.Errorf("%w: unknown memory type %q", storage.ErrInvalidInput, memType)
	}

	importance := DefaultImportance
	switch {
	case options.Importance != nil:
		importance = *options.Importance
	case options.AutoImportance:
		importance = EstimateImportance(content, Metadata{
			Type:       memType,
			Tags:       options.Tags,
			Persistent: options.Persistent,
		})
	}
	if importance < 0 || importance > 1 {
		return nil, fmt.Errorf("%w: importance %v outside [0, 1]", storage.ErrInvalidInput, importance)
	}

	id := options.ID
	if id == "" {
		id = uuid.NewString()
	}

	m := &storage.Memory{
		ID:         id,
		ThreadID:   threadID,
		Content:    content,
		Type:       memType,
		Source:     options.Source,
		Importance: importance,
		Persistent: options.Persistent,
		UserID:     options.UserID,
		CreatedAt:  time.Now().UTC(),
	}
	if len(options.Embedding) > 0 {
		m.Embedding = append([]float64(nil), options.Embedding...)
	}
	if len(options.Tags) > 0 {
		m.Tags = append([]string(nil), options.Tags...)
	}
	if len(options.Extra) > 0 {
		m.Extra = make(map[string]interface{}, len(options.Extra))
		for k, v := range options.Extra {
			m.Extra[k] = v
		}
	}
	return m, nil
}

// normalizeEntry validates a batch entry and fills in defaults, mirroring
// newMemory for caller-built entries.
func (c *Client) normalizeEntry(e *MemoryEntry) (*storage.Memory, error) {
	m := toStorageMemory(e)
	if m.ThreadID == "" {
		return nil, fmt.Errorf("%w: thread id is required", storage.ErrInvalidInput)
	}
	if err := storage.ValidateContent(m.Content); err != nil {
		return nil, err
	}
	if m.Type == "" {
		m.Type = TypeConversation
	}
	if !m.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown memory type %q", storage.ErrInvalidInput, m.Type)
	}
	if m.Importance < 0 || m.Importance > 1 {
		return nil, fmt.Errorf("%w: importance %v outside [0, 1]", storage.ErrInvalidInput, m.Importance)
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return m, nil
}

// ensureEmbedding computes the memory's vector when a provider is
// configured and none was supplied. Failures degrade to storing without a
// vector; they are logged, never returned.
func (c *Client) ensureEmbedding(ctx context.Context, m *storage.Memory) {
	if c.embedder == nil || len(m.Embedding) > 0 {
		return
	}
	vec, err := c.embedText(ctx, m.Content)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"memory_id": m.ID,
			"thread_id": m.ThreadID,
		}).Warn("Embedding failed, storing without vector")
		return
	}
	m.Embedding = vec
}

// retryEmbedding runs op against the embedding provider with bounded
// retries: up to three attempts, backoff starting at one second and
// doubling, capped at five seconds, each attempt under its own timeout.
func (c *Client) retryEmbedding(ctx context.Context, op func(ctx context.Context) error) error {
	backoff := embedBaseBackoff
	var lastErr error
	for attempt := 1; attempt <= embedMaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeouts.Embedding)
		err := op(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == embedMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return classifyEmbedding("Embed", c.embedderName, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > embedMaxBackoff {
			backoff = embedMaxBackoff
		}
	}
	return classifyEmbedding("Embed", c.embedderName, lastErr)
}

func (c *Client) embedText(ctx context.Context, text string) ([]float64, error) {
	var vec []float64
	err := c.retryEmbedding(ctx, func(ctx context.Context) error {
		v, err := c.embedder.Embed(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

func (c *Client) embedTexts(ctx context.Context, texts []string) ([][]float64, error) {
	var vecs [][]float64
	err := c.retryEmbedding(ctx, func(ctx context.Context) error {
		v, err := c.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		vecs = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vecs, nil
}

// embedMissing fills in vectors for batch entries that arrived without one,
// in a single provider call. A failure leaves the batch unembedded and is
// logged, matching the single-store degradation.
func (c *Client) embedMissing(ctx context.Context, memories []*storage.Memory) {
	if c.embedder == nil {
		return
	}
	var idx []int
	var texts []string
	for i, m := range memories {
		if len(m.Embedding) == 0 {
			idx = append(idx, i)
			texts = append(texts, m.Content)
		}
	}
	if len(texts) == 0 {
		return
	}
	vecs, err := c.embedTexts(ctx, texts)
	if err != nil {
		c.logger.WithError(err).WithField("count", len(texts)).Warn("Batch embedding failed, storing without vectors")
		return
	}
	if len(vecs) != len(idx) {
		c.logger.WithFields(logrus.Fields{
			"expected": len(idx),
			"received": len(vecs),
		}).Warn("Batch embedding result count mismatch, storing without vectors")
		return
	}
	for j, i := range idx {
		memories[i].Embedding = vecs[j]
	}
}

// searchMemories embeds the query and runs a vector search. When no
// provider is configured, or query embedding fails, it falls back to
// metadata-filtered retrieval so search keeps answering in degraded mode.
func (c *Client) searchMemories(ctx context.Context, query string, opts *storage.SearchOptions) ([]*storage.Memory, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	vec, err := c.queryVector(ctx, query)
	switch {
	case errors.Is(err, ErrSemanticSearchDisabled):
		// Expected without an embedding provider.
	case err != nil:
		c.logger.WithError(err).Warn("Query embedding failed, falling back to filtered retrieval")
	default:
		searchCtx, cancel := c.storageContext(ctx)
		defer cancel()
		results, err := c.store.Search(searchCtx, vec, opts)
		if err != nil {
			return nil, classifyStorage("SearchSimilar", c.vectorName, opts.ThreadID, "", err)
		}
		return results, nil
	}

	return c.filteredRetrieval(ctx, opts)
}

// queryVector embeds a search query, or reports that semantic search is off.
func (c *Client) queryVector(ctx context.Context, query string) ([]float64, error) {
	if c.embedder == nil {
		return nil, ErrSemanticSearchDisabled
	}
	return c.embedText(ctx, query)
}

// filteredRetrieval is the degraded search path: newest matching memories,
// no similarity ranking.
func (c *Client) filteredRetrieval(ctx context.Context, opts *storage.SearchOptions) ([]*storage.Memory, error) {
	filter := &storage.Filter{
		ThreadID: opts.ThreadID,
		UserID:   opts.UserID,
		Types:    opts.Types,
		Tags:     opts.Tags,
	}

	limit := opts.Limit
	if len(opts.Filters) > 0 {
		// Extra-attribute filters apply after the fetch, so the fetch
		// itself cannot be capped without losing matches.
		limit = 0
	}

	fetchCtx, cancel := c.storageContext(ctx)
	defer cancel()
	results, err := c.store.GetDocuments(fetchCtx, filter, limit)
	if err != nil {
		return nil, classifyStorage("SearchSimilar", c.vectorName, opts.ThreadID, "", err)
	}

	if len(opts.Filters) > 0 {
		matched := results[:0]
		for _, m := range results {
			if matchesExtra(m, opts.Filters) {
				matched = append(matched, m)
			}
		}
		results = matched
		if opts.Limit > 0 && len(results) > opts.Limit {
			results = results[:opts.Limit]
		}
	}
	return results, nil
}

func matchesExtra(m *storage.Memory, filters map[string]interface{}) bool {
	for k, want := range filters {
		got, ok := m.Extra[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// mirrorWrites tracks stored memories in the graph and links near-duplicate
// neighbors. It runs in the background unless the client was built with
// WithSynchronousWrites. Order is preserved so temporal chains inside one
// batch come out right.
func (c *Client) mirrorWrites(memories ...*storage.Memory) {
	if c.mirror == nil || len(memories) == 0 {
		return
	}
	clones := make([]*storage.Memory, len(memories))
	for i, m := range memories {
		clones[i] = m.Clone()
	}
	run := func() {
		for _, m := range clones {
			ctx, cancel := context.WithTimeout(context.Background(), c.timeouts.Storage)
			c.mirror.TrackMemory(ctx, m)
			c.linkSimilar(ctx, m)
			cancel()
		}
	}
	if c.syncWrites {
		run()
		return
	}
	go run()
}

// linkSimilar connects a freshly stored memory to its nearest stored
// neighbors above the similarity threshold. Best-effort.
func (c *Client) linkSimilar(ctx context.Context, m *storage.Memory) {
	if len(m.Embedding) == 0 {
		return
	}
	hits, err := c.store.Search(ctx, m.Embedding, &storage.SearchOptions{
		Limit:    similarLinkLimit + 1,
		MinScore: similarLinkThreshold,
	})
	if err != nil {
		c.logger.WithError(err).WithField("memory_id", m.ID).Debug("Similarity link search failed")
		return
	}
	linked := 0
	for _, hit := range hits {
		if hit.ID == m.ID {
			continue
		}
		if linked == similarLinkLimit {
			break
		}
		c.mirror.LinkSimilar(ctx, m.ID, hit.ID, hit.Score)
		linked++
	}
}

// touchAccess bumps access counters for retrieved memories. Best-effort and
// asynchronous unless the client was built with WithSynchronousWrites.
func (c *Client) touchAccess(memories []*storage.Memory) {
	if len(memories) == 0 {
		return
	}
	ids := make([]string, len(memories))
	for i, m := range memories {
		ids[i] = m.ID
	}
	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeouts.Storage)
		defer cancel()
		if err := c.store.IncrementAccess(ctx, ids); err != nil {
			c.logger.WithError(err).Debug("Access stat update failed")
		}
	}
	if c.syncWrites {
		run()
		return
	}
	go run()
}

// removeFromGraph prunes graph state for deleted memories. Failures are
// logged; the vector delete already succeeded.
func (c *Client) removeFromGraph(ids []string) {
	if c.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeouts.Storage)
	defer cancel()
	if err := c.mirror.RemoveMemories(ctx, ids); err != nil {
		c.logger.WithError(err).Warn("Graph removal failed")
	}
}

// storageContext bounds a backend call with the configured timeout.
func (c *Client) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeouts.Storage <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeouts.Storage)
}
