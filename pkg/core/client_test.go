package core_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridmem/hybridmem-go/pkg/core"
	"github.com/hybridmem/hybridmem-go/pkg/graph"
	inmemgraph "github.com/hybridmem/hybridmem-go/pkg/graph/inmemory"
	"github.com/hybridmem/hybridmem-go/pkg/storage"
	inmemstore "github.com/hybridmem/hybridmem-go/pkg/storage/inmemory"
)

var clientBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// stubEmbedder scripts embedding responses for client tests.
type stubEmbedder struct {
	fn    func(text string) ([]float64, error)
	calls int
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	s.calls++
	if s.fn == nil {
		return []float64{1, 0}, nil
	}
	return s.fn(text)
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int { return 2 }
func (s *stubEmbedder) Close() error    { return nil }

// downGraph fails every operation, standing in for an unreachable graph
// backend.
type downGraph struct{}

var errGraphDown = errors.New("graph backend unreachable")

func (downGraph) CreateNode(context.Context, *graph.Node) error { return errGraphDown }
func (downGraph) CreateRelationship(context.Context, *graph.Relationship) error {
	return errGraphDown
}
func (downGraph) FindNodes(context.Context, string, map[string]interface{}, int) ([]*graph.Node, error) {
	return nil, errGraphDown
}
func (downGraph) FindNeighbors(context.Context, string, string, []string, graph.Direction, int) ([]*graph.Neighbor, error) {
	return nil, errGraphDown
}
func (downGraph) Traverse(context.Context, *graph.TraverseOptions) ([]*graph.TraversalHit, error) {
	return nil, errGraphDown
}
func (downGraph) DeleteNodes(context.Context, string, []string) (int, error) {
	return 0, errGraphDown
}
func (downGraph) DeleteRelationships(context.Context, string, string, string) error {
	return errGraphDown
}
func (downGraph) ExecuteCypher(context.Context, string, map[string]interface{}) ([]map[string]interface{}, error) {
	return nil, errGraphDown
}
func (downGraph) BatchExecute(context.Context, []graph.Statement) error { return errGraphDown }
func (downGraph) RunTransaction(context.Context, func(tx graph.Tx) error) error {
	return errGraphDown
}
func (downGraph) GetStats(context.Context) (*graph.Stats, error) { return nil, errGraphDown }
func (downGraph) Close(context.Context) error                    { return nil }

// testConfig returns a config whose stores are injected by the caller.
// The embedder is disabled; tests exercising embeddings inject a stub
// through core.WithEmbedder.
func testConfig() *core.Config {
	cfg := core.DefaultConfig()
	cfg.VectorStore = core.VectorStoreConfig{Provider: "custom"}
	cfg.Graph = core.GraphConfig{Provider: "custom"}
	cfg.Embedder = core.EmbedderConfig{Provider: "none"}
	return cfg
}

// newTestClient builds a client over fresh in-memory backends with
// synchronous secondary writes, so assertions see mirrored state.
func newTestClient(t *testing.T, extra ...core.ClientOption) *core.Client {
	t.Helper()

	store, err := inmemstore.NewClient(&inmemstore.Config{})
	require.NoError(t, err)

	opts := append([]core.ClientOption{
		core.WithVectorStore(store),
		core.WithGraphStore(inmemgraph.NewClient()),
		core.WithSynchronousWrites(),
	}, extra...)

	client, err := core.NewClient(context.Background(), testConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClient_StoreRetrieveRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	stored, err := client.Store(ctx, "thread_1", "User prefers dark mode",
		core.WithMemoryType(core.TypePreference),
		core.WithTags("ui", "theme"),
	)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, "thread_1", stored.ThreadID)
	assert.Equal(t, core.TypePreference, stored.Metadata.Type)
	require.NotNil(t, stored.Metadata.Importance)
	assert.Equal(t, core.DefaultImportance, *stored.Metadata.Importance)
	assert.Zero(t, stored.AccessCount)

	// First retrieve returns the entry and bumps its counters.
	entries, err := client.Retrieve(ctx, "thread_1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, stored.ID, entries[0].ID)
	assert.Equal(t, "User prefers dark mode", entries[0].Content)

	// The bump from the single retrieve is visible on the next read.
	entries, err = client.Retrieve(ctx, "thread_1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].AccessCount)
	assert.NotNil(t, entries[0].LastAccessedAt)
}

func TestClient_RetrieveNewestFirst(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	entries := make([]*core.MemoryEntry, 3)
	for i := range entries {
		entries[i] = &core.MemoryEntry{
			ID:        fmt.Sprintf("m%d", i),
			ThreadID:  "thread_1",
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: clientBase.Add(time.Duration(i) * time.Minute),
		}
	}
	_, err := client.StoreBatch(ctx, entries)
	require.NoError(t, err)

	got, err := client.Retrieve(ctx, "thread_1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "m2", got[0].ID)
	assert.Equal(t, "m1", got[1].ID)
	assert.Equal(t, "m0", got[2].ID)
}

func TestClient_StoreSurvivesGraphOutage(t *testing.T) {
	store, err := inmemstore.NewClient(&inmemstore.Config{})
	require.NoError(t, err)

	client, err := core.NewClient(context.Background(), testConfig(),
		core.WithVectorStore(store),
		core.WithGraphStore(downGraph{}),
		core.WithSynchronousWrites(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	entry, err := client.Store(ctx, "thread_1", "graph is down but memory works")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.NotEmpty(t, entry.ID)

	// The entry is durable in the vector store despite the dead graph.
	got, err := client.Retrieve(ctx, "thread_1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, entry.ID, got[0].ID)
}

func TestClient_StoreDegradesOnEmbeddingFailure(t *testing.T) {
	failing := &stubEmbedder{fn: func(string) ([]float64, error) {
		return nil, errors.New("quota exceeded")
	}}
	client := newTestClient(t, core.WithEmbedder(failing))
	ctx := context.Background()

	entry, err := client.Store(ctx, "thread_1", "stored without a vector")
	require.NoError(t, err)
	assert.Empty(t, entry.Embedding)
	// All three attempts were spent before degrading.
	assert.Equal(t, 3, failing.calls)

	got, err := client.Retrieve(ctx, "thread_1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "stored without a vector", got[0].Content)
}

func TestClient_StoreValidation(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.Store(ctx, "", "content")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = client.Store(ctx, "thread_1", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = client.Store(ctx, "thread_1", "content", core.WithImportance(1.5))
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = client.Store(ctx, "thread_1", "content", core.WithMemoryType("episodic"))
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	var opErr *core.OperationError
	_, err = client.Store(ctx, "thread_1", "")
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "Store", opErr.Op)
}

func TestClient_StoreBatchAssignsDefaults(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	entries, err := client.StoreBatch(ctx, []*core.MemoryEntry{
		{ThreadID: "thread_1", Content: "first"},
		{ThreadID: "thread_1", Content: "second", Metadata: core.Metadata{Type: core.TypeFact}},
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.NotEmpty(t, entries[0].ID)
	assert.NotEmpty(t, entries[1].ID)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)
	assert.Equal(t, core.TypeConversation, entries[0].Metadata.Type)
	assert.Equal(t, core.TypeFact, entries[1].Metadata.Type)
	assert.False(t, entries[0].CreatedAt.IsZero())

	got, err := client.Retrieve(ctx, "thread_1")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestClient_DeleteByIDsIdempotent(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	entry, err := client.Store(ctx, "thread_1", "to be deleted")
	require.NoError(t, err)

	removed, err := client.DeleteByIDs(ctx, []string{entry.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// Deleting the same ids again is a no-op, not an error.
	removed, err = client.DeleteByIDs(ctx, []string{entry.ID, "never-existed"})
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	removed, err = client.DeleteByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestClient_ClearThread(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := client.Store(ctx, "thread_1", fmt.Sprintf("message %d", i))
		require.NoError(t, err)
	}
	_, err := client.Store(ctx, "thread_2", "other thread")
	require.NoError(t, err)

	removed, err := client.ClearThread(ctx, "thread_1")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	got, err := client.Retrieve(ctx, "thread_1")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = client.Retrieve(ctx, "thread_2")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestClient_SearchSimilarRanksAndTieBreaks(t *testing.T) {
	embed := &stubEmbedder{fn: func(string) ([]float64, error) {
		return []float64{1, 0}, nil
	}}
	client := newTestClient(t, core.WithEmbedder(embed))
	ctx := context.Background()

	_, err := client.StoreBatch(ctx, []*core.MemoryEntry{
		{ID: "close", ThreadID: "t1", Content: "close", Embedding: []float64{1, 0},
			CreatedAt: clientBase},
		{ID: "far", ThreadID: "t1", Content: "far", Embedding: []float64{0, 1},
			CreatedAt: clientBase},
		// Same vector as "close", created later: ties order newest first.
		{ID: "close-newer", ThreadID: "t1", Content: "close newer", Embedding: []float64{1, 0},
			CreatedAt: clientBase.Add(time.Minute)},
	})
	require.NoError(t, err)

	results, err := client.SearchSimilar(ctx, "query", core.WithThreadID("t1"))
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "close-newer", results[0].ID)
	assert.Equal(t, "close", results[1].ID)
	assert.Equal(t, "far", results[2].ID)
	assert.InDelta(t, 1.0, results[0].RelevanceScore, 1e-9)
	assert.Equal(t, results[0].RelevanceScore, results[1].RelevanceScore)
}

func TestClient_SearchSimilarFallsBackWithoutEmbedder(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.Store(ctx, "thread_1", "first memory")
	require.NoError(t, err)
	_, err = client.Store(ctx, "thread_1", "second memory", core.WithMemoryType(core.TypeFact))
	require.NoError(t, err)

	// No embedding provider: the search answers from filtered retrieval.
	results, err := client.SearchSimilar(ctx, "anything",
		core.WithThreadID("thread_1"),
		core.WithTypes(core.TypeFact),
	)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "second memory", results[0].Content)
	assert.Zero(t, results[0].RelevanceScore)
}

func TestClient_HybridSearchWithoutRelatedMatchesVector(t *testing.T) {
	embed := &stubEmbedder{fn: func(string) ([]float64, error) {
		return []float64{1, 0}, nil
	}}
	client := newTestClient(t, core.WithEmbedder(embed))
	ctx := context.Background()

	_, err := client.StoreBatch(ctx, []*core.MemoryEntry{
		{ID: "a", ThreadID: "t1", Content: "a", Embedding: []float64{1, 0}, CreatedAt: clientBase},
		{ID: "b", ThreadID: "t1", Content: "b", Embedding: []float64{0.8, 0.6}, CreatedAt: clientBase},
		{ID: "c", ThreadID: "t1", Content: "c", Embedding: []float64{0, 1}, CreatedAt: clientBase},
	})
	require.NoError(t, err)

	vector, err := client.SearchSimilar(ctx, "query", core.WithThreadID("t1"))
	require.NoError(t, err)
	hybrid, err := client.HybridSearch(ctx, "query",
		core.WithThreadIDForHybrid("t1"),
		core.WithIncludeRelated(false),
	)
	require.NoError(t, err)

	require.Equal(t, len(vector), len(hybrid))
	for i := range vector {
		assert.Equal(t, vector[i].ID, hybrid[i].ID)
		assert.Equal(t, vector[i].RelevanceScore, hybrid[i].RelevanceScore)
	}
}

func TestClient_FindRelatedFollowsChain(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	first, err := client.Store(ctx, "thread_1", "first message")
	require.NoError(t, err)
	second, err := client.Store(ctx, "thread_1", "second message")
	require.NoError(t, err)

	related, err := client.FindRelated(ctx, first.ID, "FOLLOWED_BY")
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, second.ID, related[0].ID)
	assert.Equal(t, "second message", related[0].Content)
}

func TestClient_CleanupPerThreadFIFO(t *testing.T) {
	cfg := testConfig()
	cfg.Retention.MaxPerThread = 100
	cfg.Retention.Strategy = "fifo"

	store, err := inmemstore.NewClient(&inmemstore.Config{})
	require.NoError(t, err)
	client, err := core.NewClient(context.Background(), cfg,
		core.WithVectorStore(store),
		core.WithGraphStore(inmemgraph.NewClient()),
		core.WithSynchronousWrites(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	entries := make([]*core.MemoryEntry, 150)
	for i := range entries {
		entries[i] = &core.MemoryEntry{
			ID:        fmt.Sprintf("m%03d", i),
			ThreadID:  "thread_T",
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: clientBase.Add(time.Duration(i) * time.Minute),
		}
	}
	_, err = client.StoreBatch(ctx, entries)
	require.NoError(t, err)

	preview, err := client.PreviewCleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, preview.Count)

	removed, err := client.ExecuteCleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, removed)

	// Exactly the 50 oldest are gone; the 100 newest survive.
	remaining, err := client.Retrieve(ctx, "thread_T", core.WithLimitForRetrieve(0))
	require.NoError(t, err)
	require.Len(t, remaining, 100)
	for _, entry := range remaining {
		assert.GreaterOrEqual(t, entry.ID, "m050")
	}

	stats := client.GetCleanupStats()
	assert.Equal(t, int64(1), stats.TotalCleanupsRun)
	assert.Equal(t, int64(50), stats.TotalMemoriesRemoved)
}

func TestClient_CleanupSparesPersistent(t *testing.T) {
	cfg := testConfig()
	cfg.Retention.MaxAge = time.Hour

	store, err := inmemstore.NewClient(&inmemstore.Config{})
	require.NoError(t, err)
	client, err := core.NewClient(context.Background(), cfg,
		core.WithVectorStore(store),
		core.WithGraphStore(inmemgraph.NewClient()),
		core.WithSynchronousWrites(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	ancient := time.Now().Add(-48 * time.Hour)
	_, err = client.StoreBatch(ctx, []*core.MemoryEntry{
		{ID: "keeper", ThreadID: "t1", Content: "pinned forever", CreatedAt: ancient,
			Metadata: core.Metadata{Persistent: true}},
		{ID: "stale", ThreadID: "t1", Content: "expendable", CreatedAt: ancient},
	})
	require.NoError(t, err)

	removed, err := client.ExecuteCleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	remaining, err := client.Retrieve(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "keeper", remaining[0].ID)
}

func TestClient_GetStats(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.Store(ctx, "thread_1", "one")
	require.NoError(t, err)
	_, err = client.Store(ctx, "thread_2", "two", core.WithPersistent(true))
	require.NoError(t, err)

	stats, err := client.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Vector.TotalMemories)
	assert.Equal(t, int64(2), stats.Vector.TotalThreads)
	assert.Equal(t, int64(1), stats.Vector.PersistentCount)
	require.NotNil(t, stats.Graph)
	assert.Equal(t, int64(2), stats.Graph.MemoryNodes)
	assert.Equal(t, int64(2), stats.Graph.ThreadNodes)
}

func TestClient_GetStatsSurvivesGraphOutage(t *testing.T) {
	store, err := inmemstore.NewClient(&inmemstore.Config{})
	require.NoError(t, err)
	client, err := core.NewClient(context.Background(), testConfig(),
		core.WithVectorStore(store),
		core.WithGraphStore(downGraph{}),
		core.WithSynchronousWrites(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	_, err = client.Store(ctx, "thread_1", "content")
	require.NoError(t, err)

	stats, err := client.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Vector.TotalMemories)
	assert.Nil(t, stats.Graph)
}

func TestClient_CloseIdempotent(t *testing.T) {
	store, err := inmemstore.NewClient(&inmemstore.Config{})
	require.NoError(t, err)
	client, err := core.NewClient(context.Background(), testConfig(),
		core.WithVectorStore(store),
		core.WithGraphStore(inmemgraph.NewClient()),
	)
	require.NoError(t, err)

	assert.NoError(t, client.Close())
	assert.NoError(t, client.Close())
}
