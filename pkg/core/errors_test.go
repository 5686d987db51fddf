package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridmem/hybridmem-go/pkg/core"
	inmemgraph "github.com/hybridmem/hybridmem-go/pkg/graph/inmemory"
	"github.com/hybridmem/hybridmem-go/pkg/storage"
	inmemstore "github.com/hybridmem/hybridmem-go/pkg/storage/inmemory"
)

// downStore fails every vector operation.
type downStore struct{}

var errStoreDown = errors.New("connection refused")

func (downStore) Store(context.Context, *storage.Memory) error        { return errStoreDown }
func (downStore) StoreBatch(context.Context, []*storage.Memory) error { return errStoreDown }
func (downStore) Search(context.Context, []float64, *storage.SearchOptions) ([]*storage.Memory, error) {
	return nil, errStoreDown
}
func (downStore) GetDocuments(context.Context, *storage.Filter, int) ([]*storage.Memory, error) {
	return nil, errStoreDown
}
func (downStore) Delete(context.Context, []string) (int, error) { return 0, errStoreDown }
func (downStore) DeleteByFilter(context.Context, *storage.Filter) (int, error) {
	return 0, errStoreDown
}
func (downStore) IncrementAccess(context.Context, []string) error { return errStoreDown }
func (downStore) GetStats(context.Context) (*storage.Stats, error) {
	return nil, errStoreDown
}
func (downStore) Close() error { return nil }

// closeTrackingStore records whether the client released it.
type closeTrackingStore struct {
	storage.VectorStore
	closed bool
}

func (c *closeTrackingStore) Close() error {
	c.closed = true
	return c.VectorStore.Close()
}

func TestErrorTypes_MessageAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")

	storageErr := &core.StorageError{
		Op:        "Store",
		Service:   "sqlite",
		ThreadID:  "t1",
		Timestamp: time.Now(),
		Err:       cause,
	}
	assert.Equal(t, "hybridmem: Store (sqlite): disk full", storageErr.Error())
	assert.ErrorIs(t, storageErr, cause)

	cfgErr := &core.ConfigurationError{Op: "Validate", Err: cause}
	assert.Equal(t, "hybridmem: Validate: disk full", cfgErr.Error())
	assert.ErrorIs(t, cfgErr, cause)

	relErr := &core.RelationshipError{Op: "FindRelated", Service: "neo4j", Err: cause}
	assert.Contains(t, relErr.Error(), "neo4j")
	assert.ErrorIs(t, relErr, cause)

	timeoutErr := &core.TimeoutError{Op: "Store", Service: "qdrant", Err: context.DeadlineExceeded}
	assert.ErrorIs(t, timeoutErr, context.DeadlineExceeded)
}

func TestClient_PrimaryPathFailuresAreTyped(t *testing.T) {
	client, err := core.NewClient(context.Background(), testConfig(),
		core.WithVectorStore(downStore{}),
		core.WithGraphStore(inmemgraph.NewClient()),
		core.WithSynchronousWrites(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	var storageErr *core.StorageError

	_, err = client.Store(ctx, "t1", "content")
	require.Error(t, err)
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "Store", storageErr.Op)
	assert.ErrorIs(t, err, errStoreDown)

	_, err = client.Retrieve(ctx, "t1")
	require.Error(t, err)
	assert.ErrorAs(t, err, &storageErr)

	_, err = client.DeleteByIDs(ctx, []string{"x"})
	require.Error(t, err)
	assert.ErrorAs(t, err, &storageErr)

	_, err = client.GetStats(ctx)
	require.Error(t, err)
	assert.ErrorAs(t, err, &storageErr)
}

func TestNewClient_ConfigurationErrors(t *testing.T) {
	ctx := context.Background()

	cfg := core.DefaultConfig()
	cfg.VectorStore.Provider = "unknown-backend"
	_, err := core.NewClient(ctx, cfg)
	require.Error(t, err)
	var cfgErr *core.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	// "custom" providers require the matching injection option. Each
	// missing injection fails on its own.
	cfg = testConfig()
	cfg.Embedder.Provider = "custom"
	_, err = core.NewClient(ctx, cfg)
	require.Error(t, err)
	assert.ErrorAs(t, err, &cfgErr)

	store, err := inmemstore.NewClient(&inmemstore.Config{})
	require.NoError(t, err)
	_, err = core.NewClient(ctx, cfg, core.WithVectorStore(store))
	require.Error(t, err)
	assert.ErrorAs(t, err, &cfgErr)

	_, err = core.NewClient(ctx, cfg,
		core.WithVectorStore(store),
		core.WithGraphStore(inmemgraph.NewClient()),
	)
	require.Error(t, err)
	assert.ErrorAs(t, err, &cfgErr)

	client, err := core.NewClient(ctx, cfg,
		core.WithVectorStore(store),
		core.WithGraphStore(inmemgraph.NewClient()),
		core.WithEmbedder(&stubEmbedder{}),
	)
	require.NoError(t, err)
	assert.NoError(t, client.Close())
}

func TestNewClient_ClosesBackendsOnInitFailure(t *testing.T) {
	inner, err := inmemstore.NewClient(&inmemstore.Config{})
	require.NoError(t, err)
	store := &closeTrackingStore{VectorStore: inner}

	cfg := testConfig()
	cfg.Embedder.Provider = "custom"

	// Embedder init fails after the vector and graph stores are up; the
	// failed constructor must not leak them.
	_, err = core.NewClient(context.Background(), cfg,
		core.WithVectorStore(store),
		core.WithGraphStore(inmemgraph.NewClient()),
	)
	require.Error(t, err)
	assert.True(t, store.closed)
}
