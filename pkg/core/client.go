package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hybridmem/hybridmem-go/pkg/embedder"
	openaiembed "github.com/hybridmem/hybridmem-go/pkg/embedder/openai"
	"github.com/hybridmem/hybridmem-go/pkg/graph"
	inmemgraph "github.com/hybridmem/hybridmem-go/pkg/graph/inmemory"
	"github.com/hybridmem/hybridmem-go/pkg/graph/neo4j"
	"github.com/hybridmem/hybridmem-go/pkg/retention"
	"github.com/hybridmem/hybridmem-go/pkg/search"
	"github.com/hybridmem/hybridmem-go/pkg/storage"
	inmemstore "github.com/hybridmem/hybridmem-go/pkg/storage/inmemory"
	"github.com/hybridmem/hybridmem-go/pkg/storage/mysql"
	"github.com/hybridmem/hybridmem-go/pkg/storage/postgres"
	"github.com/hybridmem/hybridmem-go/pkg/storage/qdrant"
	"github.com/hybridmem/hybridmem-go/pkg/storage/sqlite"
)

// Client is the hybrid memory store façade.
//
// Every memory lives in the vector backend; the graph backend mirrors it as
// nodes and relationships. The vector write is the source of truth: graph
// mirroring, similarity linking and access-stat updates run as secondary
// effects that degrade gracefully when their backend is down.
//
// Example:
//
//	client, err := core.NewClient(ctx, core.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	entry, err := client.Store(ctx, "thread_001", "User prefers dark mode",
//	    core.WithMemoryType(core.TypePreference),
//	)
type Client struct {
	config *Config
	logger *logrus.Logger

	store    storage.VectorStore
	graph    graph.GraphStore
	mirror   *graph.Mirror
	embedder embedder.Provider

	searcher  *search.Searcher
	engine    *retention.Engine
	scheduler *retention.Scheduler

	vectorName   string
	embedderName string
	timeouts     TimeoutConfig
	syncWrites   bool

	mu     sync.Mutex
	closed bool
}

// ClientOption adjusts client construction beyond what Config covers.
type ClientOption func(*clientOptions)

type clientOptions struct {
	logger     *logrus.Logger
	store      storage.VectorStore
	graph      graph.GraphStore
	embedder   embedder.Provider
	syncWrites bool
}

// WithLogger replaces the default logger.
func WithLogger(logger *logrus.Logger) ClientOption {
	return func(opts *clientOptions) {
		opts.logger = logger
	}
}

// WithVectorStore injects a pre-built vector backend. Pair it with vector
// store provider "custom" in the config.
func WithVectorStore(store storage.VectorStore) ClientOption {
	return func(opts *clientOptions) {
		opts.store = store
	}
}

// WithGraphStore injects a pre-built graph backend. Pair it with graph
// provider "custom" in the config.
func WithGraphStore(g graph.GraphStore) ClientOption {
	return func(opts *clientOptions) {
		opts.graph = g
	}
}

// WithEmbedder injects a pre-built embedding provider. Pair it with
// embedder provider "custom" in the config.
func WithEmbedder(e embedder.Provider) ClientOption {
	return func(opts *clientOptions) {
		opts.embedder = e
	}
}

// WithSynchronousWrites runs graph mirroring and access-stat updates inline
// instead of in background goroutines. Intended for tests and short-lived
// programs that would otherwise exit with writes in flight.
func WithSynchronousWrites() ClientOption {
	return func(opts *clientOptions) {
		opts.syncWrites = true
	}
}

// NewClient builds a client from the configuration, connecting the vector
// backend, the graph backend and the embedding provider.
//
// A nil config means DefaultConfig. The context bounds backend connection
// checks. When the retention section enables the scheduler, periodic
// cleanup starts immediately.
func NewClient(ctx context.Context, cfg *Config, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	conf := *cfg
	if conf.Collection == "" {
		conf.Collection = "memories"
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	options := &clientOptions{}
	for _, opt := range opts {
		opt(options)
	}

	logger := options.logger
	if logger == nil {
		logger = logrus.New()
	}

	timeouts := conf.Timeouts
	if timeouts.Storage == 0 {
		timeouts.Storage = 30 * time.Second
	}
	if timeouts.Embedding == 0 {
		timeouts.Embedding = 20 * time.Second
	}

	c := &Client{
		config:     &conf,
		logger:     logger,
		timeouts:   timeouts,
		syncWrites: options.syncWrites,
	}

	var err error

	c.store = options.store
	c.vectorName = conf.VectorStore.Provider
	if c.store == nil {
		if c.store, err = initVectorStore(&conf, logger); err != nil {
			return nil, err
		}
	}

	c.graph = options.graph
	if c.graph == nil {
		if c.graph, err = initGraphStore(ctx, &conf, logger); err != nil {
			c.store.Close()
			return nil, err
		}
	}
	if c.graph != nil {
		c.mirror = graph.NewMirror(c.graph, logger)
		if err := c.mirror.InitSchema(ctx); err != nil {
			// Constraints are an optimization; mirroring works without
			// them.
			logger.WithError(err).Warn("Graph schema initialization failed")
		}
	}

	c.embedder = options.embedder
	c.embedderName = conf.Embedder.Provider
	if c.embedder == nil {
		if c.embedder, err = initEmbedder(&conf); err != nil {
			c.store.Close()
			if c.graph != nil {
				c.graph.Close(ctx)
			}
			return nil, err
		}
	}

	c.engine, err = retention.NewEngine(conf.Retention.policy(), c.fetchAllMemories, c.removeMemories, logger)
	if err != nil {
		c.store.Close()
		if c.graph != nil {
			c.graph.Close(ctx)
		}
		if c.embedder != nil {
			c.embedder.Close()
		}
		return nil, newConfigurationError("NewClient", err)
	}
	c.scheduler = retention.NewScheduler(c.engine, logger)
	if conf.Retention.EnableScheduler {
		c.scheduler.Start()
	}

	c.searcher = search.NewSearcher(semanticAdapter{client: c}, c.store, c.mirror, logger)

	logger.WithFields(logrus.Fields{
		"vector":   c.vectorName,
		"graph":    conf.Graph.Provider,
		"embedder": c.embedderName,
	}).Info("Hybrid memory client ready")

	return c, nil
}

// initVectorStore builds the configured vector backend.
func initVectorStore(cfg *Config, logger *logrus.Logger) (storage.VectorStore, error) {
	conf := cfg.VectorStore.Config
	dims := cfg.Embedder.Dimensions
	if dims <= 0 {
		dims = 1536
	}

	var (
		store storage.VectorStore
		err   error
	)
	switch cfg.VectorStore.Provider {
	case "inmemory":
		store, err = inmemstore.NewClient(&inmemstore.Config{
			CollectionName: cfg.Collection,
		})
	case "sqlite":
		store, err = sqlite.NewClient(&sqlite.Config{
			DBPath:         configString(conf, "db_path", "./hybridmem.db"),
			CollectionName: cfg.Collection,
		})
	case "postgres":
		store, err = postgres.NewClient(&postgres.Config{
			Host:               configString(conf, "host", "localhost"),
			Port:               configInt(conf, "port", 5432),
			User:               configString(conf, "user", "postgres"),
			Password:           configString(conf, "password", ""),
			DBName:             configString(conf, "db_name", "hybridmem"),
			CollectionName:     cfg.Collection,
			EmbeddingModelDims: dims,
			SSLMode:            configString(conf, "ssl_mode", "disable"),
		})
	case "mysql":
		store, err = mysql.NewClient(&mysql.Config{
			Host:           configString(conf, "host", "localhost"),
			Port:           configInt(conf, "port", 3306),
			User:           configString(conf, "user", "root"),
			Password:       configString(conf, "password", ""),
			DBName:         configString(conf, "db_name", "hybridmem"),
			CollectionName: cfg.Collection,
		})
	case "qdrant":
		store, err = qdrant.NewClient(&qdrant.Config{
			Host:               configString(conf, "host", "localhost"),
			Port:               configInt(conf, "port", 6333),
			APIKey:             configString(conf, "api_key", ""),
			UseTLS:             configBool(conf, "use_tls"),
			CollectionName:     cfg.Collection,
			EmbeddingModelDims: dims,
			Timeout:            cfg.Timeouts.Storage,
		}, logger)
	case "custom":
		return nil, newConfigurationError("NewClient",
			fmt.Errorf("%w: vector store provider %q needs WithVectorStore", ErrInvalidConfig, cfg.VectorStore.Provider))
	default:
		return nil, newConfigurationError("NewClient",
			fmt.Errorf("%w: unknown vector store provider %q", ErrInvalidConfig, cfg.VectorStore.Provider))
	}
	if err != nil {
		return nil, classifyStorage("NewClient", cfg.VectorStore.Provider, "", "", err)
	}
	return store, nil
}

// initGraphStore builds the configured graph backend, nil when disabled.
func initGraphStore(ctx context.Context, cfg *Config, logger *logrus.Logger) (graph.GraphStore, error) {
	switch cfg.Graph.Provider {
	case "", "none":
		return nil, nil
	case "inmemory":
		return inmemgraph.NewClient(), nil
	case "neo4j":
		client, err := neo4j.NewClient(ctx, &neo4j.Config{
			URI:      cfg.Graph.URI,
			Username: cfg.Graph.Username,
			Password: cfg.Graph.Password,
			Database: cfg.Graph.Database,
		}, logger)
		if err != nil {
			return nil, &RelationshipError{Op: "NewClient", Service: "neo4j", Timestamp: time.Now(), Err: err}
		}
		return client, nil
	case "custom":
		return nil, newConfigurationError("NewClient",
			fmt.Errorf("%w: graph provider %q needs WithGraphStore", ErrInvalidConfig, cfg.Graph.Provider))
	default:
		return nil, newConfigurationError("NewClient",
			fmt.Errorf("%w: unknown graph provider %q", ErrInvalidConfig, cfg.Graph.Provider))
	}
}

// initEmbedder builds the configured embedding provider, nil when disabled.
func initEmbedder(cfg *Config) (embedder.Provider, error) {
	switch cfg.Embedder.Provider {
	case "", "none":
		return nil, nil
	case "openai":
		client, err := openaiembed.NewClient(&openaiembed.Config{
			APIKey:     cfg.Embedder.APIKey,
			Model:      cfg.Embedder.Model,
			BaseURL:    cfg.Embedder.BaseURL,
			Dimensions: cfg.Embedder.Dimensions,
		})
		if err != nil {
			return nil, classifyEmbedding("NewClient", "openai", err)
		}
		return client, nil
	case "custom":
		return nil, newConfigurationError("NewClient",
			fmt.Errorf("%w: embedder provider %q needs WithEmbedder", ErrInvalidConfig, cfg.Embedder.Provider))
	default:
		return nil, newConfigurationError("NewClient",
			fmt.Errorf("%w: unknown embedder provider %q", ErrInvalidConfig, cfg.Embedder.Provider))
	}
}

// fetchAllMemories feeds the retention engine the full collection.
func (c *Client) fetchAllMemories(ctx context.Context) ([]*storage.Memory, error) {
	return c.store.GetDocuments(ctx, &storage.Filter{}, 0)
}

// removeMemories deletes evicted memories and prunes their graph state.
func (c *Client) removeMemories(ctx context.Context, ids []string) (int, error) {
	removed, err := c.store.Delete(ctx, ids)
	if err != nil {
		return 0, err
	}
	c.removeFromGraph(ids)
	return removed, nil
}

// Store remembers content in a thread and returns the created entry.
//
// The entry's embedding is computed when a provider is configured; an
// embedding failure stores the content without a vector rather than failing
// the call. Graph mirroring runs in the background and never affects the
// result.
//
// Example:
//
//	entry, err := client.Store(ctx, "thread_001", "User prefers dark mode",
//	    core.WithMemoryType(core.TypePreference),
//	    core.WithImportance(0.8),
//	    core.WithTags("ui", "theme"),
//	)
func (c *Client) Store(ctx context.Context, threadID, content string, opts ...StoreOption) (*MemoryEntry, error) {
	options := applyStoreOptions(opts)
	m, err := c.newMemory(threadID, content, options)
	if err != nil {
		return nil, newOperationError("Store", err)
	}

	c.ensureEmbedding(ctx, m)

	storeCtx, cancel := c.storageContext(ctx)
	defer cancel()
	if err := c.store.Store(storeCtx, m); err != nil {
		return nil, classifyStorage("Store", c.vectorName, m.ThreadID, m.ID, err)
	}

	c.mirrorWrites(m)
	return fromStorageMemory(m), nil
}

// StoreBatch remembers multiple entries in one backend write. Entries are
// validated up front; ids and timestamps are assigned where missing, and
// all missing embeddings are computed in a single provider call. The
// returned entries carry the assigned fields, in input order.
func (c *Client) StoreBatch(ctx context.Context, entries []*MemoryEntry) ([]*MemoryEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	memories := make([]*storage.Memory, len(entries))
	for i, e := range entries {
		m, err := c.normalizeEntry(e)
		if err != nil {
			return nil, newOperationError("StoreBatch", fmt.Errorf("entry %d: %w", i, err))
		}
		memories[i] = m
	}

	c.embedMissing(ctx, memories)

	storeCtx, cancel := c.storageContext(ctx)
	defer cancel()
	if err := c.store.StoreBatch(storeCtx, memories); err != nil {
		return nil, classifyStorage("StoreBatch", c.vectorName, "", "", err)
	}

	c.mirrorWrites(memories...)
	return fromStorageMemories(memories), nil
}

// Retrieve returns a thread's memories, newest first. Access counters of
// the returned memories are bumped in the background, best-effort.
func (c *Client) Retrieve(ctx context.Context, threadID string, opts ...RetrieveOption) ([]*MemoryEntry, error) {
	if threadID == "" {
		return nil, newOperationError("Retrieve", fmt.Errorf("%w: thread id is required", storage.ErrInvalidInput))
	}
	options := applyRetrieveOptions(opts)

	fetchCtx, cancel := c.storageContext(ctx)
	defer cancel()
	memories, err := c.store.GetDocuments(fetchCtx, &storage.Filter{
		ThreadID: threadID,
		UserID:   options.UserID,
		Types:    options.Types,
		Tags:     options.Tags,
	}, options.Limit)
	if err != nil {
		return nil, classifyStorage("Retrieve", c.vectorName, threadID, "", err)
	}

	c.touchAccess(memories)
	return fromStorageMemories(memories), nil
}

// SearchSimilar ranks memories by semantic similarity to the query.
//
// Relevance is 1 minus the vector distance, floored at zero; ties break
// newest first. Without an embedding provider, or when query embedding
// fails, results degrade to metadata-filtered retrieval with zero scores.
//
// Example:
//
//	results, err := client.SearchSimilar(ctx, "how do we deploy",
//	    core.WithThreadID("thread_001"),
//	    core.WithMinScore(0.6),
//	)
func (c *Client) SearchSimilar(ctx context.Context, query string, opts ...SearchOption) ([]*MemoryEntry, error) {
	options := applySearchOptions(opts)
	results, err := c.searchMemories(ctx, query, &storage.SearchOptions{
		ThreadID: options.ThreadID,
		UserID:   options.UserID,
		Types:    options.Types,
		Tags:     options.Tags,
		Limit:    options.Limit,
		MinScore: options.MinScore,
		Filters:  options.Filters,
	})
	if err != nil {
		return nil, err
	}
	return fromStorageMemories(results), nil
}

// HybridSearch combines vector similarity with graph relationships: the top
// hits are expanded through the graph and reached memories join the result
// with a boosted relationship score. See WithIncludeRelated to disable the
// expansion.
func (c *Client) HybridSearch(ctx context.Context, query string, opts ...HybridOption) ([]*MemoryEntry, error) {
	options := applyHybridOptions(opts)
	results, err := c.searcher.HybridSearch(ctx, query, &search.HybridOptions{
		ThreadID:       options.ThreadID,
		UserID:         options.UserID,
		Limit:          options.Limit,
		MinScore:       options.MinScore,
		IncludeRelated: options.IncludeRelated,
		TraversalDepth: options.TraversalDepth,
		BoostFactor:    options.BoostFactor,
	})
	if err != nil {
		return nil, err
	}
	return fromStorageMemories(results), nil
}

// ContextAwareSearch searches a thread and, when the user has derivable
// preferred topics, blends in a secondary search over preference, fact and
// context memories. limit <= 0 means 10.
func (c *Client) ContextAwareSearch(ctx context.Context, query, threadID, userID string, limit int) ([]*MemoryEntry, error) {
	results, err := c.searcher.ContextAwareSearch(ctx, query, threadID, userID, limit)
	if err != nil {
		return nil, err
	}
	return fromStorageMemories(results), nil
}

// SearchForAnswer gathers evidence for a question, merging direct and
// fact-restricted searches, and estimates answer confidence. limit <= 0
// means 10.
func (c *Client) SearchForAnswer(ctx context.Context, question, threadID string, limit int) (*AnswerResult, error) {
	answer, err := c.searcher.SearchForAnswer(ctx, question, threadID, limit)
	if err != nil {
		return nil, err
	}
	return &AnswerResult{
		Entries:    fromStorageMemories(answer.Memories),
		Confidence: answer.Confidence,
		Sources:    answer.Sources,
	}, nil
}

// FindRelated returns the memories connected to one through the graph,
// ordered by importance then recency and hydrated from the vector store.
// relTypes restricts which edge types are followed; none means all. Nodes
// whose document is already gone from the vector store are skipped.
func (c *Client) FindRelated(ctx context.Context, memoryID string, relTypes ...string) ([]*MemoryEntry, error) {
	if memoryID == "" {
		return nil, newOperationError("FindRelated", fmt.Errorf("%w: memory id is required", storage.ErrInvalidInput))
	}
	if c.mirror == nil {
		return nil, &RelationshipError{Op: "FindRelated", MemoryID: memoryID, Timestamp: time.Now(),
			Err: errors.New("graph store is not configured")}
	}

	related, err := c.mirror.FindRelatedMemories(ctx, memoryID, relTypes)
	if err != nil {
		return nil, &RelationshipError{Op: "FindRelated", MemoryID: memoryID, Service: c.config.Graph.Provider,
			Timestamp: time.Now(), Err: err}
	}
	if len(related) == 0 {
		return nil, nil
	}

	ids := make([]string, len(related))
	for i, r := range related {
		ids[i] = r.ID
	}
	fetchCtx, cancel := c.storageContext(ctx)
	defer cancel()
	memories, err := c.store.GetDocuments(fetchCtx, &storage.Filter{IDs: ids}, len(ids))
	if err != nil {
		return nil, classifyStorage("FindRelated", c.vectorName, "", memoryID, err)
	}

	byID := make(map[string]*storage.Memory, len(memories))
	for _, m := range memories {
		byID[m.ID] = m
	}
	out := make([]*MemoryEntry, 0, len(related))
	for _, r := range related {
		if m, ok := byID[r.ID]; ok {
			out = append(out, fromStorageMemory(m))
		}
	}
	return out, nil
}

// DeleteByIDs removes memories by id and prunes their graph state,
// returning how many the vector backend actually removed.
func (c *Client) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	deleteCtx, cancel := c.storageContext(ctx)
	defer cancel()
	removed, err := c.store.Delete(deleteCtx, ids)
	if err != nil {
		return 0, classifyStorage("DeleteByIDs", c.vectorName, "", "", err)
	}

	c.removeFromGraph(ids)
	return removed, nil
}

// ClearThread removes every memory of a thread, including persistent ones,
// plus the thread's graph node.
func (c *Client) ClearThread(ctx context.Context, threadID string) (int, error) {
	if threadID == "" {
		return 0, newOperationError("ClearThread", fmt.Errorf("%w: thread id is required", storage.ErrInvalidInput))
	}

	deleteCtx, cancel := c.storageContext(ctx)
	defer cancel()
	removed, err := c.store.DeleteByFilter(deleteCtx, &storage.Filter{ThreadID: threadID})
	if err != nil {
		return 0, classifyStorage("ClearThread", c.vectorName, threadID, "", err)
	}

	if c.mirror != nil {
		graphCtx, cancelGraph := context.WithTimeout(context.Background(), c.timeouts.Storage)
		defer cancelGraph()
		if err := c.mirror.ClearThread(graphCtx, threadID); err != nil {
			c.logger.WithError(err).WithField("thread_id", threadID).Warn("Graph thread clear failed")
		}
	}
	return removed, nil
}

// ExecuteCleanup runs retention eviction now and returns how many memories
// were removed. Overlapping calls, manual or scheduled, share one run.
func (c *Client) ExecuteCleanup(ctx context.Context) (int, error) {
	return c.engine.ExecuteCleanup(ctx)
}

// PreviewCleanup reports what ExecuteCleanup would remove, without removing
// anything.
func (c *Client) PreviewCleanup(ctx context.Context) (*CleanupPreview, error) {
	return c.engine.PreviewCleanup(ctx)
}

// GetCleanupStats returns counters aggregated across cleanup runs.
func (c *Client) GetCleanupStats() CleanupStats {
	return c.engine.Stats()
}

// GetStats reports the combined state of the vector backend, the graph
// backend and the retention engine. An unavailable graph drops its section
// instead of failing the call.
func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	statsCtx, cancel := c.storageContext(ctx)
	defer cancel()
	vstats, err := c.store.GetStats(statsCtx)
	if err != nil {
		return nil, classifyStorage("GetStats", c.vectorName, "", "", err)
	}

	out := &Stats{
		Vector:  *vstats,
		Cleanup: c.engine.Stats(),
	}
	if c.mirror != nil {
		gstats, err := c.mirror.Stats(ctx)
		if err != nil {
			c.logger.WithError(err).Warn("Graph stats unavailable")
		} else {
			out.Graph = gstats
		}
	}
	return out, nil
}

// StartScheduler launches periodic cleanup at the configured interval. It
// is a no-op when already running.
func (c *Client) StartScheduler() {
	c.scheduler.Start()
}

// StopScheduler stops periodic cleanup and waits for an in-flight run.
func (c *Client) StopScheduler() {
	c.scheduler.Stop()
}

// Close stops the scheduler and releases every backend. Close is
// idempotent. In-flight background writes are not awaited.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	c.scheduler.Stop()

	var errs []error
	if err := c.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.graph != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeouts.Storage)
		if err := c.graph.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	if c.embedder != nil {
		if err := c.embedder.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return newOperationError("Close", errors.Join(errs...))
}
