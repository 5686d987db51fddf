package core

// StoreOption configures a Store call.
//
// Options follow the functional options pattern so callers set only what
// they need.
type StoreOption func(*StoreOptions)

// StoreOptions collects the settings for one Store call.
type StoreOptions struct {
	// ID overrides the generated memory id.
	ID string

	// Type categorizes the memory. Defaults to TypeConversation.
	Type MemoryType

	// Source records where the memory came from.
	Source string

	// Importance weighs the memory, in [0, 1]. Nil means
	// DefaultImportance.
	Importance *float64

	// Persistent exempts the memory from retention eviction.
	Persistent bool

	// Tags label the memory.
	Tags []string

	// UserID attributes the memory to a user.
	UserID string

	// Extra carries open-ended attributes.
	Extra map[string]interface{}

	// Embedding supplies a precomputed vector, skipping the provider.
	Embedding []float64

	// AutoImportance estimates importance from the content when none is
	// given explicitly. See WithAutoImportance.
	AutoImportance bool
}

// WithID overrides the generated memory id.
func WithID(id string) StoreOption {
	return func(opts *StoreOptions) {
		opts.ID = id
	}
}

// WithMemoryType sets the memory type for Store.
//
// Example:
//
//	entry, _ := client.Store(ctx, "thread_001", "Paris is the capital of France",
//	    core.WithMemoryType(core.TypeFact),
//	)
func WithMemoryType(t MemoryType) StoreOption {
	return func(opts *StoreOptions) {
		opts.Type = t
	}
}

// WithSource records where the memory came from.
func WithSource(source string) StoreOption {
	return func(opts *StoreOptions) {
		opts.Source = source
	}
}

// WithImportance sets the memory's importance, expected in [0, 1].
//
// Example:
//
//	entry, _ := client.Store(ctx, "thread_001", "Deploy freeze on Fridays",
//	    core.WithImportance(0.9),
//	)
func WithImportance(importance float64) StoreOption {
	return func(opts *StoreOptions) {
		opts.Importance = &importance
	}
}

// WithPersistent exempts the memory from retention eviction.
func WithPersistent(persistent bool) StoreOption {
	return func(opts *StoreOptions) {
		opts.Persistent = persistent
	}
}

// WithTags labels the memory.
func WithTags(tags ...string) StoreOption {
	return func(opts *StoreOptions) {
		opts.Tags = tags
	}
}

// WithUserID attributes the memory to a user.
func WithUserID(userID string) StoreOption {
	return func(opts *StoreOptions) {
		opts.UserID = userID
	}
}

// WithExtra attaches open-ended attributes, usable as search filters.
func WithExtra(extra map[string]interface{}) StoreOption {
	return func(opts *StoreOptions) {
		opts.Extra = extra
	}
}

// WithEmbedding supplies a precomputed vector, skipping the embedding
// provider for this memory.
func WithEmbedding(embedding []float64) StoreOption {
	return func(opts *StoreOptions) {
		opts.Embedding = embedding
	}
}

// SearchOption configures a SearchSimilar call.
type SearchOption func(*SearchOptions)

// SearchOptions collects the settings for one SearchSimilar call.
type SearchOptions struct {
	// ThreadID restricts results to one thread.
	ThreadID string

	// UserID restricts results to one user.
	UserID string

	// Types restricts results to the given memory types.
	Types []MemoryType

	// Tags requires every listed tag on each result.
	Tags []string

	// Limit caps the result list. Default: 10.
	Limit int

	// MinScore drops results below this relevance. Default: 0.
	MinScore float64

	// Filters matches against the memories' extra attributes.
	Filters map[string]interface{}
}

// WithThreadID restricts SearchSimilar to one thread.
//
// Example:
//
//	results, _ := client.SearchSimilar(ctx, "deployment process",
//	    core.WithThreadID("thread_001"),
//	)
func WithThreadID(threadID string) SearchOption {
	return func(opts *SearchOptions) {
		opts.ThreadID = threadID
	}
}

// WithUserIDForSearch restricts SearchSimilar to one user.
func WithUserIDForSearch(userID string) SearchOption {
	return func(opts *SearchOptions) {
		opts.UserID = userID
	}
}

// WithTypes restricts SearchSimilar to the given memory types.
func WithTypes(types ...MemoryType) SearchOption {
	return func(opts *SearchOptions) {
		opts.Types = types
	}
}

// WithTagsForSearch requires every listed tag on each result.
func WithTagsForSearch(tags ...string) SearchOption {
	return func(opts *SearchOptions) {
		opts.Tags = tags
	}
}

// WithLimit caps the SearchSimilar result list.
func WithLimit(limit int) SearchOption {
	return func(opts *SearchOptions) {
		opts.Limit = limit
	}
}

// WithMinScore drops SearchSimilar results below the given relevance.
//
// Example:
//
//	results, _ := client.SearchSimilar(ctx, "query", core.WithMinScore(0.7))
func WithMinScore(score float64) SearchOption {
	return func(opts *SearchOptions) {
		opts.MinScore = score
	}
}

// WithFilters matches SearchSimilar results against extra attributes.
func WithFilters(filters map[string]interface{}) SearchOption {
	return func(opts *SearchOptions) {
		opts.Filters = filters
	}
}

// HybridOption configures a HybridSearch call.
type HybridOption func(*HybridOptions)

// HybridOptions collects the settings for one HybridSearch call.
type HybridOptions struct {
	// ThreadID restricts results to one thread.
	ThreadID string

	// UserID restricts results to one user.
	UserID string

	// Limit caps the result list. Default: 10.
	Limit int

	// MinScore drops vector hits below this relevance.
	MinScore float64

	// IncludeRelated widens results with graph neighbors. Default: true.
	IncludeRelated bool

	// TraversalDepth is how many relationship hops to follow. Default: 2.
	TraversalDepth int

	// BoostFactor scales hit similarity into relationship scores.
	// Default: 0.3.
	BoostFactor float64
}

// WithThreadIDForHybrid restricts HybridSearch to one thread.
func WithThreadIDForHybrid(threadID string) HybridOption {
	return func(opts *HybridOptions) {
		opts.ThreadID = threadID
	}
}

// WithUserIDForHybrid restricts HybridSearch to one user.
func WithUserIDForHybrid(userID string) HybridOption {
	return func(opts *HybridOptions) {
		opts.UserID = userID
	}
}

// WithLimitForHybrid caps the HybridSearch result list.
func WithLimitForHybrid(limit int) HybridOption {
	return func(opts *HybridOptions) {
		opts.Limit = limit
	}
}

// WithMinScoreForHybrid drops vector hits below the given relevance.
func WithMinScoreForHybrid(score float64) HybridOption {
	return func(opts *HybridOptions) {
		opts.MinScore = score
	}
}

// WithIncludeRelated toggles graph widening of HybridSearch results.
//
// Example:
//
//	// Plain vector ranking, no graph traversal.
//	results, _ := client.HybridSearch(ctx, "query", core.WithIncludeRelated(false))
func WithIncludeRelated(include bool) HybridOption {
	return func(opts *HybridOptions) {
		opts.IncludeRelated = include
	}
}

// WithTraversalDepth sets how many relationship hops HybridSearch follows.
func WithTraversalDepth(depth int) HybridOption {
	return func(opts *HybridOptions) {
		opts.TraversalDepth = depth
	}
}

// WithBoostFactor scales hit similarity into relationship scores.
func WithBoostFactor(boost float64) HybridOption {
	return func(opts *HybridOptions) {
		opts.BoostFactor = boost
	}
}

// RetrieveOption configures a Retrieve call.
type RetrieveOption func(*RetrieveOptions)

// RetrieveOptions collects the settings for one Retrieve call.
type RetrieveOptions struct {
	// Limit caps the result list. Default: 100.
	Limit int

	// Types restricts results to the given memory types.
	Types []MemoryType

	// UserID restricts results to one user.
	UserID string

	// Tags requires every listed tag on each result.
	Tags []string
}

// WithLimitForRetrieve caps the Retrieve result list.
//
// Example:
//
//	entries, _ := client.Retrieve(ctx, "thread_001", core.WithLimitForRetrieve(20))
func WithLimitForRetrieve(limit int) RetrieveOption {
	return func(opts *RetrieveOptions) {
		opts.Limit = limit
	}
}

// WithTypesForRetrieve restricts Retrieve to the given memory types.
func WithTypesForRetrieve(types ...MemoryType) RetrieveOption {
	return func(opts *RetrieveOptions) {
		opts.Types = types
	}
}

// WithUserIDForRetrieve restricts Retrieve to one user.
func WithUserIDForRetrieve(userID string) RetrieveOption {
	return func(opts *RetrieveOptions) {
		opts.UserID = userID
	}
}

// WithTagsForRetrieve requires every listed tag on each result.
func WithTagsForRetrieve(tags ...string) RetrieveOption {
	return func(opts *RetrieveOptions) {
		opts.Tags = tags
	}
}

// applyStoreOptions folds Store options over their defaults.
func applyStoreOptions(opts []StoreOption) *StoreOptions {
	options := &StoreOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// applySearchOptions folds Search options over their defaults.
func applySearchOptions(opts []SearchOption) *SearchOptions {
	options := &SearchOptions{
		Limit: 10,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// applyHybridOptions folds Hybrid options over their defaults.
func applyHybridOptions(opts []HybridOption) *HybridOptions {
	options := &HybridOptions{
		Limit:          10,
		IncludeRelated: true,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// applyRetrieveOptions folds Retrieve options over their defaults.
func applyRetrieveOptions(opts []RetrieveOption) *RetrieveOptions {
	options := &RetrieveOptions{
		Limit: 100,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}
