// Package search implements the retrieval operations that combine vector
// similarity with graph relationships: hybrid search, context-aware search
// and question answering.
package search

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/hybridmem/hybridmem-go/pkg/graph"
	"github.com/hybridmem/hybridmem-go/pkg/storage"
)

const (
	// defaultLimit caps result lists when the caller does not.
	defaultLimit = 10

	// maxTraverseHits is how many top vector hits seed graph traversal.
	maxTraverseHits = 5

	// defaultTraversalDepth is how far traversal follows relationships.
	defaultTraversalDepth = 2

	// defaultBoostFactor scales a hit's similarity into the relationship
	// score of the memories it reaches.
	defaultBoostFactor = 0.3
)

// SemanticSearcher runs a text query against the vector index. It is
// implemented by the core storage engine, which owns query embedding and
// the fallback path when semantic search is unavailable.
type SemanticSearcher interface {
	SearchSimilar(ctx context.Context, query string, opts *storage.SearchOptions) ([]*storage.Memory, error)
}

// Searcher combines vector similarity results with graph neighborhoods.
//
// Graph access is a secondary path: traversal or fetch failures degrade the
// result to plain vector ranking and never fail the search.
type Searcher struct {
	semantic SemanticSearcher
	store    storage.VectorStore
	mirror   *graph.Mirror
	logger   *logrus.Logger
}

// NewSearcher creates a Searcher. mirror may be nil, which disables
// relationship enrichment. A nil logger gets a default logrus logger.
func NewSearcher(semantic SemanticSearcher, store storage.VectorStore, mirror *graph.Mirror, logger *logrus.Logger) *Searcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Searcher{
		semantic: semantic,
		store:    store,
		mirror:   mirror,
		logger:   logger,
	}
}

// HybridOptions configures HybridSearch.
type HybridOptions struct {
	// ThreadID restricts results to one thread when set.
	ThreadID string

	// UserID restricts results to one user when set.
	UserID string

	// Limit caps the result list. Defaults to 10.
	Limit int

	// MinScore drops vector hits below this relevance.
	MinScore float64

	// IncludeRelated enables graph expansion of the top hits.
	IncludeRelated bool

	// TraversalDepth is how many relationship hops to follow. Defaults
	// to 2.
	TraversalDepth int

	// BoostFactor scales hit similarity into relationship scores.
	// Defaults to 0.3.
	BoostFactor float64
}

// HybridSearch runs a vector similarity search and, when IncludeRelated is
// set, widens the result with memories reachable through the graph.
//
// Each of the top five hits is expanded through the graph; a reached memory
// earns a relationship score of the best (hit relevance x boost factor)
// over all hits that reach it, added on top of any relevance it already has.
// Results merge by id keeping the highest score, sort by score descending
// and truncate to the limit. With IncludeRelated off, or no graph attached,
// the result is exactly the vector ranking.
func (s *Searcher) HybridSearch(ctx context.Context, query string, opts *HybridOptions) ([]*storage.Memory, error) {
	if opts == nil {
		opts = &HybridOptions{}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	direct, err := s.semantic.SearchSimilar(ctx, query, &storage.SearchOptions{
		ThreadID: opts.ThreadID,
		UserID:   opts.UserID,
		Limit:    limit,
		MinScore: opts.MinScore,
	})
	if err != nil {
		return nil, err
	}

	if !opts.IncludeRelated || s.mirror == nil {
		return direct, nil
	}

	relScores := s.relationshipScores(ctx, direct, opts)
	if len(relScores) == 0 {
		return direct, nil
	}

	scores := make(map[string]float64, len(direct)+len(relScores))
	byID := make(map[string]*storage.Memory, len(direct)+len(relScores))
	for _, m := range direct {
		scores[m.ID] = m.Score
		byID[m.ID] = m
	}

	missing := make([]string, 0, len(relScores))
	for id, boost := range relScores {
		scores[id] += boost
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		fetched, err := s.store.GetDocuments(ctx, &storage.Filter{IDs: missing}, len(missing))
		if err != nil {
			s.logger.WithError(err).Warn("Fetching related memories failed, returning vector results only")
			return direct, nil
		}
		for _, m := range fetched {
			byID[m.ID] = m
		}
	}

	results := make([]*storage.Memory, 0, len(byID))
	for id, m := range byID {
		m.Score = scores[id]
		results = append(results, m)
	}
	sortByRelevance(results)
	if len(results) > limit {
		results = results[:limit]
	}

	s.logger.WithFields(logrus.Fields{
		"direct":  len(direct),
		"related": len(relScores),
		"merged":  len(results),
	}).Debug("Hybrid search completed")

	return results, nil
}

// relationshipScores expands the top hits through the graph and returns the
// best relationship score earned by each reached memory id. Traversal
// failures are logged per hit and skipped.
func (s *Searcher) relationshipScores(ctx context.Context, hits []*storage.Memory, opts *HybridOptions) map[string]float64 {
	depth := opts.TraversalDepth
	if depth <= 0 {
		depth = defaultTraversalDepth
	}
	boost := opts.BoostFactor
	if boost <= 0 {
		boost = defaultBoostFactor
	}

	seeds := hits
	if len(seeds) > maxTraverseHits {
		seeds = seeds[:maxTraverseHits]
	}

	scores := make(map[string]float64)
	for _, hit := range seeds {
		reached, err := s.mirror.Expand(ctx, hit.ID, depth)
		if err != nil {
			s.logger.WithError(err).WithField("memory_id", hit.ID).Warn("Graph traversal failed")
			continue
		}
		contribution := hit.Score * boost
		for _, node := range reached {
			if node.ID == hit.ID {
				continue
			}
			if contribution > scores[node.ID] {
				scores[node.ID] = contribution
			}
		}
	}
	return scores
}

// mergeByID folds additional results into base, keeping the higher score
// when an id appears in both. The returned slice is sorted by relevance.
func mergeByID(base, additional []*storage.Memory) []*storage.Memory {
	byID := make(map[string]*storage.Memory, len(base)+len(additional))
	for _, m := range base {
		byID[m.ID] = m
	}
	for _, m := range additional {
		if existing, ok := byID[m.ID]; ok {
			if m.Score > existing.Score {
				byID[m.ID] = m
			}
			continue
		}
		byID[m.ID] = m
	}

	merged := make([]*storage.Memory, 0, len(byID))
	for _, m := range byID {
		merged = append(merged, m)
	}
	sortByRelevance(merged)
	return merged
}

// sortByRelevance orders memories by score descending, breaking ties by
// creation time descending and then by id for a stable output.
func sortByRelevance(memories []*storage.Memory) {
	sort.SliceStable(memories, func(i, j int) bool {
		a, b := memories[i], memories[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
