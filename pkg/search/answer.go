package search

import (
	"context"

	"github.com/hybridmem/hybridmem-go/pkg/storage"
)

const (
	// factualWeight is how much each fact-typed result adds to confidence.
	factualWeight = 0.1

	// persistentWeight is how much each persistent result adds to
	// confidence.
	persistentWeight = 0.05
)

// Answer is the result of a question-oriented search: the supporting
// memories, a confidence estimate and the distinct sources they came from.
type Answer struct {
	// Memories holds the supporting evidence, best match first.
	Memories []*storage.Memory

	// Confidence estimates how well the evidence answers the question,
	// in [0, 1]. Zero means no evidence was found.
	Confidence float64

	// Sources lists the distinct non-empty Source values of the evidence,
	// in result order.
	Sources []string
}

// SearchForAnswer gathers evidence for a question by merging a direct
// semantic search with one restricted to fact memories, deduplicated by id.
//
// Confidence is the average relevance of the merged evidence, raised by 0.1
// per fact and 0.05 per persistent memory, clamped to 1. A failure on the
// fact search degrades to the direct evidence alone.
func (s *Searcher) SearchForAnswer(ctx context.Context, question, threadID string, limit int) (*Answer, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	direct, err := s.semantic.SearchSimilar(ctx, question, &storage.SearchOptions{
		ThreadID: threadID,
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}

	factual, err := s.semantic.SearchSimilar(ctx, question, &storage.SearchOptions{
		ThreadID: threadID,
		Types:    []storage.MemoryType{storage.TypeFact},
		Limit:    limit,
	})
	if err != nil {
		s.logger.WithError(err).Warn("Fact search failed, answering from direct results only")
		factual = nil
	}

	merged := mergeByID(direct, factual)
	if len(merged) > limit {
		merged = merged[:limit]
	}

	return &Answer{
		Memories:   merged,
		Confidence: confidence(merged),
		Sources:    distinctSources(merged),
	}, nil
}

func confidence(memories []*storage.Memory) float64 {
	if len(memories) == 0 {
		return 0
	}

	var sum float64
	factCount, persistentCount := 0, 0
	for _, m := range memories {
		sum += m.Score
		if m.Type == storage.TypeFact {
			factCount++
		}
		if m.Persistent {
			persistentCount++
		}
	}

	c := sum/float64(len(memories)) +
		factualWeight*float64(factCount) +
		persistentWeight*float64(persistentCount)
	if c > 1 {
		c = 1
	}
	if c < 0 {
		c = 0
	}
	return c
}

func distinctSources(memories []*storage.Memory) []string {
	seen := make(map[string]bool, len(memories))
	sources := make([]string, 0, len(memories))
	for _, m := range memories {
		if m.Source == "" || seen[m.Source] {
			continue
		}
		seen[m.Source] = true
		sources = append(sources, m.Source)
	}
	return sources
}
