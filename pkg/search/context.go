package search

import (
	"context"
	"strings"

	"github.com/hybridmem/hybridmem-go/pkg/storage"
)

const (
	// preferredTopicMinImportance is the importance floor a tagged memory
	// must clear before its tags count as preferred topics.
	preferredTopicMinImportance = 0.7

	// preferredTopicLimit caps how many topics bias the secondary search.
	preferredTopicLimit = 5
)

// ContextAwareSearch runs a semantic search scoped to a thread and, when the
// user has derivable preferred topics, a secondary search biased by those
// topics and restricted to preference, fact and context memories. The two
// result sets merge by id keeping the higher score.
//
// Topic derivation needs a graph; without one, or for an empty userID, the
// result is the direct search alone. Failures on the secondary path degrade
// to the direct result.
func (s *Searcher) ContextAwareSearch(ctx context.Context, query, threadID, userID string, limit int) ([]*storage.Memory, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	direct, err := s.semantic.SearchSimilar(ctx, query, &storage.SearchOptions{
		ThreadID: threadID,
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}

	if userID == "" || s.mirror == nil {
		return direct, nil
	}

	topics, err := s.mirror.PreferredTopics(ctx, userID, preferredTopicMinImportance, preferredTopicLimit)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("Preferred topic lookup failed")
		return direct, nil
	}
	if len(topics) == 0 {
		return direct, nil
	}

	secondary, err := s.semantic.SearchSimilar(ctx, query+" "+strings.Join(topics, " "), &storage.SearchOptions{
		UserID: userID,
		Types: []storage.MemoryType{
			storage.TypePreference,
			storage.TypeFact,
			storage.TypeContext,
		},
		Limit: limit,
	})
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("Preference search failed")
		return direct, nil
	}

	merged := mergeByID(direct, secondary)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}
