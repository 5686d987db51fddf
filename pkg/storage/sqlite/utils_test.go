package sqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hybridmem/hybridmem-go/pkg/storage"
)

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float64{1, 0}, []float64{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-9)

	// Degenerate inputs score zero instead of dividing by zero.
	assert.Zero(t, cosineSimilarity([]float64{1, 0}, []float64{1, 0, 0}))
	assert.Zero(t, cosineSimilarity(nil, nil))
	assert.Zero(t, cosineSimilarity([]float64{0, 0}, []float64{1, 0}))
}

func TestBuildFilterWhere(t *testing.T) {
	where, args := buildFilterWhere(nil)
	assert.Empty(t, where)
	assert.Empty(t, args)

	where, args = buildFilterWhere(&storage.Filter{})
	assert.Empty(t, where)
	assert.Empty(t, args)

	where, args = buildFilterWhere(&storage.Filter{
		IDs:      []string{"a", "b"},
		ThreadID: "t1",
		Types:    []storage.MemoryType{storage.TypeFact},
	})
	assert.Equal(t, "WHERE id IN (?, ?) AND thread_id = ? AND type IN (?)", where)
	assert.Equal(t, []interface{}{"a", "b", "t1", "fact"}, args)
}

func TestBuildSearchWhere(t *testing.T) {
	where, args := buildSearchWhere(&storage.SearchOptions{})
	assert.Equal(t, "WHERE embedding IS NOT NULL", where)
	assert.Empty(t, args)

	where, args = buildSearchWhere(&storage.SearchOptions{
		ThreadID: "t1",
		UserID:   "u1",
	})
	assert.Equal(t, "WHERE embedding IS NOT NULL AND thread_id = ? AND user_id = ?", where)
	assert.Equal(t, []interface{}{"t1", "u1"}, args)
}

func TestMatchesResidualFilters(t *testing.T) {
	memory := &storage.Memory{
		Tags:  []string{"work", "deploy"},
		Extra: map[string]interface{}{"env": "prod"},
	}

	assert.True(t, matchesResidualFilters(memory, &storage.SearchOptions{}))
	assert.True(t, matchesResidualFilters(memory, &storage.SearchOptions{
		Tags:    []string{"work"},
		Filters: map[string]interface{}{"env": "prod"},
	}))
	assert.False(t, matchesResidualFilters(memory, &storage.SearchOptions{
		Tags: []string{"personal"},
	}))
	assert.False(t, matchesResidualFilters(memory, &storage.SearchOptions{
		Filters: map[string]interface{}{"env": "staging"},
	}))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}
