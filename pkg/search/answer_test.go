package search_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridmem/hybridmem-go/pkg/search"
	"github.com/hybridmem/hybridmem-go/pkg/storage"
)

func TestSearcher_SearchForAnswer(t *testing.T) {
	semantic, store, mirror := newSearchFixture(t)

	semantic.fn = func(call int, question string, opts *storage.SearchOptions) ([]*storage.Memory, error) {
		if call == 0 {
			a := resultMemory("a", "t1", 0.8, 0)
			a.Source = "slack"
			return []*storage.Memory{a}, nil
		}
		f := resultMemory("f", "t1", 0.6, 1)
		f.Type = storage.TypeFact
		f.Persistent = true
		f.Source = "wiki"
		return []*storage.Memory{f}, nil
	}
	searcher := search.NewSearcher(semantic, store, mirror, nil)

	answer, err := searcher.SearchForAnswer(context.Background(), "what did we decide?", "t1", 10)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "f"}, ids(answer.Memories))
	// avg(0.8, 0.6) plus 0.1 for the fact plus 0.05 for the persistent entry.
	assert.InDelta(t, 0.85, answer.Confidence, 1e-9)
	assert.Equal(t, []string{"slack", "wiki"}, answer.Sources)

	require.Len(t, semantic.calls, 2)
	assert.Equal(t, "t1", semantic.calls[0].opts.ThreadID)
	assert.Equal(t, []storage.MemoryType{storage.TypeFact}, semantic.calls[1].opts.Types)
}

func TestSearcher_SearchForAnswerClampsConfidence(t *testing.T) {
	semantic, store, mirror := newSearchFixture(t)

	semantic.fn = func(call int, question string, opts *storage.SearchOptions) ([]*storage.Memory, error) {
		id := "f1"
		if call == 1 {
			id = "f2"
		}
		f := resultMemory(id, "t1", 0.9, call)
		f.Type = storage.TypeFact
		f.Persistent = true
		return []*storage.Memory{f}, nil
	}
	searcher := search.NewSearcher(semantic, store, mirror, nil)

	answer, err := searcher.SearchForAnswer(context.Background(), "question", "t1", 10)
	require.NoError(t, err)
	assert.Equal(t, 1.0, answer.Confidence)
}

func TestSearcher_SearchForAnswerNoEvidence(t *testing.T) {
	semantic, store, mirror := newSearchFixture(t)
	searcher := search.NewSearcher(semantic, store, mirror, nil)

	answer, err := searcher.SearchForAnswer(context.Background(), "question", "t1", 10)
	require.NoError(t, err)
	assert.Empty(t, answer.Memories)
	assert.Zero(t, answer.Confidence)
	assert.Empty(t, answer.Sources)
}

func TestSearcher_SearchForAnswerDeduplicatesEvidence(t *testing.T) {
	semantic, store, mirror := newSearchFixture(t)

	semantic.fn = func(call int, question string, opts *storage.SearchOptions) ([]*storage.Memory, error) {
		score := 0.5
		if call == 1 {
			score = 0.7
		}
		a := resultMemory("a", "t1", score, 0)
		a.Type = storage.TypeFact
		a.Source = "notes"
		return []*storage.Memory{a}, nil
	}
	searcher := search.NewSearcher(semantic, store, mirror, nil)

	answer, err := searcher.SearchForAnswer(context.Background(), "question", "t1", 10)
	require.NoError(t, err)

	require.Len(t, answer.Memories, 1)
	assert.Equal(t, 0.7, answer.Memories[0].Score)
	assert.InDelta(t, 0.8, answer.Confidence, 1e-9)
	assert.Equal(t, []string{"notes"}, answer.Sources)
}

func TestSearcher_SearchForAnswerFactSearchFails(t *testing.T) {
	semantic, store, mirror := newSearchFixture(t)

	semantic.fn = func(call int, question string, opts *storage.SearchOptions) ([]*storage.Memory, error) {
		if call == 0 {
			a := resultMemory("a", "t1", 0.8, 0)
			a.Source = "slack"
			return []*storage.Memory{a}, nil
		}
		return nil, errors.New("fact search failed")
	}
	searcher := search.NewSearcher(semantic, store, mirror, nil)

	answer, err := searcher.SearchForAnswer(context.Background(), "question", "t1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(answer.Memories))
	assert.InDelta(t, 0.8, answer.Confidence, 1e-9)
}

func TestSearcher_SearchForAnswerDirectFailure(t *testing.T) {
	semantic, store, mirror := newSearchFixture(t)
	wantErr := errors.New("vector backend down")
	semantic.fn = func(int, string, *storage.SearchOptions) ([]*storage.Memory, error) {
		return nil, wantErr
	}
	searcher := search.NewSearcher(semantic, store, mirror, nil)

	_, err := searcher.SearchForAnswer(context.Background(), "question", "t1", 10)
	assert.ErrorIs(t, err, wantErr)
}

func TestSearcher_SearchForAnswerSkipsEmptySources(t *testing.T) {
	semantic, store, mirror := newSearchFixture(t)

	semantic.fn = func(call int, question string, opts *storage.SearchOptions) ([]*storage.Memory, error) {
		if call == 0 {
			return []*storage.Memory{resultMemory("a", "t1", 0.8, 0)}, nil
		}
		return nil, nil
	}
	searcher := search.NewSearcher(semantic, store, mirror, nil)

	answer, err := searcher.SearchForAnswer(context.Background(), "question", "t1", 10)
	require.NoError(t, err)
	assert.Empty(t, answer.Sources)
}
