package graph_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridmem/hybridmem-go/pkg/graph"
	"github.com/hybridmem/hybridmem-go/pkg/graph/inmemory"
	"github.com/hybridmem/hybridmem-go/pkg/storage"
)

var mirrorBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestMirror(t *testing.T) (*graph.Mirror, *inmemory.Client) {
	t.Helper()
	store := inmemory.NewClient()
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return graph.NewMirror(store, nil), store
}

func mirrorMemory(id, threadID string, typ storage.MemoryType, minutes int) *storage.Memory {
	return &storage.Memory{
		ID:        id,
		ThreadID:  threadID,
		Content:   "memory " + id,
		Type:      typ,
		CreatedAt: mirrorBase.Add(time.Duration(minutes) * time.Minute),
	}
}

func track(t *testing.T, mirror *graph.Mirror, memories ...*storage.Memory) {
	t.Helper()
	for _, m := range memories {
		mirror.TrackMemory(context.Background(), m)
	}
}

func outgoing(t *testing.T, store *inmemory.Client, id, relType string) []string {
	t.Helper()
	neighbors, err := store.FindNeighbors(context.Background(), graph.LabelMemory, id, []string{relType}, graph.DirectionOut, 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		ids = append(ids, n.Node.ID)
	}
	return ids
}

func TestMirror_TrackMemoryBuildsThreadAndChain(t *testing.T) {
	mirror, store := newTestMirror(t)

	track(t, mirror,
		mirrorMemory("c1", "t1", storage.TypeConversation, 0),
		mirrorMemory("c2", "t1", storage.TypeConversation, 1),
		mirrorMemory("c3", "t1", storage.TypeConversation, 2),
	)

	stats, err := store.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.MemoryNodes)
	assert.Equal(t, int64(1), stats.ThreadNodes)
	// 3 HAS_MEMORY edges plus 2 chain edges.
	assert.Equal(t, int64(5), stats.Relationships)

	assert.Equal(t, []string{"c2"}, outgoing(t, store, "c1", graph.RelFollowedBy))
	assert.Equal(t, []string{"c3"}, outgoing(t, store, "c2", graph.RelFollowedBy))
	assert.Empty(t, outgoing(t, store, "c3", graph.RelFollowedBy))
}

func TestMirror_ChainSkipsSummaries(t *testing.T) {
	mirror, store := newTestMirror(t)

	track(t, mirror,
		mirrorMemory("c1", "t1", storage.TypeConversation, 0),
		mirrorMemory("s1", "t1", storage.TypeSummary, 5),
		mirrorMemory("c2", "t1", storage.TypeConversation, 10),
	)

	// The summary sits between c1 and c2 but the chain jumps over it.
	assert.Equal(t, []string{"c2"}, outgoing(t, store, "c1", graph.RelFollowedBy))
	assert.Empty(t, outgoing(t, store, "s1", graph.RelFollowedBy))
}

func TestMirror_TrackSummaryLinksEarlierSources(t *testing.T) {
	mirror, store := newTestMirror(t)

	track(t, mirror,
		mirrorMemory("c1", "t1", storage.TypeConversation, 0),
		mirrorMemory("f1", "t1", storage.TypeFact, 5),
		mirrorMemory("c2", "t1", storage.TypeConversation, 10),
		mirrorMemory("s1", "t1", storage.TypeSummary, 15),
	)

	assert.ElementsMatch(t, []string{"c1", "f1", "c2"}, outgoing(t, store, "s1", graph.RelSummarizes))

	// A second summary covers the same sources but never another summary.
	track(t, mirror, mirrorMemory("s2", "t1", storage.TypeSummary, 20))
	assert.ElementsMatch(t, []string{"c1", "f1", "c2"}, outgoing(t, store, "s2", graph.RelSummarizes))
}

func TestMirror_SummaryOnlyCoversEarlierMemories(t *testing.T) {
	mirror, store := newTestMirror(t)

	// s1's creation time falls between c1 and c2.
	track(t, mirror,
		mirrorMemory("c1", "t1", storage.TypeConversation, 0),
		mirrorMemory("c2", "t1", storage.TypeConversation, 10),
		mirrorMemory("s1", "t1", storage.TypeSummary, 5),
	)

	assert.Equal(t, []string{"c1"}, outgoing(t, store, "s1", graph.RelSummarizes))
}

func TestMirror_TrackPreferenceEdge(t *testing.T) {
	mirror, store := newTestMirror(t)

	track(t, mirror, mirrorMemory("p1", "t1", storage.TypePreference, 0))

	neighbors, err := store.FindNeighbors(context.Background(), graph.LabelThread, "t1", []string{graph.RelHasPreference}, graph.DirectionOut, 0)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "p1", neighbors[0].Node.ID)

	assert.Empty(t, outgoing(t, store, "p1", graph.RelFollowedBy))
}

func TestMirror_TrackFactLabelOnly(t *testing.T) {
	mirror, store := newTestMirror(t)

	track(t, mirror, mirrorMemory("f1", "t1", storage.TypeFact, 0))

	stats, err := store.GetStats(context.Background())
	require.NoError(t, err)
	// Just the HAS_MEMORY edge.
	assert.Equal(t, int64(1), stats.Relationships)

	related, err := mirror.FindRelatedMemories(context.Background(), "f1", nil)
	require.NoError(t, err)
	assert.Empty(t, related)
}

func TestMirror_TrackMemoryToleratesBackendFailure(t *testing.T) {
	mirror := graph.NewMirror(downGraph{}, nil)

	// Must neither panic nor surface the backend error.
	mirror.TrackMemory(context.Background(), mirrorMemory("c1", "t1", storage.TypeConversation, 0))
	mirror.LinkSimilar(context.Background(), "a", "b", 0.9)
}

func TestMirror_FindRelatedMemoriesOrdering(t *testing.T) {
	mirror, _ := newTestMirror(t)
	ctx := context.Background()

	hub := mirrorMemory("hub", "t1", storage.TypeFact, 0)
	track(t, mirror, hub)

	entries := []struct {
		id         string
		importance float64
		minutes    int
	}{
		{"low", 0.2, 40},
		{"high", 0.9, 10},
		{"midNew", 0.5, 30},
		{"midOld", 0.5, 20},
	}
	for _, e := range entries {
		m := mirrorMemory(e.id, "t_"+e.id, storage.TypeFact, e.minutes)
		m.Importance = e.importance
		track(t, mirror, m)
		mirror.LinkSimilar(ctx, "hub", m.ID, 0.8)
	}

	related, err := mirror.FindRelatedMemories(ctx, "hub", []string{graph.RelSemanticallySimilar})
	require.NoError(t, err)
	require.Len(t, related, 4)
	assert.Equal(t, "high", related[0].ID)
	assert.Equal(t, "midNew", related[1].ID)
	assert.Equal(t, "midOld", related[2].ID)
	assert.Equal(t, "low", related[3].ID)
	assert.Equal(t, graph.RelSemanticallySimilar, related[0].RelType)
}

func TestMirror_FindRelatedMemoriesCap(t *testing.T) {
	mirror, _ := newTestMirror(t)
	ctx := context.Background()

	track(t, mirror, mirrorMemory("hub", "t1", storage.TypeFact, 0))
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("m%02d", i)
		track(t, mirror, mirrorMemory(id, "t_"+id, storage.TypeFact, i))
		mirror.LinkSimilar(ctx, "hub", id, 0.8)
	}

	related, err := mirror.FindRelatedMemories(ctx, "hub", nil)
	require.NoError(t, err)
	assert.Len(t, related, 20)
}

func TestMirror_LinkSimilar(t *testing.T) {
	mirror, store := newTestMirror(t)
	ctx := context.Background()

	track(t, mirror,
		mirrorMemory("a", "t1", storage.TypeFact, 0),
		mirrorMemory("b", "t2", storage.TypeFact, 1),
	)

	before, err := store.GetStats(ctx)
	require.NoError(t, err)

	// Self links are dropped.
	mirror.LinkSimilar(ctx, "a", "a", 0.99)
	after, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Relationships, after.Relationships)

	mirror.LinkSimilar(ctx, "a", "b", 0.87)
	related, err := mirror.FindRelatedMemories(ctx, "a", []string{graph.RelSemanticallySimilar})
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "b", related[0].ID)
	assert.InDelta(t, 0.87, related[0].Weight, 1e-9)
}

func TestMirror_ExpandDepths(t *testing.T) {
	mirror, _ := newTestMirror(t)
	ctx := context.Background()

	track(t, mirror,
		mirrorMemory("c1", "t1", storage.TypeConversation, 0),
		mirrorMemory("c2", "t1", storage.TypeConversation, 1),
		mirrorMemory("c3", "t1", storage.TypeConversation, 2),
		mirrorMemory("c4", "t1", storage.TypeConversation, 3),
	)

	oneHop, err := mirror.Expand(ctx, "c1", 1)
	require.NoError(t, err)
	require.Len(t, oneHop, 1)
	assert.Equal(t, "c2", oneHop[0].ID)
	assert.Equal(t, 1, oneHop[0].Depth)

	// At depth 2 the thread node routes to every co-member, so c4 shows up
	// alongside the chain hop c3.
	twoHops, err := mirror.Expand(ctx, "c1", 2)
	require.NoError(t, err)
	depths := make(map[string]int)
	for _, rm := range twoHops {
		depths[rm.ID] = rm.Depth
	}
	assert.Equal(t, map[string]int{"c2": 1, "c3": 2, "c4": 2}, depths)
}

func TestMirror_RemoveMemoriesPrunesOrphanThreads(t *testing.T) {
	mirror, store := newTestMirror(t)
	ctx := context.Background()

	track(t, mirror,
		mirrorMemory("a1", "tA", storage.TypeConversation, 0),
		mirrorMemory("a2", "tA", storage.TypeConversation, 1),
		mirrorMemory("b1", "tB", storage.TypeConversation, 2),
	)

	require.NoError(t, mirror.RemoveMemories(ctx, nil))

	require.NoError(t, mirror.RemoveMemories(ctx, []string{"a1"}))
	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.MemoryNodes)
	assert.Equal(t, int64(2), stats.ThreadNodes)

	// Removing the last member prunes the thread node.
	require.NoError(t, mirror.RemoveMemories(ctx, []string{"a2"}))
	stats, err = store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.MemoryNodes)
	assert.Equal(t, int64(1), stats.ThreadNodes)
}

func TestMirror_ClearThread(t *testing.T) {
	mirror, store := newTestMirror(t)
	ctx := context.Background()

	track(t, mirror,
		mirrorMemory("a1", "tA", storage.TypeConversation, 0),
		mirrorMemory("a2", "tA", storage.TypeConversation, 1),
		mirrorMemory("b1", "tB", storage.TypeConversation, 2),
	)

	require.NoError(t, mirror.ClearThread(ctx, "tA"))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.MemoryNodes)
	assert.Equal(t, int64(1), stats.ThreadNodes)

	survivors, err := store.FindNodes(ctx, graph.LabelMemory, nil, 0)
	require.NoError(t, err)
	require.Len(t, survivors, 1)
	assert.Equal(t, "b1", survivors[0].ID)
}

func TestMirror_PreferredTopics(t *testing.T) {
	mirror, _ := newTestMirror(t)
	ctx := context.Background()

	seed := func(id string, importance float64, userID string, tags ...string) {
		m := mirrorMemory(id, "t1", storage.TypePreference, 0)
		m.Importance = importance
		m.UserID = userID
		m.Tags = tags
		track(t, mirror, m)
	}
	seed("m1", 0.9, "user_1", "go", "testing")
	seed("m2", 0.8, "user_1", "go")
	seed("m3", 0.3, "user_1", "lowprio")
	seed("m4", 0.9, "user_2", "other")

	topics, err := mirror.PreferredTopics(ctx, "user_1", 0.7, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "testing"}, topics)

	limited, err := mirror.PreferredTopics(ctx, "user_1", 0.7, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"go"}, limited)

	none, err := mirror.PreferredTopics(ctx, "user_3", 0.7, 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMirror_InitSchemaWithoutCypher(t *testing.T) {
	mirror, _ := newTestMirror(t)
	assert.NoError(t, mirror.InitSchema(context.Background()))
}

// downGraph fails every operation, standing in for an unreachable backend.
type downGraph struct{}

var errGraphDown = errors.New("graph backend down")

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

func (downGraph) Close(context.Context) error { return nil }
