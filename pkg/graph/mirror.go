package graph

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hybridmem/hybridmem-go/pkg/storage"
)

// relatedLimit caps how many neighbors FindRelatedMemories returns.
const relatedLimit = 20

// Mirror projects memories into the graph store and answers relationship
// queries. Projection writes are best-effort: every failure is logged and
// swallowed so graph unavailability never breaks the primary vector write.
type Mirror struct {
	store  GraphStore
	logger *logrus.Logger
}

// NewMirror creates a relationship mirror over a graph store.
func NewMirror(store GraphStore, logger *logrus.Logger) *Mirror {
	if logger == nil {
		logger = logrus.New()
	}
	return &Mirror{store: store, logger: logger}
}

// RelatedMemory is a memory reached through the graph, carrying the
// projected metadata needed for ranking.
type RelatedMemory struct {
	ID         string
	ThreadID   string
	Type       storage.MemoryType
	Importance float64
	CreatedAt  time.Time

	// RelType and Weight describe the connecting edge for direct neighbors.
	RelType string
	Weight  float64

	// Depth is the traversal distance for expanded results.
	Depth int
}

// InitSchema creates uniqueness constraints and indexes. It is idempotent
// and a no-op on backends without Cypher support.
func (m *Mirror) InitSchema(ctx context.Context) error {
	statements := []Statement{
		{Query: "CREATE CONSTRAINT memory_id IF NOT EXISTS FOR (m:" + LabelMemory + ") REQUIRE m.id IS UNIQUE"},
		{Query: "CREATE CONSTRAINT thread_id IF NOT EXISTS FOR (t:" + LabelThread + ") REQUIRE t.id IS UNIQUE"},
		{Query: "CREATE INDEX memory_thread IF NOT EXISTS FOR (m:" + LabelMemory + ") ON (m.thread_id)"},
		{Query: "CREATE INDEX memory_user IF NOT EXISTS FOR (m:" + LabelMemory + ") ON (m.user_id)"},
	}

	err := m.store.BatchExecute(ctx, statements)
	if err == ErrCypherUnsupported {
		return nil
	}
	return err
}

// TrackMemory mirrors a stored memory into the graph. It merges the thread
// node, the memory node, a HAS_MEMORY edge and the type-specific edges. It
// never returns an error.
func (m *Mirror) TrackMemory(ctx context.Context, memory *storage.Memory) {
	log := m.logger.WithFields(logrus.Fields{
		"memory_id": memory.ID,
		"thread_id": memory.ThreadID,
	})

	threadNode := &Node{
		ID:    memory.ThreadID,
		Label: LabelThread,
		Properties: map[string]interface{}{
			"last_active_at": time.Now().Format(time.RFC3339Nano),
		},
	}
	if err := m.store.CreateNode(ctx, threadNode); err != nil {
		log.WithError(err).Warn("Failed to mirror thread node")
		return
	}

	memoryNode := &Node{
		ID:         memory.ID,
		Label:      LabelMemory,
		Properties: memoryProperties(memory),
	}
	if err := m.store.CreateNode(ctx, memoryNode); err != nil {
		log.WithError(err).Warn("Failed to mirror memory node")
		return
	}

	if err := m.store.CreateRelationship(ctx, &Relationship{
		Type:      RelHasMemory,
		FromLabel: LabelThread,
		FromID:    memory.ThreadID,
		ToLabel:   LabelMemory,
		ToID:      memory.ID,
	}); err != nil {
		log.WithError(err).Warn("Failed to mirror thread membership")
	}

	switch memory.Type {
	case storage.TypeSummary:
		m.linkSummary(ctx, memory, log)
	case storage.TypePreference:
		if err := m.store.CreateRelationship(ctx, &Relationship{
			Type:      RelHasPreference,
			FromLabel: LabelThread,
			FromID:    memory.ThreadID,
			ToLabel:   LabelMemory,
			ToID:      memory.ID,
		}); err != nil {
			log.WithError(err).Warn("Failed to mirror preference edge")
		}
	case storage.TypeFact, storage.TypeContext:
		// Label only.
	default:
		m.linkChain(ctx, memory, log)
	}
}

// linkSummary creates SUMMARIZES edges to every earlier non-summary memory
// in the same thread.
func (m *Mirror) linkSummary(ctx context.Context, memory *storage.Memory, log *logrus.Entry) {
	siblings, err := m.threadMemories(ctx, memory.ThreadID)
	if err != nil {
		log.WithError(err).Warn("Failed to list thread memories for summary edges")
		return
	}

	for _, sibling := range siblings {
		if sibling.ID == memory.ID || sibling.Type == storage.TypeSummary {
			continue
		}
		if !sibling.CreatedAt.Before(memory.CreatedAt) {
			continue
		}
		if err := m.store.CreateRelationship(ctx, &Relationship{
			Type:      RelSummarizes,
			FromLabel: LabelMemory,
			FromID:    memory.ID,
			ToLabel:   LabelMemory,
			ToID:      sibling.ID,
		}); err != nil {
			log.WithError(err).WithField("source_id", sibling.ID).Warn("Failed to mirror summary edge")
		}
	}
}

// linkChain extends the temporal chain: the most recent prior non-summary
// memory in the thread without an outgoing FOLLOWED_BY points to the new one.
func (m *Mirror) linkChain(ctx context.Context, memory *storage.Memory, log *logrus.Entry) {
	siblings, err := m.threadMemories(ctx, memory.ThreadID)
	if err != nil {
		log.WithError(err).Warn("Failed to list thread memories for chain edge")
		return
	}

	sort.Slice(siblings, func(i, j int) bool {
		return siblings[i].CreatedAt.After(siblings[j].CreatedAt)
	})

	for _, sibling := range siblings {
		if sibling.ID == memory.ID || sibling.Type == storage.TypeSummary {
			continue
		}
		if sibling.CreatedAt.After(memory.CreatedAt) {
			continue
		}

		next, err := m.store.FindNeighbors(ctx, LabelMemory, sibling.ID, []string{RelFollowedBy}, DirectionOut, 1)
		if err != nil {
			log.WithError(err).Warn("Failed to inspect chain predecessor")
			return
		}
		if len(next) > 0 {
			continue
		}

		if err := m.store.CreateRelationship(ctx, &Relationship{
			Type:      RelFollowedBy,
			FromLabel: LabelMemory,
			FromID:    sibling.ID,
			ToLabel:   LabelMemory,
			ToID:      memory.ID,
		}); err != nil {
			log.WithError(err).WithField("predecessor_id", sibling.ID).Warn("Failed to mirror chain edge")
		}
		return
	}
}

// LinkSimilar records a weighted SEMANTICALLY_SIMILAR edge between two
// memories. Best-effort, like TrackMemory.
func (m *Mirror) LinkSimilar(ctx context.Context, fromID, toID string, weight float64) {
	if fromID == toID {
		return
	}
	if err := m.store.CreateRelationship(ctx, &Relationship{
		Type:       RelSemanticallySimilar,
		FromLabel:  LabelMemory,
		FromID:     fromID,
		ToLabel:    LabelMemory,
		ToID:       toID,
		Properties: map[string]interface{}{"weight": weight},
	}); err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"from_id": fromID,
			"to_id":   toID,
		}).Warn("Failed to mirror similarity edge")
	}
}

// FindRelatedMemories returns the memories directly connected to one,
// ordered by importance descending then creation time descending, capped
// at 20. Passing no relTypes follows every relationship type.
func (m *Mirror) FindRelatedMemories(ctx context.Context, memoryID string, relTypes []string) ([]*RelatedMemory, error) {
	neighbors, err := m.store.FindNeighbors(ctx, LabelMemory, memoryID, relTypes, DirectionBoth, 0)
	if err != nil {
		return nil, err
	}

	var related []*RelatedMemory
	for _, neighbor := range neighbors {
		if neighbor.Node.Label != LabelMemory {
			continue
		}
		rm := nodeToRelated(neighbor.Node)
		rm.RelType = neighbor.RelType
		rm.Weight = neighbor.Weight
		related = append(related, rm)
	}

	sort.Slice(related, func(i, j int) bool {
		if related[i].Importance != related[j].Importance {
			return related[i].Importance > related[j].Importance
		}
		return related[i].CreatedAt.After(related[j].CreatedAt)
	})

	if len(related) > relatedLimit {
		related = related[:relatedLimit]
	}
	return related, nil
}

// Expand traverses from a memory up to depth hops and returns every memory
// reached, each at its shortest distance.
func (m *Mirror) Expand(ctx context.Context, memoryID string, depth int) ([]*RelatedMemory, error) {
	hits, err := m.store.Traverse(ctx, &TraverseOptions{
		StartLabel: LabelMemory,
		StartID:    memoryID,
		Direction:  DirectionBoth,
		MaxDepth:   depth,
	})
	if err != nil {
		return nil, err
	}

	var related []*RelatedMemory
	for _, hit := range hits {
		if hit.Node.Label != LabelMemory {
			continue
		}
		rm := nodeToRelated(hit.Node)
		rm.Depth = hit.Depth
		related = append(related, rm)
	}
	return related, nil
}

// RemoveMemories detaches and deletes memory nodes, then prunes thread nodes
// left without any memories.
func (m *Mirror) RemoveMemories(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	threads := make(map[string]struct{})
	for _, id := range ids {
		owners, err := m.store.FindNeighbors(ctx, LabelMemory, id, []string{RelHasMemory}, DirectionIn, 0)
		if err != nil {
			continue
		}
		for _, owner := range owners {
			if owner.Node.Label == LabelThread {
				threads[owner.Node.ID] = struct{}{}
			}
		}
	}

	if _, err := m.store.DeleteNodes(ctx, LabelMemory, ids); err != nil {
		return err
	}

	for threadID := range threads {
		remaining, err := m.store.FindNeighbors(ctx, LabelThread, threadID, []string{RelHasMemory}, DirectionOut, 1)
		if err != nil {
			m.logger.WithError(err).WithField("thread_id", threadID).Warn("Failed to check thread for orphan pruning")
			continue
		}
		if len(remaining) == 0 {
			if _, err := m.store.DeleteNodes(ctx, LabelThread, []string{threadID}); err != nil {
				m.logger.WithError(err).WithField("thread_id", threadID).Warn("Failed to prune orphaned thread")
			}
		}
	}

	return nil
}

// ClearThread removes a thread node and every memory attached to it.
func (m *Mirror) ClearThread(ctx context.Context, threadID string) error {
	members, err := m.threadMemories(ctx, threadID)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(members))
	for _, member := range members {
		ids = append(ids, member.ID)
	}
	if len(ids) > 0 {
		if _, err := m.store.DeleteNodes(ctx, LabelMemory, ids); err != nil {
			return err
		}
	}

	_, err = m.store.DeleteNodes(ctx, LabelThread, []string{threadID})
	return err
}

// PreferredTopics aggregates tags from a user's high-importance memories,
// most frequent first.
func (m *Mirror) PreferredTopics(ctx context.Context, userID string, minImportance float64, limit int) ([]string, error) {
	nodes, err := m.store.FindNodes(ctx, LabelMemory, map[string]interface{}{"user_id": userID}, 0)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, node := range nodes {
		rm := nodeToRelated(node)
		if rm.Importance < minImportance {
			continue
		}
		for _, tag := range propStrings(node.Properties, "tags") {
			counts[tag]++
		}
	}

	topics := make([]string, 0, len(counts))
	for tag := range counts {
		topics = append(topics, tag)
	}
	sort.Slice(topics, func(i, j int) bool {
		if counts[topics[i]] != counts[topics[j]] {
			return counts[topics[i]] > counts[topics[j]]
		}
		return topics[i] < topics[j]
	})

	if limit > 0 && len(topics) > limit {
		topics = topics[:limit]
	}
	return topics, nil
}

// Stats reports graph totals.
func (m *Mirror) Stats(ctx context.Context) (*Stats, error) {
	return m.store.GetStats(ctx)
}

// threadMemories lists the memories attached to a thread.
func (m *Mirror) threadMemories(ctx context.Context, threadID string) ([]*RelatedMemory, error) {
	neighbors, err := m.store.FindNeighbors(ctx, LabelThread, threadID, []string{RelHasMemory}, DirectionOut, 0)
	if err != nil {
		return nil, err
	}

	var members []*RelatedMemory
	for _, neighbor := range neighbors {
		if neighbor.Node.Label != LabelMemory {
			continue
		}
		members = append(members, nodeToRelated(neighbor.Node))
	}
	return members, nil
}

// memoryProperties builds the graph projection of a memory. Content stays in
// the vector store; the graph carries only the metadata ranking needs.
func memoryProperties(memory *storage.Memory) map[string]interface{} {
	props := map[string]interface{}{
		"thread_id":  memory.ThreadID,
		"type":       string(memory.Type),
		"importance": memory.Importance,
		"persistent": memory.Persistent,
		"created_at": memory.CreatedAt.Format(time.RFC3339Nano),
	}
	if memory.UserID != "" {
		props["user_id"] = memory.UserID
	}
	if len(memory.Tags) > 0 {
		tags := make([]interface{}, len(memory.Tags))
		for i, tag := range memory.Tags {
			tags[i] = tag
		}
		props["tags"] = tags
	}
	return props
}

func nodeToRelated(node *Node) *RelatedMemory {
	return &RelatedMemory{
		ID:         node.ID,
		ThreadID:   propString(node.Properties, "thread_id"),
		Type:       storage.MemoryType(propString(node.Properties, "type")),
		Importance: propFloat(node.Properties, "importance"),
		CreatedAt:  propTime(node.Properties, "created_at"),
	}
}

func propString(props map[string]interface{}, key string) string {
	if props == nil {
		return ""
	}
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

func propFloat(props map[string]interface{}, key string) float64 {
	if props == nil {
		return 0
	}
	switch v := props[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

func propTime(props map[string]interface{}, key string) time.Time {
	s := propString(props, key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func propStrings(props map[string]interface{}, key string) []string {
	if props == nil {
		return nil
	}
	switch v := props[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
