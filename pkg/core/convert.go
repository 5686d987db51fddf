package core

import (
	"github.com/hybridmem/hybridmem-go/pkg/storage"
)

// toStorageMemory flattens a MemoryEntry into the canonical storage record.
func toStorageMemory(e *MemoryEntry) *storage.Memory {
	m := &storage.Memory{
		ID:          e.ID,
		ThreadID:    e.ThreadID,
		Content:     e.Content,
		Type:        e.Metadata.Type,
		Source:      e.Metadata.Source,
		Importance:  DefaultImportance,
		Persistent:  e.Metadata.Persistent,
		UserID:      e.Metadata.UserID,
		CreatedAt:   e.CreatedAt,
		AccessCount: e.AccessCount,
		Score:       e.RelevanceScore,
	}
	if e.Metadata.Importance != nil {
		m.Importance = *e.Metadata.Importance
	}
	if len(e.Embedding) > 0 {
		m.Embedding = append([]float64(nil), e.Embedding...)
	}
	if len(e.Metadata.Tags) > 0 {
		m.Tags = append([]string(nil), e.Metadata.Tags...)
	}
	if len(e.Metadata.Extra) > 0 {
		m.Extra = make(map[string]interface{}, len(e.Metadata.Extra))
		for k, v := range e.Metadata.Extra {
			m.Extra[k] = v
		}
	}
	if e.LastAccessedAt != nil {
		t := *e.LastAccessedAt
		m.LastAccessedAt = &t
	}
	return m
}

// fromStorageMemory lifts a storage record into the caller-facing entry.
func fromStorageMemory(m *storage.Memory) *MemoryEntry {
	importance := m.Importance
	e := &MemoryEntry{
		ID:       m.ID,
		ThreadID: m.ThreadID,
		Content:  m.Content,
		Metadata: Metadata{
			Type:       m.Type,
			Source:     m.Source,
			Importance: &importance,
			Persistent: m.Persistent,
			UserID:     m.UserID,
		},
		CreatedAt:      m.CreatedAt,
		AccessCount:    m.AccessCount,
		RelevanceScore: m.Score,
	}
	if len(m.Embedding) > 0 {
		e.Embedding = append([]float64(nil), m.Embedding...)
	}
	if len(m.Tags) > 0 {
		e.Metadata.Tags = append([]string(nil), m.Tags...)
	}
	if len(m.Extra) > 0 {
		e.Metadata.Extra = make(map[string]interface{}, len(m.Extra))
		for k, v := range m.Extra {
			e.Metadata.Extra[k] = v
		}
	}
	if m.LastAccessedAt != nil {
		t := *m.LastAccessedAt
		e.LastAccessedAt = &t
	}
	return e
}

// fromStorageMemories converts a result list, preserving order.
func fromStorageMemories(memories []*storage.Memory) []*MemoryEntry {
	entries := make([]*MemoryEntry, len(memories))
	for i, m := range memories {
		entries[i] = fromStorageMemory(m)
	}
	return entries
}
