package qdrant

import (
	"fmt"
	"time"

	"github.com/hybridmem/hybridmem-go/pkg/storage"
)

// memoryPayload flattens a memory into a Qdrant point payload. Timestamps
// travel as RFC3339Nano strings because payload values are plain JSON.
func memoryPayload(memory *storage.Memory) map[string]interface{} {
	payload := map[string]interface{}{
		"thread_id":    memory.ThreadID,
		"content":      memory.Content,
		"type":         string(memory.Type),
		"source":       memory.Source,
		"importance":   memory.Importance,
		"persistent":   memory.Persistent,
		"user_id":      memory.UserID,
		"created_at":   memory.CreatedAt.Format(time.RFC3339Nano),
		"access_count": memory.AccessCount,
		"embedded":     memory.Embedding != nil,
	}
	if len(memory.Tags) > 0 {
		payload["tags"] = memory.Tags
	}
	if len(memory.Extra) > 0 {
		payload["extra"] = memory.Extra
	}
	if memory.LastAccessedAt != nil {
		payload["last_accessed_at"] = memory.LastAccessedAt.Format(time.RFC3339Nano)
	}
	return payload
}

// payloadToMemory rebuilds a memory from a point payload.
func payloadToMemory(id string, payload map[string]interface{}) (*storage.Memory, error) {
	memory := &storage.Memory{
		ID:         id,
		ThreadID:   stringValue(payload, "thread_id"),
		Content:    stringValue(payload, "content"),
		Type:       storage.MemoryType(stringValue(payload, "type")),
		Source:     stringValue(payload, "source"),
		Importance: floatValue(payload, "importance"),
		UserID:     stringValue(payload, "user_id"),
	}

	if persistent, ok := payload["persistent"].(bool); ok {
		memory.Persistent = persistent
	}
	memory.AccessCount = int64(floatValue(payload, "access_count"))

	if createdAt := stringValue(payload, "created_at"); createdAt != "" {
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		memory.CreatedAt = t
	}
	if lastAccessed := stringValue(payload, "last_accessed_at"); lastAccessed != "" {
		t, err := time.Parse(time.RFC3339Nano, lastAccessed)
		if err != nil {
			return nil, fmt.Errorf("parse last_accessed_at: %w", err)
		}
		memory.LastAccessedAt = &t
	}

	if tags, ok := payload["tags"].([]interface{}); ok {
		memory.Tags = make([]string, 0, len(tags))
		for _, tag := range tags {
			if s, ok := tag.(string); ok {
				memory.Tags = append(memory.Tags, s)
			}
		}
	}
	if extra, ok := payload["extra"].(map[string]interface{}); ok {
		memory.Extra = extra
	}

	return memory, nil
}

// searchFilter builds the Qdrant filter for similarity search. The embedded
// flag keeps zero-vector placeholder points out of results.
func searchFilter(opts *storage.SearchOptions) map[string]interface{} {
	must := []map[string]interface{}{
		{"key": "embedded", "match": map[string]interface{}{"value": true}},
	}

	if opts.ThreadID != "" {
		must = append(must, matchCondition("thread_id", opts.ThreadID))
	}
	if opts.UserID != "" {
		must = append(must, matchCondition("user_id", opts.UserID))
	}
	if len(opts.Types) > 0 {
		values := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			values[i] = string(t)
		}
		must = append(must, map[string]interface{}{
			"key":   "type",
			"match": map[string]interface{}{"any": values},
		})
	}
	for _, tag := range opts.Tags {
		must = append(must, matchCondition("tags", tag))
	}
	for key, value := range opts.Filters {
		must = append(must, matchCondition("extra."+key, value))
	}

	return map[string]interface{}{"must": must}
}

// filterConditions builds the Qdrant filter for fetch and delete. A nil
// filter returns nil, matching everything.
func filterConditions(filter *storage.Filter) map[string]interface{} {
	if filter == nil {
		return nil
	}

	must := []map[string]interface{}{}

	if len(filter.IDs) > 0 {
		must = append(must, map[string]interface{}{"has_id": filter.IDs})
	}
	if filter.ThreadID != "" {
		must = append(must, matchCondition("thread_id", filter.ThreadID))
	}
	if filter.UserID != "" {
		must = append(must, matchCondition("user_id", filter.UserID))
	}
	if len(filter.Types) > 0 {
		values := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			values[i] = string(t)
		}
		must = append(must, map[string]interface{}{
			"key":   "type",
			"match": map[string]interface{}{"any": values},
		})
	}
	for _, tag := range filter.Tags {
		must = append(must, matchCondition("tags", tag))
	}

	if len(must) == 0 {
		return nil
	}
	return map[string]interface{}{"must": must}
}

func matchCondition(key string, value interface{}) map[string]interface{} {
	return map[string]interface{}{
		"key":   key,
		"match": map[string]interface{}{"value": value},
	}
}

func stringValue(payload map[string]interface{}, key string) string {
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}

func floatValue(payload map[string]interface{}, key string) float64 {
	switch v := payload[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}
