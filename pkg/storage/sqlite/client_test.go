package sqlite_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridmem/hybridmem-go/pkg/storage"
	"github.com/hybridmem/hybridmem-go/pkg/storage/sqlite"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *sqlite.Client {
	t.Helper()
	client, err := sqlite.NewClient(&sqlite.Config{
		DBPath:         filepath.Join(t.TempDir(), "memories.db"),
		CollectionName: "memories",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClient_StoreGetDocumentsRoundTrip(t *testing.T) {
	client := newTestStore(t)
	ctx := context.Background()

	lastAccessed := baseTime.Add(time.Hour)
	err := client.Store(ctx, &storage.Memory{
		ID:             "m1",
		ThreadID:       "t1",
		Content:        "user prefers dark mode",
		Embedding:      []float64{0.6, 0.8},
		Type:           storage.TypePreference,
		Source:         "settings",
		Importance:     0.8,
		Persistent:     true,
		Tags:           []string{"ui", "theme"},
		UserID:         "u1",
		Extra:          map[string]interface{}{"app": "editor"},
		CreatedAt:      baseTime,
		LastAccessedAt: &lastAccessed,
		AccessCount:    2,
	})
	require.NoError(t, err)

	got, err := client.GetDocuments(ctx, &storage.Filter{IDs: []string{"m1"}}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)

	m := got[0]
	assert.Equal(t, "t1", m.ThreadID)
	assert.Equal(t, "user prefers dark mode", m.Content)
	assert.Equal(t, []float64{0.6, 0.8}, m.Embedding)
	assert.Equal(t, storage.TypePreference, m.Type)
	assert.True(t, m.Persistent)
	assert.Equal(t, []string{"ui", "theme"}, m.Tags)
	assert.Equal(t, "editor", m.Extra["app"])
	assert.Equal(t, int64(2), m.AccessCount)
	require.NotNil(t, m.LastAccessedAt)
}

func TestClient_GetDocumentsTagFilterHonorsLimit(t *testing.T) {
	client := newTestStore(t)
	ctx := context.Background()

	// Three tagged memories, older than five untagged ones. A plain SQL
	// LIMIT would fill up on the newer untagged rows before the tag
	// filter ever sees a match.
	batch := make([]*storage.Memory, 0, 8)
	for i := 0; i < 3; i++ {
		batch = append(batch, &storage.Memory{
			ID:        fmt.Sprintf("tagged-%d", i),
			ThreadID:  "t1",
			Content:   fmt.Sprintf("tagged memory %d", i),
			Tags:      []string{"keep"},
			CreatedAt: baseTime.Add(time.Duration(i) * time.Minute),
		})
	}
	for i := 0; i < 5; i++ {
		batch = append(batch, &storage.Memory{
			ID:        fmt.Sprintf("plain-%d", i),
			ThreadID:  "t1",
			Content:   fmt.Sprintf("plain memory %d", i),
			CreatedAt: baseTime.Add(time.Hour + time.Duration(i)*time.Minute),
		})
	}
	require.NoError(t, client.StoreBatch(ctx, batch))

	got, err := client.GetDocuments(ctx, &storage.Filter{Tags: []string{"keep"}}, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, m := range got {
		assert.Contains(t, m.Tags, "keep")
	}

	// The limit still truncates once enough tagged rows matched, newest
	// first.
	got, err = client.GetDocuments(ctx, &storage.Filter{Tags: []string{"keep"}}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "tagged-2", got[0].ID)
	assert.Equal(t, "tagged-1", got[1].ID)
}

func TestClient_GetDocumentsLimitWithoutTags(t *testing.T) {
	client := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, client.Store(ctx, &storage.Memory{
			ID:        fmt.Sprintf("m%d", i),
			ThreadID:  "t1",
			Content:   fmt.Sprintf("memory %d", i),
			CreatedAt: baseTime.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := client.GetDocuments(ctx, &storage.Filter{ThreadID: "t1"}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m4", got[0].ID)
	assert.Equal(t, "m3", got[1].ID)
}
