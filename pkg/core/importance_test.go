package core_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridmem/hybridmem-go/pkg/core"
)

func TestEstimateImportance_Bounds(t *testing.T) {
	// A loaded statement: preference type, long, tagged, persistent, and
	// full of signal words. Must still stay within [0, 1].
	content := strings.Repeat("always remember this critical deadline, it is important and urgent. ", 5)
	score := core.EstimateImportance(content, core.Metadata{
		Type:       core.TypePreference,
		Tags:       []string{"work"},
		Persistent: true,
	})
	assert.LessOrEqual(t, score, 1.0)
	assert.GreaterOrEqual(t, score, 0.0)

	plain := core.EstimateImportance("ok", core.Metadata{})
	assert.GreaterOrEqual(t, plain, 0.0)
	assert.Less(t, plain, 0.5)
}

func TestEstimateImportance_SignalsRaiseScore(t *testing.T) {
	base := core.EstimateImportance("we talked about lunch", core.Metadata{})

	flagged := core.EstimateImportance("always deploy from main, this is critical", core.Metadata{})
	assert.Greater(t, flagged, base)

	typed := core.EstimateImportance("we talked about lunch", core.Metadata{Type: core.TypeFact})
	assert.Greater(t, typed, base)
}

func TestStore_AutoImportance(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	entry, err := client.Store(ctx, "thread_1", "Always use the staging cluster first, this is critical",
		core.WithMemoryType(core.TypeFact),
		core.WithAutoImportance(),
	)
	require.NoError(t, err)
	require.NotNil(t, entry.Metadata.Importance)
	assert.Greater(t, *entry.Metadata.Importance, core.DefaultImportance)

	// An explicit importance wins over the estimator.
	entry, err = client.Store(ctx, "thread_1", "Always use the staging cluster first, this is critical",
		core.WithAutoImportance(),
		core.WithImportance(0.1),
	)
	require.NoError(t, err)
	require.NotNil(t, entry.Metadata.Importance)
	assert.Equal(t, 0.1, *entry.Metadata.Importance)
}
