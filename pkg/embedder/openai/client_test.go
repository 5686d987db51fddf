package openai_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridmem/hybridmem-go/pkg/embedder"
	"github.com/hybridmem/hybridmem-go/pkg/embedder/openai"
)

func TestNewClient(t *testing.T) {
	_, err := openai.NewClient(&openai.Config{})
	assert.Error(t, err, "api key is required")

	client, err := openai.NewClient(&openai.Config{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, 1536, client.Dimensions())
	assert.NoError(t, client.Close())

	client, err = openai.NewClient(&openai.Config{
		APIKey:     "sk-test",
		Model:      "text-embedding-3-large",
		Dimensions: 3072,
	})
	require.NoError(t, err)
	assert.Equal(t, 3072, client.Dimensions())
}

func TestClientImplementsProvider(t *testing.T) {
	client, err := openai.NewClient(&openai.Config{APIKey: "sk-test"})
	require.NoError(t, err)

	var _ embedder.Provider = client
}
