// Package openai implements the embedder.Provider interface on top of the
// OpenAI Embeddings API.
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Client is an OpenAI embedding client.
type Client struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// Config contains the OpenAI embedder configuration.
type Config struct {
	// APIKey is the OpenAI API key.
	APIKey string

	// Model selects the embedding model, text-embedding-3-small by default.
	Model string

	// BaseURL overrides the API endpoint for compatible providers.
	BaseURL string

	// Dimensions is the vector size the model produces, 1536 by default.
	Dimensions int
}

// NewClient creates a new OpenAI embedding client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai embedder: api key is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := openai.SmallEmbedding3
	if cfg.Model != "" {
		model = openai.EmbeddingModel(cfg.Model)
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 1536
	}

	return &Client{
		client:     openai.NewClientWithConfig(config),
		model:      model,
		dimensions: dimensions,
	}, nil
}

// Embed converts a single text to a vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: c.model,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("embedding generation failed: no data returned")
	}

	return toFloat64(resp.Data[0].Embedding), nil
}

// EmbedBatch converts multiple texts to vectors in one request. The result
// order matches the input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: c.model,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding generation failed: got %d results for %d inputs", len(resp.Data), len(texts))
	}

	embeddings := make([][]float64, len(texts))
	for i, data := range resp.Data {
		embeddings[i] = toFloat64(data.Embedding)
	}
	return embeddings, nil
}

// Dimensions returns the vector size this client produces.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close is a no-op; the SDK client holds no connections to release.
func (c *Client) Close() error {
	return nil
}

func toFloat64(embedding []float32) []float64 {
	out := make([]float64, len(embedding))
	for i, v := range embedding {
		out[i] = float64(v)
	}
	return out
}
