// Package embedder provides interfaces for text embedding providers.
//
// It defines the Provider interface that all embedding implementations must
// satisfy, enabling text-to-vector conversion for similarity search. Embedding
// is optional for the memory store: callers degrade to metadata-only retrieval
// when no provider is configured or a provider fails.
package embedder

import "context"

// Provider defines the interface for embedding providers.
type Provider interface {
	// Embed converts a text string into a vector embedding.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch converts multiple text strings into vector embeddings in
	// one round-trip. The result preserves input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the dimension of vectors produced by this provider.
	Dimensions() int

	// Close closes the provider and releases resources.
	Close() error
}
