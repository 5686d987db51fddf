package qdrant

import (
	"fmt"
	"time"

	"github.com/hybridmem/hybridmem-go/pkg/storage"
)

// Config contains Qdrant connection configuration.
type Config struct {
	// Host is the Qdrant server hostname.
	Host string

	// Port is the HTTP API port.
	Port int

	// APIKey authenticates requests when set.
	APIKey string

	// UseTLS switches the scheme to https.
	UseTLS bool

	// CollectionName is the collection storing memories.
	CollectionName string

	// EmbeddingModelDims is the vector dimension of the collection.
	EmbeddingModelDims int

	// Timeout bounds each HTTP request.
	Timeout time.Duration
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:               "localhost",
		Port:               6333,
		CollectionName:     "memories",
		EmbeddingModelDims: 1536,
		Timeout:            30 * time.Second,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if err := storage.ValidateCollectionName(c.CollectionName); err != nil {
		return err
	}
	if c.EmbeddingModelDims < 1 {
		return fmt.Errorf("embedding_model_dims must be at least 1")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// BaseURL returns the HTTP base URL for API requests.
func (c *Config) BaseURL() string {
	scheme := "http"
	if c.UseTLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}
