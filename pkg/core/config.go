package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/hybridmem/hybridmem-go/pkg/retention"
	"github.com/hybridmem/hybridmem-go/pkg/storage"
)

// Config contains the complete configuration for a hybrid memory client.
//
// It covers the vector store, the graph store, the embedding provider,
// retention and per-operation timeouts.
//
// Example:
//
//	config := &core.Config{
//	    Collection: "memories",
//	    VectorStore: core.VectorStoreConfig{
//	        Provider: "sqlite",
//	        Config: map[string]interface{}{
//	            "db_path": "./memories.db",
//	        },
//	    },
//	    Graph: core.GraphConfig{
//	        Provider: "inmemory",
//	    },
//	    Embedder: core.EmbedderConfig{
//	        Provider:   "openai",
//	        APIKey:     "sk-...",
//	        Dimensions: 1536,
//	    },
//	}
type Config struct {
	// Collection names the memory collection. Must match the identifier
	// pattern [A-Za-z0-9_-]{1,100}. Defaults to "memories".
	Collection string `json:"collection,omitempty"`

	// VectorStore configures the vector backend.
	VectorStore VectorStoreConfig `json:"vector_store"`

	// Graph configures the graph backend.
	Graph GraphConfig `json:"graph"`

	// Embedder configures the embedding provider.
	Embedder EmbedderConfig `json:"embedder"`

	// Retention configures cleanup limits and scheduling.
	Retention RetentionConfig `json:"retention"`

	// Timeouts bound calls against backends and providers.
	Timeouts TimeoutConfig `json:"timeouts"`
}

// VectorStoreConfig selects and configures the vector backend.
//
// Supported providers: inmemory, sqlite, postgres, mysql, qdrant.
type VectorStoreConfig struct {
	// Provider is the vector backend name.
	Provider string `json:"provider"`

	// Config contains provider-specific settings.
	// For SQLite: db_path
	// For PostgreSQL: host, port, user, password, db_name, ssl_mode
	// For MySQL: host, port, user, password, db_name
	// For Qdrant: host, port, api_key, use_tls
	Config map[string]interface{} `json:"config,omitempty"`
}

// GraphConfig selects and configures the graph backend.
//
// Supported providers: inmemory, neo4j, none. "none" disables graph
// mirroring entirely; memories still store and search, relationships are
// simply not tracked.
type GraphConfig struct {
	// Provider is the graph backend name.
	Provider string `json:"provider"`

	// URI is the bolt endpoint (neo4j only).
	URI string `json:"uri,omitempty"`

	// Username authenticates against the graph database (neo4j only).
	Username string `json:"username,omitempty"`

	// Password authenticates against the graph database (neo4j only).
	Password string `json:"password,omitempty"`

	// Database selects the database within the server (neo4j only,
	// optional).
	Database string `json:"database,omitempty"`
}

// EmbedderConfig selects and configures the embedding provider.
//
// Supported providers: openai, none. "none" disables semantic search;
// similarity queries fall back to metadata-filtered retrieval.
type EmbedderConfig struct {
	// Provider is the embedding provider name.
	Provider string `json:"provider"`

	// APIKey authenticates against the provider.
	APIKey string `json:"api_key,omitempty"`

	// Model is the embedding model name.
	Model string `json:"model,omitempty"`

	// BaseURL overrides the provider endpoint, for compatible APIs.
	BaseURL string `json:"base_url,omitempty"`

	// Dimensions is the vector size the model produces.
	Dimensions int `json:"dimensions,omitempty"`
}

// RetentionConfig configures cleanup limits and scheduling. Zero limits
// disable the corresponding pass.
type RetentionConfig struct {
	// MaxAge evicts memories older than this.
	MaxAge time.Duration `json:"max_age,omitempty"`

	// MaxPerThread caps how many memories a thread may hold.
	MaxPerThread int `json:"max_per_thread,omitempty"`

	// MaxTotal caps how many memories the collection may hold.
	MaxTotal int `json:"max_total,omitempty"`

	// CleanupInterval is how often the scheduler runs. Defaults to 1h.
	CleanupInterval time.Duration `json:"cleanup_interval,omitempty"`

	// Strategy orders evictions: lru, lfu, fifo or importance.
	// Defaults to lru.
	Strategy string `json:"strategy,omitempty"`

	// EnableScheduler starts the periodic cleanup loop with the client.
	EnableScheduler bool `json:"enable_scheduler,omitempty"`
}

// policy converts the retention section into an engine policy.
func (rc *RetentionConfig) policy() *retention.Policy {
	return &retention.Policy{
		MaxAge:          rc.MaxAge,
		MaxPerThread:    rc.MaxPerThread,
		MaxTotal:        rc.MaxTotal,
		CleanupInterval: rc.CleanupInterval,
		Strategy:        retention.EvictionStrategy(rc.Strategy),
	}
}

// TimeoutConfig bounds calls against backends and providers.
type TimeoutConfig struct {
	// Storage bounds each vector and graph operation. Defaults to 30s.
	Storage time.Duration `json:"storage,omitempty"`

	// Embedding bounds each embedding attempt. Defaults to 20s.
	Embedding time.Duration `json:"embedding,omitempty"`
}

// DefaultConfig returns a config that runs entirely in-process: SQLite
// vectors, in-memory graph, no embedding provider.
func DefaultConfig() *Config {
	return &Config{
		Collection: "memories",
		VectorStore: VectorStoreConfig{
			Provider: "sqlite",
			Config: map[string]interface{}{
				"db_path": "./hybridmem.db",
			},
		},
		Graph: GraphConfig{
			Provider: "inmemory",
		},
		Embedder: EmbedderConfig{
			Provider: "none",
		},
		Retention: RetentionConfig{
			CleanupInterval: retention.DefaultCleanupInterval,
			Strategy:        string(retention.StrategyLRU),
		},
		Timeouts: TimeoutConfig{
			Storage:   30 * time.Second,
			Embedding: 20 * time.Second,
		},
	}
}

// envSettings is the flat environment surface, parsed by caarlos0/env.
type envSettings struct {
	Collection string `env:"MEMORY_COLLECTION" envDefault:"memories"`

	VectorProvider   string `env:"VECTOR_PROVIDER" envDefault:"sqlite"`
	SQLitePath       string `env:"SQLITE_PATH" envDefault:"./hybridmem.db"`
	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"postgres"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	PostgresDatabase string `env:"POSTGRES_DATABASE" envDefault:"hybridmem"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`
	MySQLHost        string `env:"MYSQL_HOST" envDefault:"localhost"`
	MySQLPort        int    `env:"MYSQL_PORT" envDefault:"3306"`
	MySQLUser        string `env:"MYSQL_USER" envDefault:"root"`
	MySQLPassword    string `env:"MYSQL_PASSWORD"`
	MySQLDatabase    string `env:"MYSQL_DATABASE" envDefault:"hybridmem"`
	QdrantHost       string `env:"QDRANT_HOST" envDefault:"localhost"`
	QdrantPort       int    `env:"QDRANT_PORT" envDefault:"6333"`
	QdrantAPIKey     string `env:"QDRANT_API_KEY"`
	QdrantUseTLS     bool   `env:"QDRANT_USE_TLS"`

	GraphProvider string `env:"GRAPH_PROVIDER" envDefault:"inmemory"`
	Neo4jURI      string `env:"NEO4J_URI" envDefault:"bolt://localhost:7687"`
	Neo4jUsername string `env:"NEO4J_USERNAME" envDefault:"neo4j"`
	Neo4jPassword string `env:"NEO4J_PASSWORD"`
	Neo4jDatabase string `env:"NEO4J_DATABASE"`

	EmbedderProvider string `env:"EMBEDDING_PROVIDER" envDefault:"none"`
	EmbedderAPIKey   string `env:"EMBEDDING_API_KEY"`
	EmbedderModel    string `env:"EMBEDDING_MODEL"`
	EmbedderBaseURL  string `env:"EMBEDDING_BASE_URL"`
	EmbedderDims     int    `env:"EMBEDDING_MODEL_DIMS" envDefault:"1536"`

	RetentionMaxAge       time.Duration `env:"RETENTION_MAX_AGE"`
	RetentionMaxPerThread int           `env:"RETENTION_MAX_PER_THREAD"`
	RetentionMaxTotal     int           `env:"RETENTION_MAX_TOTAL"`
	RetentionInterval     time.Duration `env:"RETENTION_CLEANUP_INTERVAL" envDefault:"1h"`
	RetentionStrategy     string        `env:"RETENTION_STRATEGY" envDefault:"lru"`
	RetentionScheduler    bool          `env:"RETENTION_SCHEDULER_ENABLED"`

	StorageTimeout   time.Duration `env:"STORAGE_TIMEOUT" envDefault:"30s"`
	EmbeddingTimeout time.Duration `env:"EMBEDDING_TIMEOUT" envDefault:"20s"`
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for a .env file (up to 5 directory levels up) and loads it
//  2. Parses the environment into a Config
//
// Key variables: VECTOR_PROVIDER (inmemory, sqlite, postgres, mysql,
// qdrant), GRAPH_PROVIDER (inmemory, neo4j, none), EMBEDDING_PROVIDER
// (openai, none), RETENTION_* limits and MEMORY_COLLECTION. Provider
// sections use their own prefixes (SQLITE_*, POSTGRES_*, MYSQL_*,
// QDRANT_*, NEO4J_*, EMBEDDING_*).
//
// Example:
//
//	config, err := core.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfigFromEnv() (*Config, error) {
	if envPath, found := FindEnvFile(); found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	var settings envSettings
	if err := env.Parse(&settings); err != nil {
		return nil, newConfigurationError("LoadConfigFromEnv", err)
	}

	vectorConfig := make(map[string]interface{})
	switch settings.VectorProvider {
	case "sqlite":
		vectorConfig["db_path"] = settings.SQLitePath
	case "postgres":
		vectorConfig = map[string]interface{}{
			"host":     settings.PostgresHost,
			"port":     settings.PostgresPort,
			"user":     settings.PostgresUser,
			"password": settings.PostgresPassword,
			"db_name":  settings.PostgresDatabase,
			"ssl_mode": settings.PostgresSSLMode,
		}
	case "mysql":
		vectorConfig = map[string]interface{}{
			"host":     settings.MySQLHost,
			"port":     settings.MySQLPort,
			"user":     settings.MySQLUser,
			"password": settings.MySQLPassword,
			"db_name":  settings.MySQLDatabase,
		}
	case "qdrant":
		vectorConfig = map[string]interface{}{
			"host":    settings.QdrantHost,
			"port":    settings.QdrantPort,
			"api_key": settings.QdrantAPIKey,
			"use_tls": settings.QdrantUseTLS,
		}
	}

	return &Config{
		Collection: settings.Collection,
		VectorStore: VectorStoreConfig{
			Provider: settings.VectorProvider,
			Config:   vectorConfig,
		},
		Graph: GraphConfig{
			Provider: settings.GraphProvider,
			URI:      settings.Neo4jURI,
			Username: settings.Neo4jUsername,
			Password: settings.Neo4jPassword,
			Database: settings.Neo4jDatabase,
		},
		Embedder: EmbedderConfig{
			Provider:   settings.EmbedderProvider,
			APIKey:     settings.EmbedderAPIKey,
			Model:      settings.EmbedderModel,
			BaseURL:    settings.EmbedderBaseURL,
			Dimensions: settings.EmbedderDims,
		},
		Retention: RetentionConfig{
			MaxAge:          settings.RetentionMaxAge,
			MaxPerThread:    settings.RetentionMaxPerThread,
			MaxTotal:        settings.RetentionMaxTotal,
			CleanupInterval: settings.RetentionInterval,
			Strategy:        settings.RetentionStrategy,
			EnableScheduler: settings.RetentionScheduler,
		},
		Timeouts: TimeoutConfig{
			Storage:   settings.StorageTimeout,
			Embedding: settings.EmbeddingTimeout,
		},
	}, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, newConfigurationError("LoadConfigFromEnvFile", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file. Durations are
// expressed in nanoseconds, matching encoding/json's handling of
// time.Duration.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newConfigurationError("LoadConfigFromJSON", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, newConfigurationError("LoadConfigFromJSON", err)
	}

	return &config, nil
}

// Validate checks the configuration for missing or invalid settings.
func (c *Config) Validate() error {
	if c.Collection != "" {
		if err := storage.ValidateCollectionName(c.Collection); err != nil {
			return newConfigurationError("Validate", err)
		}
	}

	// Provider "custom" means the backend is injected through a client
	// option instead of built from this config.
	switch c.VectorStore.Provider {
	case "inmemory", "sqlite", "postgres", "mysql", "qdrant", "custom":
	case "":
		return newConfigurationError("Validate",
			fmt.Errorf("%w: vector store provider is required", ErrInvalidConfig))
	default:
		return newConfigurationError("Validate",
			fmt.Errorf("%w: unknown vector store provider %q", ErrInvalidConfig, c.VectorStore.Provider))
	}

	switch c.Graph.Provider {
	case "inmemory", "none", "", "custom":
	case "neo4j":
		if c.Graph.URI == "" {
			return newConfigurationError("Validate",
				fmt.Errorf("%w: neo4j graph provider needs a uri", ErrInvalidConfig))
		}
	default:
		return newConfigurationError("Validate",
			fmt.Errorf("%w: unknown graph provider %q", ErrInvalidConfig, c.Graph.Provider))
	}

	switch c.Embedder.Provider {
	case "none", "", "custom":
	case "openai":
		if c.Embedder.APIKey == "" {
			return newConfigurationError("Validate",
				fmt.Errorf("%w: openai embedder needs an api key", ErrInvalidConfig))
		}
	default:
		return newConfigurationError("Validate",
			fmt.Errorf("%w: unknown embedder provider %q", ErrInvalidConfig, c.Embedder.Provider))
	}

	if err := c.Retention.policy().Validate(); err != nil {
		return newConfigurationError("Validate", err)
	}

	if c.Timeouts.Storage < 0 || c.Timeouts.Embedding < 0 {
		return newConfigurationError("Validate",
			fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig))
	}

	return nil
}

// FindEnvFile searches for .env or .env.example files, checking the current
// directory and then up to 5 parent directories.
//
// Returns the path of the first file found and whether one was found.
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}

// configString reads a string value from a provider config map.
func configString(config map[string]interface{}, key, fallback string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// configInt reads an integer value from a provider config map. JSON decodes
// numbers as float64, so both forms are accepted.
func configInt(config map[string]interface{}, key string, fallback int) int {
	switch v := config[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}

// configBool reads a boolean value from a provider config map.
func configBool(config map[string]interface{}, key string) bool {
	v, _ := config[key].(bool)
	return v
}
