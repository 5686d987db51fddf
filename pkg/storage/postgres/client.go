// Package postgres provides a PostgreSQL + pgvector implementation of the
// vector store. Similarity search runs inside the database using the <=>
// cosine distance operator.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hybridmem/hybridmem-go/pkg/storage"
)

// Client is a PostgreSQL + pgvector client.
type Client struct {
	db             *sql.DB
	collectionName string
	dimensions     int
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	EmbeddingModelDims int
	SSLMode            string
}

// NewClient creates a new PostgreSQL client.
func NewClient(cfg *Config) (*Client, error) {
	if err := storage.ValidateCollectionName(cfg.CollectionName); err != nil {
		return nil, err
	}

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	client := &Client{
		db:             db,
		collectionName: cfg.CollectionName,
		dimensions:     cfg.EmbeddingModelDims,
	}

	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}

	return client, nil
}

// initTables initializes the pgvector extension and table structure.
//
// The embedding column is nullable so entries stored while the embedding
// service is unavailable still persist.
func (c *Client) initTables(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("initTables: create extension: %w", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			thread_id VARCHAR(255) NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			type VARCHAR(32) NOT NULL DEFAULT 'conversation',
			source TEXT NOT NULL DEFAULT '',
			importance DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			persistent BOOLEAN NOT NULL DEFAULT FALSE,
			tags JSONB,
			user_id VARCHAR(255) NOT NULL DEFAULT '',
			extra JSONB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_accessed_at TIMESTAMP,
			access_count BIGINT NOT NULL DEFAULT 0
		)
	`, c.collectionName, c.dimensions)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: create table: %w", err)
	}

	for _, idx := range []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_thread ON %s(thread_id)`, c.collectionName, c.collectionName),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created ON %s(created_at)`, c.collectionName, c.collectionName),
	} {
		if _, err := c.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("initTables: create index: %w", err)
		}
	}

	return nil
}

// Store upserts a memory.
func (c *Client) Store(ctx context.Context, memory *storage.Memory) error {
	if err := storage.ValidateContent(memory.Content); err != nil {
		return err
	}

	args, err := insertArgs(memory)
	if err != nil {
		return fmt.Errorf("Store: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, thread_id, content, embedding, type, source, importance, persistent,
		 tags, user_id, extra, created_at, last_accessed_at, access_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			thread_id = EXCLUDED.thread_id,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			type = EXCLUDED.type,
			source = EXCLUDED.source,
			importance = EXCLUDED.importance,
			persistent = EXCLUDED.persistent,
			tags = EXCLUDED.tags,
			user_id = EXCLUDED.user_id,
			extra = EXCLUDED.extra,
			last_accessed_at = EXCLUDED.last_accessed_at,
			access_count = EXCLUDED.access_count
	`, c.collectionName)

	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("Store: %w", err)
	}
	return nil
}

// StoreBatch upserts multiple memories inside one transaction.
func (c *Client) StoreBatch(ctx context.Context, memories []*storage.Memory) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("StoreBatch: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, thread_id, content, embedding, type, source, importance, persistent,
		 tags, user_id, extra, created_at, last_accessed_at, access_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			thread_id = EXCLUDED.thread_id,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			type = EXCLUDED.type,
			source = EXCLUDED.source,
			importance = EXCLUDED.importance,
			persistent = EXCLUDED.persistent,
			tags = EXCLUDED.tags,
			user_id = EXCLUDED.user_id,
			extra = EXCLUDED.extra,
			last_accessed_at = EXCLUDED.last_accessed_at,
			access_count = EXCLUDED.access_count
	`, c.collectionName)

	for _, memory := range memories {
		if err := storage.ValidateContent(memory.Content); err != nil {
			_ = tx.Rollback()
			return err
		}
		args, err := insertArgs(memory)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("StoreBatch: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("StoreBatch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("StoreBatch: %w", err)
	}
	return nil
}

// Search performs vector search using pgvector's cosine distance operator.
func (c *Client) Search(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*storage.Memory, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}

	queryVectorStr := vectorToString(embedding)

	// $1 is the query vector, so filter placeholders start at $2.
	whereClause, filterArgs, err := buildSearchWhere(opts, 2)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT
			id, thread_id, content, embedding, type, source, importance, persistent,
			tags, user_id, extra, created_at, last_accessed_at, access_count,
			1 - (embedding <=> $1) AS similarity
		FROM %s
		%s
		ORDER BY embedding <=> $1
		LIMIT $%d
	`, c.collectionName, whereClause, len(filterArgs)+2)

	allArgs := []interface{}{queryVectorStr}
	allArgs = append(allArgs, filterArgs...)
	allArgs = append(allArgs, limit)

	rows, err := c.db.QueryContext(ctx, query, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	memories, err := c.scanMemories(rows, true)
	if err != nil {
		return nil, err
	}

	// Distance ordering means everything below the threshold sorts last, so
	// trimming after the LIMIT never loses a qualifying row.
	if opts.MinScore > 0 {
		filtered := memories[:0]
		for _, m := range memories {
			if m.Score >= opts.MinScore {
				filtered = append(filtered, m)
			}
		}
		memories = filtered
	}

	return memories, nil
}

// GetDocuments retrieves memories matching the filter, newest first.
func (c *Client) GetDocuments(ctx context.Context, filter *storage.Filter, limit int) ([]*storage.Memory, error) {
	whereClause, args, err := buildFilterWhere(filter, 1)
	if err != nil {
		return nil, fmt.Errorf("GetDocuments: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, thread_id, content, embedding, type, source, importance, persistent,
		       tags, user_id, extra, created_at, last_accessed_at, access_count
		FROM %s
		%s
		ORDER BY created_at DESC, id
	`, c.collectionName, whereClause)

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("GetDocuments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return c.scanMemories(rows, false)
}

// Delete removes memories by id. Missing ids are skipped.
func (c *Client) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", c.collectionName)

	result, err := c.db.ExecContext(ctx, query, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("Delete: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("Delete: %w", err)
	}
	return int(affected), nil
}

// DeleteByFilter removes all memories matching the filter.
func (c *Client) DeleteByFilter(ctx context.Context, filter *storage.Filter) (int, error) {
	whereClause, args, err := buildFilterWhere(filter, 1)
	if err != nil {
		return 0, fmt.Errorf("DeleteByFilter: %w", err)
	}

	query := fmt.Sprintf("DELETE FROM %s %s", c.collectionName, whereClause)

	result, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("DeleteByFilter: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("DeleteByFilter: %w", err)
	}
	return int(affected), nil
}

// IncrementAccess bumps access stats for the given ids.
func (c *Client) IncrementAccess(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET access_count = access_count + 1, last_accessed_at = $1
		WHERE id = ANY($2)
	`, c.collectionName)

	if _, err := c.db.ExecContext(ctx, query, time.Now(), pq.Array(ids)); err != nil {
		return fmt.Errorf("IncrementAccess: %w", err)
	}
	return nil
}

// GetStats reports totals for the collection.
func (c *Client) GetStats(ctx context.Context) (*storage.Stats, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*),
		       COUNT(DISTINCT thread_id),
		       COUNT(*) FILTER (WHERE persistent),
		       COALESCE(AVG(LENGTH(content)), 0)
		FROM %s
	`, c.collectionName)

	stats := &storage.Stats{Backend: "postgres", Collection: c.collectionName}
	row := c.db.QueryRowContext(ctx, query)
	if err := row.Scan(&stats.TotalMemories, &stats.TotalThreads, &stats.PersistentCount, &stats.AverageContentLength); err != nil {
		return nil, fmt.Errorf("GetStats: %w", err)
	}
	return stats, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// CreateIndex creates a vector index (HNSW).
func (c *Client) CreateIndex(ctx context.Context, m, efConstruction int) error {
	query := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s
		USING hnsw (embedding vector_cosine_ops)
		WITH (m = %d, ef_construction = %d)
	`, c.collectionName, c.collectionName, m, efConstruction)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("CreateIndex: %w", err)
	}
	return nil
}

// insertArgs builds the argument list shared by Store and StoreBatch.
func insertArgs(memory *storage.Memory) ([]interface{}, error) {
	var embedding interface{}
	if memory.Embedding != nil {
		embedding = vectorToString(memory.Embedding)
	}

	var tagsJSON interface{}
	if len(memory.Tags) > 0 {
		b, err := json.Marshal(memory.Tags)
		if err != nil {
			return nil, err
		}
		tagsJSON = string(b)
	}

	var extraJSON interface{}
	if len(memory.Extra) > 0 {
		b, err := json.Marshal(memory.Extra)
		if err != nil {
			return nil, err
		}
		extraJSON = string(b)
	}

	var lastAccessed interface{}
	if memory.LastAccessedAt != nil {
		lastAccessed = *memory.LastAccessedAt
	}

	return []interface{}{
		memory.ID,
		memory.ThreadID,
		memory.Content,
		embedding,
		string(memory.Type),
		memory.Source,
		memory.Importance,
		memory.Persistent,
		tagsJSON,
		memory.UserID,
		extraJSON,
		memory.CreatedAt,
		lastAccessed,
		memory.AccessCount,
	}, nil
}

// vectorToString converts a vector to PostgreSQL vector format.
func vectorToString(vector []float64) string {
	if len(vector) == 0 {
		return "[]"
	}

	parts := make([]string, len(vector))
	for i, v := range vector {
		parts[i] = fmt.Sprintf("%f", v)
	}

	return "[" + strings.Join(parts, ",") + "]"
}

// parseVectorString parses a PostgreSQL vector string.
func parseVectorString(s string) ([]float64, error) {
	s = strings.Trim(s, "[]")
	if s == "" {
		return []float64{}, nil
	}

	parts := strings.Split(s, ",")
	result := make([]float64, len(parts))

	for i, part := range parts {
		var val float64
		_, err := fmt.Sscanf(strings.TrimSpace(part), "%f", &val)
		if err != nil {
			return nil, err
		}
		result[i] = val
	}

	return result, nil
}

// scanMemories scans multiple memories from query rows.
func (c *Client) scanMemories(rows *sql.Rows, hasScore bool) ([]*storage.Memory, error) {
	var memories []*storage.Memory

	for rows.Next() {
		var (
			memory         storage.Memory
			embeddingStr   sql.NullString
			memType        string
			tagsStr        []byte
			extraStr       []byte
			lastAccessedAt sql.NullTime
			similarity     float64
		)

		dest := []interface{}{
			&memory.ID,
			&memory.ThreadID,
			&memory.Content,
			&embeddingStr,
			&memType,
			&memory.Source,
			&memory.Importance,
			&memory.Persistent,
			&tagsStr,
			&memory.UserID,
			&extraStr,
			&memory.CreatedAt,
			&lastAccessedAt,
			&memory.AccessCount,
		}
		if hasScore {
			dest = append(dest, &similarity)
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		memory.Type = storage.MemoryType(memType)
		if hasScore {
			memory.Score = similarity
		}
		if lastAccessedAt.Valid {
			memory.LastAccessedAt = &lastAccessedAt.Time
		}

		if embeddingStr.Valid && embeddingStr.String != "" {
			embedding, err := parseVectorString(embeddingStr.String)
			if err != nil {
				return nil, fmt.Errorf("parse embedding: %w", err)
			}
			memory.Embedding = embedding
		}
		if len(tagsStr) > 0 {
			if err := json.Unmarshal(tagsStr, &memory.Tags); err != nil {
				return nil, fmt.Errorf("parse tags: %w", err)
			}
		}
		if len(extraStr) > 0 {
			if err := json.Unmarshal(extraStr, &memory.Extra); err != nil {
				return nil, fmt.Errorf("parse extra: %w", err)
			}
		}

		memories = append(memories, &memory)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return memories, nil
}
