// Package mysql provides a MySQL implementation of the vector store.
//
// MySQL has no native vector type, so embeddings are stored as JSON strings
// and similarity is computed in memory, the same strategy the SQLite backend
// uses. Structured filters still run inside the database.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/hybridmem/hybridmem-go/pkg/storage"
)

// Client is a MySQL client.
type Client struct {
	db             *sql.DB
	collectionName string
}

// Config contains MySQL configuration.
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	CollectionName string
}

// NewClient creates a new MySQL client.
func NewClient(cfg *Config) (*Client, error) {
	if err := storage.ValidateCollectionName(cfg.CollectionName); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
	}

	client := &Client{
		db:             db,
		collectionName: cfg.CollectionName,
	}

	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}

	return client, nil
}

// initTables initializes the table structure.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			thread_id VARCHAR(255) NOT NULL,
			content LONGTEXT NOT NULL,
			embedding LONGTEXT,
			type VARCHAR(32) NOT NULL DEFAULT 'conversation',
			source TEXT,
			importance DOUBLE NOT NULL DEFAULT 0.5,
			persistent TINYINT(1) NOT NULL DEFAULT 0,
			tags JSON,
			user_id VARCHAR(255) NOT NULL DEFAULT '',
			extra JSON,
			created_at DATETIME(6) DEFAULT CURRENT_TIMESTAMP(6),
			last_accessed_at DATETIME(6) NULL,
			access_count BIGINT NOT NULL DEFAULT 0,
			INDEX idx_thread (thread_id),
			INDEX idx_created (created_at)
		)
	`, c.collectionName)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}
	return nil
}

const upsertSuffix = `
	ON DUPLICATE KEY UPDATE
		thread_id = VALUES(thread_id),
		content = VALUES(content),
		embedding = VALUES(embedding),
		type = VALUES(type),
		source = VALUES(source),
		importance = VALUES(importance),
		persistent = VALUES(persistent),
		tags = VALUES(tags),
		user_id = VALUES(user_id),
		extra = VALUES(extra),
		last_accessed_at = VALUES(last_accessed_at),
		access_count = VALUES(access_count)
`

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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.collectionName) + upsertSuffix

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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.collectionName) + upsertSuffix

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

// Search performs vector similarity search with in-memory cosine scoring.
func (c *Client) Search(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*storage.Memory, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}

	whereClause, args := buildSearchWhere(opts)

	query := fmt.Sprintf(`
		SELECT %s FROM %s %s
	`, columnList, c.collectionName, whereClause)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var memories []*storage.Memory
	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		if memory.Embedding == nil {
			continue
		}
		if !matchesResidualFilters(memory, opts) {
			continue
		}
		score := cosineSimilarity(embedding, memory.Embedding)
		if score < opts.MinScore {
			continue
		}
		memory.Score = score
		memories = append(memories, memory)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortByScore(memories)
	if opts.Limit > 0 && len(memories) > opts.Limit {
		memories = memories[:opts.Limit]
	}
	return memories, nil
}

// GetDocuments retrieves memories matching the filter, newest first.
func (c *Client) GetDocuments(ctx context.Context, filter *storage.Filter, limit int) ([]*storage.Memory, error) {
	whereClause, args := buildFilterWhere(filter)

	query := fmt.Sprintf(`
		SELECT %s FROM %s %s
		ORDER BY created_at DESC, id
	`, columnList, c.collectionName, whereClause)

	// Tag conditions run in Go after scanning, so with tags in play the
	// limit must apply after filtering or non-matching rows would consume
	// it.
	tagged := filter != nil && len(filter.Tags) > 0
	if limit > 0 && !tagged {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("GetDocuments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var memories []*storage.Memory
	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		if !tagsMatch(memory, filter) {
			continue
		}
		memories = append(memories, memory)
		if limit > 0 && len(memories) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return memories, nil
}

// Delete removes memories by id. Missing ids are skipped.
func (c *Client) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", c.collectionName, placeholders(len(ids)))

	result, err := c.db.ExecContext(ctx, query, stringArgs(ids)...)
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
	whereClause, args := buildFilterWhere(filter)

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
		SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id IN (%s)
	`, c.collectionName, placeholders(len(ids)))

	args := append([]interface{}{time.Now()}, stringArgs(ids)...)
	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("IncrementAccess: %w", err)
	}
	return nil
}

// GetStats reports totals for the collection.
func (c *Client) GetStats(ctx context.Context) (*storage.Stats, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*),
		       COUNT(DISTINCT thread_id),
		       COALESCE(SUM(persistent), 0),
		       COALESCE(AVG(CHAR_LENGTH(content)), 0)
		FROM %s
	`, c.collectionName)

	stats := &storage.Stats{Backend: "mysql", Collection: c.collectionName}
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

const columnList = `id, thread_id, content, embedding, type, source, importance, persistent,
	tags, user_id, extra, created_at, last_accessed_at, access_count`

// scanMemory scans a memory from a database row.
func scanMemory(rows *sql.Rows) (*storage.Memory, error) {
	var (
		memory         storage.Memory
		embeddingStr   sql.NullString
		memType        string
		source         sql.NullString
		persistent     int
		tagsStr        sql.NullString
		extraStr       sql.NullString
		lastAccessedAt sql.NullTime
	)

	err := rows.Scan(
		&memory.ID,
		&memory.ThreadID,
		&memory.Content,
		&embeddingStr,
		&memType,
		&source,
		&memory.Importance,
		&persistent,
		&tagsStr,
		&memory.UserID,
		&extraStr,
		&memory.CreatedAt,
		&lastAccessedAt,
		&memory.AccessCount,
	)
	if err != nil {
		return nil, err
	}

	memory.Type = storage.MemoryType(memType)
	memory.Source = source.String
	memory.Persistent = persistent != 0
	if lastAccessedAt.Valid {
		memory.LastAccessedAt = &lastAccessedAt.Time
	}

	if embeddingStr.Valid && embeddingStr.String != "" {
		if err := json.Unmarshal([]byte(embeddingStr.String), &memory.Embedding); err != nil {
			return nil, fmt.Errorf("parse embedding: %w", err)
		}
	}
	if tagsStr.Valid && tagsStr.String != "" {
		if err := json.Unmarshal([]byte(tagsStr.String), &memory.Tags); err != nil {
			return nil, fmt.Errorf("parse tags: %w", err)
		}
	}
	if extraStr.Valid && extraStr.String != "" {
		if err := json.Unmarshal([]byte(extraStr.String), &memory.Extra); err != nil {
			return nil, fmt.Errorf("parse extra: %w", err)
		}
	}

	return &memory, nil
}

// insertArgs builds the argument list shared by Store and StoreBatch.
func insertArgs(memory *storage.Memory) ([]interface{}, error) {
	var embeddingJSON interface{}
	if memory.Embedding != nil {
		b, err := json.Marshal(memory.Embedding)
		if err != nil {
			return nil, err
		}
		embeddingJSON = string(b)
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

	persistent := 0
	if memory.Persistent {
		persistent = 1
	}

	return []interface{}{
		memory.ID,
		memory.ThreadID,
		memory.Content,
		embeddingJSON,
		string(memory.Type),
		memory.Source,
		memory.Importance,
		persistent,
		tagsJSON,
		memory.UserID,
		extraJSON,
		memory.CreatedAt,
		lastAccessed,
		memory.AccessCount,
	}, nil
}

// cosineSimilarity calculates the cosine similarity between two vectors.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sortByScore sorts memories by score descending, CreatedAt descending on
// ties.
func sortByScore(memories []*storage.Memory) {
	sort.Slice(memories, func(i, j int) bool {
		if memories[i].Score != memories[j].Score {
			return memories[i].Score > memories[j].Score
		}
		return memories[i].CreatedAt.After(memories[j].CreatedAt)
	})
}
