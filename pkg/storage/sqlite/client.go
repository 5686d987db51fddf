// Package sqlite provides a SQLite implementation of the vector store.
//
// SQLite is a lightweight, file-based backend suitable for local development
// and single-node deployments. Vectors are stored as JSON strings in TEXT
// columns and similarity search uses in-memory cosine calculation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hybridmem/hybridmem-go/pkg/storage"
)

// Client implements storage.VectorStore using SQLite as the backend.
type Client struct {
	// db is the SQLite database connection.
	db *sql.DB

	// collectionName is the name of the table storing memories.
	collectionName string
}

// Config contains configuration for creating a SQLite vector store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CollectionName is the name of the table to use.
	CollectionName string
}

// NewClient creates a new SQLite vector store client.
//
// The parent directory of DBPath is created when missing, the connection is
// pinged, and the table schema is initialized idempotently.
func NewClient(cfg *Config) (*Client, error) {
	if err := storage.ValidateCollectionName(cfg.CollectionName); err != nil {
		return nil, err
	}

	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
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
//
// Vectors, tags and the open metadata map are stored as JSON strings because
// SQLite has no native vector or map types.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding TEXT,
			type TEXT NOT NULL DEFAULT 'conversation',
			source TEXT NOT NULL DEFAULT '',
			importance REAL NOT NULL DEFAULT 0.5,
			persistent INTEGER NOT NULL DEFAULT 0,
			tags TEXT,
			user_id TEXT NOT NULL DEFAULT '',
			extra TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_accessed_at DATETIME,
			access_count INTEGER NOT NULL DEFAULT 0
		)
	`, c.collectionName)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	for _, idx := range []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_thread ON %s(thread_id)`, c.collectionName, c.collectionName),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created ON %s(created_at)`, c.collectionName, c.collectionName),
	} {
		if _, err := c.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("initTables: %w", err)
		}
	}

	return nil
}

// Store upserts a memory.
func (c *Client) Store(ctx context.Context, memory *storage.Memory) error {
	if err := storage.ValidateContent(memory.Content); err != nil {
		return err
	}

	embeddingJSON, tagsJSON, extraJSON, err := marshalFields(memory)
	if err != nil {
		return fmt.Errorf("Store: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT OR REPLACE INTO %s
		(id, thread_id, content, embedding, type, source, importance, persistent,
		 tags, user_id, extra, created_at, last_accessed_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.collectionName)

	_, err = c.db.ExecContext(ctx, query,
		memory.ID,
		memory.ThreadID,
		memory.Content,
		embeddingJSON,
		string(memory.Type),
		memory.Source,
		memory.Importance,
		boolToInt(memory.Persistent),
		tagsJSON,
		memory.UserID,
		extraJSON,
		memory.CreatedAt,
		nullableTime(memory.LastAccessedAt),
		memory.AccessCount,
	)
	if err != nil {
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
		INSERT OR REPLACE INTO %s
		(id, thread_id, content, embedding, type, source, importance, persistent,
		 tags, user_id, extra, created_at, last_accessed_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.collectionName)

	for _, memory := range memories {
		if err := storage.ValidateContent(memory.Content); err != nil {
			_ = tx.Rollback()
			return err
		}
		embeddingJSON, tagsJSON, extraJSON, err := marshalFields(memory)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("StoreBatch: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query,
			memory.ID, memory.ThreadID, memory.Content, embeddingJSON,
			string(memory.Type), memory.Source, memory.Importance, boolToInt(memory.Persistent),
			tagsJSON, memory.UserID, extraJSON, memory.CreatedAt,
			nullableTime(memory.LastAccessedAt), memory.AccessCount,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("StoreBatch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("StoreBatch: %w", err)
	}
	return nil
}

// Search performs vector similarity search.
//
// SQLite has no native vector operations, so rows matching the structured
// filters are loaded and cosine similarity is calculated in memory. Tag and
// Extra filters are applied after scanning.
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
		       COALESCE(AVG(LENGTH(content)), 0)
		FROM %s
	`, c.collectionName)

	stats := &storage.Stats{Backend: "sqlite", Collection: c.collectionName}
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

// columnList is the canonical column order shared by every SELECT.
const columnList = `id, thread_id, content, embedding, type, source, importance, persistent,
	tags, user_id, extra, created_at, last_accessed_at, access_count`

// scanMemory scans a memory from a database row.
func scanMemory(rows *sql.Rows) (*storage.Memory, error) {
	var (
		memory         storage.Memory
		embeddingStr   sql.NullString
		memType        string
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
		&memory.Source,
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

// marshalFields serializes the JSON-encoded columns. A nil embedding stays
// NULL so degraded stores remain distinguishable from empty vectors.
func marshalFields(memory *storage.Memory) (interface{}, interface{}, interface{}, error) {
	var embeddingJSON interface{}
	if memory.Embedding != nil {
		b, err := json.Marshal(memory.Embedding)
		if err != nil {
			return nil, nil, nil, err
		}
		embeddingJSON = string(b)
	}

	var tagsJSON interface{}
	if len(memory.Tags) > 0 {
		b, err := json.Marshal(memory.Tags)
		if err != nil {
			return nil, nil, nil, err
		}
		tagsJSON = string(b)
	}

	var extraJSON interface{}
	if len(memory.Extra) > 0 {
		b, err := json.Marshal(memory.Extra)
		if err != nil {
			return nil, nil, nil, err
		}
		extraJSON = string(b)
	}

	return embeddingJSON, tagsJSON, extraJSON, nil
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
