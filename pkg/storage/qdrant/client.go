// Package qdrant provides a Qdrant implementation of the vector store using
// the Qdrant HTTP API. Similarity search, filtering and counting run inside
// Qdrant; memory fields travel in point payloads.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hybridmem/hybridmem-go/pkg/storage"
)

// scrollPageSize bounds how many points a single scroll request returns.
const scrollPageSize = 256

// Client is a Qdrant HTTP client implementing storage.VectorStore.
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a new Qdrant client and ensures the collection exists.
func NewClient(cfg *Config, logger *logrus.Logger) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}

	client := &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}

	if err := client.ensureCollection(context.Background()); err != nil {
		return nil, err
	}

	return client, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	url := fmt.Sprintf("%s%s", c.config.BaseURL(), path)

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("api-key", c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// ensureCollection creates the collection when it does not exist yet.
func (c *Client) ensureCollection(ctx context.Context) error {
	path := fmt.Sprintf("/collections/%s", c.config.CollectionName)
	if _, err := c.doRequest(ctx, http.MethodGet, path, nil); err == nil {
		return nil
	}

	reqBody := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     c.config.EmbeddingModelDims,
			"distance": "Cosine",
		},
	}

	if _, err := c.doRequest(ctx, http.MethodPut, path, reqBody); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	c.logger.WithField("collection", c.config.CollectionName).Info("Collection created")
	return nil
}

// Store upserts a memory as a single point.
func (c *Client) Store(ctx context.Context, memory *storage.Memory) error {
	return c.StoreBatch(ctx, []*storage.Memory{memory})
}

// StoreBatch upserts multiple memories in one request.
//
// Qdrant requires every point to carry a vector, so memories stored without
// an embedding get a zero vector plus an embedded=false payload flag that
// similarity search filters out.
func (c *Client) StoreBatch(ctx context.Context, memories []*storage.Memory) error {
	if len(memories) == 0 {
		return nil
	}

	points := make([]map[string]interface{}, 0, len(memories))
	for _, memory := range memories {
		if err := storage.ValidateContent(memory.Content); err != nil {
			return err
		}

		vector := memory.Embedding
		if vector == nil {
			vector = make([]float64, c.config.EmbeddingModelDims)
		}

		points = append(points, map[string]interface{}{
			"id":      memory.ID,
			"vector":  toFloat32(vector),
			"payload": memoryPayload(memory),
		})
	}

	reqBody := map[string]interface{}{
		"points": points,
	}

	path := fmt.Sprintf("/collections/%s/points", c.config.CollectionName)
	if _, err := c.doRequest(ctx, http.MethodPut, path, reqBody); err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"collection": c.config.CollectionName,
		"count":      len(points),
	}).Debug("Points upserted")

	return nil
}

// Search performs a vector similarity search.
func (c *Client) Search(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*storage.Memory, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	reqBody := map[string]interface{}{
		"vector":       toFloat32(embedding),
		"limit":        limit,
		"with_payload": true,
		"filter":       searchFilter(opts),
	}
	if opts.MinScore > 0 {
		reqBody["score_threshold"] = opts.MinScore
	}

	path := fmt.Sprintf("/collections/%s/points/search", c.config.CollectionName)
	respBody, err := c.doRequest(ctx, http.MethodPost, path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	var response struct {
		Result []struct {
			ID      string                 `json:"id"`
			Score   float64                `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	memories := make([]*storage.Memory, 0, len(response.Result))
	for _, point := range response.Result {
		memory, err := payloadToMemory(point.ID, point.Payload)
		if err != nil {
			return nil, err
		}
		memory.Score = point.Score
		memories = append(memories, memory)
	}

	return memories, nil
}

// GetDocuments retrieves memories matching the filter, newest first.
//
// Scroll has no server-side ordering, so all matching points are collected
// and sorted locally before the limit applies.
func (c *Client) GetDocuments(ctx context.Context, filter *storage.Filter, limit int) ([]*storage.Memory, error) {
	memories, err := c.scrollAll(ctx, filterConditions(filter))
	if err != nil {
		return nil, fmt.Errorf("GetDocuments: %w", err)
	}

	sort.Slice(memories, func(i, j int) bool {
		if !memories[i].CreatedAt.Equal(memories[j].CreatedAt) {
			return memories[i].CreatedAt.After(memories[j].CreatedAt)
		}
		return memories[i].ID < memories[j].ID
	})

	if limit > 0 && len(memories) > limit {
		memories = memories[:limit]
	}
	return memories, nil
}

// Delete removes points by id and reports how many existed.
func (c *Client) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	existing, err := c.countPoints(ctx, map[string]interface{}{
		"must": []map[string]interface{}{{"has_id": ids}},
	})
	if err != nil {
		return 0, fmt.Errorf("Delete: %w", err)
	}

	reqBody := map[string]interface{}{
		"points": ids,
	}

	path := fmt.Sprintf("/collections/%s/points/delete", c.config.CollectionName)
	if _, err := c.doRequest(ctx, http.MethodPost, path, reqBody); err != nil {
		return 0, fmt.Errorf("failed to delete points: %w", err)
	}

	return int(existing), nil
}

// DeleteByFilter removes all points matching the filter.
func (c *Client) DeleteByFilter(ctx context.Context, filter *storage.Filter) (int, error) {
	qdrantFilter := filterConditions(filter)

	existing, err := c.countPoints(ctx, qdrantFilter)
	if err != nil {
		return 0, fmt.Errorf("DeleteByFilter: %w", err)
	}
	if existing == 0 {
		return 0, nil
	}

	reqBody := map[string]interface{}{
		"filter": qdrantFilter,
	}

	path := fmt.Sprintf("/collections/%s/points/delete", c.config.CollectionName)
	if _, err := c.doRequest(ctx, http.MethodPost, path, reqBody); err != nil {
		return 0, fmt.Errorf("failed to delete points: %w", err)
	}

	return int(existing), nil
}

// IncrementAccess bumps access stats point by point via payload updates.
func (c *Client) IncrementAccess(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	memories, err := c.getPoints(ctx, ids)
	if err != nil {
		return fmt.Errorf("IncrementAccess: %w", err)
	}

	now := time.Now()
	for _, memory := range memories {
		reqBody := map[string]interface{}{
			"payload": map[string]interface{}{
				"access_count":     memory.AccessCount + 1,
				"last_accessed_at": now.Format(time.RFC3339Nano),
			},
			"points": []string{memory.ID},
		}

		path := fmt.Sprintf("/collections/%s/points/payload", c.config.CollectionName)
		if _, err := c.doRequest(ctx, http.MethodPost, path, reqBody); err != nil {
			return fmt.Errorf("IncrementAccess: %w", err)
		}
	}

	return nil
}

// GetStats reports totals for the collection by scanning payloads.
func (c *Client) GetStats(ctx context.Context) (*storage.Stats, error) {
	memories, err := c.scrollAll(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("GetStats: %w", err)
	}

	stats := &storage.Stats{
		Backend:       "qdrant",
		Collection:    c.config.CollectionName,
		TotalMemories: int64(len(memories)),
	}

	threads := make(map[string]struct{})
	var contentTotal int64
	for _, memory := range memories {
		threads[memory.ThreadID] = struct{}{}
		contentTotal += int64(len(memory.Content))
		if memory.Persistent {
			stats.PersistentCount++
		}
	}
	stats.TotalThreads = int64(len(threads))
	if len(memories) > 0 {
		stats.AverageContentLength = float64(contentTotal) / float64(len(memories))
	}

	return stats, nil
}

// Close releases the HTTP client's idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// countPoints returns the exact number of points matching a filter.
func (c *Client) countPoints(ctx context.Context, filter map[string]interface{}) (int64, error) {
	reqBody := map[string]interface{}{
		"exact": true,
	}
	if filter != nil {
		reqBody["filter"] = filter
	}

	path := fmt.Sprintf("/collections/%s/points/count", c.config.CollectionName)
	respBody, err := c.doRequest(ctx, http.MethodPost, path, reqBody)
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}

	var response struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return 0, fmt.Errorf("failed to parse response: %w", err)
	}

	return response.Result.Count, nil
}

// getPoints retrieves points by id with payloads.
func (c *Client) getPoints(ctx context.Context, ids []string) ([]*storage.Memory, error) {
	reqBody := map[string]interface{}{
		"ids":          ids,
		"with_payload": true,
	}

	path := fmt.Sprintf("/collections/%s/points", c.config.CollectionName)
	respBody, err := c.doRequest(ctx, http.MethodPost, path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to get points: %w", err)
	}

	var response struct {
		Result []struct {
			ID      string                 `json:"id"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	memories := make([]*storage.Memory, 0, len(response.Result))
	for _, point := range response.Result {
		memory, err := payloadToMemory(point.ID, point.Payload)
		if err != nil {
			return nil, err
		}
		memories = append(memories, memory)
	}
	return memories, nil
}

// scrollAll pages through every point matching the filter.
func (c *Client) scrollAll(ctx context.Context, filter map[string]interface{}) ([]*storage.Memory, error) {
	var memories []*storage.Memory
	var offset interface{}

	for {
		reqBody := map[string]interface{}{
			"limit":        scrollPageSize,
			"with_payload": true,
		}
		if offset != nil {
			reqBody["offset"] = offset
		}
		if filter != nil {
			reqBody["filter"] = filter
		}

		path := fmt.Sprintf("/collections/%s/points/scroll", c.config.CollectionName)
		respBody, err := c.doRequest(ctx, http.MethodPost, path, reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to scroll points: %w", err)
		}

		var response struct {
			Result struct {
				NextPageOffset interface{} `json:"next_page_offset"`
				Points         []struct {
					ID      string                 `json:"id"`
					Payload map[string]interface{} `json:"payload"`
				} `json:"points"`
			} `json:"result"`
		}
		if err := json.Unmarshal(respBody, &response); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}

		for _, point := range response.Result.Points {
			memory, err := payloadToMemory(point.ID, point.Payload)
			if err != nil {
				return nil, err
			}
			memories = append(memories, memory)
		}

		if response.Result.NextPageOffset == nil {
			return memories, nil
		}
		offset = response.Result.NextPageOffset
	}
}

// toFloat32 converts a vector for the wire format Qdrant expects.
func toFloat32(vector []float64) []float32 {
	result := make([]float32, len(vector))
	for i, v := range vector {
		result[i] = float32(v)
	}
	return result
}
