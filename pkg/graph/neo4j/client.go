// Package neo4j provides a Neo4j implementation of the graph store using the
// official v5 driver. Every operation opens its own session; relationship
// types and labels are validated before being spliced into Cypher because
// they cannot be parameterized.
package neo4j

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"github.com/hybridmem/hybridmem-go/pkg/graph"
)

var labelRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,63}$`)

// Config contains Neo4j connection configuration.
type Config struct {
	// URI is the bolt or neo4j scheme connection string.
	URI string

	// Username and Password authenticate the connection.
	Username string
	Password string

	// Database selects the database, empty for the server default.
	Database string
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("uri is required")
	}
	return nil
}

// Client implements graph.GraphStore against a Neo4j server.
type Client struct {
	driver neo4j.DriverWithContext
	config *Config
	logger *logrus.Logger
}

// NewClient creates a new Neo4j client and verifies connectivity.
func NewClient(ctx context.Context, cfg *Config, logger *logrus.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("NewNeo4jClient: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("NewNeo4jClient: %w", err)
	}

	logger.WithField("uri", cfg.URI).Info("Connected to Neo4j")

	return &Client{
		driver: driver,
		config: cfg,
		logger: logger,
	}, nil
}

func (c *Client) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: c.config.Database,
	})
}

func validateLabel(label string) error {
	if !labelRe.MatchString(label) {
		return fmt.Errorf("invalid node label %q", label)
	}
	return nil
}

// CreateNode merges a node on (label, id) and updates its properties.
func (c *Client) CreateNode(ctx context.Context, node *graph.Node) error {
	if err := validateLabel(node.Label); err != nil {
		return err
	}

	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	query := fmt.Sprintf(`
		MERGE (n:%s {id: $id})
		SET n += $props
	`, node.Label)

	props := node.Properties
	if props == nil {
		props = map[string]interface{}{}
	}

	_, err := session.Run(ctx, query, map[string]interface{}{
		"id":    node.ID,
		"props": props,
	})
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}
	return nil
}

// CreateRelationship merges an edge between two existing nodes. It returns
// graph.ErrNotFound when either endpoint is missing.
func (c *Client) CreateRelationship(ctx context.Context, rel *graph.Relationship) error {
	if err := graph.ValidateRelationshipType(rel.Type); err != nil {
		return err
	}
	if err := validateLabel(rel.FromLabel); err != nil {
		return err
	}
	if err := validateLabel(rel.ToLabel); err != nil {
		return err
	}

	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	query := fmt.Sprintf(`
		MATCH (from:%s {id: $fromID})
		MATCH (to:%s {id: $toID})
		MERGE (from)-[r:%s]->(to)
		SET r += $props
		RETURN count(r) AS created
	`, rel.FromLabel, rel.ToLabel, rel.Type)

	props := rel.Properties
	if props == nil {
		props = map[string]interface{}{}
	}

	result, err := session.Run(ctx, query, map[string]interface{}{
		"fromID": rel.FromID,
		"toID":   rel.ToID,
		"props":  props,
	})
	if err != nil {
		return fmt.Errorf("failed to create relationship: %w", err)
	}

	if !result.Next(ctx) {
		return graph.ErrNotFound
	}
	return nil
}

// FindNodes returns nodes of a label whose properties match all given values.
func (c *Client) FindNodes(ctx context.Context, label string, properties map[string]interface{}, limit int) ([]*graph.Node, error) {
	if err := validateLabel(label); err != nil {
		return nil, err
	}

	session := c.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	conditions := []string{}
	params := map[string]interface{}{}
	i := 0
	for key, value := range properties {
		param := fmt.Sprintf("p%d", i)
		conditions = append(conditions, fmt.Sprintf("n.`%s` = $%s", key, param))
		params[param] = value
		i++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		MATCH (n:%s)
		%s
		RETURN n.id AS id, properties(n) AS props
		ORDER BY n.id
	`, label, whereClause)
	if limit > 0 {
		query += "LIMIT $limit"
		params["limit"] = limit
	}

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to find nodes: %w", err)
	}

	var nodes []*graph.Node
	for result.Next(ctx) {
		record := result.Record()
		nodes = append(nodes, &graph.Node{
			ID:         stringFromRecord(record, "id"),
			Label:      label,
			Properties: mapFromRecord(record, "props"),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to find nodes: %w", err)
	}
	return nodes, nil
}

// FindNeighbors returns the direct neighbors of a node.
func (c *Client) FindNeighbors(ctx context.Context, label, id string, relTypes []string, direction graph.Direction, limit int) ([]*graph.Neighbor, error) {
	if err := validateLabel(label); err != nil {
		return nil, err
	}

	session := c.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	var pattern string
	switch direction {
	case graph.DirectionOut:
		pattern = "(n)-[r]->(m)"
	case graph.DirectionIn:
		pattern = "(n)<-[r]-(m)"
	default:
		pattern = "(n)-[r]-(m)"
	}

	typeFilter := ""
	params := map[string]interface{}{"id": id}
	if len(relTypes) > 0 {
		typeFilter = "AND type(r) IN $relTypes"
		params["relTypes"] = relTypes
	}

	query := fmt.Sprintf(`
		MATCH (n:%s {id: $id})
		MATCH %s
		WHERE true %s
		RETURN m.id AS id, labels(m)[0] AS label, properties(m) AS props,
		       type(r) AS rel_type, coalesce(r.weight, 0.0) AS weight,
		       CASE WHEN startNode(r) = n THEN 'out' ELSE 'in' END AS dir
		ORDER BY id, rel_type
	`, label, pattern, typeFilter)
	if limit > 0 {
		query += "LIMIT $limit"
		params["limit"] = limit
	}

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to find neighbors: %w", err)
	}

	var neighbors []*graph.Neighbor
	for result.Next(ctx) {
		record := result.Record()
		dir := graph.DirectionOut
		if stringFromRecord(record, "dir") == "in" {
			dir = graph.DirectionIn
		}
		neighbors = append(neighbors, &graph.Neighbor{
			Node: &graph.Node{
				ID:         stringFromRecord(record, "id"),
				Label:      stringFromRecord(record, "label"),
				Properties: mapFromRecord(record, "props"),
			},
			RelType:   stringFromRecord(record, "rel_type"),
			Direction: dir,
			Weight:    floatFromRecord(record, "weight"),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to find neighbors: %w", err)
	}
	return neighbors, nil
}

// Traverse walks the graph from a start node up to MaxDepth hops. Each
// reachable node is reported once at its shortest depth.
func (c *Client) Traverse(ctx context.Context, opts *graph.TraverseOptions) ([]*graph.TraversalHit, error) {
	if err := validateLabel(opts.StartLabel); err != nil {
		return nil, err
	}

	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 2
	}

	relSpec := ""
	if len(opts.RelTypes) > 0 {
		for _, t := range opts.RelTypes {
			if err := graph.ValidateRelationshipType(t); err != nil {
				return nil, err
			}
		}
		relSpec = ":" + strings.Join(opts.RelTypes, "|")
	}

	var pattern string
	switch opts.Direction {
	case graph.DirectionOut:
		pattern = fmt.Sprintf("-[%s*1..%d]->", relSpec, maxDepth)
	case graph.DirectionIn:
		pattern = fmt.Sprintf("<-[%s*1..%d]-", relSpec, maxDepth)
	default:
		pattern = fmt.Sprintf("-[%s*1..%d]-", relSpec, maxDepth)
	}

	session := c.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	params := map[string]interface{}{"id": opts.StartID}
	query := fmt.Sprintf(`
		MATCH path = (start:%s {id: $id})%s(m)
		WHERE m <> start
		WITH m, min(length(path)) AS depth
		RETURN m.id AS id, labels(m)[0] AS label, properties(m) AS props, depth
		ORDER BY depth, id
	`, opts.StartLabel, pattern)
	if opts.Limit > 0 {
		query += "LIMIT $limit"
		params["limit"] = opts.Limit
	}

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to traverse: %w", err)
	}

	var hits []*graph.TraversalHit
	for result.Next(ctx) {
		record := result.Record()
		hits = append(hits, &graph.TraversalHit{
			Node: &graph.Node{
				ID:         stringFromRecord(record, "id"),
				Label:      stringFromRecord(record, "label"),
				Properties: mapFromRecord(record, "props"),
			},
			Depth: intFromRecord(record, "depth"),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to traverse: %w", err)
	}
	return hits, nil
}

// DeleteNodes removes nodes and their relationships with DETACH DELETE.
func (c *Client) DeleteNodes(ctx context.Context, label string, ids []string) (int, error) {
	if err := validateLabel(label); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	query := fmt.Sprintf(`
		MATCH (n:%s)
		WHERE n.id IN $ids
		DETACH DELETE n
	`, label)

	result, err := session.Run(ctx, query, map[string]interface{}{"ids": ids})
	if err != nil {
		return 0, fmt.Errorf("failed to delete nodes: %w", err)
	}

	summary, err := result.Consume(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete nodes: %w", err)
	}
	return summary.Counters().NodesDeleted(), nil
}

// DeleteRelationships removes edges of a type between two nodes. Empty
// fromID or toID act as wildcards.
func (c *Client) DeleteRelationships(ctx context.Context, relType, fromID, toID string) error {
	if err := graph.ValidateRelationshipType(relType); err != nil {
		return err
	}

	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	query := fmt.Sprintf(`
		MATCH (a)-[r:%s]->(b)
		WHERE ($fromID = '' OR a.id = $fromID)
		  AND ($toID = '' OR b.id = $toID)
		DELETE r
	`, relType)

	_, err := session.Run(ctx, query, map[string]interface{}{
		"fromID": fromID,
		"toID":   toID,
	})
	if err != nil {
		return fmt.Errorf("failed to delete relationships: %w", err)
	}
	return nil
}

// ExecuteCypher runs a raw Cypher query and returns the records as maps.
func (c *Client) ExecuteCypher(ctx context.Context, query string, params map[string]interface{}) ([]map[string]interface{}, error) {
	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to execute cypher: %w", err)
	}

	var records []map[string]interface{}
	for result.Next(ctx) {
		records = append(records, recordToMap(result.Record()))
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to execute cypher: %w", err)
	}
	return records, nil
}

// BatchExecute runs several statements inside one write transaction.
func (c *Client) BatchExecute(ctx context.Context, statements []graph.Statement) error {
	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		for _, stmt := range statements {
			if _, err := tx.Run(ctx, stmt.Query, stmt.Params); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to batch execute: %w", err)
	}
	return nil
}

// managedTx adapts a driver transaction to the graph.Tx interface.
type managedTx struct {
	tx neo4j.ManagedTransaction
}

func (m *managedTx) Run(ctx context.Context, query string, params map[string]interface{}) ([]map[string]interface{}, error) {
	result, err := m.tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	var records []map[string]interface{}
	for result.Next(ctx) {
		records = append(records, recordToMap(result.Record()))
	}
	return records, result.Err()
}

// RunTransaction executes fn inside a managed write transaction.
func (c *Client) RunTransaction(ctx context.Context, fn func(tx graph.Tx) error) error {
	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return nil, fn(&managedTx{tx: tx})
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}
	return nil
}

// GetStats reports node and relationship totals.
func (c *Client) GetStats(ctx context.Context) (*graph.Stats, error) {
	session := c.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	// Each total comes from its own aggregate query. Chaining the MATCH
	// clauses would drop every count as soon as one pattern has no rows,
	// a graph with nodes but no relationships being the common case.
	stats := &graph.Stats{Backend: "neo4j"}
	counts := []struct {
		query string
		dest  *int64
	}{
		{"MATCH (n) RETURN count(n) AS total", &stats.Nodes},
		{"MATCH ()-[r]->() RETURN count(r) AS total", &stats.Relationships},
		{fmt.Sprintf("MATCH (m:%s) RETURN count(m) AS total", graph.LabelMemory), &stats.MemoryNodes},
		{fmt.Sprintf("MATCH (t:%s) RETURN count(t) AS total", graph.LabelThread), &stats.ThreadNodes},
	}
	for _, count := range counts {
		result, err := session.Run(ctx, count.query, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get stats: %w", err)
		}
		if result.Next(ctx) {
			*count.dest = int64(intFromRecord(result.Record(), "total"))
		}
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("failed to get stats: %w", err)
		}
	}
	return stats, nil
}

// Close shuts down the underlying driver.
func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func recordToMap(record *neo4j.Record) map[string]interface{} {
	out := make(map[string]interface{}, len(record.Keys))
	for i, key := range record.Keys {
		out[key] = record.Values[i]
	}
	return out
}

func stringFromRecord(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return ""
	}
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}

func intFromRecord(record *neo4j.Record, key string) int {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0
	}
	switch v := val.(type) {
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func floatFromRecord(record *neo4j.Record, key string) float64 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0
	}
	switch v := val.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func mapFromRecord(record *neo4j.Record, key string) map[string]interface{} {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return nil
	}
	if m, ok := val.(map[string]interface{}); ok {
		return m
	}
	return nil
}
