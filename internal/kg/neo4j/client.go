package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/kb-agent/backend/internal/storage/models"
	"github.com/kb-agent/backend/pkg/circuitbreaker"
	"github.com/kb-agent/backend/pkg/logger"
	"github.com/kb-agent/backend/pkg/retry"
	"github.com/kb-agent/backend/pkg/stats"
)

// Client is the graph store adapter. The graph is built by the
// ingestion pipeline; only the read contract is exposed here.
type Client struct {
	driver      neo4j.DriverWithContext
	uri         string
	username    string
	password    string
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
	tracker     *stats.Tracker
}

func NewClient(uri, username, password, database string) *Client {
	cb := circuitbreaker.New("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	return &Client{
		uri:         uri,
		username:    username,
		password:    password,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
		tracker:     stats.NewTracker(),
	}
}

func (c *Client) Initialize(ctx context.Context) error {
	driver, err := neo4j.NewDriverWithContext(
		c.uri,
		neo4j.BasicAuth(c.username, c.password, ""),
	)
	if err != nil {
		return fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return fmt.Errorf("failed to verify connectivity: %w", err)
	}

	c.driver = driver

	logger.Info("Neo4j client initialized", zap.String("uri", c.uri))
	return nil
}

func (c *Client) Close() error {
	if c.driver == nil {
		return nil
	}
	return c.driver.Close(context.Background())
}

func (c *Client) Statistics() stats.Snapshot {
	return c.tracker.Snapshot()
}

func (c *Client) executeWithRetry(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

// EntitiesForChunks returns the entities touching each of the given
// chunk ids, keyed by chunk id. Chunks with no entities are absent.
func (c *Client) EntitiesForChunks(ctx context.Context, chunkIDs []string) (map[string][]models.Entity, error) {
	if len(chunkIDs) == 0 {
		return map[string][]models.Entity{}, nil
	}

	start := time.Now()
	byChunk := make(map[string][]models.Entity)
	total := 0

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		query := `
			MATCH (e:Entity)
			WHERE any(c IN e.source_chunks WHERE c IN $chunk_ids)
			RETURN e.id, e.type, e.name, e.description, e.source_chunks, e.confidence
		`

		result, err := session.Run(ctx, query, map[string]interface{}{
			"chunk_ids": chunkIDs,
		})
		if err != nil {
			return fmt.Errorf("failed to query entities: %w", err)
		}

		requested := make(map[string]bool, len(chunkIDs))
		for _, id := range chunkIDs {
			requested[id] = true
		}

		for result.Next(ctx) {
			entity := entityFromRecord(result.Record())
			total++

			for _, chunkID := range entity.SourceChunks {
				if requested[chunkID] {
					byChunk[chunkID] = append(byChunk[chunkID], entity)
				}
			}
		}

		if err := result.Err(); err != nil {
			return fmt.Errorf("error iterating results: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	c.tracker.Record(total, time.Since(start))

	return byChunk, nil
}

// ContextualGraph collects the entities connected to the given chunks
// or mentioned in the query text, plus the relationships between them,
// up to maxDepth hops and capped at maxEntities.
func (c *Client) ContextualGraph(ctx context.Context, queryText string, chunkIDs []string, maxEntities, maxDepth int) (*models.GraphContext, error) {
	if maxEntities <= 0 {
		maxEntities = 20
	}
	if maxDepth <= 0 {
		maxDepth = 2
	}

	start := time.Now()
	mentions := ExtractMentions(queryText)
	graph := models.EmptyGraphContext()

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		// Var-length bounds cannot be parameterized in Cypher;
		// maxDepth is validated above.
		query := fmt.Sprintf(`
			MATCH (seed:Entity)
			WHERE any(c IN seed.source_chunks WHERE c IN $chunk_ids)
			   OR seed.name IN $mentions
			MATCH path = (seed)-[:RELATES*0..%d]-(e:Entity)
			WITH DISTINCT e
			ORDER BY e.confidence DESC
			LIMIT $max_entities
			WITH collect(e) AS nodes
			UNWIND nodes AS a
			OPTIONAL MATCH (a)-[r:RELATES]->(b:Entity)
			WHERE b IN nodes
			RETURN a.id, a.type, a.name, a.description, a.source_chunks, a.confidence,
			       r.type, r.description, r.source_chunks, r.confidence, b.id
		`, maxDepth)

		result, err := session.Run(ctx, query, map[string]interface{}{
			"chunk_ids":    chunkIDs,
			"mentions":     mentions,
			"max_entities": maxEntities,
		})
		if err != nil {
			return fmt.Errorf("failed to query contextual graph: %w", err)
		}

		seenEntities := make(map[string]bool)
		seenEdges := make(map[string]bool)

		for result.Next(ctx) {
			record := result.Record()
			entity := entityFromRecord(record)

			if !seenEntities[entity.ID] {
				seenEntities[entity.ID] = true
				graph.Entities = append(graph.Entities, entity)
			}

			relType, _ := record.Get("r.type")
			toID, _ := record.Get("b.id")
			if relType == nil || toID == nil {
				continue
			}

			rel := models.Relationship{
				FromEntity:       entity.ID,
				ToEntity:         asString(toID),
				RelationshipType: asString(relType),
			}
			rel.ID = fmt.Sprintf("%s-%s-%s", rel.FromEntity, rel.RelationshipType, rel.ToEntity)

			if desc, ok := record.Get("r.description"); ok {
				rel.Description = asString(desc)
			}
			if conf, ok := record.Get("r.confidence"); ok {
				rel.ConfidenceScore = asFloat(conf)
			}
			if chunks, ok := record.Get("r.source_chunks"); ok {
				rel.SourceChunks = asStringSlice(chunks)
			}

			if !seenEdges[rel.ID] {
				seenEdges[rel.ID] = true
				graph.Relationships = append(graph.Relationships, rel)
			}
		}

		if err := result.Err(); err != nil {
			return fmt.Errorf("error iterating results: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	c.tracker.Record(len(graph.Entities), time.Since(start))

	logger.Debug("Contextual graph retrieved",
		zap.Int("chunks", len(chunkIDs)),
		zap.Int("mentions", len(mentions)),
		zap.Int("entities", len(graph.Entities)),
		zap.Int("relationships", len(graph.Relationships)),
	)

	return graph, nil
}

func entityFromRecord(record *neo4j.Record) models.Entity {
	id, _ := record.Get("e.id")
	if id == nil {
		id, _ = record.Get("a.id")
	}
	entityType, _ := record.Get("e.type")
	if entityType == nil {
		entityType, _ = record.Get("a.type")
	}
	name, _ := record.Get("e.name")
	if name == nil {
		name, _ = record.Get("a.name")
	}
	description, _ := record.Get("e.description")
	if description == nil {
		description, _ = record.Get("a.description")
	}
	chunks, _ := record.Get("e.source_chunks")
	if chunks == nil {
		chunks, _ = record.Get("a.source_chunks")
	}
	confidence, _ := record.Get("e.confidence")
	if confidence == nil {
		confidence, _ = record.Get("a.confidence")
	}

	return models.Entity{
		ID:              asString(id),
		EntityType:      asString(entityType),
		Name:            asString(name),
		Description:     asString(description),
		SourceChunks:    asStringSlice(chunks),
		ConfidenceScore: asFloat(confidence),
	}
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat(v interface{}) float64 {
	switch f := v.(type) {
	case float64:
		return f
	case int64:
		return float64(f)
	}
	return 0
}

func asStringSlice(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}

	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
