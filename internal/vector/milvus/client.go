package milvus

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/kb-agent/backend/internal/storage/models"
	"github.com/kb-agent/backend/pkg/logger"
	"github.com/kb-agent/backend/pkg/stats"
)

const distanceMetric = "IP"

// Embedder turns query text into the vector the collection was indexed
// with. Implemented by the embedding client; injected so tests can fake it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Client is the vector index adapter. Read-only: the collection is
// populated by the ingestion pipeline.
type Client struct {
	client         client.Client
	endpoint       string
	collectionName string
	vectorDim      int
	embedder       Embedder
	tracker        *stats.Tracker
}

func NewClient(endpoint, collectionName string, vectorDim int, embedder Embedder) *Client {
	return &Client{
		endpoint:       endpoint,
		collectionName: collectionName,
		vectorDim:      vectorDim,
		embedder:       embedder,
		tracker:        stats.NewTracker(),
	}
}

func (c *Client) Initialize(ctx context.Context) error {
	mc, err := client.NewGrpcClient(ctx, c.endpoint)
	if err != nil {
		return fmt.Errorf("failed to create milvus client: %w", err)
	}

	has, err := mc.HasCollection(ctx, c.collectionName)
	if err != nil {
		mc.Close()
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !has {
		mc.Close()
		return fmt.Errorf("collection %q does not exist", c.collectionName)
	}

	if err := mc.LoadCollection(ctx, c.collectionName, false); err != nil {
		mc.Close()
		return fmt.Errorf("failed to load collection: %w", err)
	}

	c.client = mc

	logger.Info("Milvus client initialized",
		zap.String("endpoint", c.endpoint),
		zap.String("collection", c.collectionName),
	)

	return nil
}

func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) Statistics() stats.Snapshot {
	return c.tracker.Snapshot()
}

// Search embeds the query and returns matches ordered by similarity,
// best first. Matches scoring below minSimilarity are discarded as
// noise. Scores use inner product: higher means more similar, with no
// guaranteed upper bound.
func (c *Client) Search(ctx context.Context, queryText string, topK int, minSimilarity float64) ([]models.VectorMatch, error) {
	start := time.Now()

	embedding, err := c.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := c.client.Search(
		ctx,
		c.collectionName,
		[]string{},
		"",
		[]string{"chunk_id", "source_type"},
		[]entity.Vector{entity.FloatVector(embedding)},
		"embedding",
		entity.IP,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	matches := make([]models.VectorMatch, 0, topK)
	for _, sr := range searchResult {
		chunkIDCol := sr.Fields.GetColumn("chunk_id")
		sourceTypeCol := sr.Fields.GetColumn("source_type")
		if chunkIDCol == nil {
			logger.Warn("Search result missing chunk_id column")
			continue
		}

		for i := 0; i < sr.ResultCount; i++ {
			score := float64(sr.Scores[i])
			if score < minSimilarity {
				continue
			}

			chunkID, err := chunkIDCol.GetAsString(i)
			if err != nil {
				logger.Warn("Skipping match without chunk id", zap.Error(err))
				continue
			}

			fields := map[string]string{}
			if sourceTypeCol != nil {
				if st, err := sourceTypeCol.GetAsString(i); err == nil {
					fields["source_type"] = st
				}
			}

			matches = append(matches, models.VectorMatch{
				ChunkID:         chunkID,
				SimilarityScore: score,
				DistanceMetric:  distanceMetric,
				Fields:          fields,
			})
		}
	}

	c.tracker.Record(len(matches), time.Since(start))

	logger.Debug("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("matches", len(matches)),
		zap.Float64("min_similarity", minSimilarity),
	)

	return matches, nil
}
