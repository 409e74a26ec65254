package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kb-agent/backend/internal/metrics"
	"github.com/kb-agent/backend/internal/storage/models"
	"github.com/kb-agent/backend/pkg/logger"
	"github.com/kb-agent/backend/pkg/stats"
)

var (
	// ErrNotInitialized means Initialize was never called or never succeeded.
	ErrNotInitialized = errors.New("retrieval coordinator not initialized")

	// ErrRetrievalUnavailable means a required store is absent or unreachable.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrShuttingDown means the coordinator stopped accepting new work.
	ErrShuttingDown = errors.New("retrieval coordinator shutting down")
)

// VectorSearcher is the vector index contract the coordinator depends on.
type VectorSearcher interface {
	Initialize(ctx context.Context) error
	Search(ctx context.Context, queryText string, topK int, minSimilarity float64) ([]models.VectorMatch, error)
	Close() error
	Statistics() stats.Snapshot
}

// MetadataFetcher is the relational metadata store contract.
type MetadataFetcher interface {
	Initialize(ctx context.Context) error
	FetchByIDs(ctx context.Context, chunkIDs []string) ([]models.ChunkRecord, error)
	Close() error
	Statistics() stats.Snapshot
}

// GraphReader is the optional knowledge-graph contract.
type GraphReader interface {
	Initialize(ctx context.Context) error
	EntitiesForChunks(ctx context.Context, chunkIDs []string) (map[string][]models.Entity, error)
	ContextualGraph(ctx context.Context, queryText string, chunkIDs []string, maxEntities, maxDepth int) (*models.GraphContext, error)
	Close() error
	Statistics() stats.Snapshot
}

// Coordinator owns the lifecycle of the backing stores and exposes
// failure-isolated retrieval operations. Store handles are shared
// read-only across concurrent queries; no per-query state lives here.
type Coordinator struct {
	vector   VectorSearcher
	metadata MetadataFetcher
	graph    GraphReader // nil when the graph capability is disabled

	graphMaxEntities int
	graphMaxDepth    int

	mu           sync.RWMutex
	initialized  bool
	shuttingDown bool
}

type CoordinatorOption func(*Coordinator)

// WithGraph enables the optional graph store. Presence is decided once
// at construction, never probed per call.
func WithGraph(graph GraphReader, maxEntities, maxDepth int) CoordinatorOption {
	return func(c *Coordinator) {
		c.graph = graph
		c.graphMaxEntities = maxEntities
		c.graphMaxDepth = maxDepth
	}
}

func NewCoordinator(vector VectorSearcher, metadata MetadataFetcher, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		vector:           vector,
		metadata:         metadata,
		graphMaxEntities: 20,
		graphMaxDepth:    2,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Initialize connects every configured store. A configured store that
// fails to connect fails initialization as a whole. Calling again after
// success is a no-op.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}

	if c.vector != nil {
		if err := c.vector.Initialize(ctx); err != nil {
			return fmt.Errorf("vector store initialization failed: %w", err)
		}
	}

	if c.metadata != nil {
		if err := c.metadata.Initialize(ctx); err != nil {
			return fmt.Errorf("metadata store initialization failed: %w", err)
		}
	}

	if c.graph != nil {
		if err := c.graph.Initialize(ctx); err != nil {
			return fmt.Errorf("graph store initialization failed: %w", err)
		}
	}

	c.initialized = true

	logger.Info("Retrieval coordinator initialized",
		zap.Bool("vector", c.vector != nil),
		zap.Bool("metadata", c.metadata != nil),
		zap.Bool("graph", c.graph != nil),
	)

	return nil
}

// Ready reports whether the coordinator can serve queries.
func (c *Coordinator) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized && !c.shuttingDown
}

// GraphEnabled reports whether the optional graph store was configured.
func (c *Coordinator) GraphEnabled() bool {
	return c.graph != nil
}

func (c *Coordinator) gate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.shuttingDown {
		return ErrShuttingDown
	}
	if !c.initialized {
		return ErrNotInitialized
	}
	return nil
}

// RetrieveRelevantChunks runs the similarity search. An unreachable
// store degrades to an empty result; only an absent or uninitialized
// store surfaces an error.
func (c *Coordinator) RetrieveRelevantChunks(ctx context.Context, queryText string, topK int, minSimilarity float64) ([]models.VectorMatch, error) {
	if err := c.gate(); err != nil {
		return nil, err
	}
	if c.vector == nil {
		return nil, ErrRetrievalUnavailable
	}

	matches, err := c.vector.Search(ctx, queryText, topK, minSimilarity)
	if err != nil {
		// Retrieval errors are non-fatal to the query flow; they
		// deprive it of context instead.
		logger.Warn("Vector search failed, returning no matches", zap.Error(err))
		metrics.StoreErrors.WithLabelValues("vector").Inc()
		return []models.VectorMatch{}, nil
	}

	return matches, nil
}

// HydrateMetadata fetches chunk records for the given ids. Missing ids
// are silently omitted; callers handle partial hydration. A store error
// degrades to an empty result.
func (c *Coordinator) HydrateMetadata(ctx context.Context, chunkIDs []string) ([]models.ChunkRecord, error) {
	if err := c.gate(); err != nil {
		return nil, err
	}
	if c.metadata == nil {
		return nil, ErrRetrievalUnavailable
	}

	records, err := c.metadata.FetchByIDs(ctx, chunkIDs)
	if err != nil {
		logger.Warn("Metadata hydration failed, returning no records", zap.Error(err))
		metrics.StoreErrors.WithLabelValues("metadata").Inc()
		return []models.ChunkRecord{}, nil
	}

	return records, nil
}

// RetrieveGraphContext returns graph enrichment for the given chunks.
// A disabled graph store is a supported state, not an error: the result
// is the neutral empty context. Graph errors also degrade to it.
func (c *Coordinator) RetrieveGraphContext(ctx context.Context, queryText string, chunkIDs []string) (*models.GraphContext, error) {
	if err := c.gate(); err != nil {
		return nil, err
	}
	if c.graph == nil {
		return models.EmptyGraphContext(), nil
	}

	graph, err := c.graph.ContextualGraph(ctx, queryText, chunkIDs, c.graphMaxEntities, c.graphMaxDepth)
	if err != nil {
		logger.Warn("Graph retrieval failed, returning empty context", zap.Error(err))
		metrics.StoreErrors.WithLabelValues("graph").Inc()
		return models.EmptyGraphContext(), nil
	}

	return graph, nil
}

// Statistics returns per-store counters, keyed by store name.
func (c *Coordinator) Statistics() map[string]stats.Snapshot {
	snapshots := make(map[string]stats.Snapshot)
	if c.vector != nil {
		snapshots["vector"] = c.vector.Statistics()
	}
	if c.metadata != nil {
		snapshots["metadata"] = c.metadata.Statistics()
	}
	if c.graph != nil {
		snapshots["graph"] = c.graph.Statistics()
	}
	return snapshots
}

// Shutdown stops accepting new retrievals. In-flight queries keep their
// already-open handles until they finish; Close releases them.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
}

// Close releases every store connection. Each close is attempted
// independently so one failure does not block the others; stores that
// were never opened tolerate it.
func (c *Coordinator) Close() error {
	c.Shutdown()

	var errs []error

	if c.vector != nil {
		if err := c.vector.Close(); err != nil {
			logger.Warn("Failed to close vector store", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if c.metadata != nil {
		if err := c.metadata.Close(); err != nil {
			logger.Warn("Failed to close metadata store", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if c.graph != nil {
		if err := c.graph.Close(); err != nil {
			logger.Warn("Failed to close graph store", zap.Error(err))
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
