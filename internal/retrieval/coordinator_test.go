package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/kb-agent/backend/internal/storage/models"
	"github.com/kb-agent/backend/pkg/stats"
)

type fakeVector struct {
	matches   []models.VectorMatch
	searchErr error
	initErr   error
	closeErr  error

	initCalls   int
	searchCalls int
	closed      bool
}

func (f *fakeVector) Initialize(ctx context.Context) error {
	f.initCalls++
	return f.initErr
}

func (f *fakeVector) Search(ctx context.Context, queryText string, topK int, minSimilarity float64) ([]models.VectorMatch, error) {
	f.searchCalls++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.matches, nil
}

func (f *fakeVector) Close() error {
	f.closed = true
	return f.closeErr
}

func (f *fakeVector) Statistics() stats.Snapshot { return stats.Snapshot{} }

type fakeMetadata struct {
	records  []models.ChunkRecord
	fetchErr error
	initErr  error
	closeErr error

	initCalls  int
	fetchCalls int
	closed     bool
	panicOn    bool
}

func (f *fakeMetadata) Initialize(ctx context.Context) error {
	f.initCalls++
	return f.initErr
}

func (f *fakeMetadata) FetchByIDs(ctx context.Context, chunkIDs []string) ([]models.ChunkRecord, error) {
	f.fetchCalls++
	if f.panicOn {
		panic("metadata store corrupted")
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.records, nil
}

func (f *fakeMetadata) Close() error {
	f.closed = true
	return f.closeErr
}

func (f *fakeMetadata) Statistics() stats.Snapshot { return stats.Snapshot{} }

type fakeGraph struct {
	graph    *models.GraphContext
	graphErr error
	initErr  error

	initCalls int
	closed    bool
}

func (f *fakeGraph) Initialize(ctx context.Context) error {
	f.initCalls++
	return f.initErr
}

func (f *fakeGraph) EntitiesForChunks(ctx context.Context, chunkIDs []string) (map[string][]models.Entity, error) {
	return map[string][]models.Entity{}, nil
}

func (f *fakeGraph) ContextualGraph(ctx context.Context, queryText string, chunkIDs []string, maxEntities, maxDepth int) (*models.GraphContext, error) {
	if f.graphErr != nil {
		return nil, f.graphErr
	}
	return f.graph, nil
}

func (f *fakeGraph) Close() error {
	f.closed = true
	return nil
}

func (f *fakeGraph) Statistics() stats.Snapshot { return stats.Snapshot{} }

func newTestCoordinator(t *testing.T, vector *fakeVector, metadata *fakeMetadata, opts ...CoordinatorOption) *Coordinator {
	t.Helper()
	c := NewCoordinator(vector, metadata, opts...)
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return c
}

func TestCoordinatorInitializeIsIdempotent(t *testing.T) {
	vector := &fakeVector{}
	metadata := &fakeMetadata{}
	c := NewCoordinator(vector, metadata)

	for i := 0; i < 3; i++ {
		if err := c.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize call %d: %v", i+1, err)
		}
	}

	if vector.initCalls != 1 || metadata.initCalls != 1 {
		t.Errorf("stores initialized %d/%d times, want once each", vector.initCalls, metadata.initCalls)
	}
	if !c.Ready() {
		t.Error("coordinator should be ready after Initialize")
	}
}

func TestCoordinatorInitializeFailsWhenAnyStoreFails(t *testing.T) {
	vector := &fakeVector{}
	metadata := &fakeMetadata{initErr: errors.New("disk gone")}
	c := NewCoordinator(vector, metadata)

	if err := c.Initialize(context.Background()); err == nil {
		t.Fatal("expected initialization failure")
	}
	if c.Ready() {
		t.Error("coordinator must not report ready after failed init")
	}

	if _, err := c.RetrieveRelevantChunks(context.Background(), "q", 10, 0.1); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

func TestCoordinatorSearchErrorDegradesToEmpty(t *testing.T) {
	vector := &fakeVector{searchErr: errors.New("index offline")}
	c := newTestCoordinator(t, vector, &fakeMetadata{})

	matches, err := c.RetrieveRelevantChunks(context.Background(), "q", 10, 0.1)
	if err != nil {
		t.Fatalf("search error must degrade, got %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected no matches, got %d", len(matches))
	}
}

func TestCoordinatorHydrationErrorDegradesToEmpty(t *testing.T) {
	metadata := &fakeMetadata{fetchErr: errors.New("db locked")}
	c := newTestCoordinator(t, &fakeVector{}, metadata)

	records, err := c.HydrateMetadata(context.Background(), []string{"c1"})
	if err != nil {
		t.Fatalf("hydration error must degrade, got %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func TestCoordinatorGraphDisabledReturnsEmptyContext(t *testing.T) {
	c := newTestCoordinator(t, &fakeVector{}, &fakeMetadata{})

	if c.GraphEnabled() {
		t.Fatal("graph should be disabled without WithGraph")
	}

	graph, err := c.RetrieveGraphContext(context.Background(), "q", []string{"c1"})
	if err != nil {
		t.Fatalf("disabled graph must not error: %v", err)
	}
	if graph == nil || len(graph.Entities) != 0 || len(graph.Relationships) != 0 {
		t.Errorf("expected neutral empty context, got %+v", graph)
	}
}

func TestCoordinatorGraphErrorDegradesToEmptyContext(t *testing.T) {
	graph := &fakeGraph{graphErr: errors.New("bolt handshake failed")}
	c := newTestCoordinator(t, &fakeVector{}, &fakeMetadata{}, WithGraph(graph, 20, 2))

	result, err := c.RetrieveGraphContext(context.Background(), "q", []string{"c1"})
	if err != nil {
		t.Fatalf("graph error must degrade, got %v", err)
	}
	if len(result.Entities) != 0 {
		t.Errorf("expected empty context, got %+v", result)
	}
}

func TestCoordinatorShutdownStopsNewRetrievals(t *testing.T) {
	c := newTestCoordinator(t, &fakeVector{}, &fakeMetadata{})

	c.Shutdown()

	if c.Ready() {
		t.Error("coordinator must not be ready after Shutdown")
	}
	if _, err := c.RetrieveRelevantChunks(context.Background(), "q", 10, 0.1); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("expected ErrShuttingDown, got %v", err)
	}
	if _, err := c.HydrateMetadata(context.Background(), []string{"c1"}); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("expected ErrShuttingDown, got %v", err)
	}
}

func TestCoordinatorCloseIsIndependentPerStore(t *testing.T) {
	vector := &fakeVector{closeErr: errors.New("grpc teardown failed")}
	metadata := &fakeMetadata{}
	graph := &fakeGraph{}
	c := newTestCoordinator(t, vector, metadata, WithGraph(graph, 20, 2))

	err := c.Close()
	if err == nil {
		t.Error("expected the vector close error to surface")
	}
	if !vector.closed || !metadata.closed || !graph.closed {
		t.Errorf("every store must see Close: vector=%v metadata=%v graph=%v",
			vector.closed, metadata.closed, graph.closed)
	}
}

func TestCoordinatorStatisticsKeyedByStore(t *testing.T) {
	c := newTestCoordinator(t, &fakeVector{}, &fakeMetadata{}, WithGraph(&fakeGraph{}, 20, 2))

	snapshots := c.Statistics()
	for _, key := range []string{"vector", "metadata", "graph"} {
		if _, ok := snapshots[key]; !ok {
			t.Errorf("missing statistics for %q", key)
		}
	}
}
