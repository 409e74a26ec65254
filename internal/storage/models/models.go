package models

import "time"

// SourceType is the origin category of an ingested chunk.
type SourceType string

const (
	SourceRepository SourceType = "repository"
	SourceDrive      SourceType = "drive"
	SourceWeb        SourceType = "web"
)

// IngestionStatus is the lifecycle marker written by the ingestion side.
// Records that are not StatusCompleted are treated as unreliable.
type IngestionStatus string

const (
	StatusPending   IngestionStatus = "pending"
	StatusCompleted IngestionStatus = "completed"
	StatusFailed    IngestionStatus = "failed"
)

func (s IngestionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ChunkRecord is the metadata row for one ingested chunk. Read-only to
// this service; the ingestion pipeline owns writes.
type ChunkRecord struct {
	ChunkID              string
	SourceType           SourceType
	SourceIdentifier     string
	Summary              string
	Metadata             map[string]string
	IngestedAt           time.Time
	SourceLastModifiedAt *time.Time
	ContentHash          string
	IngestionStatus      IngestionStatus
}

// VectorMatch is one similarity hit for a single query. Scores are only
// comparable within the query that produced them.
type VectorMatch struct {
	ChunkID         string
	SimilarityScore float64
	DistanceMetric  string
	Fields          map[string]string
}

// EnrichedChunk joins a ChunkRecord with its vector match. RelevanceScore
// currently mirrors VectorScore; it is a separate field so a re-ranking
// stage can diverge later.
type EnrichedChunk struct {
	Record          ChunkRecord
	VectorScore     float64
	RelevanceScore  float64
	RankingPosition int
}

// AssembledContext is the unit handed to answer formatting. Built fresh
// per query, never cached or mutated after the response is produced.
type AssembledContext struct {
	Query             string
	Chunks            []EnrichedChunk
	KnowledgeEntities []Entity
	TotalSources      int
	ConfidenceScore   float64
	SourceTypes       []SourceType
}

// Entity is a knowledge-graph node touching one or more chunks.
type Entity struct {
	ID              string
	EntityType      string
	Name            string
	Description     string
	SourceChunks    []string
	ConfidenceScore float64
}

// Relationship is a directed edge between two graph entities.
type Relationship struct {
	ID               string
	FromEntity       string
	ToEntity         string
	RelationshipType string
	Description      string
	SourceChunks     []string
	ConfidenceScore  float64
}

// GraphContext is the graph store's read result for a set of chunks.
type GraphContext struct {
	Entities      []Entity
	Relationships []Relationship
}

// EmptyGraphContext is the neutral result used when the graph store is
// disabled or returned nothing. Callers treat it as a normal value.
func EmptyGraphContext() *GraphContext {
	return &GraphContext{
		Entities:      []Entity{},
		Relationships: []Relationship{},
	}
}

type QueryRecord struct {
	ID                 string
	UserID             string
	QueryText          string
	Response           string
	Confidence         float64
	VectorResultsCount int
	ChunksAssembled    int
	GraphEntitiesCount int
	LatencyMS          int
	CreatedAt          time.Time
}

type QuerySource struct {
	ID         int
	QueryID    string
	SourceType string
	SourceID   string
	ChunkID    string
	Confidence float64
}

type Feedback struct {
	ID            int
	QueryID       string
	Helpful       bool
	IssueCategory string
	Comment       string
	CreatedAt     time.Time
}
