package retrieval

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kb-agent/backend/internal/storage/models"
	"github.com/kb-agent/backend/pkg/logger"
)

// Assemble merges vector matches with their hydrated metadata into one
// ranked, deduplicated context. Pure: no I/O, no shared state.
//
// Matches keep the vector store's own ordering; a match whose chunk has
// no usable record is dropped, not treated as an error. TotalSources
// and SourceTypes are computed over every usable hydrated record, while
// Chunks holds only the survivors of the join.
func Assemble(matches []models.VectorMatch, records []models.ChunkRecord, graph *models.GraphContext) *models.AssembledContext {
	usable := make([]models.ChunkRecord, 0, len(records))
	byID := make(map[string]models.ChunkRecord, len(records))

	for _, record := range records {
		if err := validateRecord(record); err != nil {
			logger.Warn("Excluding chunk record from assembly",
				zap.String("chunk_id", record.ChunkID),
				zap.Error(err),
			)
			continue
		}
		usable = append(usable, record)
		byID[record.ChunkID] = record
	}

	chunks := make([]models.EnrichedChunk, 0, len(matches))
	var scoreSum float64

	for _, match := range matches {
		record, ok := byID[match.ChunkID]
		if !ok {
			continue
		}

		score := match.SimilarityScore
		scoreSum += score

		chunks = append(chunks, models.EnrichedChunk{
			Record:          record,
			VectorScore:     score,
			RelevanceScore:  score,
			RankingPosition: len(chunks) + 1,
		})
	}

	confidence := 0.0
	if len(chunks) > 0 {
		confidence = scoreSum / float64(len(chunks))
	}

	sourceIDs := make(map[string]bool, len(usable))
	typeSet := make(map[models.SourceType]bool)
	sourceTypes := []models.SourceType{}

	for _, record := range usable {
		sourceIDs[record.SourceIdentifier] = true
		if !typeSet[record.SourceType] {
			typeSet[record.SourceType] = true
			sourceTypes = append(sourceTypes, record.SourceType)
		}
	}

	entities := []models.Entity{}
	if graph != nil {
		entities = append(entities, graph.Entities...)
	}

	return &models.AssembledContext{
		Chunks:            chunks,
		KnowledgeEntities: entities,
		TotalSources:      len(sourceIDs),
		ConfidenceScore:   confidence,
		SourceTypes:       sourceTypes,
	}
}

// validateRecord rejects records the pipeline cannot trust: unknown
// status values, missing ingest timestamps, and records the ingestion
// side has not completed.
func validateRecord(record models.ChunkRecord) error {
	if !record.IngestionStatus.Valid() {
		return fmt.Errorf("unknown ingestion status %q", record.IngestionStatus)
	}
	if record.IngestionStatus != models.StatusCompleted {
		return fmt.Errorf("ingestion status %q is not completed", record.IngestionStatus)
	}
	if record.IngestedAt.IsZero() {
		return fmt.Errorf("missing ingestion timestamp")
	}
	return nil
}
