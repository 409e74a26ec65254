package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kb-agent/backend/internal/metrics"
	"github.com/kb-agent/backend/internal/storage/models"
	"github.com/kb-agent/backend/pkg/logger"
)

// Canned degrade messages. This is a conversational surface: the caller
// always gets text, never an error.
const (
	MsgSystemsUnavailable = "I'm sorry, my knowledge systems are not available right now. Please try again in a moment."
	MsgNoResults          = "I couldn't find relevant information in the knowledge base for that question. Would you like me to search the web instead?"
	MsgProcessingError    = "I encountered an error while processing your question. Please try again."
)

const (
	defaultTopK          = 10
	defaultMinSimilarity = 0.1 // noise floor: matches below it are unrelated

	defaultMaxContextChunks  = 8
	defaultMaxDetailedChunks = 3

	highConfidence     = 0.7
	mediumConfidence   = 0.4
	followUpConfidence = 0.5
)

// HistoryWriter persists processed queries for observability. Optional.
type HistoryWriter interface {
	InsertQueryRecord(record *models.QueryRecord) error
	InsertQuerySource(source *models.QuerySource) error
}

// Processor orchestrates one query end to end: search, hydrate, graph
// enrichment, assembly, response formatting. Reentrant: no query-level
// state survives between calls.
type Processor struct {
	coordinator *Coordinator
	history     HistoryWriter

	topK              int
	minSimilarity     float64
	maxContextChunks  int
	maxDetailedChunks int
}

type ProcessorOption func(*Processor)

func WithHistory(history HistoryWriter) ProcessorOption {
	return func(p *Processor) { p.history = history }
}

func WithLimits(topK int, minSimilarity float64, maxContextChunks, maxDetailedChunks int) ProcessorOption {
	return func(p *Processor) {
		if topK > 0 {
			p.topK = topK
		}
		if minSimilarity > 0 {
			p.minSimilarity = minSimilarity
		}
		if maxContextChunks > 0 {
			p.maxContextChunks = maxContextChunks
		}
		if maxDetailedChunks > 0 {
			p.maxDetailedChunks = maxDetailedChunks
		}
	}
}

func NewProcessor(coordinator *Coordinator, opts ...ProcessorOption) *Processor {
	p := &Processor{
		coordinator:       coordinator,
		topK:              defaultTopK,
		minSimilarity:     defaultMinSimilarity,
		maxContextChunks:  defaultMaxContextChunks,
		maxDetailedChunks: defaultMaxDetailedChunks,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

type Request struct {
	Query  string
	UserID string
}

type Response struct {
	ID         string
	Query      string
	Text       string
	Confidence float64
	Sources    []Source
	LatencyMS  int
}

type Source struct {
	ChunkID    string
	SourceType string
	SourceID   string
	Confidence float64
}

// ProcessQuery is the conversational entry point: it always returns a
// response string, converting every failure into one of the canned
// messages.
func (p *Processor) ProcessQuery(ctx context.Context, queryText string) string {
	return p.Process(ctx, Request{Query: queryText}).Text
}

func (p *Processor) Process(ctx context.Context, req Request) (resp *Response) {
	startTime := time.Now()
	queryID := uuid.New().String()
	stage := "searching"

	resp = &Response{
		ID:    queryID,
		Query: req.Query,
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while processing query",
				zap.String("query_id", queryID),
				zap.String("query", req.Query),
				zap.String("stage", stage),
				zap.Any("panic", r),
			)
			metrics.QueryTotal.WithLabelValues("error").Inc()
			resp.Text = MsgProcessingError
			resp.LatencyMS = int(time.Since(startTime).Milliseconds())
		}
	}()

	logger.Info("Processing query",
		zap.String("query_id", queryID),
		zap.String("query", req.Query),
	)

	if !p.coordinator.Ready() {
		metrics.QueryTotal.WithLabelValues("unavailable").Inc()
		resp.Text = MsgSystemsUnavailable
		resp.LatencyMS = int(time.Since(startTime).Milliseconds())
		return resp
	}

	matches, err := p.coordinator.RetrieveRelevantChunks(ctx, req.Query, p.topK, p.minSimilarity)
	if err != nil {
		logger.Warn("Retrieval unavailable", zap.String("query_id", queryID), zap.Error(err))
		metrics.QueryTotal.WithLabelValues("unavailable").Inc()
		resp.Text = MsgSystemsUnavailable
		resp.LatencyMS = int(time.Since(startTime).Milliseconds())
		return resp
	}

	metrics.VectorResultsCount.Observe(float64(len(matches)))

	if len(matches) == 0 {
		metrics.QueryTotal.WithLabelValues("no_results").Inc()
		resp.Text = MsgNoResults
		resp.LatencyMS = int(time.Since(startTime).Milliseconds())
		p.recordHistory(queryID, req, resp, nil, time.Since(startTime))
		return resp
	}

	stage = "hydrating"
	chunkIDs := make([]string, len(matches))
	for i, match := range matches {
		chunkIDs[i] = match.ChunkID
	}

	records, err := p.coordinator.HydrateMetadata(ctx, chunkIDs)
	if err != nil {
		logger.Warn("Hydration unavailable", zap.String("query_id", queryID), zap.Error(err))
		metrics.QueryTotal.WithLabelValues("unavailable").Inc()
		resp.Text = MsgSystemsUnavailable
		resp.LatencyMS = int(time.Since(startTime).Milliseconds())
		return resp
	}

	graphCtx, err := p.coordinator.RetrieveGraphContext(ctx, req.Query, chunkIDs)
	if err != nil {
		// Graph enrichment is optional by contract; degrade to none.
		graphCtx = models.EmptyGraphContext()
	}

	stage = "assembling"
	assembled := Assemble(matches, records, graphCtx)
	assembled.Query = req.Query

	metrics.ConfidenceScore.Observe(assembled.ConfidenceScore)
	metrics.GraphEntitiesCount.Observe(float64(len(assembled.KnowledgeEntities)))

	stage = "responding"
	resp.Text = p.formatResponse(assembled)
	resp.Confidence = assembled.ConfidenceScore
	resp.Sources = sourcesFromContext(assembled)
	resp.LatencyMS = int(time.Since(startTime).Milliseconds())

	metrics.QueryTotal.WithLabelValues("ok").Inc()

	p.recordHistory(queryID, req, resp, assembled, time.Since(startTime))

	logger.Info("Query processed",
		zap.String("query_id", queryID),
		zap.Float64("confidence", assembled.ConfidenceScore),
		zap.Int("chunks", len(assembled.Chunks)),
		zap.Int("latency_ms", resp.LatencyMS),
	)

	return resp
}

// formatResponse renders the assembled context as conversational text.
// At most maxContextChunks chunks are cited and at most
// maxDetailedChunks are spelled out, regardless of how many were
// retrieved.
func (p *Processor) formatResponse(assembled *models.AssembledContext) string {
	var b strings.Builder

	b.WriteString(confidenceTier(assembled.ConfidenceScore))
	b.WriteString("\n")

	cited := assembled.Chunks
	if len(cited) > p.maxContextChunks {
		cited = cited[:p.maxContextChunks]
	}

	detailed := len(cited)
	if detailed > p.maxDetailedChunks {
		detailed = p.maxDetailedChunks
	}

	for i := 0; i < detailed; i++ {
		chunk := cited[i]
		b.WriteString(fmt.Sprintf("\n%d. %s [%s: %s]",
			chunk.RankingPosition,
			chunk.Record.Summary,
			chunk.Record.SourceType,
			chunk.Record.SourceIdentifier,
		))
	}

	if len(cited) > detailed {
		b.WriteString(fmt.Sprintf("\n...and %d more related passages.", len(cited)-detailed))
	}

	if len(assembled.KnowledgeEntities) > 0 {
		names := make([]string, 0, len(assembled.KnowledgeEntities))
		for _, entity := range assembled.KnowledgeEntities {
			names = append(names, entity.Name)
		}
		b.WriteString(fmt.Sprintf("\nRelated concepts: %s.", strings.Join(names, ", ")))
	}

	b.WriteString(fmt.Sprintf("\nThis answer draws on %d distinct sources.", assembled.TotalSources))

	if assembled.ConfidenceScore < followUpConfidence {
		b.WriteString("\nIf this doesn't fully answer your question, I can refine the search or look further afield.")
	}

	return b.String()
}

func confidenceTier(confidence float64) string {
	switch {
	case confidence >= highConfidence:
		return "Based on highly relevant information I found:"
	case confidence >= mediumConfidence:
		return "Based on moderately relevant information I found:"
	default:
		return "I found some potentially related information:"
	}
}

func sourcesFromContext(assembled *models.AssembledContext) []Source {
	sources := make([]Source, 0, len(assembled.Chunks))
	for _, chunk := range assembled.Chunks {
		sources = append(sources, Source{
			ChunkID:    chunk.Record.ChunkID,
			SourceType: string(chunk.Record.SourceType),
			SourceID:   chunk.Record.SourceIdentifier,
			Confidence: chunk.RelevanceScore,
		})
	}
	return sources
}

func (p *Processor) recordHistory(queryID string, req Request, resp *Response, assembled *models.AssembledContext, latency time.Duration) {
	if p.history == nil {
		return
	}

	record := &models.QueryRecord{
		ID:         queryID,
		UserID:     req.UserID,
		QueryText:  req.Query,
		Response:   resp.Text,
		Confidence: resp.Confidence,
		LatencyMS:  int(latency.Milliseconds()),
		CreatedAt:  time.Now(),
	}
	if assembled != nil {
		record.VectorResultsCount = len(resp.Sources)
		record.ChunksAssembled = len(assembled.Chunks)
		record.GraphEntitiesCount = len(assembled.KnowledgeEntities)
	}

	if err := p.history.InsertQueryRecord(record); err != nil {
		logger.Warn("Failed to record query", zap.String("query_id", queryID), zap.Error(err))
		return
	}

	for _, source := range resp.Sources {
		err := p.history.InsertQuerySource(&models.QuerySource{
			QueryID:    queryID,
			SourceType: source.SourceType,
			SourceID:   source.SourceID,
			ChunkID:    source.ChunkID,
			Confidence: source.Confidence,
		})
		if err != nil {
			logger.Warn("Failed to record query source", zap.String("query_id", queryID), zap.Error(err))
		}
	}
}
