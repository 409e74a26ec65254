package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kb-agent/backend/internal/cache/redis"
	"github.com/kb-agent/backend/internal/metrics"
	"github.com/kb-agent/backend/internal/retrieval"
	"github.com/kb-agent/backend/internal/storage/sqlite"
	"github.com/kb-agent/backend/pkg/logger"
	"github.com/kb-agent/backend/pkg/utils"
)

type QueryHandler struct {
	processor *retrieval.Processor
	db        *sqlite.Client
	cache     *redis.Client // nil when caching is disabled
	cacheTTL  time.Duration
}

func NewQueryHandler(processor *retrieval.Processor, db *sqlite.Client, cache *redis.Client, cacheTTL time.Duration) *QueryHandler {
	return &QueryHandler{
		processor: processor,
		db:        db,
		cache:     cache,
		cacheTTL:  cacheTTL,
	}
}

type queryResponseBody struct {
	ID         string             `json:"id"`
	Query      string             `json:"query"`
	Response   string             `json:"response"`
	Confidence float64            `json:"confidence"`
	Sources    []retrieval.Source `json:"sources"`
	LatencyMS  int                `json:"latency_ms"`
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req struct {
		Query  string `json:"query"`
		UserID string `json:"user_id"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}

	start := time.Now()
	queryHash := utils.HashString(req.Query)

	if h.cache != nil {
		var cached queryResponseBody
		hit, err := h.cache.GetResponse(c.Context(), queryHash, &cached)
		if err != nil {
			logger.Warn("Cache lookup failed", zap.Error(err))
		}
		if hit {
			metrics.CacheHits.WithLabelValues("response").Inc()
			return c.JSON(cached)
		}
		metrics.CacheMisses.WithLabelValues("response").Inc()
	}

	response := h.processor.Process(c.Context(), retrieval.Request{
		Query:  req.Query,
		UserID: req.UserID,
	})

	metrics.QueryDuration.WithLabelValues("http").Observe(time.Since(start).Seconds())

	body := queryResponseBody{
		ID:         response.ID,
		Query:      response.Query,
		Response:   response.Text,
		Confidence: response.Confidence,
		Sources:    response.Sources,
		LatencyMS:  response.LatencyMS,
	}

	if h.cache != nil && len(response.Sources) > 0 {
		if err := h.cache.SetResponse(c.Context(), queryHash, body, h.cacheTTL); err != nil {
			logger.Warn("Failed to cache response", zap.Error(err))
		}
	}

	return c.JSON(body)
}

func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_id is required",
		})
	}

	limit := c.QueryInt("limit", 20)

	records, err := h.db.GetQueryHistory(userID, limit)
	if err != nil {
		logger.Error("Failed to load query history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load query history",
		})
	}

	history := make([]fiber.Map, 0, len(records))
	for _, r := range records {
		history = append(history, fiber.Map{
			"id":         r.ID,
			"query":      r.QueryText,
			"response":   r.Response,
			"confidence": r.Confidence,
			"created_at": r.CreatedAt.Unix(),
		})
	}

	return c.JSON(fiber.Map{
		"history": history,
	})
}
