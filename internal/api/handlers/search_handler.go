package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kb-agent/backend/internal/metrics"
	"github.com/kb-agent/backend/internal/search/web"
	"github.com/kb-agent/backend/pkg/logger"
)

// SearchHandler exposes the web-search fallback as its own tool, the
// one the "search the web instead" offer refers to.
type SearchHandler struct {
	client     *web.Client
	maxResults int
}

func NewSearchHandler(client *web.Client, maxResults int) *SearchHandler {
	return &SearchHandler{
		client:     client,
		maxResults: maxResults,
	}
}

func (h *SearchHandler) HandleSearch(c *fiber.Ctx) error {
	query := c.Query("q")
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "q is required",
		})
	}

	metrics.WebSearchTotal.Inc()

	results, err := h.client.Search(c.Context(), query, h.maxResults)
	if err != nil {
		logger.Error("Web search failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Web search failed",
		})
	}

	items := make([]fiber.Map, 0, len(results))
	for _, r := range results {
		items = append(items, fiber.Map{
			"title":   r.Title,
			"url":     r.URL,
			"snippet": r.Snippet,
		})
	}

	return c.JSON(fiber.Map{
		"query":   query,
		"results": items,
	})
}
