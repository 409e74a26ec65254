package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kb-agent/backend/internal/retrieval"
)

// StatsHandler surfaces the per-store adapter counters. Observability
// only; nothing branches on these numbers.
type StatsHandler struct {
	coordinator *retrieval.Coordinator
}

func NewStatsHandler(coordinator *retrieval.Coordinator) *StatsHandler {
	return &StatsHandler{coordinator: coordinator}
}

func (h *StatsHandler) HandleStats(c *fiber.Ctx) error {
	snapshots := h.coordinator.Statistics()

	stores := make(fiber.Map, len(snapshots))
	for name, s := range snapshots {
		stores[name] = fiber.Map{
			"queries":         s.Queries,
			"items_returned":  s.ItemsReturned,
			"avg_latency_ms":  s.AvgLatencyMS,
			"items_per_query": s.ItemsPerQuery,
		}
	}

	return c.JSON(fiber.Map{
		"ready":  h.coordinator.Ready(),
		"stores": stores,
	})
}
