package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/credishield/backend/internal/gateway"
	"github.com/credishield/backend/internal/metrics"
	"github.com/credishield/backend/pkg/logger"
)

type AnalyticsHandler struct {
	gateway *gateway.Gateway
}

func NewAnalyticsHandler(gw *gateway.Gateway) *AnalyticsHandler {
	return &AnalyticsHandler{gateway: gw}
}

// HandleAnalytics serves the daily risk trend report. The summary is
// recomputed from the store on every call; a failure returns an error
// status, never a partial trend list.
func (h *AnalyticsHandler) HandleAnalytics(c *fiber.Ctx) error {
	summary, err := h.gateway.Trends()
	if err != nil {
		metrics.AnalyticsRequests.WithLabelValues("error").Inc()
		logger.Error("Failed to compute trends", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to compute analytics",
		})
	}

	metrics.AnalyticsRequests.WithLabelValues("success").Inc()
	return c.JSON(summary)
}
