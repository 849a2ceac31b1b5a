package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"dexstats/internal/entity"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StatsProvider is the orchestrator surface the handlers need.
type StatsProvider interface {
	GetStats(ctx context.Context, chainID int64) (*entity.StatsResponse, error)
}

// StatsHandler serves the chain statistics endpoints.
type StatsHandler struct {
	provider StatsProvider
	logger   *zap.Logger
}

// NewStatsHandler returns the handler.
func NewStatsHandler(provider StatsProvider, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{provider: provider, logger: logger.Named("StatsHandler")}
}

// GetStats handles GET /api/v1/stats/:chainID.
func (h *StatsHandler) GetStats(c *gin.Context) {
	chainID, err := strconv.ParseInt(c.Param("chainID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chain id"})
		return
	}

	stats, err := h.provider.GetStats(c.Request.Context(), chainID)
	if err != nil {
		if strings.Contains(err.Error(), "unsupported chain") {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to get stats", zap.Int64("chainID", chainID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats computation failed"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Health handles GET /health.
func (h *StatsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
