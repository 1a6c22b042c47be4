package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relaygate/relaygate/internal/domain/routing"
	"github.com/relaygate/relaygate/internal/infrastructure/metrics"
)

// DebugHandler exposes recent routing decisions and dispatch statistics.
type DebugHandler struct {
	decisions *routing.DecisionLog
	collector *metrics.Collector
}

// NewDebugHandler creates the handler.
func NewDebugHandler(decisions *routing.DecisionLog, collector *metrics.Collector) *DebugHandler {
	return &DebugHandler{decisions: decisions, collector: collector}
}

// Decisions returns the most recent routing decisions, newest first.
func (h *DebugHandler) Decisions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"decisions": h.decisions.Recent()})
}

// Stats returns the collector's snapshot.
func (h *DebugHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.collector.Snapshot())
}
