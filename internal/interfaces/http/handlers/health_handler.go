package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relaygate/relaygate/internal/infrastructure/llm"
)

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	checks   func() map[string]string
	provider string // primary provider identifier
}

// NewHealthHandler creates the handler. checks is queried per probe so
// hot-reloaded dispatchers report their own breakers.
func NewHealthHandler(checks func() map[string]string, provider string) *HealthHandler {
	return &HealthHandler{checks: checks, provider: provider}
}

// Live reports process liveness.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready reports dispatch readiness: the primary provider, every known
// breaker's state, and memory store connectivity. An open breaker or a
// failing store degrades the status without failing the probe, since the
// fallback path may still serve traffic.
func (h *HealthHandler) Ready(c *gin.Context) {
	checks := h.checks()

	status := "ok"
	for _, state := range checks {
		if state == llm.CircuitOpen.String() || state == "error" {
			status = "degraded"
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"provider": h.provider,
		"checks":   checks,
	})
}
