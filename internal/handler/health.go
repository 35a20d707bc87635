package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"talkingrock/internal/ai"
	"talkingrock/internal/model"
)

// HealthHandler reports process and model-backend health
type HealthHandler struct {
	backend ai.Backend
	started time.Time
}

// NewHealthHandler creates the health handler
func NewHealthHandler(backend ai.Backend) *HealthHandler {
	return &HealthHandler{
		backend: backend,
		started: time.Now(),
	}
}

// Health handles GET /health. The process answers even when the model
// backend is down; the body then reports degraded.
func (h *HealthHandler) Health(c *gin.Context) {
	modelsLoaded := h.backend.Healthy(c.Request.Context())

	status := "healthy"
	if !modelsLoaded {
		status = "degraded"
	}

	c.JSON(http.StatusOK, model.HealthResponse{
		Status:        status,
		ModelsLoaded:  modelsLoaded,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	})
}
