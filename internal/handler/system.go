package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/miniman-dev/miniman/internal/docker"
	"github.com/miniman-dev/miniman/internal/runtime"
)

// SystemHandler exposes daemon health and engine info.
type SystemHandler struct {
	client *docker.Client
	health *runtime.Health
}

// NewSystemHandler creates a SystemHandler.
func NewSystemHandler(client *docker.Client, health *runtime.Health) *SystemHandler {
	return &SystemHandler{client: client, health: health}
}

// Health reports whether the container runtime is reachable. The cached
// verdict is served unless force=true bypasses it.
func (h *SystemHandler) Health(c *gin.Context) {
	force := c.DefaultQuery("force", "false") == "true"
	healthy := h.health.Healthy(force)
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"healthy": healthy})
}

// Info returns engine-level information.
func (h *SystemHandler) Info(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	info, err := h.client.Info(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}
