package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/miniman-dev/miniman/internal/docker"
	"github.com/miniman-dev/miniman/internal/reconcile"
)

// NetworkHandler exposes network management endpoints.
type NetworkHandler struct {
	mgr        *docker.NetworkManager
	reconciler *reconcile.Reconciler
	logger     *slog.Logger
}

// NewNetworkHandler creates a NetworkHandler.
func NewNetworkHandler(mgr *docker.NetworkManager, reconciler *reconcile.Reconciler, logger *slog.Logger) *NetworkHandler {
	return &NetworkHandler{mgr: mgr, reconciler: reconciler, logger: logger}
}

// List enumerates networks and refreshes the mirror.
func (h *NetworkHandler) List(c *gin.Context) {
	networks, err := h.mgr.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.reconciler.Networks(networks); err != nil {
		h.logger.Warn("network mirror refresh failed", "err", err)
	}
	c.JSON(http.StatusOK, gin.H{"networks": networks})
}

// Inspect returns the full daemon-side detail for one network.
func (h *NetworkHandler) Inspect(c *gin.Context) {
	details, found := h.mgr.Inspect(c.Param("id"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Network not found"})
		return
	}
	c.JSON(http.StatusOK, details)
}

// Create creates a network. Subnet and gateway are optional.
func (h *NetworkHandler) Create(c *gin.Context) {
	var req struct {
		Name    string `json:"name" binding:"required"`
		Driver  string `json:"driver"`
		Subnet  string `json:"subnet"`
		Gateway string `json:"gateway"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.mgr.Create(req.Name, req.Driver, req.Subnet, req.Gateway); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Network created"})
}

// Remove removes a network.
func (h *NetworkHandler) Remove(c *gin.Context) {
	if _, err := h.mgr.Remove(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Network removed"})
}

// Connect connects a container to a network.
func (h *NetworkHandler) Connect(c *gin.Context) {
	var req struct {
		ContainerID string `json:"container_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.mgr.Connect(req.ContainerID, c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Container connected"})
}

// Disconnect disconnects a container from a network.
func (h *NetworkHandler) Disconnect(c *gin.Context) {
	var req struct {
		ContainerID string `json:"container_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.mgr.Disconnect(req.ContainerID, c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Container disconnected"})
}
