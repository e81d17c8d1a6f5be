package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/miniman-dev/miniman/internal/docker"
	"github.com/miniman-dev/miniman/internal/reconcile"
)

// VolumeHandler exposes volume management endpoints.
type VolumeHandler struct {
	mgr        *docker.VolumeManager
	reconciler *reconcile.Reconciler
	logger     *slog.Logger
}

// NewVolumeHandler creates a VolumeHandler.
func NewVolumeHandler(mgr *docker.VolumeManager, reconciler *reconcile.Reconciler, logger *slog.Logger) *VolumeHandler {
	return &VolumeHandler{mgr: mgr, reconciler: reconciler, logger: logger}
}

// List enumerates volumes and refreshes the mirror.
func (h *VolumeHandler) List(c *gin.Context) {
	volumes, err := h.mgr.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.reconciler.Volumes(volumes); err != nil {
		h.logger.Warn("volume mirror refresh failed", "err", err)
	}
	c.JSON(http.StatusOK, gin.H{"volumes": volumes})
}

// Inspect returns the full daemon-side detail for one volume.
func (h *VolumeHandler) Inspect(c *gin.Context) {
	details, found := h.mgr.Inspect(c.Param("name"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Volume not found"})
		return
	}
	c.JSON(http.StatusOK, details)
}

// Create creates a volume.
func (h *VolumeHandler) Create(c *gin.Context) {
	var req struct {
		Name   string            `json:"name" binding:"required"`
		Driver string            `json:"driver"`
		Labels map[string]string `json:"labels"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.mgr.Create(req.Name, req.Driver, req.Labels); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Volume created"})
}

// Remove removes a volume.
func (h *VolumeHandler) Remove(c *gin.Context) {
	force := c.DefaultQuery("force", "false") == "true"
	if _, err := h.mgr.Remove(c.Param("name"), force); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Volume removed"})
}
