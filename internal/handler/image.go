package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/miniman-dev/miniman/internal/docker"
	"github.com/miniman-dev/miniman/internal/events"
	"github.com/miniman-dev/miniman/internal/oplog"
	"github.com/miniman-dev/miniman/internal/reconcile"
	"github.com/miniman-dev/miniman/internal/tasks"
	"gorm.io/gorm"
)

// ImageHandler exposes image management endpoints.
type ImageHandler struct {
	mgr        *docker.ImageManager
	reconciler *reconcile.Reconciler
	db         *gorm.DB
	bus        *events.Bus
	spawner    *tasks.Spawner
	logger     *slog.Logger
}

// NewImageHandler creates an ImageHandler.
func NewImageHandler(mgr *docker.ImageManager, reconciler *reconcile.Reconciler,
	db *gorm.DB, bus *events.Bus, spawner *tasks.Spawner, logger *slog.Logger) *ImageHandler {
	return &ImageHandler{mgr: mgr, reconciler: reconciler, db: db, bus: bus, spawner: spawner, logger: logger}
}

// List enumerates local images and refreshes the mirror.
func (h *ImageHandler) List(c *gin.Context) {
	images, err := h.mgr.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.reconciler.Images(images); err != nil {
		h.logger.Warn("image mirror refresh failed", "err", err)
	}
	c.JSON(http.StatusOK, gin.H{"images": images})
}

// Inspect returns the full daemon-side detail for one image.
func (h *ImageHandler) Inspect(c *gin.Context) {
	details, found := h.mgr.Inspect(c.Param("id"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Image not found"})
		return
	}
	c.JSON(http.StatusOK, details)
}

// Pull pulls an image in the background, recording progress in an operation
// log that subscribers can follow live.
func (h *ImageHandler) Pull(c *gin.Context) {
	var req struct {
		Image string `json:"image" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := oplog.Begin(h.db, h.bus, h.logger, "image_pull", oplog.Target{ImageName: req.Image})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}

	h.spawner.Spawn(func() {
		out, opErr := h.mgr.Pull(req.Image, rec)
		rec.Complete(out, opErr)
		if listing, err := h.mgr.List(); err == nil {
			if _, err := h.reconciler.Images(listing); err != nil {
				h.logger.Warn("image mirror refresh after pull failed", "err", err)
			}
		}
	})
	c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "Image pull started", "operation_id": rec.ID()})
}

// Build builds an image from a local directory in the background.
func (h *ImageHandler) Build(c *gin.Context) {
	var req struct {
		Dir string `json:"dir" binding:"required"`
		Tag string `json:"tag" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := oplog.Begin(h.db, h.bus, h.logger, "image_build", oplog.Target{ImageName: req.Tag})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}

	h.spawner.Spawn(func() {
		out, opErr := h.mgr.Build(req.Dir, req.Tag, rec)
		rec.Complete(out, opErr)
	})
	c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "Image build started", "operation_id": rec.ID()})
}

// Remove removes an image.
func (h *ImageHandler) Remove(c *gin.Context) {
	force := c.DefaultQuery("force", "false") == "true"
	if _, err := h.mgr.Remove(c.Param("id"), force); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Image removed"})
}
