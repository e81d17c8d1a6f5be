package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/miniman-dev/miniman/internal/service"
)

// StackHandler exposes stack management endpoints.
type StackHandler struct {
	svc *service.StackService
}

// NewStackHandler creates a StackHandler.
func NewStackHandler(svc *service.StackService) *StackHandler {
	return &StackHandler{svc: svc}
}

type createStackRequest struct {
	Name        string `json:"name" binding:"required,min=1,max=64"`
	Description string `json:"description"`
	SourceURL   string `json:"source_url" binding:"required,url"`
}

// List returns all stacks with live status.
func (h *StackHandler) List(c *gin.Context) {
	stacks, err := h.svc.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stacks": stacks})
}

// Get returns a single stack with live status.
func (h *StackHandler) Get(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		return
	}
	stack, err := h.svc.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Stack not found"})
		return
	}
	c.JSON(http.StatusOK, stack)
}

// Create registers a new stack from a descriptor URL.
func (h *StackHandler) Create(c *gin.Context) {
	var req createStackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	stack, err := h.svc.Create(req.Name, req.Description, req.SourceURL)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, service.ErrStackExists) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Stack created", "stack": stack})
}

// Delete tears down and removes a stack.
func (h *StackHandler) Delete(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		return
	}
	if err := h.svc.Delete(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Stack deleted"})
}

// Containers returns the stack's container mirror rows.
func (h *StackHandler) Containers(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		return
	}
	rows, err := h.svc.Containers(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"containers": rows})
}

// Up starts a stack in the background.
func (h *StackHandler) Up(c *gin.Context) {
	h.verb(c, h.svc.Up, "Stack deployment started")
}

// Down stops a stack in the background.
func (h *StackHandler) Down(c *gin.Context) {
	h.verb(c, h.svc.Down, "Stack shutdown started")
}

// Restart restarts a stack in the background.
func (h *StackHandler) Restart(c *gin.Context) {
	h.verb(c, h.svc.Restart, "Stack restart started")
}

// Pull refreshes a stack's images in the background.
func (h *StackHandler) Pull(c *gin.Context) {
	h.verb(c, h.svc.Pull, "Image pull started")
}

func (h *StackHandler) verb(c *gin.Context, fn func(uint) (uint, error), message string) {
	id, err := parseID(c)
	if err != nil {
		return
	}
	opID, err := fn(id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrStackBusy) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "message": message, "operation_id": opID})
}

// Logs returns recent aggregated service logs for a stack.
func (h *StackHandler) Logs(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		return
	}
	tail, _ := strconv.Atoi(c.DefaultQuery("tail", "200"))
	logs, err := h.svc.Logs(id, tail)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// CheckUpdates compares the stored descriptor against its source.
func (h *StackHandler) CheckUpdates(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		return
	}
	changed, err := h.svc.CheckForUpdates(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "update_available": changed})
}

// UpdateDescriptor replaces the stored descriptor with its source's content.
func (h *StackHandler) UpdateDescriptor(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		return
	}
	if err := h.svc.UpdateDescriptor(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Descriptor updated"})
}

func parseID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, err
	}
	return uint(id), nil
}
