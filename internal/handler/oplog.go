package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/miniman-dev/miniman/internal/oplog"
	"gorm.io/gorm"
)

// OperationHandler exposes the durable operation log.
type OperationHandler struct {
	db *gorm.DB
}

// NewOperationHandler creates an OperationHandler.
func NewOperationHandler(db *gorm.DB) *OperationHandler {
	return &OperationHandler{db: db}
}

// List returns recent operations, newest first.
func (h *OperationHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := oplog.List(h.db, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"operations": records})
}

// Get returns one operation record, including its full log text.
func (h *OperationHandler) Get(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		return
	}
	record, err := oplog.Get(h.db, id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Operation not found"})
		return
	}
	c.JSON(http.StatusOK, record)
}
