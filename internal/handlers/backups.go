package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type BackupsHandler struct {
	store Store
}

func NewBackupsHandler(store Store) *BackupsHandler {
	return &BackupsHandler{store: store}
}

// List returns the backup registry, newest first.
// GET /api/backups?limit=50
func (h *BackupsHandler) List(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}

	backups, err := h.store.ListBackups(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"backups": backups})
}
