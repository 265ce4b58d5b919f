package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/busimap/stackops/internal/history"
)

type RunsHandler struct {
	store Store
}

func NewRunsHandler(store Store) *RunsHandler {
	return &RunsHandler{store: store}
}

// List returns recent pipeline runs, newest first.
// GET /api/runs?limit=20
func (h *RunsHandler) List(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}

	runs, err := h.store.ListRuns(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// Get returns one run with its full stage trail.
// GET /api/runs/:id
func (h *RunsHandler) Get(c *gin.Context) {
	run, err := h.store.GetRun(c.Param("id"))
	if err != nil {
		if errors.Is(err, history.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}
