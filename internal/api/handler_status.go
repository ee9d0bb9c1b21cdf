package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"office-queue-backend/internal/orchestrator"
)

// GetStatus returns the latest published system snapshot.
func (h *Handler) GetStatus(c *gin.Context) {
	snap := h.orch.Snapshot()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "system is starting up"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetQueue returns the open queue portion of the snapshot.
func (h *Handler) GetQueue(c *gin.Context) {
	snap := h.orch.Snapshot()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "system is starting up"})
		return
	}
	queue := snap.Queue
	if queue == nil {
		queue = []orchestrator.QueueItem{}
	}
	c.JSON(http.StatusOK, gin.H{
		"at":         snap.At,
		"state":      snap.State,
		"queue_size": snap.QueueSize,
		"queue":      queue,
	})
}

// GetStats returns the aggregated usage statistics for one day. The day
// defaults to today and accepts ?date=YYYY-MM-DD.
func (h *Handler) GetStats(c *gin.Context) {
	day := time.Now()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}

	stats, err := h.store.DailyStats(c.Request.Context(), day)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
