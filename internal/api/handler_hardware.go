package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"office-queue-backend/internal/fusion"
	"office-queue-backend/internal/orchestrator"
)

// PostPress reports a physical button press at the door. The bridge on the
// door controller is the only expected caller.
func (h *Handler) PostPress(c *gin.Context) {
	res, err := h.orch.SubmitWait(c.Request.Context(), orchestrator.Trigger{
		Kind: orchestrator.TriggerDirectPress,
	})
	if err != nil {
		fail(c, err)
		return
	}
	if res.Err != nil {
		fail(c, res.Err)
		return
	}
	c.Status(http.StatusNoContent)
}

type sensorSampleRequest struct {
	Kind       string  `json:"kind" binding:"required"`
	Motion     bool    `json:"motion"`
	DistanceCM float64 `json:"distance_cm"`
	Error      string  `json:"error"`
}

// PostSensorSample ingests one raw sensor reading. Samples are timestamped
// on arrival and evaluated at the next tick, so this always returns fast.
func (h *Handler) PostSensorSample(c *gin.Context) {
	var req sensorSampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind := fusion.Kind(req.Kind)
	if kind != fusion.KindPIR && kind != fusion.KindUltrasonic {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be pir or ultrasonic"})
		return
	}

	h.orch.ApplySample(fusion.Sample{
		Kind:       kind,
		At:         time.Now(),
		Motion:     req.Motion,
		DistanceCM: req.DistanceCM,
		Err:        req.Error,
	})
	c.Status(http.StatusAccepted)
}
