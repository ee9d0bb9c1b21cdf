package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"office-queue-backend/internal/fusion"
	"office-queue-backend/internal/orchestrator"
)

// admin dispatches one admin operation through the run loop.
func (h *Handler) admin(c *gin.Context, op orchestrator.AdminOp, cfg *orchestrator.Tunables) {
	res, err := h.orch.SubmitWait(c.Request.Context(), orchestrator.Trigger{
		Kind:   orchestrator.TriggerAdmin,
		Admin:  op,
		Config: cfg,
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

// PostForceUnlock terminates the active session, if any.
func (h *Handler) PostForceUnlock(c *gin.Context) {
	h.admin(c, orchestrator.AdminForceUnlock, nil)
}

// PostReset clears the queue, closes the session and returns to FREE. It is
// also the way out of SYSTEM_ERROR after a persistence fault.
func (h *Handler) PostReset(c *gin.Context) {
	h.admin(c, orchestrator.AdminReset, nil)
}

// PostClearQueue cancels every open queue entry.
func (h *Handler) PostClearQueue(c *gin.Context) {
	h.admin(c, orchestrator.AdminClearQueue, nil)
}

type maintenanceRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// PostMaintenance toggles maintenance mode.
func (h *Handler) PostMaintenance(c *gin.Context) {
	var req maintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	op := orchestrator.AdminMaintenanceOff
	if *req.Enabled {
		op = orchestrator.AdminMaintenanceOn
	}
	h.admin(c, op, nil)
}

// configPayload is the JSON mirror of the runtime tunables, in the same
// units the settings table uses. Absent fields keep their current value.
type configPayload struct {
	ReservationTimeoutMinutes *int     `json:"reservation_timeout_minutes,omitempty"`
	MaxOccupancyMinutes       *int     `json:"max_occupancy_minutes,omitempty"`
	MaxQueueSize              *int     `json:"max_queue_size,omitempty"`
	ConflictPriority          *string  `json:"conflict_priority,omitempty"`
	AutoResetTime             *string  `json:"auto_reset_time,omitempty"`
	PIRAbsenceSeconds         *int     `json:"pir_absence_seconds,omitempty"`
	MovementTimeoutMinutes    *int     `json:"movement_timeout_minutes,omitempty"`
	PresenceThresholdCM       *float64 `json:"presence_threshold_cm,omitempty"`
	DualSensorMode            *string  `json:"dual_sensor_mode,omitempty"`
	SampleMaxAgeSeconds       *int     `json:"sample_max_age_seconds,omitempty"`
	OrphanEntryAgeMinutes     *int     `json:"orphan_entry_age_minutes,omitempty"`
}

func payloadFrom(t orchestrator.Tunables) configPayload {
	reservation := int(t.ReservationTimeout.Minutes())
	occupancy := int(t.MaxOccupancy.Minutes())
	queueSize := t.MaxQueueSize
	priority := string(t.ConflictPriority)
	reset := t.AutoResetTime
	absence := int(t.PIRAbsence.Seconds())
	movement := int(t.MovementTimeout.Minutes())
	threshold := t.PresenceThresholdCM
	mode := string(t.FusionMode)
	maxAge := int(t.SampleMaxAge.Seconds())
	orphan := int(t.OrphanEntryAge.Minutes())
	return configPayload{
		ReservationTimeoutMinutes: &reservation,
		MaxOccupancyMinutes:       &occupancy,
		MaxQueueSize:              &queueSize,
		ConflictPriority:          &priority,
		AutoResetTime:             &reset,
		PIRAbsenceSeconds:         &absence,
		MovementTimeoutMinutes:    &movement,
		PresenceThresholdCM:       &threshold,
		DualSensorMode:            &mode,
		SampleMaxAgeSeconds:       &maxAge,
		OrphanEntryAgeMinutes:     &orphan,
	}
}

func (p configPayload) overlay(t orchestrator.Tunables) orchestrator.Tunables {
	if p.ReservationTimeoutMinutes != nil {
		t.ReservationTimeout = time.Duration(*p.ReservationTimeoutMinutes) * time.Minute
	}
	if p.MaxOccupancyMinutes != nil {
		t.MaxOccupancy = time.Duration(*p.MaxOccupancyMinutes) * time.Minute
	}
	if p.MaxQueueSize != nil {
		t.MaxQueueSize = *p.MaxQueueSize
	}
	if p.ConflictPriority != nil {
		t.ConflictPriority = orchestrator.Priority(*p.ConflictPriority)
	}
	if p.AutoResetTime != nil {
		t.AutoResetTime = *p.AutoResetTime
	}
	if p.PIRAbsenceSeconds != nil {
		t.PIRAbsence = time.Duration(*p.PIRAbsenceSeconds) * time.Second
	}
	if p.MovementTimeoutMinutes != nil {
		t.MovementTimeout = time.Duration(*p.MovementTimeoutMinutes) * time.Minute
	}
	if p.PresenceThresholdCM != nil {
		t.PresenceThresholdCM = *p.PresenceThresholdCM
	}
	if p.DualSensorMode != nil {
		t.FusionMode = fusion.Mode(*p.DualSensorMode)
	}
	if p.SampleMaxAgeSeconds != nil {
		t.SampleMaxAge = time.Duration(*p.SampleMaxAgeSeconds) * time.Second
	}
	if p.OrphanEntryAgeMinutes != nil {
		t.OrphanEntryAge = time.Duration(*p.OrphanEntryAgeMinutes) * time.Minute
	}
	return t
}

// GetConfig returns the active runtime configuration.
func (h *Handler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, payloadFrom(h.orch.CurrentTunables()))
}

// PutConfig updates the runtime configuration. Fields left out keep their
// current values; the whole result is validated before it is applied.
func (h *Handler) PutConfig(c *gin.Context) {
	var req configPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	next := req.overlay(h.orch.CurrentTunables())
	if err := next.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.orch.SubmitWait(c.Request.Context(), orchestrator.Trigger{
		Kind:   orchestrator.TriggerAdmin,
		Admin:  orchestrator.AdminUpdateConfig,
		Config: &next,
	})
	if err != nil {
		fail(c, err)
		return
	}
	if res.Err != nil {
		fail(c, res.Err)
		return
	}
	c.JSON(http.StatusOK, payloadFrom(next))
}
