package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"office-queue-backend/internal/orchestrator"
	"office-queue-backend/internal/parse"
)

type bookingRequest struct {
	UserCode string `json:"user_code" binding:"required"`
}

// PostBooking enqueues a reservation for a user. When the office is free
// and the queue empty, the user is admitted immediately.
func (h *Handler) PostBooking(c *gin.Context) {
	var req bookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	code, err := parse.UserCode(req.UserCode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.orch.SubmitWait(c.Request.Context(), orchestrator.Trigger{
		Kind:     orchestrator.TriggerBooking,
		UserCode: code,
	})
	if err != nil {
		fail(c, err)
		return
	}
	if res.Err != nil {
		fail(c, res.Err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"entry_id":               res.EntryID,
		"position":               res.Position,
		"estimated_wait_minutes": res.EstimatedWaitMinutes,
	})
}

// DeleteBooking cancels a user's open reservation.
func (h *Handler) DeleteBooking(c *gin.Context) {
	var req bookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	code, err := parse.UserCode(req.UserCode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.orch.SubmitWait(c.Request.Context(), orchestrator.Trigger{
		Kind:     orchestrator.TriggerCancelBooking,
		UserCode: code,
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

type replaceBookingRequest struct {
	UserCode    string `json:"user_code" binding:"required"`
	NewUserCode string `json:"new_user_code" binding:"required"`
}

// PostReplaceBooking hands an open queue slot to another user without
// losing its position.
func (h *Handler) PostReplaceBooking(c *gin.Context) {
	var req replaceBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	code, err := parse.UserCode(req.UserCode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	newCode, err := parse.UserCode(req.NewUserCode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.orch.SubmitWait(c.Request.Context(), orchestrator.Trigger{
		Kind:        orchestrator.TriggerReplaceBooking,
		UserCode:    code,
		NewUserCode: newCode,
	})
	if err != nil {
		fail(c, err)
		return
	}
	if res.Err != nil {
		fail(c, res.Err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entry_id": res.EntryID,
		"position": res.Position,
	})
}
