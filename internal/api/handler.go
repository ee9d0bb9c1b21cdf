package api

import (
	"errors"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"office-queue-backend/internal/orchestrator"
	"office-queue-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store   store.Store
	orch    *orchestrator.Orchestrator
	webpush *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, orch *orchestrator.Orchestrator, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		store:   s,
		orch:    orch,
		webpush: webpushOptions,
	}
}

// fail maps domain errors onto HTTP status codes and writes the standard
// error envelope.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrUnknownUser),
		errors.Is(err, store.ErrEntryNotFound),
		errors.Is(err, store.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateUser),
		errors.Is(err, store.ErrQueueFull),
		errors.Is(err, orchestrator.ErrOccupied),
		errors.Is(err, orchestrator.ErrReserved):
		status = http.StatusConflict
	case errors.Is(err, orchestrator.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
