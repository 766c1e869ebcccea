package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/PratikDhanave/exposure-ingest/internal/ingest"
	"github.com/PratikDhanave/exposure-ingest/internal/models"
)

// RegisterEventRoutes registers the pre-transformed event endpoint.
//
// POST /events
// - Body: one canonical exposure event, strict schema (unknown fields rejected)
// - Durable: returns success only after the DB write completes
// - Idempotent: replays detected via the event_id primary key
func RegisterEventRoutes(r gin.IRoutes, svc *ingest.Service) {
	r.POST("/events", func(c *gin.Context) {
		ev, err := models.DecodeStrict(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"status":     "error",
				"error":      err.Error(),
				"error_kind": string(ingest.KindValidation),
			})
			return
		}

		stats, err := svc.IngestEvents(c.Request.Context(), []*models.ExposureEvent{ev})
		if err != nil {
			kind := ingest.KindOf(err)
			log.WithError(err).WithField("event_id", ev.Event.ID).Warn("event ingest failed")
			c.JSON(statusForKind(kind), gin.H{
				"status":     "error",
				"error":      err.Error(),
				"error_kind": string(kind),
			})
			return
		}

		// 201 for new events, 200 for idempotent replays.
		status := http.StatusCreated
		if stats.InsertedEvents == 0 {
			status = http.StatusOK
		}
		c.JSON(status, gin.H{
			"event_id":  ev.Event.ID,
			"duplicate": stats.InsertedEvents == 0,
		})
	})
}
