// Package httpserver assembles the HTTP surface of the service.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/exposure-ingest/internal/handlers"
	"github.com/PratikDhanave/exposure-ingest/internal/ingest"
	"github.com/PratikDhanave/exposure-ingest/internal/store"
)

// NewRouter wires the endpoints.
// Public: /health, /ready
// API: POST /ingest, POST /events, GET /metrics
func NewRouter(svc *ingest.Service, st store.Store) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: confirms the DB dependency is reachable.
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := st.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	handlers.RegisterIngestRoutes(r, svc)
	handlers.RegisterEventRoutes(r, svc)
	handlers.RegisterMetricRoutes(r, st)

	return r
}
