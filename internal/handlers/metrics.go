package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/exposure-ingest/internal/store"
)

// RegisterMetricRoutes registers the serving-path endpoint.
//
// GET /metrics?office_id=...
// - Returns current exposure counts grouped by office, class, and status
// - office_id is optional; absent means all offices
func RegisterMetricRoutes(r gin.IRoutes, st store.Store) {
	r.GET("/metrics", func(c *gin.Context) {
		officeID := c.Query("office_id")

		counts, err := st.ExposureCounts(c.Request.Context(), officeID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}
		if counts == nil {
			counts = []store.ExposureCount{}
		}

		c.JSON(http.StatusOK, gin.H{"exposures": counts})
	})
}
