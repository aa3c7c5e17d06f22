package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/farescout/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Health returns a handler for GET /api/v1/health.
//
// Reports pool utilisation and degrades status when > 80% of pages are
// active or callers are queueing for one.
func Health(stats func() models.PoolStats, airlines []models.AirlineCode, startTime time.Time) gin.HandlerFunc {
	names := make([]string, len(airlines))
	for i, a := range airlines {
		names[i] = string(a)
	}

	return func(c *gin.Context) {
		st := stats()

		status := "healthy"
		if st.MaxPages > 0 && (st.ActivePages > int(float64(st.MaxPages)*0.8) || st.Waiting > 0) {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:    status,
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			PoolStats: st,
			Airlines:  names,
			Version:   Version,
		})
	}
}
