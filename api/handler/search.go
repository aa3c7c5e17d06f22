package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/farescout/cache"
	"github.com/use-agent/farescout/models"
)

// Searcher runs one fare search. *search.Engine implements it.
type Searcher interface {
	Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResult, error)
	MilesRate() float64
}

// Search returns a handler for POST /api/v1/search.
//
// The search runs synchronously. Partial airline failures still answer 200
// with the failures listed in the result; only a rejected request or a
// server fault answers with an error status.
func Search(s Searcher, cc cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		totalStart := time.Now()

		var call models.SearchCall
		if err := c.ShouldBindJSON(&call); err != nil {
			c.JSON(http.StatusBadRequest, models.SearchResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}

		maxAge := time.Duration(call.MaxAge) * time.Millisecond
		useCache := cc != nil && maxAge > 0
		var key string
		if useCache {
			key = cache.Key(&call.SearchRequest)
			if cached, hit := cc.Get(c.Request.Context(), key, maxAge); hit {
				c.JSON(http.StatusOK, models.SearchResponse{
					Success:     true,
					Result:      cached,
					CacheStatus: "hit",
					Timing:      models.TimingInfo{TotalMs: time.Since(totalStart).Milliseconds()},
				})
				return
			}
		}

		searchStart := time.Now()
		result, err := s.Search(c.Request.Context(), &call.SearchRequest)
		searchMs := time.Since(searchStart).Milliseconds()
		if err != nil {
			respondError(c, err, models.TimingInfo{
				TotalMs:  time.Since(totalStart).Milliseconds(),
				SearchMs: searchMs,
			})
			return
		}

		resp := models.SearchResponse{Success: true, Result: result}
		if useCache {
			resp.CacheStatus = "miss"
			// A search where every task failed says nothing about fares.
			if result.Tasks.Succeeded > 0 {
				if err := cc.Set(c.Request.Context(), key, result); err != nil {
					slog.Warn("cache store failed", "error", err)
				}
			}
		}
		resp.Timing = models.TimingInfo{
			TotalMs:  time.Since(totalStart).Milliseconds(),
			SearchMs: searchMs,
		}
		c.JSON(http.StatusOK, resp)
	}
}

// precheck validates a request the way the engine will, without touching
// the caller's copy.
func precheck(req models.SearchRequest) error {
	req.Airlines = append([]models.AirlineCode(nil), req.Airlines...)
	req.Defaults()
	return req.Validate()
}

// asFareError wraps anything that is not already a FareError as INTERNAL_ERROR.
func asFareError(err error) *models.FareError {
	var fe *models.FareError
	if errors.As(err, &fe) {
		return fe
	}
	return models.NewFareError(models.ErrCodeInternal, err.Error(), err)
}

// respondError maps a FareError to the correct HTTP status code and writes
// a structured JSON error response.
func respondError(c *gin.Context, err error, timing models.TimingInfo) {
	fe := asFareError(err)
	c.JSON(mapErrorToStatus(fe), models.SearchResponse{
		Success: false,
		Error:   fe.ToDetail(),
		Timing:  timing,
	})
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.FareError) int {
	switch e.Code {
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeNavigation, models.ErrCodeLayoutChanged, models.ErrCodeSourceUnavailable, models.ErrCodeAuthFailed:
		return http.StatusBadGateway // 502
	case models.ErrCodePoolExhausted, models.ErrCodeBrowserCrash:
		return http.StatusServiceUnavailable // 503
	case models.ErrCodeNavigationTimeout, models.ErrCodeDeadlineExceeded:
		return http.StatusGatewayTimeout // 504
	default:
		return http.StatusInternalServerError // 500
	}
}
