package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/farescout/fare"
	"github.com/use-agent/farescout/models"
)

// Valuate returns a handler for POST /api/v1/valuate. defaultRate applies
// when the request does not set its own.
func Valuate(defaultRate float64) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ValuateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ValuateResponse{
				Error: &models.ErrorDetail{Code: models.ErrCodeInvalidInput, Message: err.Error()},
			})
			return
		}

		rate := req.Rate
		if rate <= 0 {
			rate = defaultRate
		}
		verdict, err := fare.Valuate(req.Cash, req.Miles, rate)
		if err != nil {
			fe := asFareError(err)
			c.JSON(mapErrorToStatus(fe), models.ValuateResponse{Error: fe.ToDetail()})
			return
		}
		c.JSON(http.StatusOK, models.ValuateResponse{Success: true, Verdict: &verdict})
	}
}
