package handler

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/use-agent/farescout/models"
)

func TestMapErrorToStatus(t *testing.T) {
	cases := map[string]int{
		models.ErrCodeInvalidInput:      http.StatusBadRequest,
		models.ErrCodeUnauthorized:      http.StatusUnauthorized,
		models.ErrCodeRateLimited:       http.StatusTooManyRequests,
		models.ErrCodeSourceUnavailable: http.StatusBadGateway,
		models.ErrCodeLayoutChanged:     http.StatusBadGateway,
		models.ErrCodePoolExhausted:     http.StatusServiceUnavailable,
		models.ErrCodeBrowserCrash:      http.StatusServiceUnavailable,
		models.ErrCodeDeadlineExceeded:  http.StatusGatewayTimeout,
		models.ErrCodeNavigationTimeout: http.StatusGatewayTimeout,
		models.ErrCodeInternal:          http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, mapErrorToStatus(models.NewFareError(code, "x", nil)), code)
	}
}

func TestAsFareError(t *testing.T) {
	fe := models.NewFareError(models.ErrCodeRateLimited, "slow", nil)
	assert.Same(t, fe, asFareError(fe))
	assert.Equal(t, models.ErrCodeInternal, asFareError(errors.New("boom")).Code)
}

func TestJobStatus(t *testing.T) {
	assert.Equal(t, models.JobCompleted, jobStatus(&models.SearchResult{Tasks: models.TaskStats{Scheduled: 2, Succeeded: 2}}))
	assert.Equal(t, models.JobPartial, jobStatus(&models.SearchResult{Tasks: models.TaskStats{Scheduled: 2, Succeeded: 1, Failed: 1}}))
	assert.Equal(t, models.JobFailed, jobStatus(&models.SearchResult{Tasks: models.TaskStats{Scheduled: 2, Failed: 2}}))
	assert.Equal(t, models.JobCompleted, jobStatus(&models.SearchResult{}))
}

func TestJobStore_ExpireKeepsRunningJobs(t *testing.T) {
	s := NewJobStore(time.Hour)
	defer s.Close()

	done := s.create()
	running := s.create()
	s.finish(done.ID, models.JobCompleted, &models.SearchResult{}, nil)

	s.expire(time.Now().Add(time.Minute).Unix())

	_, ok := s.Get(done.ID)
	assert.False(t, ok)
	got, ok := s.Get(running.ID)
	assert.True(t, ok)
	assert.Equal(t, models.JobProcessing, got.Status)
}

func TestPrecheckLeavesCallerUntouched(t *testing.T) {
	req := models.SearchRequest{
		Origin: "tpe", Destination: "nrt", DepartureDate: "2026-04-01",
		Airlines: []models.AirlineCode{"ci"},
	}
	assert.NoError(t, precheck(req))
	assert.Equal(t, models.AirlineCode("ci"), req.Airlines[0])

	req.ReturnDate = "2026-03-01"
	assert.Equal(t, models.ErrCodeInvalidInput, models.CodeOf(precheck(req)))
}
