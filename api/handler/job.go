package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/use-agent/farescout/models"
	"github.com/use-agent/farescout/webhook"
)

// Notifier delivers job completion events. *webhook.Notifier implements it.
type Notifier interface {
	DeliverAsync(url, secret string, event *webhook.Event)
}

// JobStore holds in-flight and finished async searches. Finished jobs are
// forgotten after retention.
type JobStore struct {
	mu        sync.RWMutex
	jobs      map[string]*models.SearchJob
	retention time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// NewJobStore creates a store and starts its expiry sweep.
func NewJobStore(retention time.Duration) *JobStore {
	if retention <= 0 {
		retention = time.Hour
	}
	s := &JobStore{
		jobs:      make(map[string]*models.SearchJob),
		retention: retention,
		stop:      make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *JobStore) create() *models.SearchJob {
	job := &models.SearchJob{
		ID:        "search-" + uuid.NewString(),
		Status:    models.JobProcessing,
		CreatedAt: time.Now().Unix(),
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	return job
}

func (s *JobStore) finish(id, status string, result *models.SearchResult, detail *models.ErrorDetail) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.Status = status
		job.Result = result
		job.Error = detail
	}
}

// Get returns a snapshot of a job.
func (s *JobStore) Get(id string) (models.SearchJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return models.SearchJob{}, false
	}
	return *job, true
}

// Close stops the expiry sweep.
func (s *JobStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *JobStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.expire(time.Now().Add(-s.retention).Unix())
		case <-s.stop:
			return
		}
	}
}

func (s *JobStore) expire(cutoff int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, job := range s.jobs {
		if job.CreatedAt < cutoff && job.Status != models.JobProcessing {
			delete(s.jobs, id)
		}
	}
}

// jobStatus summarizes how a finished search went.
func jobStatus(r *models.SearchResult) string {
	switch {
	case r.Tasks.Failed == 0:
		return models.JobCompleted
	case r.Tasks.Succeeded == 0:
		return models.JobFailed
	default:
		return models.JobPartial
	}
}

// PostAsyncSearch returns a handler for POST /api/v1/search/async. The
// request is validated up front; the search then runs detached from the
// HTTP request and its outcome is available from GetSearchJob and, when a
// webhook URL is given, pushed as a "search.completed" event.
func PostAsyncSearch(s Searcher, store *JobStore, notifier Notifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.AsyncSearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.JobStatusResponse{
				Status: models.JobFailed,
				Error:  &models.ErrorDetail{Code: models.ErrCodeInvalidInput, Message: err.Error()},
			})
			return
		}
		if err := precheck(req.SearchRequest); err != nil {
			fe := asFareError(err)
			c.JSON(mapErrorToStatus(fe), models.JobStatusResponse{
				Status: models.JobFailed,
				Error:  fe.ToDetail(),
			})
			return
		}

		job := store.create()
		go runJob(s, store, notifier, job.ID, req)

		c.JSON(http.StatusAccepted, models.JobResponse{ID: job.ID, Status: models.JobProcessing})
	}
}

// GetSearchJob returns a handler for GET /api/v1/search/:id.
func GetSearchJob(store *JobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := store.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: "search job not found",
				},
			})
			return
		}
		c.JSON(http.StatusOK, models.JobStatusResponse{
			ID:     job.ID,
			Status: job.Status,
			Result: job.Result,
			Error:  job.Error,
		})
	}
}

func runJob(s Searcher, store *JobStore, notifier Notifier, id string, req models.AsyncSearchRequest) {
	result, err := s.Search(context.Background(), &req.SearchRequest)

	status := models.JobFailed
	var detail *models.ErrorDetail
	if err != nil {
		detail = asFareError(err).ToDetail()
	} else {
		status = jobStatus(result)
	}
	store.finish(id, status, result, detail)

	slog.Info("search job finished", "id", id, "status", status)

	if req.WebhookURL != "" && notifier != nil {
		ev := &webhook.Event{
			Type:      webhook.EventSearchCompleted,
			JobID:     id,
			Status:    status,
			Timestamp: time.Now().Unix(),
		}
		if result != nil {
			ev.Data = result
		} else {
			ev.Data = detail
		}
		notifier.DeliverAsync(req.WebhookURL, req.WebhookSecret, ev)
	}
}
