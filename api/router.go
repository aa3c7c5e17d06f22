package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/farescout/api/handler"
	"github.com/use-agent/farescout/api/middleware"
	"github.com/use-agent/farescout/cache"
	"github.com/use-agent/farescout/config"
	"github.com/use-agent/farescout/models"
)

// Deps are the services the HTTP surface calls into.
type Deps struct {
	Searcher  handler.Searcher
	Cache     cache.Cache
	Jobs      *handler.JobStore
	Notifier  handler.Notifier
	PoolStats func() models.PoolStats
	Airlines  []models.AirlineCode
	StartTime time.Time
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
func NewRouter(cfg *config.Config, d Deps) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	v1.GET("/health", handler.Health(d.PoolStats, d.Airlines, d.StartTime))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	protected.POST("/search", handler.Search(d.Searcher, d.Cache))
	protected.POST("/search/async", handler.PostAsyncSearch(d.Searcher, d.Jobs, d.Notifier))
	protected.GET("/search/:id", handler.GetSearchJob(d.Jobs))
	protected.POST("/valuate", handler.Valuate(d.Searcher.MilesRate()))

	return r
}
