package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/farescout/airline"
	"github.com/use-agent/farescout/api"
	"github.com/use-agent/farescout/api/handler"
	"github.com/use-agent/farescout/cache"
	"github.com/use-agent/farescout/config"
	"github.com/use-agent/farescout/engine"
	"github.com/use-agent/farescout/fare"
	"github.com/use-agent/farescout/fareapi"
	"github.com/use-agent/farescout/scraper"
	"github.com/use-agent/farescout/search"
	"github.com/use-agent/farescout/webhook"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("farescout starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"poolSize", cfg.Browser.PoolSize,
		"accounts", len(cfg.Accounts),
	)

	// ── 3. Launch browser and page pool ─────────────────────────────
	browser, err := scraper.Launch(cfg.Browser)
	if err != nil {
		slog.Error("failed to launch browser", "error", err)
		os.Exit(1)
	}
	defer browser.Close()

	pool := browser.NewPool(engine.PoolConfig{
		Size:           cfg.Browser.PoolSize,
		AcquireTimeout: cfg.Browser.AcquireTimeout,
	})
	defer pool.Close()
	pool.Warm(context.Background(), 1)

	// ── 4. Adapters, normalizer, external source ────────────────────
	memory := airline.NewLayoutMemory(7*24*time.Hour, 12)
	defer memory.Stop()
	registry := airline.DefaultRegistry(memory)

	normalizer := fare.NewNormalizer(cfg.Valuation.Currency, cfg.Valuation.FXRates)

	opts := []search.Option{search.WithAccounts(cfg.Accounts)}
	if cfg.FareAPI.Enabled() {
		opts = append(opts, search.WithSource(fareapi.New(cfg.FareAPI, slog.Default())))
		slog.Info("external fare source enabled", "baseURL", cfg.FareAPI.BaseURL)
	}

	engineCfg := search.Config{
		TaskTimeout:  cfg.Search.TaskTimeout,
		Deadline:     cfg.Search.Deadline,
		AirlineRPS:   cfg.Search.AirlineRPS,
		AirlineBurst: cfg.Search.AirlineBurst,
		MilesRate:    cfg.Valuation.MilesRate,
	}
	searcher := search.New(pool, registry, normalizer, engineCfg, opts...)

	// ── 5. Cache and job store ──────────────────────────────────────
	cc := newCache(cfg)
	defer cc.Close()

	jobs := handler.NewJobStore(time.Hour)
	defer jobs.Close()

	// ── 6. Setup router ─────────────────────────────────────────────
	router := api.NewRouter(cfg, api.Deps{
		Searcher:  searcher,
		Cache:     cc,
		Jobs:      jobs,
		Notifier:  webhook.Default(),
		PoolStats: pool.Stats,
		Airlines:  registry.Codes(),
		StartTime: time.Now(),
	})

	// ── 7. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 8. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Sync searches can run up to the search deadline.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Search.Deadline+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	slog.Info("farescout stopped")
}

// newCache uses Redis when configured and reachable, else memory.
func newCache(cfg *config.Config) cache.Cache {
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedis(cfg.Redis, cfg.Cache.TTL)
		if err == nil {
			slog.Info("result cache: redis", "addr", cfg.Redis.Addr)
			return rc
		}
		slog.Warn("redis unavailable, falling back to memory cache", "error", err)
	}
	return cache.NewMemory(cfg.Cache.MaxEntries, cfg.Cache.TTL)
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(h))
}
