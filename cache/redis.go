package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/use-agent/farescout/config"
	"github.com/use-agent/farescout/models"
)

// Redis shares cached results between server instances.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// stored wraps a result with its write time so Get can honor max age
// independently of the key's TTL.
type stored struct {
	StoredAt time.Time            `json:"stored_at"`
	Result   *models.SearchResult `json:"result"`
}

// NewRedis connects and pings the server. ttl bounds how long Redis keeps
// an entry.
func NewRedis(cfg config.RedisConfig, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func (c *Redis) Get(ctx context.Context, key string, maxAge time.Duration) (*models.SearchResult, bool) {
	if maxAge <= 0 {
		return nil, false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("cache: redis get failed", "error", err)
		}
		return nil, false
	}

	var s stored
	if err := json.Unmarshal(data, &s); err != nil || s.Result == nil {
		return nil, false
	}
	if time.Since(s.StoredAt) > maxAge {
		return nil, false
	}
	return s.Result, true
}

func (c *Redis) Set(ctx context.Context, key string, result *models.SearchResult) error {
	data, err := json.Marshal(stored{StoredAt: time.Now().UTC(), Result: result})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

func (c *Redis) Close() error {
	return c.client.Close()
}
