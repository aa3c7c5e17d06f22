package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/use-agent/farescout/models"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Search    SearchConfig
	Valuation ValuationConfig
	FareAPI   FareAPIConfig
	Accounts  models.Accounts
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Redis     RedisConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser instance and its page pool.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// PoolSize is the fixed page pool capacity (max concurrent tabs).
	PoolSize int // default: 3

	// AcquireTimeout bounds how long a task waits for a free tab.
	AcquireTimeout time.Duration // default: 20s

	// DefaultProxy is the proxy URL for all browser traffic.
	DefaultProxy string

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Stealth injects the anti-detection script into every tab.
	Stealth bool // default: true

	// Locale is sent as Accept-Language and passed to Chromium.
	Locale string // default: "zh-TW"

	// Timezone overrides the tab's timezone so airline sites render local times.
	Timezone string // default: "Asia/Taipei"

	// BlockedResourceTypes lists resource types to block.
	// default: ["Image", "Font", "Media"]
	BlockedResourceTypes []string
}

// SearchConfig controls the orchestrator.
type SearchConfig struct {
	// TaskTimeout bounds one attempt of one task.
	TaskTimeout time.Duration // default: 45s

	// Deadline bounds a whole search. Tasks still pending are abandoned.
	Deadline time.Duration // default: 90s

	// AirlineRPS and AirlineBurst rate-limit page loads per airline site.
	AirlineRPS   float64 // default: 0.5
	AirlineBurst int     // default: 2
}

// ValuationConfig controls normalization and the cash-vs-miles verdict.
type ValuationConfig struct {
	// MilesRate is the reporting-currency value assigned to one mile.
	MilesRate float64 // default: 0.4

	// Currency is the reporting currency all prices are converted into.
	Currency string // default: "TWD"

	// FXRates maps a currency code to units of Currency per unit.
	FXRates map[string]float64
}

// FareAPIConfig controls the optional external fare source.
type FareAPIConfig struct {
	// BaseURL of the fare API. Empty disables the external source.
	BaseURL string

	APIKey string

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration // default: 20s

	// RetryMax is the number of transport-level retries on 5xx and network errors.
	RetryMax int // default: 2

	// RPS is the client-side request budget.
	RPS float64 // default: 1
}

// Enabled reports whether an external source is configured.
func (c FareAPIConfig) Enabled() bool { return c.BaseURL != "" }

// CacheConfig controls the search response cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached responses.
	MaxEntries int // default: 500

	// TTL is how long a cached search result is kept.
	TTL time.Duration // default: 10m
}

// RedisConfig switches the cache to Redis when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 1

	// Burst is the maximum burst size per API key.
	Burst int // default: 3
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host: envOr("FARESCOUT_HOST", "0.0.0.0"),
			Port: envIntOr("FARESCOUT_PORT", 8080),
			Mode: envOr("FARESCOUT_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:       envBoolOr("FARESCOUT_HEADLESS", true),
			PoolSize:       envIntOr("FARESCOUT_POOL_SIZE", 3),
			AcquireTimeout: envDurationOr("FARESCOUT_ACQUIRE_TIMEOUT", 20*time.Second),
			DefaultProxy:   os.Getenv("FARESCOUT_PROXY"),
			NoSandbox:      envBoolOr("FARESCOUT_NO_SANDBOX", false),
			BrowserBin:     os.Getenv("FARESCOUT_BROWSER_BIN"),
			Stealth:        envBoolOr("FARESCOUT_STEALTH", true),
			Locale:         envOr("FARESCOUT_LOCALE", "zh-TW"),
			Timezone:       envOr("FARESCOUT_TIMEZONE", "Asia/Taipei"),
			BlockedResourceTypes: envSliceOr("FARESCOUT_BLOCKED_RESOURCES", []string{
				"Image", "Font", "Media",
			}),
		},
		Search: SearchConfig{
			TaskTimeout:  envDurationOr("FARESCOUT_TASK_TIMEOUT", 45*time.Second),
			Deadline:     envDurationOr("FARESCOUT_SEARCH_DEADLINE", 90*time.Second),
			AirlineRPS:   envFloatOr("FARESCOUT_AIRLINE_RPS", 0.5),
			AirlineBurst: envIntOr("FARESCOUT_AIRLINE_BURST", 2),
		},
		Valuation: ValuationConfig{
			MilesRate: envFloatOr("FARESCOUT_MILES_RATE", 0.4),
			Currency:  strings.ToUpper(envOr("FARESCOUT_CURRENCY", "TWD")),
			FXRates: envRatesOr("FARESCOUT_FX_RATES", map[string]float64{
				"USD": 32.0,
				"HKD": 4.1,
				"JPY": 0.21,
				"SGD": 23.8,
			}),
		},
		FareAPI: FareAPIConfig{
			BaseURL:  os.Getenv("FARESCOUT_FAREAPI_URL"),
			APIKey:   os.Getenv("FARESCOUT_FAREAPI_KEY"),
			Timeout:  envDurationOr("FARESCOUT_FAREAPI_TIMEOUT", 20*time.Second),
			RetryMax: envIntOr("FARESCOUT_FAREAPI_RETRIES", 2),
			RPS:      envFloatOr("FARESCOUT_FAREAPI_RPS", 1),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("FARESCOUT_AUTH_ENABLED", true),
			APIKeys: envSliceOr("FARESCOUT_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("FARESCOUT_RATE_RPS", 1),
			Burst:             envIntOr("FARESCOUT_RATE_BURST", 3),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("FARESCOUT_CACHE_MAX_ENTRIES", 500),
			TTL:        envDurationOr("FARESCOUT_CACHE_TTL", 10*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("FARESCOUT_REDIS_ADDR"),
			Password: os.Getenv("FARESCOUT_REDIS_PASSWORD"),
			DB:       envIntOr("FARESCOUT_REDIS_DB", 0),
		},
		Log: LogConfig{
			Level:  envOr("FARESCOUT_LOG_LEVEL", "info"),
			Format: envOr("FARESCOUT_LOG_FORMAT", "json"),
		},
	}

	accounts, err := LoadAccounts(os.Getenv("FARESCOUT_ACCOUNTS_FILE"))
	if err != nil {
		slog.Warn("mileage accounts file ignored", "error", err)
	}
	cfg.Accounts = accounts.Merge(accountsFromEnv())
	return cfg
}

// LoadAccounts reads a JSON array of mileage accounts. An empty path yields
// an empty set.
func LoadAccounts(path string) (models.Accounts, error) {
	accounts := make(models.Accounts)
	if path == "" {
		return accounts, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return accounts, fmt.Errorf("read accounts: %w", err)
	}
	return ParseAccounts(data)
}

// ParseAccounts decodes a JSON array of accounts, skipping entries for
// airlines outside the roster or with missing fields.
func ParseAccounts(data []byte) (models.Accounts, error) {
	accounts := make(models.Accounts)
	var list []struct {
		Airline    string `json:"airline"`
		MemberID   string `json:"member_id"`
		Credential string `json:"credential"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return accounts, fmt.Errorf("parse accounts: %w", err)
	}
	for _, a := range list {
		code := models.AirlineCode(strings.ToUpper(a.Airline))
		if !code.Valid() || a.MemberID == "" || a.Credential == "" {
			slog.Warn("skipping invalid mileage account", "airline", a.Airline)
			continue
		}
		accounts[code] = &models.MileageAccount{Airline: code, MemberID: a.MemberID, Credential: a.Credential}
	}
	return accounts, nil
}

// accountsFromEnv reads FARESCOUT_ACCOUNT_<CODE>=memberID:credential.
func accountsFromEnv() models.Accounts {
	accounts := make(models.Accounts)
	for _, code := range models.Roster {
		v := os.Getenv("FARESCOUT_ACCOUNT_" + string(code))
		if v == "" {
			continue
		}
		id, secret, ok := strings.Cut(v, ":")
		if !ok || id == "" || secret == "" {
			slog.Warn("malformed mileage account variable", "airline", code)
			continue
		}
		accounts[code] = &models.MileageAccount{Airline: code, MemberID: id, Credential: secret}
	}
	return accounts
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}

// envRatesOr parses "USD=32,HKD=4.1". Malformed pairs are skipped.
func envRatesOr(key string, fallback map[string]float64) map[string]float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	rates := make(map[string]float64)
	for _, pair := range strings.Split(v, ",") {
		cur, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil || f <= 0 {
			continue
		}
		rates[strings.ToUpper(strings.TrimSpace(cur))] = f
	}
	if len(rates) == 0 {
		return fallback
	}
	return rates
}
