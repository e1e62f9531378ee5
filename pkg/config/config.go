package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alim08/stockcache/pkg/alphavantage"
	"github.com/joho/godotenv"
)

const (
	BackendRedis    = "redis"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

var defaultPopularSymbols = "AAPL,MSFT,GOOGL,AMZN,TSLA,META,NVDA,NFLX"

type Config struct {
	HTTPPort    int
	Environment string

	// Provider
	APIKey                string
	ProviderURL           string
	UpstreamTimeout       time.Duration
	UpstreamSeriesTimeout time.Duration
	UpstreamMaxAttempts   int
	UpstreamBackoff       time.Duration

	// Persistent store
	StoreBackend   string
	RedisURL       string
	RedisKeyPrefix string
	MongoURI       string
	MongoDatabase  string

	PopularSymbols      []string
	PopularFetchLimit   int
	QuoteUpdatesChannel string

	AuthEnabled bool
}

// Load reads a .env file if present, then application flags (via a local
// FlagSet, skipping -test.* flags) and environment variables, and validates
// the result. A missing provider key is not an error here.
func Load() (*Config, error) {
	// values already in the environment win over .env
	_ = godotenv.Load()

	fs := flag.NewFlagSet("config", flag.ContinueOnError)

	var redisURL string
	var httpPort int
	fs.StringVar(&redisURL, "redis", os.Getenv("REDIS_URL"), "Redis connection URL")
	fs.IntVar(&httpPort, "port", 8000, "HTTP listen port")

	var appArgs []string
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-test.") {
			continue
		}
		appArgs = append(appArgs, arg)
	}
	if err := fs.Parse(appArgs); err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPPort:    httpPort,
		Environment: getEnvOrDefault("ENVIRONMENT", "development"),

		APIKey:                os.Getenv("ALPHA_VANTAGE_API_KEY"),
		ProviderURL:           getEnvOrDefault("ALPHA_VANTAGE_URL", alphavantage.DefaultBaseURL),
		UpstreamTimeout:       getDurationEnvOrDefault("UPSTREAM_TIMEOUT", 10*time.Second),
		UpstreamSeriesTimeout: getDurationEnvOrDefault("UPSTREAM_SERIES_TIMEOUT", 30*time.Second),
		UpstreamBackoff:       getDurationEnvOrDefault("UPSTREAM_BACKOFF", 300*time.Millisecond),

		StoreBackend:   strings.ToLower(getEnvOrDefault("STORE_BACKEND", BackendRedis)),
		RedisURL:       redisURL,
		RedisKeyPrefix: getEnvOrDefault("REDIS_KEY_PREFIX", "stockcache:"),
		MongoURI:       os.Getenv("MONGO_URI"),
		MongoDatabase:  getEnvOrDefault("MONGO_DATABASE", "asmp_db"),

		PopularSymbols:      splitAndTrim(getEnvOrDefault("POPULAR_SYMBOLS", defaultPopularSymbols), ","),
		QuoteUpdatesChannel: getEnvOrDefault("QUOTE_UPDATES_CHANNEL", "quotes:updates"),
	}

	// PORT env var overrides flag/default if set
	if portEnv := os.Getenv("PORT"); portEnv != "" {
		portVal, err := strconv.Atoi(portEnv)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT env var: %v", err)
		}
		cfg.HTTPPort = portVal
	}

	var err error
	if cfg.UpstreamMaxAttempts, err = getIntEnvOrDefault("UPSTREAM_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.PopularFetchLimit, err = getIntEnvOrDefault("POPULAR_FETCH_LIMIT", 3); err != nil {
		return nil, err
	}
	if v := os.Getenv("AUTH_ENABLED"); v != "" {
		if cfg.AuthEnabled, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("invalid AUTH_ENABLED env var: %v", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("missing required config: REDIS_URL or -redis")
		}
	case BackendMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("missing required config: MONGO_URI")
		}
	case BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.UpstreamMaxAttempts < 1 {
		return fmt.Errorf("UPSTREAM_MAX_ATTEMPTS must be at least 1, got %d", c.UpstreamMaxAttempts)
	}
	if c.PopularFetchLimit < 1 {
		return fmt.Errorf("POPULAR_FETCH_LIMIT must be at least 1, got %d", c.PopularFetchLimit)
	}
	return nil
}

// Provider returns the provider client settings.
func (c *Config) Provider() alphavantage.Config {
	pc := alphavantage.DefaultConfig()
	pc.BaseURL = c.ProviderURL
	pc.APIKey = c.APIKey
	pc.Timeout = c.UpstreamTimeout
	pc.SeriesTimeout = c.UpstreamSeriesTimeout
	pc.MaxAttempts = c.UpstreamMaxAttempts
	pc.BackoffBase = c.UpstreamBackoff
	return pc
}

// splitAndTrim splits s on sep, trims spaces, and drops empty entries.
func splitAndTrim(s, sep string) []string {
	parts := []string{}
	for _, p := range strings.Split(s, sep) {
		if t := strings.TrimSpace(p); t != "" {
			parts = append(parts, t)
		}
	}
	return parts
}

// getEnvOrDefault returns environment variable value or default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnvOrDefault returns environment variable as duration or default
func getDurationEnvOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getIntEnvOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s env var: %v", key, err)
	}
	return n, nil
}
