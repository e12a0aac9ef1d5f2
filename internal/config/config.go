// Package config loads and validates runtime configuration for the CLI and
// the relay server.
//
// Configuration is read from environment variables or from a config.yaml file
// in the working directory. Environment variables take precedence over the
// YAML file; a .env file, when present, is loaded into the environment first.
//
// Naming convention: env vars use UPPER_SNAKE_CASE; the YAML file uses the
// same names in lower_snake_case. For example GEMINI_MODEL becomes
// gemini_model in YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/nulpointcorp/gemini-client/pkg/gemini"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the relay server listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	// Default: info.
	LogLevel string

	Gemini GeminiConfig

	// Redis holds the connection URL for the Redis-backed response cache.
	// Required only when Cache.Mode is "redis".
	Redis RedisConfig

	Cache CacheConfig

	// CORSOrigins is the list of allowed CORS origins for the relay.
	// Use ["*"] to allow any origin (default).
	CORSOrigins []string
}

// GeminiConfig configures the API client.
type GeminiConfig struct {
	// APIKey is sent as the key query parameter. Required.
	APIKey string

	// BaseURL overrides the API root. Useful for the local mock.
	BaseURL string

	// Model is the model resource name, e.g. "models/gemini-1.5-flash".
	Model string

	// Timeout bounds each HTTP exchange. Default: 30s.
	Timeout time.Duration
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Example: redis://localhost:6379
	URL string
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	// Mode selects the cache backend:
	//   "redis"  Redis-backed cache (requires REDIS_URL), shared across replicas.
	//   "memory" in-process TTL cache.
	//   "none"   cache disabled.
	// Default: "none".
	Mode string

	// TTL is the time-to-live for cached responses. Default: 1h.
	TTL time.Duration
}

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: failed to read config.yaml: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("GEMINI_BASE_URL", gemini.DefaultBaseURL)
	v.SetDefault("GEMINI_MODEL", gemini.DefaultModel)
	v.SetDefault("REQUEST_TIMEOUT", gemini.DefaultTimeout.String())
	v.SetDefault("CACHE_MODE", "none")
	v.SetDefault("CACHE_TTL", gemini.DefaultTTL.String())
	v.SetDefault("CORS_ORIGINS", "*")

	// ── Build config ──────────────────────────────────────────────────────────
	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),

		Gemini: GeminiConfig{
			APIKey:  strings.TrimSpace(v.GetString("GOOGLE_API_KEY")),
			BaseURL: v.GetString("GEMINI_BASE_URL"),
			Model:   v.GetString("GEMINI_MODEL"),
			Timeout: v.GetDuration("REQUEST_TIMEOUT"),
		},

		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		Cache: CacheConfig{
			Mode: strings.ToLower(v.GetString("CACHE_MODE")),
			TTL:  v.GetDuration("CACHE_TTL"),
		},

		CORSOrigins: splitList(v.Get("CORS_ORIGINS")),
	}

	// ── Validation ────────────────────────────────────────────────────────────
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	if c.Gemini.APIKey == "" {
		return fmt.Errorf("config: GOOGLE_API_KEY is required")
	}

	if c.Gemini.Timeout <= 0 {
		return fmt.Errorf("config: REQUEST_TIMEOUT must be a positive duration")
	}

	switch c.Cache.Mode {
	case "redis", "memory", "none":
	default:
		return fmt.Errorf(
			"config: invalid CACHE_MODE %q; must be one of: redis, memory, none",
			c.Cache.Mode,
		)
	}

	if c.Cache.Mode == "redis" && c.Redis.URL == "" {
		return fmt.Errorf(
			"config: REDIS_URL is required when CACHE_MODE=redis; " +
				"set CACHE_MODE=memory to use the built-in in-process cache",
		)
	}

	if c.Cache.Mode != "none" && c.Cache.TTL <= 0 {
		return fmt.Errorf("config: CACHE_TTL must be a positive duration")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: PORT must be in 1..65535, got %d", c.Port)
	}

	return nil
}

// splitList accepts either a YAML list or a comma-separated env value.
func splitList(raw any) []string {
	var items []string
	switch t := raw.(type) {
	case []string:
		items = t
	case []any:
		for _, it := range t {
			items = append(items, fmt.Sprint(it))
		}
	case string:
		items = strings.Split(t, ",")
	}

	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
