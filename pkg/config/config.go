// Package config loads gallery configuration from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Paging modes.
const (
	PagingDerived = "derived"
	PagingServer  = "server"
)

// Rate limit stores.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// GalleryConfig controls pagination.
type GalleryConfig struct {
	InitialLoadCount int    `yaml:"initial_load_count"`
	BatchSize        int    `yaml:"batch_size"`
	PreloadThreshold int    `yaml:"preload_threshold"`
	PagingMode       string `yaml:"paging_mode"`
}

// CacheConfig is the image cache budget.
type CacheConfig struct {
	ItemLimit int   `yaml:"item_limit"`
	CostLimit int64 `yaml:"cost_limit"`
}

// APIConfig points at the collection API and image server.
type APIConfig struct {
	BaseURL   string        `yaml:"base_url"`
	IIIFURL   string        `yaml:"iiif_url"`
	Fields    []string      `yaml:"fields"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
}

// FetchConfig controls image loading.
type FetchConfig struct {
	Coalesce        bool          `yaml:"coalesce"`
	PrefetchWorkers int           `yaml:"prefetch_workers"`
	PrefetchTimeout time.Duration `yaml:"prefetch_timeout"`
	MaxImagePixels  int64         `yaml:"max_image_pixels"`

	// MaxRetries enables automatic retries; 0 leaves retrying to the caller.
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
}

// RateLimitConfig selects where the rate limit window is kept.
type RateLimitConfig struct {
	Store     string `yaml:"store"` // "memory" or "redis"
	RedisAddr string `yaml:"redis_addr"`
}

// ServerConfig configures the HTTP front end.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Config is the complete gallery configuration.
type Config struct {
	Gallery   GalleryConfig   `yaml:"gallery"`
	Cache     CacheConfig     `yaml:"cache"`
	API       APIConfig       `yaml:"api"`
	Fetch     FetchConfig     `yaml:"fetch"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Default returns the reference configuration.
func Default() Config {
	return Config{
		Gallery: GalleryConfig{
			InitialLoadCount: 10,
			BatchSize:        10,
			PreloadThreshold: 4,
			PagingMode:       PagingDerived,
		},
		Cache: CacheConfig{
			ItemLimit: 100,
			CostLimit: 100 * 1024 * 1024,
		},
		API: APIConfig{
			BaseURL:   "https://api.artic.edu/api/v1",
			IIIFURL:   "https://www.artic.edu/iiif/2",
			Fields:    []string{"id", "title", "image_id"},
			UserAgent: "artic-gallery/0.1.0",
			Timeout:   15 * time.Second,
		},
		Fetch: FetchConfig{
			Coalesce:        true,
			PrefetchWorkers: 4,
			PrefetchTimeout: 15 * time.Second,
			MaxImagePixels:  25 * 1000 * 1000,
			MaxRetries:      0,
			InitialBackoff:  500 * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			Store:     StoreMemory,
			RedisAddr: "localhost:6379",
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: false,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv() error {
	var errs []error

	envInt("GALLERY_INITIAL_LOAD_COUNT", &c.Gallery.InitialLoadCount, &errs)
	envInt("GALLERY_BATCH_SIZE", &c.Gallery.BatchSize, &errs)
	envInt("GALLERY_PRELOAD_THRESHOLD", &c.Gallery.PreloadThreshold, &errs)
	envString("GALLERY_PAGING_MODE", &c.Gallery.PagingMode)

	envInt("GALLERY_CACHE_ITEM_LIMIT", &c.Cache.ItemLimit, &errs)
	if v, ok := os.LookupEnv("GALLERY_CACHE_COST_LIMIT"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("GALLERY_CACHE_COST_LIMIT: %w", err))
		} else {
			c.Cache.CostLimit = n
		}
	}

	envString("GALLERY_API_URL", &c.API.BaseURL)
	envString("GALLERY_IIIF_URL", &c.API.IIIFURL)
	envString("GALLERY_USER_AGENT", &c.API.UserAgent)

	envBool("GALLERY_COALESCE", &c.Fetch.Coalesce, &errs)
	envInt("GALLERY_MAX_RETRIES", &c.Fetch.MaxRetries, &errs)

	envString("GALLERY_RATE_LIMIT_STORE", &c.RateLimit.Store)
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RateLimit.RedisAddr = v
		if os.Getenv("GALLERY_RATE_LIMIT_STORE") == "" {
			c.RateLimit.Store = StoreRedis
		}
	}

	envInt("PORT", &c.Server.Port, &errs)

	envString("LOG_LEVEL", &c.Logging.Level)
	envBool("LOG_PRETTY", &c.Logging.Pretty, &errs)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %w", errors.Join(errs...))
	}
	return nil
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Gallery.InitialLoadCount < 1 {
		errs = append(errs, fmt.Errorf("gallery.initial_load_count must be >= 1 (got %d)", c.Gallery.InitialLoadCount))
	}
	if c.Gallery.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("gallery.batch_size must be >= 1 (got %d)", c.Gallery.BatchSize))
	}
	if c.Gallery.PreloadThreshold < 0 {
		errs = append(errs, fmt.Errorf("gallery.preload_threshold must be >= 0 (got %d)", c.Gallery.PreloadThreshold))
	}
	switch c.Gallery.PagingMode {
	case PagingDerived, PagingServer:
	default:
		errs = append(errs, fmt.Errorf("gallery.paging_mode must be %q or %q (got %q)", PagingDerived, PagingServer, c.Gallery.PagingMode))
	}

	if c.Cache.ItemLimit < 1 {
		errs = append(errs, fmt.Errorf("cache.item_limit must be >= 1 (got %d)", c.Cache.ItemLimit))
	}
	if c.Cache.CostLimit < 1 {
		errs = append(errs, fmt.Errorf("cache.cost_limit must be >= 1 (got %d)", c.Cache.CostLimit))
	}

	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		errs = append(errs, fmt.Errorf("api.base_url must be an http(s) URL (got %q)", c.API.BaseURL))
	}
	if c.API.UserAgent == "" {
		errs = append(errs, errors.New("api.user_agent is required"))
	}

	if c.Fetch.PrefetchWorkers < 1 {
		errs = append(errs, fmt.Errorf("fetch.prefetch_workers must be >= 1 (got %d)", c.Fetch.PrefetchWorkers))
	}
	if c.Fetch.PrefetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("fetch.prefetch_timeout must be > 0 (got %s)", c.Fetch.PrefetchTimeout))
	}
	if c.Fetch.MaxImagePixels < 1 {
		errs = append(errs, fmt.Errorf("fetch.max_image_pixels must be >= 1 (got %d)", c.Fetch.MaxImagePixels))
	}
	if c.Fetch.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("fetch.max_retries must be >= 0 (got %d)", c.Fetch.MaxRetries))
	}

	switch c.RateLimit.Store {
	case StoreMemory:
	case StoreRedis:
		if c.RateLimit.RedisAddr == "" {
			errs = append(errs, errors.New("rate_limit.redis_addr is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("rate_limit.store must be %q or %q (got %q)", StoreMemory, StoreRedis, c.RateLimit.Store))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535 (got %d)", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func envBool(key string, dst *bool, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}
