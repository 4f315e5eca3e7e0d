package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults applied before the file and environment are consulted.
const (
	DefaultWindowLimit = 30
	DefaultCacheRoot   = "./cache"
	DefaultHTTPAddr    = "127.0.0.1:9180"
)

// Load reads the YAML config at path (if non-empty and present), applies
// defaults and then environment overrides. Environment variables use a
// ROOMSYNC_ prefix and win over the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.Window.Limit = DefaultWindowLimit
	cfg.Cache.Root = DefaultCacheRoot
	cfg.HTTP.Addr = DefaultHTTPAddr
	cfg.Gateway.DialTimeout = Duration(10 * time.Second)
	cfg.Gateway.ReadTimeout = Duration(60 * time.Second)
	cfg.Notify.Timeout = Duration(5 * time.Second)
	cfg.Notify.RPS = 5
	cfg.Notify.Burst = 10
	cfg.Retention.Cron = "0 2 * * *"
	cfg.Retention.MaxAge = Duration(30 * 24 * time.Hour)

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := unmarshalStrictish(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv maps ROOMSYNC_* environment variables onto the config. Only
// settings that operators commonly override at deploy time are exposed.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ROOMSYNC_GATEWAY_FEED_URL"); v != "" {
		cfg.Gateway.FeedURL = v
	}
	if v := os.Getenv("ROOMSYNC_GATEWAY_REST_URL"); v != "" {
		cfg.Gateway.RestURL = v
	}
	if v := os.Getenv("ROOMSYNC_GATEWAY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("ROOMSYNC_CACHE_ROOT"); v != "" {
		cfg.Cache.Root = v
	}
	if v := os.Getenv("ROOMSYNC_WINDOW_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Window.Limit = n
		}
	}
	if v := os.Getenv("ROOMSYNC_NOTIFY_ENDPOINT"); v != "" {
		cfg.Notify.Endpoint = v
	}
	if v := os.Getenv("ROOMSYNC_NOTIFY_KEY"); v != "" {
		cfg.Notify.Key = v
	}
	if v := os.Getenv("ROOMSYNC_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("ROOMSYNC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ROOMSYNC_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func validate(cfg *Config) error {
	if cfg.Window.Limit <= 0 {
		return fmt.Errorf("window.limit must be positive, got %d", cfg.Window.Limit)
	}
	if cfg.Cache.Root == "" {
		return fmt.Errorf("cache.root must not be empty")
	}
	if cfg.Notify.Endpoint != "" && cfg.Notify.Key == "" {
		return fmt.Errorf("notify.endpoint set but notify.key empty")
	}
	return nil
}
