package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Cache     CacheConfig     `yaml:"cache"`
	Window    WindowConfig    `yaml:"window"`
	Notify    NotifyConfig    `yaml:"notify"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig   `yaml:"logging"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// GatewayConfig points at the document-store gateway: a websocket feed
// endpoint for live subscriptions and a REST endpoint for point reads.
type GatewayConfig struct {
	FeedURL     string   `yaml:"feed_url"`
	RestURL     string   `yaml:"rest_url"`
	APIKey      string   `yaml:"api_key"`
	DialTimeout Duration `yaml:"dial_timeout"`
	ReadTimeout Duration `yaml:"read_timeout"`
}

// CacheConfig holds local cache settings. Root contains one pebble
// namespace per room plus the identity slot.
type CacheConfig struct {
	Root string `yaml:"root"`
}

// WindowConfig controls the live message window.
type WindowConfig struct {
	Limit int `yaml:"limit"`
}

// NotifyConfig holds push notification dispatch settings.
type NotifyConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Key      string   `yaml:"key"`
	Timeout  Duration `yaml:"timeout"`
	RPS      float64  `yaml:"rps"`
	Burst    int      `yaml:"burst"`
	Link     string   `yaml:"link"`
}

// RetentionConfig holds configuration for the cache sweep runner that
// removes room caches untouched for longer than MaxAge.
type RetentionConfig struct {
	Enabled  bool      `yaml:"enabled"`
	Cron     string    `yaml:"cron"`
	MaxAge   Duration  `yaml:"max_age"`
	MaxBytes SizeBytes `yaml:"max_bytes"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text|json
}

// HTTPConfig holds the local status/metrics listener settings.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly
// strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing
// from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
