package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Validate when a section or field is omitted.
const (
	DefaultServerURL    = "http://localhost:8080"
	DefaultTimeout      = 30 * time.Second
	DefaultSyncInterval = time.Second
	DefaultRedisURL     = "redis://localhost:6379"
	DefaultInstance     = "default"
	DefaultFileName     = "hieratika.yml"
)

// HieratikaConfig represents the top-level hieratika.yml configuration
type HieratikaConfig struct {
	Version string         `yaml:"version"`
	Server  *ServerConfig  `yaml:"server,omitempty"`
	Sync    *SyncConfig    `yaml:"sync,omitempty"`
	Relay   *RelayConfig   `yaml:"relay,omitempty"`
	Session *SessionConfig `yaml:"session,omitempty"`
}

// ServerConfig locates the Hieratika server
type ServerConfig struct {
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`    // Per request, default 30s
	RateLimit float64       `yaml:"rate_limit,omitempty"` // Requests per second, 0 = unlimited
}

// SyncConfig tunes the batched schedule updates of an editing session
type SyncConfig struct {
	Interval time.Duration `yaml:"interval,omitempty"`
}

// RelayConfig specifies the Redis fan-out of the push stream
type RelayConfig struct {
	RedisURL string `yaml:"redis_url,omitempty"`
	Instance string `yaml:"instance,omitempty"`
}

// SessionConfig specifies where the logged-in session is kept between runs
type SessionConfig struct {
	Path string `yaml:"path,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *HieratikaConfig {
	c := &HieratikaConfig{Version: "1.0"}
	if err := c.Validate(); err != nil {
		panic(err)
	}
	return c
}

// DefaultSessionPath is the session file under the user config directory.
func DefaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "hieratika", "session.db")
}

// Validate performs strict validation on the configuration and fills in
// defaults for omitted fields
func (c *HieratikaConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	if c.Server.URL == "" {
		c.Server.URL = DefaultServerURL
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid server.url: %s (must be an http or https URL)", c.Server.URL)
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = DefaultTimeout
	}
	if c.Server.Timeout < 0 {
		return fmt.Errorf("server.timeout must be positive, got %s", c.Server.Timeout)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must be >= 0 (0 = unlimited), got %g", c.Server.RateLimit)
	}

	if c.Sync == nil {
		c.Sync = &SyncConfig{}
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = DefaultSyncInterval
	}
	if c.Sync.Interval < 10*time.Millisecond {
		return fmt.Errorf("sync.interval must be at least 10ms, got %s", c.Sync.Interval)
	}

	if c.Relay == nil {
		c.Relay = &RelayConfig{}
	}
	if c.Relay.RedisURL == "" {
		c.Relay.RedisURL = DefaultRedisURL
	}
	if ru, err := url.Parse(c.Relay.RedisURL); err != nil || (ru.Scheme != "redis" && ru.Scheme != "rediss") {
		return fmt.Errorf("invalid relay.redis_url: %s (must be a redis:// or rediss:// URL)", c.Relay.RedisURL)
	}
	if c.Relay.Instance == "" {
		c.Relay.Instance = DefaultInstance
	}

	if c.Session == nil {
		c.Session = &SessionConfig{}
	}
	if c.Session.Path == "" {
		c.Session.Path = DefaultSessionPath()
	}

	return nil
}

// Load reads and validates hieratika.yml from the specified path
func Load(path string) (*HieratikaConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config HieratikaConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadOrDefault loads path, falling back to Default when the file does not
// exist. Any other failure is returned.
func LoadOrDefault(path string) (*HieratikaConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}
