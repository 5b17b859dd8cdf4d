package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rmarronnier/docusphere-sub011/internal/schedule"
)

const FileName = "docusphere.yml"

// Config models docusphere.yml.
type Config struct {
	Analytics schedule.Policy `yaml:"analytics" json:"analytics"`
	Store     struct {
		Driver string `yaml:"driver" json:"driver"`
		DSN    string `yaml:"dsn" json:"dsn,omitempty"`
	} `yaml:"store" json:"store"`
	Server struct {
		Addr      string `yaml:"addr" json:"addr"`
		JWTSecret string `yaml:"jwt_secret" json:"-"`
	} `yaml:"server" json:"server"`
	Cache struct {
		Enabled    bool   `yaml:"enabled" json:"enabled"`
		Addr       string `yaml:"addr" json:"addr"`
		Prefix     string `yaml:"prefix" json:"prefix"`
		TTLSeconds int    `yaml:"ttl_seconds" json:"ttl_seconds"`
	} `yaml:"cache" json:"cache"`
	Log struct {
		Level string `yaml:"level" json:"level"`
	} `yaml:"log" json:"log"`
	Tracing struct {
		Enabled     bool   `yaml:"enabled" json:"enabled"`
		ServiceName string `yaml:"service_name" json:"service_name"`
	} `yaml:"tracing" json:"tracing"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; write one with dsp config show --default > %s", path, FileName)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if err := c.Analytics.Validate(); err != nil {
		return fmt.Errorf("config.analytics: %w", err)
	}
	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("config.store.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config.store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Cache.Enabled {
		if c.Cache.Addr == "" {
			return fmt.Errorf("config.cache.addr is required when the cache is enabled")
		}
		if c.Cache.TTLSeconds <= 0 {
			return fmt.Errorf("config.cache.ttl_seconds must be > 0")
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level must be one of debug, info, warn, error")
	}
	return nil
}

// CacheTTL is the report cache lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `analytics:
  lookahead_days: 7
  permit_expiry_days: 30
  overload_hours: 40
  underload_ratio: 0.5
  max_reassignments: 3
  phase_weights:
    studies: 15
    permits: 30
    construction: 50
    reception: 3
    delivery: 2
    other: 10

store:
  driver: sqlite

server:
  addr: 127.0.0.1:8080

cache:
  enabled: false
  addr: 127.0.0.1:6379
  prefix: "dsp:report:"
  ttl_seconds: 60

log:
  level: info

tracing:
  enabled: false
  service_name: docusphere
`
