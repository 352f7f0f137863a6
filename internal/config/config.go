// Package config loads the YAML configuration of the authorization engine
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/authz-engine/rbac-core/internal/api"
	"github.com/authz-engine/rbac-core/internal/audit"
	"github.com/authz-engine/rbac-core/internal/cache"
	"github.com/authz-engine/rbac-core/internal/logging"
)

// Role sources
const (
	SourceFile     = "file"
	SourcePostgres = "postgres"
)

// Config is the complete engine configuration
type Config struct {
	Log     logging.Config `yaml:"log"`
	Engine  EngineConfig   `yaml:"engine"`
	Source  SourceConfig   `yaml:"source"`
	Cache   cache.Config   `yaml:"cache"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Audit   audit.Config   `yaml:"audit"`
	HTTP    api.Config     `yaml:"http"`
}

// EngineConfig configures decision behaviour
type EngineConfig struct {
	// DecisionIDs tags decision logs and audit events with a random id
	DecisionIDs bool `yaml:"decision_ids"`
}

// SourceConfig selects where roles are hydrated from
type SourceConfig struct {
	// Type is file or postgres
	Type string `yaml:"type"`

	// Path is a fixture file or directory for the file source
	Path string `yaml:"path"`
	// Watch reloads the fixture file or directory on change
	Watch bool `yaml:"watch"`

	// DSN is the PostgreSQL connection string. $VARS are expanded.
	DSN string `yaml:"dsn"`
	// Migrate applies embedded schema migrations on startup
	Migrate bool `yaml:"migrate"`
}

// MetricsConfig configures Prometheus metrics
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Default returns a configuration with every section at its default
func Default() Config {
	roleCache := cache.DefaultConfig()
	roleCache.Redis = cache.DefaultRedisConfig()

	return Config{
		Log:    logging.DefaultConfig(),
		Engine: EngineConfig{DecisionIDs: true},
		Source: SourceConfig{Type: SourceFile},
		Cache:  roleCache,
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "authz",
		},
		Audit: audit.DefaultConfig(),
		HTTP:  api.DefaultConfig(),
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every section and reports all problems at once
func (c *Config) Validate() error {
	var errs []error

	if err := c.Log.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}

	switch c.Source.Type {
	case SourceFile:
		if c.Source.Path == "" {
			errs = append(errs, errors.New("source: path is required for the file source"))
		}
	case SourcePostgres:
		if c.Source.DSN == "" {
			errs = append(errs, errors.New("source: dsn is required for the postgres source"))
		}
		if c.Source.Watch {
			errs = append(errs, errors.New("source: watch is only supported for the file source"))
		}
	default:
		errs = append(errs, fmt.Errorf("source: unknown type %q (must be file or postgres)", c.Source.Type))
	}

	switch c.Cache.Type {
	case cache.TypeNone, "":
	case cache.TypeLRU:
		if c.Cache.Capacity <= 0 {
			errs = append(errs, errors.New("cache: capacity must be positive"))
		}
		if c.Cache.TTL <= 0 {
			errs = append(errs, errors.New("cache: ttl must be positive"))
		}
	case cache.TypeRedis:
		if c.Cache.Redis != nil {
			if err := c.Cache.Redis.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("cache: %w", err))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("cache: unknown type %q", c.Cache.Type))
	}

	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		errs = append(errs, errors.New("metrics: namespace is required"))
	}

	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http: addr is required"))
	}

	if err := c.Audit.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audit: %w", err))
	}

	return errors.Join(errs...)
}
