package cache

import (
	"crypto/tls"
	"time"
)

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	// Connection settings
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Pool settings
	PoolSize        int           `yaml:"pool_size"`
	PoolTimeout     time.Duration `yaml:"pool_timeout"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`

	// TTL for cached roles
	TTL time.Duration `yaml:"ttl"`

	// TLS configuration
	TLS *tls.Config `yaml:"-"`

	// Sentinel/Cluster mode
	SentinelEnabled    bool     `yaml:"sentinel_enabled"`
	SentinelMasterName string   `yaml:"sentinel_master_name"`
	SentinelAddrs      []string `yaml:"sentinel_addrs"`
	ClusterEnabled     bool     `yaml:"cluster_enabled"`

	// Key prefix for namespacing
	KeyPrefix string `yaml:"key_prefix"`

	// Read timeout for operations
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
}

// DefaultRedisConfig returns a configuration with sensible defaults
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		PoolSize:           10,
		PoolTimeout:        4 * time.Second,
		ConnMaxIdleTime:    5 * time.Minute,
		TTL:                time.Minute,
		SentinelMasterName: "mymaster",
		KeyPrefix:          "authz:",
		ReadTimeout:        3 * time.Second,
		WriteTimeout:       3 * time.Second,
		DialTimeout:        5 * time.Second,
	}
}

// Validate checks the configuration for validity
func (c *RedisConfig) Validate() error {
	if c.Host == "" && !(c.SentinelEnabled && len(c.SentinelAddrs) > 0) {
		return ErrInvalidConfig("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return ErrInvalidConfig("port must be between 1 and 65535")
	}
	if c.PoolSize <= 0 {
		return ErrInvalidConfig("pool_size must be greater than 0")
	}
	if c.TTL <= 0 {
		return ErrInvalidConfig("ttl must be greater than 0")
	}
	if c.SentinelEnabled && c.SentinelMasterName == "" {
		return ErrInvalidConfig("sentinel_master_name is required in sentinel mode")
	}
	return nil
}
