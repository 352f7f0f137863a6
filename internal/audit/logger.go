// Package audit records authorization decisions as a JSON lines trail
package audit

import (
	"context"
	"fmt"
	"time"
)

// Logger logs audit events
type Logger interface {
	// LogDecision queues a decision event without blocking the caller
	LogDecision(ctx context.Context, event *DecisionEvent)

	// Flush writes pending events
	Flush() error

	// Close flushes remaining events and closes the writer
	Close() error
}

// Output types
const (
	TypeStdout = "stdout"
	TypeStderr = "stderr"
	TypeFile   = "file"
)

// Config for audit logger
type Config struct {
	// Enabled enables audit logging
	Enabled bool `yaml:"enabled"`

	// Output type: stdout, stderr or file
	Type string `yaml:"type"`

	// For file output
	FilePath       string `yaml:"file_path"`
	FileMaxSize    int    `yaml:"file_max_size"` // MB
	FileMaxAge     int    `yaml:"file_max_age"`  // Days
	FileMaxBackups int    `yaml:"file_max_backups"`

	// Performance tuning
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DefaultConfig returns default configuration. Auditing is off unless enabled.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		Type:           TypeStderr,
		BufferSize:     1000,
		FlushInterval:  100 * time.Millisecond,
		FileMaxSize:    100,
		FileMaxAge:     30,
		FileMaxBackups: 10,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	switch c.Type {
	case "":
		return fmt.Errorf("audit type is required")
	case TypeStdout, TypeStderr:
	case TypeFile:
		if c.FilePath == "" {
			return fmt.Errorf("file path is required for file output")
		}
	default:
		return fmt.Errorf("invalid audit type: %s (must be stdout, stderr, or file)", c.Type)
	}

	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 100 * time.Millisecond
	}

	return nil
}

// NewLogger creates a new audit logger. A disabled config yields a no-op logger.
func NewLogger(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
		*cfg = DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if !cfg.Enabled {
		return NewNoopLogger(), nil
	}

	var writer Writer
	var err error

	switch cfg.Type {
	case TypeStdout:
		writer = NewStdoutWriter()
	case TypeStderr:
		writer = NewStderrWriter()
	case TypeFile:
		writer, err = NewFileWriter(cfg.FilePath, cfg.FileMaxSize, cfg.FileMaxAge, cfg.FileMaxBackups)
		if err != nil {
			return nil, fmt.Errorf("create file writer: %w", err)
		}
	}

	return NewAsyncLogger(writer, *cfg), nil
}

// noopLogger is used when audit logging is disabled
type noopLogger struct{}

// NewNoopLogger returns a logger that discards every event
func NewNoopLogger() Logger {
	return noopLogger{}
}

func (noopLogger) LogDecision(ctx context.Context, event *DecisionEvent) {}
func (noopLogger) Flush() error                                          { return nil }
func (noopLogger) Close() error                                          { return nil }

type requestIDKey struct{}

// WithRequestID attaches a request id that is copied into decision events
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id attached to ctx, if any
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
