package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/authz-engine/rbac-core/internal/audit"
	"github.com/authz-engine/rbac-core/internal/cache"
	"github.com/authz-engine/rbac-core/internal/config"
	"github.com/authz-engine/rbac-core/internal/db"
	"github.com/authz-engine/rbac-core/internal/engine"
	"github.com/authz-engine/rbac-core/internal/hydrator"
	"github.com/authz-engine/rbac-core/internal/metrics"
	"github.com/authz-engine/rbac-core/pkg/types"
)

// app holds the wired components of one process
type app struct {
	engine  *engine.Engine
	metrics metrics.Metrics
	watcher *hydrator.FileWatcher
	logger  *zap.Logger
	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger, seedPath string) (*app, error) {
	a := &app{logger: logger}
	if err := a.init(ctx, cfg, seedPath); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context, cfg config.Config, seedPath string) error {
	logger := a.logger
	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewPrometheusMetrics(cfg.Metrics.Namespace)
	} else {
		a.metrics = metrics.NewNoOpMetrics()
	}

	source, err := a.openSource(ctx, cfg.Source, seedPath)
	if err != nil {
		return err
	}

	h := source
	roleCache, err := cache.NewRoleCache(cfg.Cache)
	if err != nil {
		return fmt.Errorf("role cache: %w", err)
	}
	if roleCache != nil {
		if c, ok := roleCache.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
		cached := hydrator.NewCached(source, roleCache, logger, a.metrics)
		h = cached

		if a.watcher != nil {
			a.watcher.OnReload(func() {
				if err := cached.InvalidateAll(context.Background()); err != nil {
					logger.Warn("Failed to invalidate role cache after reload", zap.Error(err))
				}
			})
		}
		logger.Info("Role cache enabled", zap.String("type", string(cfg.Cache.Type)))
	}

	if a.watcher != nil {
		if err := a.watcher.Watch(ctx); err != nil {
			return fmt.Errorf("watch %s: %w", cfg.Source.Path, err)
		}
	}

	trail, err := audit.NewLogger(&cfg.Audit)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	a.closers = append(a.closers, trail.Close)

	eng, err := engine.New(engine.Config{
		Logger:      logger,
		Metrics:     a.metrics,
		Audit:       trail,
		DecisionIDs: cfg.Engine.DecisionIDs,
	}, h)
	if err != nil {
		return err
	}
	a.engine = eng

	logger.Info("Decision engine initialized",
		zap.String("source", cfg.Source.Type),
		zap.Bool("watch", a.watcher != nil),
		zap.Bool("metrics", cfg.Metrics.Enabled),
		zap.Bool("audit", cfg.Audit.Enabled),
	)
	return nil
}

func (a *app) openSource(ctx context.Context, cfg config.SourceConfig, seedPath string) (hydrator.Hydrator, error) {
	loader := hydrator.NewLoader(a.logger)

	switch cfg.Type {
	case config.SourceFile:
		if seedPath != "" {
			return nil, errors.New("seeding requires the postgres source")
		}

		roles, err := loader.Load(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("load roles: %w", err)
		}
		mem, err := hydrator.NewMemoryHydrator(roles...)
		if err != nil {
			return nil, fmt.Errorf("load roles: %w", err)
		}
		a.logger.Info("Role fixtures loaded",
			zap.String("path", cfg.Path),
			zap.Int("roles", mem.Len()),
		)

		if cfg.Watch {
			a.watcher, err = hydrator.NewFileWatcher(cfg.Path, mem, loader, a.logger, a.metrics)
			if err != nil {
				return nil, err
			}
			a.closers = append(a.closers, a.watcher.Stop)
		}
		return mem, nil

	case config.SourcePostgres:
		if cfg.Migrate {
			if err := runMigrations(cfg.DSN, a.logger); err != nil {
				return nil, err
			}
		}

		conn, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.closers = append(a.closers, conn.Close)

		if seedPath != "" {
			roles, err := loader.Load(seedPath)
			if err != nil {
				return nil, fmt.Errorf("load seed roles: %w", err)
			}
			if err := db.SeedRoles(ctx, conn, roles); err != nil {
				return nil, fmt.Errorf("seed roles: %w", err)
			}
			a.logger.Info("Seeded roles", zap.Int("roles", len(roles)))
		}

		pg, err := hydrator.NewPostgresHydrator(ctx, conn, a.logger)
		if err != nil {
			return nil, err
		}
		return pg, nil

	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}
}

// runMigrations applies embedded migrations on a dedicated connection pool,
// which the migration runner closes when done
func runMigrations(dsn string, logger *zap.Logger) error {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	runner, err := db.NewMigrationRunner(conn, logger)
	if err != nil {
		conn.Close()
		return err
	}
	defer runner.Close()

	return runner.Up()
}

// Close releases components in reverse order of creation
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Shutdown step failed", zap.Error(err))
		}
	}
	a.closers = nil
}

// evalRequest is one request of the input stream
type evalRequest struct {
	RequestID string        `json:"request_id,omitempty"`
	User      *types.User   `json:"user"`
	Checks    []types.Check `json:"checks"`
}

type evalResult struct {
	Allowed bool   `json:"allowed"`
	Error   string `json:"error,omitempty"`
}

// evalResponse answers one request. Error is set when no check could be decided.
type evalResponse struct {
	RequestID string       `json:"request_id,omitempty"`
	Results   []evalResult `json:"results,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// Evaluate decides a stream of JSON requests and writes one JSON line per
// request. It stops at end of input, on malformed JSON, or when ctx ends.
func (a *app) Evaluate(ctx context.Context, in io.Reader, out io.Writer) error {
	dec := json.NewDecoder(in)
	dec.UseNumber()
	enc := json.NewEncoder(out)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var req evalRequest
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode request: %w", err)
		}

		if err := enc.Encode(a.evaluateOne(ctx, &req)); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
}

func (a *app) evaluateOne(ctx context.Context, req *evalRequest) evalResponse {
	resp := evalResponse{RequestID: req.RequestID}
	if req.User == nil {
		resp.Error = "user is required"
		return resp
	}

	if req.RequestID != "" {
		ctx = audit.WithRequestID(ctx, req.RequestID)
	}

	results, err := a.engine.EvaluateBatch(ctx, req.Checks, req.User)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}

	resp.Results = make([]evalResult, len(results))
	for i, r := range results {
		resp.Results[i].Allowed = r.Allowed
		if r.Err != nil {
			resp.Results[i].Error = r.Err.Error()
		}
	}
	return resp
}
