// Package main provides the command-line entry point of the authorization engine
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/authz-engine/rbac-core/internal/api"
	"github.com/authz-engine/rbac-core/internal/config"
	"github.com/authz-engine/rbac-core/internal/logging"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes the command and returns the process exit code. Deferred
// cleanup, including the audit trail flush, completes before it returns.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("authz-eval", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configPath      = fs.String("config", "", "Path to YAML configuration file")
		rolesPath       = fs.String("roles", "", "Role fixture file or directory (overrides source.path)")
		watch           = fs.Bool("watch", false, "Reload role fixtures on change")
		input           = fs.String("input", "-", "Request stream to evaluate, - for stdin")
		serve           = fs.Bool("serve", false, "Serve the HTTP API instead of evaluating a request stream")
		addr            = fs.String("addr", "", "HTTP listen address (overrides http.addr)")
		seedPath        = fs.String("seed", "", "Seed the postgres source from a fixture file or directory before starting")
		logLevel        = fs.String("log-level", "", "Log level (debug, info, warn, error)")
		showVersion     = fs.Bool("version", false, "Show version information")
		gracefulTimeout = fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *showVersion {
		fmt.Fprintf(stdout, "authz-eval %s\n", Version)
		fmt.Fprintf(stdout, "  Build Time: %s\n", BuildTime)
		fmt.Fprintf(stdout, "  Git Commit: %s\n", GitCommit)
		return 0
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
			return 1
		}
		cfg = loaded
	}

	// Flags win over the file
	if *rolesPath != "" {
		cfg.Source.Type = config.SourceFile
		cfg.Source.Path = *rolesPath
	}
	if *watch {
		cfg.Source.Watch = true
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *serve {
		cfg.Metrics.Enabled = true
	}
	cfg.HTTP.Version = Version

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, *seedPath)
	if err != nil {
		logger.Error("Failed to start", zap.Error(err))
		return 1
	}
	defer a.Close()

	if *serve {
		if err := runServer(ctx, a, cfg.HTTP, *gracefulTimeout, logger); err != nil {
			logger.Error("Server error", zap.Error(err))
			return 1
		}
		return 0
	}

	in, closeInput, err := openInput(*input, stdin)
	if err != nil {
		logger.Error("Failed to open input", zap.Error(err))
		return 1
	}
	defer closeInput()

	if err := a.Evaluate(ctx, in, stdout); err != nil {
		logger.Error("Evaluation stopped", zap.Error(err))
		return 1
	}
	return 0
}

func runServer(ctx context.Context, a *app, cfg api.Config, timeout time.Duration, logger *zap.Logger) error {
	srv, err := api.New(cfg, a.engine, a.metrics, logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openInput(path string, stdin io.Reader) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}
