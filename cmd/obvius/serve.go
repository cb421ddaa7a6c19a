package main

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/obvius/pkg/logging"
	"github.com/odvcencio/obvius/pkg/server"
	"github.com/odvcencio/obvius/pkg/storage"
	"github.com/odvcencio/obvius/pkg/tracing"
)

func (a *app) runServe(ctx context.Context, args []string) error {
	fs, configPath := a.newFlagSet("serve")
	bind := fs.String("bind", "", "address to listen on (overrides server.bind)")
	dbPath := fs.String("db", "", "SQLite path for the STATUS archive (overrides storage.path)")
	logLevel := fs.String("log-level", "", "minimum log level: debug, info, warn, error")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	cfg, err := a.mustLoadConfig(*configPath)
	if err != nil {
		return err
	}
	if fs.Changed("bind") {
		cfg.Server.Bind = *bind
	}
	if fs.Changed("db") {
		cfg.Storage.Path = *dbPath
	}
	if fs.Changed("log-level") {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return withExitCode(fmt.Errorf("config validation: %w", err), exitUsage)
	}

	logger, err := logging.NewLogger(cfg.Logging.Dir)
	if err != nil {
		return err
	}
	defer logger.Close()
	level, _ := logging.ParseLevel(cfg.Logging.Level)
	logger.SetMinLevel(level)
	if cfg.Logging.Stderr {
		logger.SetMirror(a.stderr)
	}

	var store *storage.Store
	if cfg.Storage.Path != "" {
		store, err = storage.New(cfg.Storage.Path)
		if err != nil {
			_ = logger.Error(logging.CategoryStorage, "open_failed", "failed to open status archive", map[string]any{
				"path":  cfg.Storage.Path,
				"error": err.Error(),
			})
			return err
		}
		defer store.Close()
	}

	if cfg.Tracing.Enabled {
		tp, err := tracing.NewTracerProvider(cfg.Tracing.ServiceName, version, a.stderr)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	_ = logger.Info(logging.CategoryConfig, "loaded", "configuration loaded", map[string]any{
		"bind":    cfg.Server.Bind,
		"path":    cfg.Server.Path,
		"archive": cfg.Storage.Path != "",
		"metrics": cfg.Metrics.Enabled,
		"tracing": cfg.Tracing.Enabled,
		"log_dir": cfg.Logging.Dir,
	})

	srv := server.New(cfg, logger, store)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			_ = logger.Info(logging.CategoryServer, "shutdown", "shutdown requested", nil)
		}
		return nil
	})
	return g.Wait()
}
