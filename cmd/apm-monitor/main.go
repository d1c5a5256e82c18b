// Command apm-monitor runs the APM analysis pipeline as a daemon with an
// HTTP API and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/archive"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/config"
	apmerrors "github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/errors"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/handlers"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/logging"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/metricstore"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	shutdownTimeout := flag.Duration("shutdown-timeout", 30*time.Second, "graceful shutdown timeout")
	flag.Parse()

	if err := run(*configPath, *addr, *shutdownTimeout); err != nil {
		fmt.Fprintf(os.Stderr, "apm-monitor: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig applies defaults, then the file (if any), then APM_* variables.
func loadConfig(path string) (*config.APMConfig, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return nil, apmerrors.Wrap(apmerrors.ComponentConfig, "load_file", err)
		}
	}
	cfg, err := config.LoadFromEnv(cfg)
	if err != nil {
		return nil, apmerrors.Wrap(apmerrors.ComponentConfig, "load_env", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, apmerrors.Wrap(apmerrors.ComponentConfig, "validate", err)
	}
	return cfg, nil
}

func run(configPath, addr string, shutdownTimeout time.Duration) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger, level, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, cfg.ServiceName)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error(err, "Failed to flush traces")
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, err := metricstore.New(ctx, cfg.Store, logger)
	if err != nil {
		return apmerrors.Wrap(apmerrors.ComponentStore, "open", err)
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	opts := []apm.Option{apm.WithLogger(logger), apm.WithStore(store), apm.WithRegisterer(reg)}
	if cfg.Profiling.ArchiveBucket != "" {
		archiver, err := archive.NewFromConfig(ctx, cfg.Profiling)
		if err != nil {
			return err
		}
		opts = append(opts, apm.WithProfileArchiver(archiver))
		logger.Info("Profile archiving enabled", "bucket", cfg.Profiling.ArchiveBucket, "prefix", cfg.Profiling.ArchivePrefix)
	}

	manager, err := apm.NewManager(cfg, opts...)
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		logger.Info("APM analysis disabled by configuration, serving API only")
	} else if err := manager.Start(ctx); err != nil {
		return err
	}

	if configPath != "" {
		go watchConfig(ctx, configPath, logger, level)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           handlers.NewRouter(manager, reg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr, "store", cfg.Store.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err = <-serveErr:
		logger.Error(err, "HTTP server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if serr := server.Shutdown(shutdownCtx); serr != nil {
		logger.Error(serr, "HTTP server forced to shut down")
	}
	if merr := manager.Stop(shutdownCtx); merr != nil {
		logger.Error(merr, "APM manager shutdown failed")
	}
	logger.Info("apm-monitor exited")
	return err
}

// watchConfig applies log level changes from the configuration file. Other
// settings take effect on restart.
func watchConfig(ctx context.Context, path string, logger logr.Logger, level zap.AtomicLevel) {
	err := config.Watch(ctx, path, logger, func(next *config.APMConfig) {
		if err := logging.SetLevel(level, next.Logging.Level); err != nil {
			logger.Error(err, "Failed to apply log level", "level", next.Logging.Level)
			return
		}
		logger.Info("Log level updated", "level", next.Logging.Level)
	})
	if err != nil {
		logger.Error(err, "Config watcher stopped", "file", path)
	}
}
