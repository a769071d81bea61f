// Command adapter is the CSP billing adapter daemon's entry point: it
// loads configuration, wires the capability registry, runs Bootstrap,
// then drives the Control Loop until terminated.
//
// Usage:
//
//	adapter                 # run the adapter
//	adapter -version         # print the build version and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/adapterloop"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/capability"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/capability/httpcsp"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/capability/httpusage"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/capability/staticgeneral"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/config"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/metrics"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/storage"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/storage/filekv"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/storage/rediskv"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/storage/s3archive"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/version"
	"github.com/SUSE-Enceladus/csp-billing-adapter/pkg/apperror"
	"github.com/SUSE-Enceladus/csp-billing-adapter/pkg/logging"
	"github.com/SUSE-Enceladus/csp-billing-adapter/pkg/retry"
)

func main() {
	showVersion := flag.Bool("version", false, "print the build version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		return
	}

	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		return apperror.ExitConfig
	}

	logger := logging.NewLoggerWithFormat(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg, err := buildRegistry(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build capability registry", slog.Any("error", err))
		return apperror.ExitCode(err)
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen); err != nil {
				logger.Error("metrics server stopped", slog.Any("error", err))
			}
		}()
	}

	loop, err := adapterloop.Bootstrap(ctx, cfg, reg, logger, time.Sleep)
	if err != nil {
		logger.Error("bootstrap failed", slog.Any("error", err))
		return apperror.ExitCode(err)
	}

	if err := loop.Run(ctx); err != nil {
		logger.Error("control loop terminated", slog.Any("error", err))
		return apperror.ExitCode(err)
	}

	logger.Info("adapter shut down cleanly")
	return apperror.ExitClean
}

// buildRegistry wires one Storage/Archive/CSP/Usage/General capability,
// selecting the storage backends per storage.backend and
// storage.archive_backend.
func buildRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*capability.Registry, error) {
	cacheStore, err := newCacheStore(ctx, cfg)
	if err != nil {
		return nil, apperror.NewConfigError("building cache/csp-config store", err)
	}

	archiveStore, err := newArchiveStore(ctx, cfg, cacheStore)
	if err != nil {
		return nil, apperror.NewConfigError("building archive store", err)
	}

	retryCfg := retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}

	cspClient := httpcsp.New(cfg.CSP, cfg.ProductCode, retryCfg, logger)
	usageClient := httpusage.New(cfg.Usage, retryCfg)
	general := staticgeneral.New(map[string]interface{}{
		"schema_version": cfg.SchemaVersion,
	})

	return &capability.Registry{
		Storage: cacheStore,
		Archive: archiveStore,
		CSP:     cspClient,
		Usage:   usageClient,
		General: general,
	}, nil
}

func newCacheStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "redis":
		return rediskv.New(ctx, cfg.Storage.Redis)
	case "file", "":
		return filekv.New(cfg.Storage.File.Directory)
	default:
		return nil, fmt.Errorf("unknown storage.backend %q", cfg.Storage.Backend)
	}
}

// newArchiveStore builds the archive backend. When both the document
// store and the archive are configured for "file", the same filekv.Store
// instance serves both (it implements storage.ArchiveStore too) so
// archive entries land under the same root directory as cache/csp-config.
func newArchiveStore(ctx context.Context, cfg *config.Config, cacheStore storage.Store) (storage.ArchiveStore, error) {
	switch cfg.Storage.ArchiveBackend {
	case "s3":
		return s3archive.New(ctx, cfg.Storage.S3)
	case "file", "":
		if cfg.Storage.Backend == "file" || cfg.Storage.Backend == "" {
			if archiveStore, ok := cacheStore.(storage.ArchiveStore); ok {
				return archiveStore, nil
			}
		}
		return filekv.New(cfg.Storage.File.Directory)
	default:
		return nil, fmt.Errorf("unknown storage.archive_backend %q", cfg.Storage.ArchiveBackend)
	}
}
