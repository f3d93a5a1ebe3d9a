package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/davidleathers/tiered-eventstore/internal/infrastructure/archive"
	"github.com/davidleathers/tiered-eventstore/internal/infrastructure/config"
	"github.com/davidleathers/tiered-eventstore/internal/infrastructure/database"
	"github.com/davidleathers/tiered-eventstore/internal/infrastructure/telemetry"
	"github.com/davidleathers/tiered-eventstore/internal/service/retention"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	interval   = flag.Duration("interval", 0, "Run continuously at this interval (0 = one shot)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Fatal("failed to load configuration", zap.Error(err))
	}

	logger, err := telemetry.NewLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil && ctx.Err() == nil {
		logger.Fatal("archiver failed", zap.Error(err))
	}
	logger.Info("archiver stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	pool, err := database.NewConnectionPool(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	schema, err := database.NewSchemaInitializer(pool.Pool(), cfg.Store.Name, logger)
	if err != nil {
		return err
	}
	if err := schema.Initialize(ctx); err != nil {
		return err
	}

	policies, err := cfg.Store.RetentionPolicies()
	if err != nil {
		return err
	}
	store, err := database.NewEventStore(pool.Pool(), database.NewPostgresDialect(), cfg.Store.Name, policies, logger)
	if err != nil {
		return err
	}
	store.WithCandidatePageSize(cfg.Archiver.BatchSize)
	catalog, err := database.NewSegmentCatalog(pool.Pool(), cfg.Store.Name)
	if err != nil {
		return err
	}
	cold, err := archive.NewColdStore(cfg.Store.ArchiveDirectory, logger)
	if err != nil {
		return err
	}

	metrics := retention.NewMetrics(prometheus.DefaultRegisterer)
	coordinator := retention.NewCoordinator(pool.Pool(), store, catalog, cold, logger, metrics)

	// The flag wins over the config file; both zero means one shot.
	runInterval := *interval
	if runInterval <= 0 {
		runInterval = cfg.Archiver.Interval
	}

	if runInterval <= 0 {
		start := time.Now()
		if err := coordinator.Archive(ctx); err != nil {
			return err
		}
		logger.Info("archive pass completed", zap.Duration("duration", time.Since(start)))
		return nil
	}

	logger.Info("archiver running", zap.Duration("interval", runInterval))
	ticker := time.NewTicker(runInterval)
	defer ticker.Stop()
	for {
		start := time.Now()
		if err := coordinator.Archive(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("archive pass failed", zap.Error(err))
		} else {
			logger.Info("archive pass completed", zap.Duration("duration", time.Since(start)))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
