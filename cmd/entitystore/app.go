package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/entitystore/internal/config"
	"github.com/devrev/pairdb/entitystore/internal/health"
	"github.com/devrev/pairdb/entitystore/internal/index"
	"github.com/devrev/pairdb/entitystore/internal/metrics"
	"github.com/devrev/pairdb/entitystore/internal/mvcc"
	"github.com/devrev/pairdb/entitystore/internal/pipeline"
	"github.com/devrev/pairdb/entitystore/internal/repair"
	"github.com/devrev/pairdb/entitystore/internal/storage"
	"github.com/devrev/pairdb/entitystore/internal/util/workerpool"
)

// app holds the wired components of one process
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	engine     *storage.PebbleEngine
	store      repair.Store
	ioPool     *workerpool.WorkerPool
	repairPool *workerpool.WorkerPool
	processor  *repair.Processor
	index      *index.MemoryIndex
	refresher  *index.RefreshCommand
	pipeline   *pipeline.Pipeline
	checker    *health.Checker
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	if err := a.wire(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) (err error) {
	cfg, logger := a.cfg, a.logger

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewMetrics(a.registry)
	}

	a.engine, err = storage.NewPebbleEngine(&storage.PebbleConfig{
		DataDir:     cfg.Storage.DataDir,
		InMemory:    cfg.Storage.InMemory,
		SyncWrites:  cfg.Storage.SyncWrites,
		CacheSizeMB: cfg.Storage.CacheSizeMB,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to open storage engine: %w", err)
	}

	if a.store, err = newRepairStore(ctx, cfg, logger); err != nil {
		return err
	}

	a.ioPool = workerpool.New(workerpool.Config{
		Name:      "io",
		Workers:   cfg.Workers.IOWorkers,
		QueueSize: cfg.Workers.IOQueueSize,
		Logger:    logger,
	})
	a.repairPool = workerpool.New(workerpool.Config{
		Name:      "repair",
		Workers:   cfg.Repair.Workers,
		QueueSize: cfg.Repair.QueueSize,
		Logger:    logger,
	})

	a.processor = repair.NewProcessor(repair.Config{
		Interval:              cfg.Repair.Interval,
		BatchSize:             cfg.Repair.BatchSize,
		Concurrency:           cfg.Repair.Concurrency,
		MaxAttempts:           cfg.Repair.MaxAttempts,
		RedeliveriesPerSecond: cfg.Repair.RedeliveriesPerSecond,
		HandlerTimeout:        cfg.Repair.HandlerTimeout,
		MaxRetryDelay:         cfg.Repair.MaxRetryDelay,
	}, a.store, a.repairPool, a.metrics, logger)

	var notifier index.Notifier
	if cfg.Index.Enabled {
		a.index = index.NewMemoryIndex()
		notifier = index.NewClientNotifier(a.index, a.metrics, logger)
		a.refresher = index.NewRefreshCommand(a.index, index.RefreshConfig{
			Wait:            cfg.Index.RefreshWait,
			MaxSearches:     cfg.Index.MaxRefreshSearches,
			InitialInterval: cfg.Index.RefreshPollInterval,
		}, a.metrics, logger)
	}

	logs := mvcc.NewLogEntryStore(a.engine)
	a.pipeline, err = pipeline.NewPipeline(pipeline.Config{
		RepairTimeout:  cfg.Repair.Timeout,
		ChunkSize:      cfg.Stream.ChunkSize,
		RetainVersions: cfg.Versions.Retain,
		CacheSize:      cfg.Cache.EntityCacheSize,
	},
		logs,
		mvcc.NewEntityStore(a.engine),
		mvcc.NewUniqueValueStore(a.engine, logs),
		a.processor,
		notifier,
		a.ioPool,
		a.metrics,
		logger,
	)
	if err != nil {
		return err
	}
	for kind, h := range a.pipeline.Handlers() {
		a.processor.Register(kind, h)
	}

	a.checker = health.NewChecker(0, 0, logger)
	a.checker.Register("engine", health.SeverityCritical, a.engine.Ping)
	a.checker.Register("repair_store", health.SeverityCritical, a.store.Ping)
	a.checker.Register("repair_backlog", health.SeverityWarning,
		health.BacklogCheck(a.processor.Outstanding, int64(10*cfg.Repair.BatchSize)))
	if !cfg.Storage.InMemory {
		a.checker.Register("data_dir", health.SeverityCritical, health.DataDirCheck(cfg.Storage.DataDir))
	}

	logger.Info("Entity store initialized",
		zap.String("repair_store", cfg.Repair.Store),
		zap.Bool("in_memory", cfg.Storage.InMemory),
		zap.Bool("index", cfg.Index.Enabled),
		zap.Int("retain_versions", cfg.Versions.Retain))
	return nil
}

func newRepairStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repair.Store, error) {
	switch cfg.Repair.Store {
	case config.RepairStoreRedis:
		client, err := repair.NewRedisClient(ctx, cfg.Redis.Address(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return repair.NewRedisStore(client, cfg.Redis.KeyPrefix, logger), nil

	case config.RepairStorePostgres:
		pool, err := repair.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConnections)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		store := repair.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil

	default:
		return repair.NewMemoryStore(), nil
	}
}

// close releases everything newApp opened, in reverse order
func (a *app) close() {
	if a.repairPool != nil {
		if err := a.repairPool.Stop(a.cfg.Server.ShutdownTimeout); err != nil {
			a.logger.Warn("Repair pool did not drain", zap.Error(err))
		}
	}
	if a.ioPool != nil {
		if err := a.ioPool.Stop(a.cfg.Server.ShutdownTimeout); err != nil {
			a.logger.Warn("IO pool did not drain", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("Failed to close repair store", zap.Error(err))
		}
	}
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			a.logger.Warn("Failed to close storage engine", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
