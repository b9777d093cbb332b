package bootstrap

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"logguard/config"
	"logguard/core"
	"logguard/storage"
)

// InitStore opens the metadata store selected by storage.backend.
func InitStore(cfg *config.Config, sugar *zap.SugaredLogger) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "mongodb":
		store, err := storage.NewMongoDB(cfg.MongoDB.URI, cfg.MongoDB.Database, sugar)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		sugar.Infow("MongoDB store initialized", "database", cfg.MongoDB.Database)
		return store, nil
	default:
		store, err := storage.NewSQLite(cfg.DataPaths.SQLitePath, sugar)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
		}
		sugar.Infow("SQLite store initialized", "path", cfg.DataPaths.SQLitePath)
		return store, nil
	}
}

// InitCache builds the response cache tier. Redis is preferred when enabled
// and reachable, with the in-process LRU as fallback so a cache outage never
// blocks startup.
func InitCache(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (core.Cache, func(), error) {
	if cfg.Redis.Enabled {
		redisCache := core.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, sugar)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := redisCache.Ping(pingCtx); err != nil {
			sugar.Warnw("Redis unreachable, falling back to in-memory cache",
				"addr", cfg.Redis.Addr, "error", err)
			_ = redisCache.Close()
		} else {
			sugar.Infow("Redis cache initialized", "addr", cfg.Redis.Addr)
			return redisCache, func() { _ = redisCache.Close() }, nil
		}
	}

	memCache, err := core.NewMemoryCache(cfg.Cache.MemorySize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	sugar.Infow("In-memory cache initialized", "size", cfg.Cache.MemorySize)
	return memCache, func() {}, nil
}

// ArchiveComponents holds the optional ClickHouse entry archive with its
// feed channel.
type ArchiveComponents struct {
	ClickHouse *storage.ClickHouse
	Archive    *storage.EntryArchive
	EntryCh    chan *storage.ArchiveEntry
}

// InitArchive connects the ClickHouse entry archive when enabled. Archive
// failures degrade the deployment rather than stopping it: anomaly detection
// works without the raw-entry archive.
func InitArchive(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*ArchiveComponents, error) {
	if !cfg.ClickHouse.Enabled {
		sugar.Info("ClickHouse entry archive disabled by configuration")
		return nil, nil
	}

	clickhouse, err := storage.NewClickHouse(cfg, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse at %s: %w", cfg.ClickHouse.Addr, err)
	}

	if err := clickhouse.CreateTablesIfNotExist(ctx); err != nil {
		_ = clickhouse.Close()
		return nil, fmt.Errorf("failed to ensure ClickHouse tables: %w", err)
	}

	entryCh := make(chan *storage.ArchiveEntry, cfg.ClickHouse.BatchSize)
	archive, err := storage.NewEntryArchive(ctx, clickhouse, cfg, entryCh, sugar)
	if err != nil {
		_ = clickhouse.Close()
		return nil, fmt.Errorf("failed to create entry archive: %w", err)
	}

	sugar.Infow("ClickHouse entry archive initialized",
		"addr", cfg.ClickHouse.Addr, "batch_size", cfg.ClickHouse.BatchSize)

	return &ArchiveComponents{ClickHouse: clickhouse, Archive: archive, EntryCh: entryCh}, nil
}
