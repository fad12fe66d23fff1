package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/romaneios/internal/inventory"
	jobmetrics "github.com/odyssey-erp/romaneios/internal/jobs"
	"github.com/odyssey-erp/romaneios/internal/locks"
	"github.com/odyssey-erp/romaneios/internal/observability"
	"github.com/odyssey-erp/romaneios/internal/platform/cache"
	"github.com/odyssey-erp/romaneios/internal/platform/db"
	"github.com/odyssey-erp/romaneios/internal/reconcile"
	"github.com/odyssey-erp/romaneios/internal/romaneio"
)

// Migrator applies the storage schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Container holds the wired components shared by the binaries.
type Container struct {
	Config       *Config
	Logger       *slog.Logger
	Store        romaneio.Store
	Gateway      inventory.Gateway
	Locker       locks.Locker
	Redis        *redis.Client
	Metrics      *observability.Metrics
	JobMetrics   *jobmetrics.Metrics
	Service      *romaneio.Service
	Engine       *reconcile.Engine
	Orchestrator *reconcile.Orchestrator

	closers []func()
}

// Build opens storage, Redis and the inventory gateway and wires the core.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}
	c.JobMetrics = jobmetrics.NewMetrics(c.Metrics.Registerer())

	store, err := c.openStore(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Store = store

	gateway, err := NewGateway(cfg)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Gateway = gateway

	if cfg.RedisEnabled() {
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Redis = client
		c.closers = append(c.closers, func() { _ = client.Close() })
		c.Locker = locks.NewRedis(client, cfg.VerifyLockTTL, logger)
	} else {
		c.Locker = locks.NewLocal()
	}

	c.Service = romaneio.NewService(c.Store, c.Gateway, c.Locker, romaneio.ServiceConfig{
		MaxAttempts: cfg.VerifyMaxAttempts,
		DefaultFlags: romaneio.Flags{
			AfterReceipt:    cfg.CreateAfterReceipt,
			Scheduled:       cfg.CreateScheduled,
			InsertAsPartial: cfg.CreateInsertAsPartial,
		},
		FetchOnCreate:  cfg.CreateFetchItems,
		OfflineGateway: cfg.InventoryOffline,
	}, logger)
	c.Engine = reconcile.NewEngine(c.Store, c.Gateway, c.Locker, cfg.VerifyMaxAttempts, logger, reconcile.WithMetrics(c.JobMetrics))
	c.Orchestrator = reconcile.NewOrchestrator(c.Store, c.Engine, cfg.VerifyConcurrency, c.JobMetrics, logger)
	return c, nil
}

// NewGateway returns the offline gateway or an HTTP client for the inventory system.
func NewGateway(cfg *Config) (inventory.Gateway, error) {
	if cfg.InventoryOffline {
		return inventory.NewOffline(), nil
	}
	client, err := inventory.NewClient(inventory.ClientConfig{
		BaseURL:      cfg.InventoryBaseURL,
		SystemID:     cfg.InventorySystemID,
		SystemHeader: cfg.InventorySystemHeader,
		Timeout:      cfg.InventoryTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("inventory client: %w", err)
	}
	return client, nil
}

func (c *Container) openStore(ctx context.Context) (romaneio.Store, error) {
	switch c.Config.DBDriver {
	case DriverPostgres:
		pool, err := db.New(ctx, c.Config.PGDSN)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, pool.Close)
		return romaneio.NewRepository(pool), nil
	case DriverSQLite:
		conn, err := db.NewSQLite(ctx, c.Config.SQLitePath)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() { _ = conn.Close() })
		return romaneio.NewSQLiteRepository(conn), nil
	case DriverMemory:
		return romaneio.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown DB_DRIVER %q", c.Config.DBDriver)
}

// Migrate applies the schema when the store supports it.
func (c *Container) Migrate(ctx context.Context) error {
	m, ok := c.Store.(Migrator)
	if !ok {
		return errors.New("configured store has no schema to apply")
	}
	return m.Migrate(ctx)
}

// Close releases connections in reverse order of acquisition.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
