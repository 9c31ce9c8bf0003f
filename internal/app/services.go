// Package app assembles the inventory services on top of one database client.
package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/craftstock-backend/internal/batches"
	"github.com/angelmondragon/craftstock-backend/internal/costing"
	"github.com/angelmondragon/craftstock-backend/internal/hierarchy"
	"github.com/angelmondragon/craftstock-backend/internal/inventory"
	"github.com/angelmondragon/craftstock-backend/internal/ledger"
	"github.com/angelmondragon/craftstock-backend/internal/production"
	"github.com/angelmondragon/craftstock-backend/internal/reversal"
	"github.com/angelmondragon/craftstock-backend/internal/skus"
	"github.com/angelmondragon/craftstock-backend/pkg/config"
	"github.com/angelmondragon/craftstock-backend/pkg/db"
	"github.com/angelmondragon/craftstock-backend/pkg/logger"
	"github.com/angelmondragon/craftstock-backend/pkg/metrics"
	"github.com/angelmondragon/craftstock-backend/pkg/outbox"
	"github.com/angelmondragon/craftstock-backend/pkg/redis"
)

// Options carries the infrastructure shared by every service. Cache and Metrics are optional.
type Options struct {
	DB         *db.Client
	Cache      redis.CacheStore
	Metrics    *metrics.InventoryMetrics
	Inventory  config.InventoryConfig
	EmitLedger bool
	Logger     *logger.Logger
}

type Services struct {
	Costing    costing.Service
	Batches    batches.Service
	Skus       skus.Service
	Hierarchy  hierarchy.Service
	Production production.Service
	Inventory  inventory.Service
}

// NewServices wires repositories, the ledger and the reversal engine into the public services.
func NewServices(opts Options) (*Services, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("database client required")
	}
	logg := opts.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	conn := opts.DB.DB()

	overrides, err := opts.Inventory.ThresholdOverrides()
	if err != nil {
		return nil, err
	}

	var emitter outbox.Emitter
	if opts.EmitLedger {
		emitter = outbox.NewService(outbox.NewRepository(conn), logg)
	}

	batchRepo := batches.NewRepository(conn)
	skuRepo := skus.NewRepository(conn)
	entries := ledger.NewRepository(conn)

	out := &Services{}
	if out.Hierarchy, err = hierarchy.NewService(
		batchRepo,
		opts.Cache,
		opts.Inventory.HierarchyCacheTTL,
		hierarchy.NewThresholds(opts.Inventory.LowStockThreshold, overrides),
		logg,
	); err != nil {
		return nil, fmt.Errorf("hierarchy service: %w", err)
	}
	var invalidator batches.Invalidator = out.Hierarchy

	if out.Costing, err = costing.NewService(batchRepo); err != nil {
		return nil, fmt.Errorf("costing service: %w", err)
	}
	if out.Batches, err = batches.NewService(batchRepo, invalidator, logg); err != nil {
		return nil, fmt.Errorf("batch service: %w", err)
	}
	if out.Skus, err = skus.NewService(skuRepo, opts.DB, logg); err != nil {
		return nil, fmt.Errorf("sku service: %w", err)
	}

	ledgerSvc, err := ledger.NewService(entries, func(tx *gorm.DB) ledger.SkuWriter {
		return skus.NewRepository(tx)
	}, emitter, logg)
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}
	engine, err := reversal.NewEngine(reversal.NewRepository(conn), batchRepo, emitter, logg)
	if err != nil {
		return nil, fmt.Errorf("reversal engine: %w", err)
	}

	if out.Production, err = production.NewService(production.Dependencies{
		Tx:          opts.DB,
		Records:     production.NewRepository(conn),
		Batches:     batchRepo,
		Skus:        skuRepo,
		Ledger:      ledgerSvc,
		Emitter:     emitter,
		Invalidator: invalidator,
		Metrics:     opts.Metrics,
		Logger:      logg,
	}); err != nil {
		return nil, fmt.Errorf("production service: %w", err)
	}
	if out.Inventory, err = inventory.NewService(inventory.Dependencies{
		Tx:              opts.DB,
		Skus:            skuRepo,
		Ledger:          ledgerSvc,
		Entries:         entries,
		Reversal:        engine,
		Invalidator:     invalidator,
		Metrics:         opts.Metrics,
		Logger:          logg,
		HistoryPageSize: opts.Inventory.HistoryPageSize,
	}); err != nil {
		return nil, fmt.Errorf("inventory service: %w", err)
	}
	return out, nil
}
