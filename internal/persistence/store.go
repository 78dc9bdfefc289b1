package persistence

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketflow/internal/catalog"
	"github.com/spec-kit/ticketflow/internal/config"
	"github.com/spec-kit/ticketflow/internal/repository"
)

// Backend is a ticket store that also accepts catalog stock updates.
type Backend interface {
	repository.Store
	catalog.Writer
}

// OpenStore builds the store selected by cfg.Store.Driver. The returned
// Postgres handle is nil unless the postgres driver is selected.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Backend, *Postgres, error) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		pg, err := NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.Postgres.RunMigrations {
			if err := RunMigrations(ctx, pg.PoolHandle(), DefaultMigrationsDir, logger); err != nil {
				pg.Close()
				return nil, nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		return repository.NewPostgresStore(pg.PoolHandle()), pg, nil
	case config.StoreSQLite:
		store, err := repository.NewSQLiteStore(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using sqlite store", zap.String("path", store.Path()))
		return store, nil, nil
	case config.StoreMemory, "":
		logger.Warn("using in-memory store; state is lost on restart")
		return repository.NewMemoryStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// SeedCatalog applies the configured stock seed file, if any.
func SeedCatalog(ctx context.Context, cfg config.CatalogConfig, writer catalog.Writer, logger *zap.Logger) error {
	if cfg.SeedFile == "" {
		return nil
	}
	entries, err := catalog.LoadFile(cfg.SeedFile)
	if err != nil {
		return err
	}
	if err := catalog.Apply(ctx, writer, entries); err != nil {
		return err
	}
	logger.Info("catalog seeded", zap.String("file", cfg.SeedFile), zap.Int("variants", len(entries)))
	return nil
}
