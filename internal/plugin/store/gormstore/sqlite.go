package gormstore

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/strandhq/strand/internal/config"
	registrycache "github.com/strandhq/strand/internal/registry/cache"
	registrymigrate "github.com/strandhq/strand/internal/registry/migrate"
	registrystore "github.com/strandhq/strand/internal/registry/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.NoteStore, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || cfg.SQLitePath == "" {
				return nil, fmt.Errorf("sqlite store: STRAND_SQLITE_PATH is required")
			}
			db, err := gorm.Open(sqlite.Open(cfg.SQLitePath), &gorm.Config{})
			if err != nil {
				return nil, fmt.Errorf("failed to open sqlite db: %w", err)
			}
			// sqlite serializes writers itself; keep one connection so the
			// driver never returns SQLITE_BUSY under concurrent workers.
			sqlDB, err := db.DB()
			if err != nil {
				return nil, err
			}
			sqlDB.SetMaxOpenConns(1)

			return New(db, Options{
				NoteCache:      registrycache.NoteCacheFromContext(ctx),
				CacheTTL:       cfg.CacheNoteTTL,
				JobMaxAttempts: cfg.JobMaxAttempts,
			}), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &sqliteMigrator{}})
}

type sqliteMigrator struct{}

func (m *sqliteMigrator) Name() string { return "sqlite-schema" }

func (m *sqliteMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart || cfg.DatastoreType != "sqlite" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := gorm.Open(sqlite.Open(cfg.SQLitePath), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("migration: failed to open sqlite db: %w", err)
	}
	return migrateSchema(db)
}
