package gormstore

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/strandhq/strand/internal/config"
	registrycache "github.com/strandhq/strand/internal/registry/cache"
	registrymigrate "github.com/strandhq/strand/internal/registry/migrate"
	registrystore "github.com/strandhq/strand/internal/registry/store"
	"github.com/strandhq/strand/internal/security"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registrystore.NoteStore, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || cfg.DBURL == "" {
				return nil, fmt.Errorf("postgres store: STRAND_DB_URL is required")
			}
			db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
			if err != nil {
				return nil, fmt.Errorf("failed to connect to postgres: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
			if security.DBPoolMaxConnections != nil {
				security.DBPoolMaxConnections.Set(float64(cfg.DBMaxOpenConns))
			}

			// Periodically update the open connections gauge.
			go func() {
				ticker := time.NewTicker(15 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if security.DBPoolOpenConnections != nil {
							security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
						}
					}
				}
			}()

			return New(db, Options{
				NoteCache:      registrycache.NoteCacheFromContext(ctx),
				CacheTTL:       cfg.CacheNoteTTL,
				JobMaxAttempts: cfg.JobMaxAttempts,
			}), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &postgresMigrator{}})
}

type postgresMigrator struct{}

func (m *postgresMigrator) Name() string { return "postgres-schema" }

func (m *postgresMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart || cfg.DatastoreType != "postgres" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("migration: failed to connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	return migrateSchema(db)
}
