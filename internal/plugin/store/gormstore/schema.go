package gormstore

import (
	"time"

	"github.com/strandhq/strand/internal/model"
	registrycache "github.com/strandhq/strand/internal/registry/cache"
	"gorm.io/gorm"
)

// Options configures a Store independent of the backing dialect.
type Options struct {
	NoteCache      registrycache.NoteCache
	CacheTTL       time.Duration
	JobMaxAttempts int
}

// New builds a Store over an opened gorm DB.
func New(db *gorm.DB, opts Options) *Store {
	if opts.JobMaxAttempts <= 0 {
		opts.JobMaxAttempts = 3
	}
	return &Store{
		db:                 db,
		noteCache:          opts.NoteCache,
		cacheTTL:           opts.CacheTTL,
		jobMaxAttempts:     opts.JobMaxAttempts,
		supportsSkipLocked: db.Dialector.Name() == "postgres",
	}
}

// migrateSchema creates the tables plus the partial unique index that backs
// enqueue idempotence (both supported dialects understand partial indexes).
func migrateSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.Note{}, &model.NoteVersion{}, &model.EnrichmentJob{}); err != nil {
		return err
	}
	return db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_enrichment_jobs_one_live_per_note
		ON enrichment_jobs (note_id)
		WHERE status IN ('queued', 'running', 'retry', 'delayed')
	`).Error
}
