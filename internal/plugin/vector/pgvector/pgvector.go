package pgvector

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	pgvec "github.com/pgvector/pgvector-go"
	"github.com/strandhq/strand/internal/config"
	registrymigrate "github.com/strandhq/strand/internal/registry/migrate"
	registryvector "github.com/strandhq/strand/internal/registry/vector"
	"gorm.io/gorm"
)

//go:embed db/pgvector-schema.sql
var pgvectorSchemaSQL string

// pgvectorMigrator implements migrate.Migrator for the pgvector schema.
type pgvectorMigrator struct{}

func (m *pgvectorMigrator) Name() string { return "pgvector" }
func (m *pgvectorMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.VectorMigrateAtStart || cfg.VectorType != "pgvector" || cfg.DBURL == "" || (cfg.DatastoreType != "" && cfg.DatastoreType != "postgres") {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := openDB(cfg.DBURL)
	if err != nil {
		return fmt.Errorf("pgvector migrate: %w", err)
	}
	return db.Exec(pgvectorSchemaSQL).Error
}

func init() {
	registryvector.Register(registryvector.Plugin{
		Name:   "pgvector",
		Loader: load,
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 200, Migrator: &pgvectorMigrator{}})
}

func load(ctx context.Context) (registryvector.VectorStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("pgvector: missing config in context")
	}
	db, err := openDB(cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("pgvector: %w", err)
	}
	return &PgvectorStore{db: db}, nil
}

func openDB(dbURL string) (*gorm.DB, error) {
	return openGormDB(dbURL)
}

// PgvectorStore implements VectorStore using the pgvector extension.
type PgvectorStore struct {
	db *gorm.DB
}

func (s *PgvectorStore) IsEnabled() bool { return true }
func (s *PgvectorStore) Name() string    { return "pgvector" }

func (s *PgvectorStore) Search(ctx context.Context, embedding []float32, workspaceID uuid.UUID, limit int) ([]registryvector.VectorSearchResult, error) {
	vec := pgvec.NewVector(embedding)
	rows, err := s.db.WithContext(ctx).Raw(`
		SELECT note_id, workspace_id,
		       1 - (embedding <=> ?::vector) AS score
		FROM note_embeddings
		WHERE workspace_id = ?
		ORDER BY embedding <=> ?::vector
		LIMIT ?`,
		vec, workspaceID, vec, limit,
	).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []registryvector.VectorSearchResult
	for rows.Next() {
		var r registryvector.VectorSearchResult
		if err := rows.Scan(&r.NoteID, &r.WorkspaceID, &r.Score); err != nil {
			log.Error("pgvector scan error", "err", err)
			continue
		}
		results = append(results, r)
	}
	return results, nil
}

func (s *PgvectorStore) Upsert(ctx context.Context, notes []registryvector.UpsertRequest) error {
	for _, n := range notes {
		vec := pgvec.NewVector(n.Embedding)
		if err := s.db.WithContext(ctx).Exec(`
			INSERT INTO note_embeddings (note_id, workspace_id, embedding, model)
			VALUES (?, ?, ?::vector, ?)
			ON CONFLICT (note_id)
			DO UPDATE SET embedding = EXCLUDED.embedding, model = EXCLUDED.model`,
			n.NoteID, n.WorkspaceID, vec, n.ModelName,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *PgvectorStore) DeleteByNoteID(ctx context.Context, noteID uuid.UUID) error {
	return s.db.WithContext(ctx).Exec(
		"DELETE FROM note_embeddings WHERE note_id = ?",
		noteID,
	).Error
}
