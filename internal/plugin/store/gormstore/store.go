// Package gormstore implements the NoteStore contract on gorm. The same
// core serves the "postgres" and "sqlite" plugins; the only behavioural
// difference is row locking, which sqlite does not support and does not need
// (single-writer).
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/strandhq/strand/internal/model"
	registrycache "github.com/strandhq/strand/internal/registry/cache"
	registrystore "github.com/strandhq/strand/internal/registry/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the gorm-backed NoteStore.
type Store struct {
	db                 *gorm.DB
	noteCache          registrycache.NoteCache
	cacheTTL           time.Duration
	jobMaxAttempts     int
	supportsSkipLocked bool
}

var _ registrystore.NoteStore = (*Store)(nil)

// --- Notes ---

func (s *Store) CreateNote(ctx context.Context, req registrystore.CreateNoteRequest) (*model.Note, error) {
	if req.WorkspaceID == uuid.Nil {
		return nil, &registrystore.ValidationError{Field: "workspaceId", Message: "is required"}
	}
	if req.OwnerUserID == "" {
		return nil, &registrystore.ValidationError{Field: "ownerUserId", Message: "is required"}
	}

	metadata := map[string]any{}
	if req.Title != nil && *req.Title != "" {
		metadata[model.MetaTitle] = *req.Title
		metadata[model.MetaTitleEditedByUser] = true
	}

	now := time.Now().UTC()
	note := model.Note{
		ID:          uuid.New(),
		WorkspaceID: req.WorkspaceID,
		OwnerUserID: req.OwnerUserID,
		Content:     req.Content,
		RawContent:  req.RawContent,
		Tags:        req.Tags.Normalize(),
		Project:     req.Project,
		SourceType:  req.SourceType,
		SourceURL:   req.SourceURL,
		FileName:    req.FileName,
		FileMime:    req.FileMime,
		FileSize:    req.FileSize,
		ImagePath:   req.ImagePath,
		Metadata:    metadata,
		Status:      model.StatusPending,
		Revision:    1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if note.SourceType == "" {
		note.SourceType = model.SourceText
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		return nil, err
	}
	return &note, nil
}

func (s *Store) GetNote(ctx context.Context, noteID uuid.UUID) (*model.Note, error) {
	if s.noteCache != nil && s.noteCache.Available() {
		if cached, err := s.noteCache.Get(ctx, noteID); err == nil && cached != nil {
			return cached, nil
		}
	}
	var note model.Note
	err := s.db.WithContext(ctx).First(&note, "id = ?", noteID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "note", ID: noteID.String()}
	}
	if err != nil {
		return nil, err
	}
	if s.noteCache != nil && s.noteCache.Available() {
		_ = s.noteCache.Set(ctx, &note, s.cacheTTL)
	}
	return &note, nil
}

func (s *Store) ListNotes(ctx context.Context, query registrystore.ListNotesQuery) ([]model.Note, error) {
	q := s.db.WithContext(ctx).Where("workspace_id = ?", query.WorkspaceID).Order("updated_at DESC")
	if query.Status != nil {
		q = q.Where("status = ?", *query.Status)
	}
	if query.Project != nil {
		q = q.Where("project = ?", *query.Project)
	}
	limit := query.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var notes []model.Note
	err := q.Limit(limit).Offset(query.Offset).Find(&notes).Error
	return notes, err
}

func (s *Store) DeleteNote(ctx context.Context, noteID uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&model.Note{}, "id = ?", noteID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &registrystore.NotFoundError{Resource: "note", ID: noteID.String()}
		}
		// Versions are owned by the note and die with it.
		if err := tx.Delete(&model.NoteVersion{}, "note_id = ?", noteID).Error; err != nil {
			return err
		}
		return tx.Delete(&model.EnrichmentJob{}, "note_id = ?", noteID).Error
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, noteID)
	return nil
}

// --- Guarded mutations ---

func (s *Store) UpdateContent(ctx context.Context, noteID uuid.UUID, update registrystore.ContentUpdate) (*model.Note, error) {
	if update.Content == nil && update.Title == nil {
		return nil, &registrystore.ValidationError{Field: "content", Message: "nothing to update"}
	}
	return s.guardedUpdate(ctx, noteID, update.BaseRevision, true, func(note *model.Note, changes map[string]any) (string, error) {
		if update.Content != nil {
			changes["content"] = *update.Content
		}
		if update.Title != nil {
			metadata := cloneMetadata(note.Metadata)
			metadata[model.MetaTitle] = *update.Title
			metadata[model.MetaTitleEditedByUser] = true
			changes["metadata"] = metadata
		}
		summary := update.ChangeSummary
		if summary == "" {
			summary = "content edit"
		}
		return summary, nil
	}, update.ActorUserID)
}

func (s *Store) UpdateAttachment(ctx context.Context, noteID uuid.UUID, update registrystore.AttachmentUpdate) (*model.Note, error) {
	return s.guardedUpdate(ctx, noteID, update.BaseRevision, true, func(note *model.Note, changes map[string]any) (string, error) {
		if note.SourceType != model.SourceFile && note.SourceType != model.SourceImage && note.SourceType != model.SourceLink {
			return "", &registrystore.ValidationError{Field: "sourceType", Message: "note has no attachment"}
		}
		if update.FileName != nil {
			changes["file_name"] = *update.FileName
		}
		if update.FileMime != nil {
			changes["file_mime"] = *update.FileMime
		}
		if update.FileSize != nil {
			changes["file_size"] = *update.FileSize
		}
		if update.ImagePath != nil {
			changes["image_path"] = *update.ImagePath
		}
		if update.SourceURL != nil {
			changes["source_url"] = *update.SourceURL
		}
		return "attachment replaced", nil
	}, update.ActorUserID)
}

func (s *Store) UpdateExtractedContent(ctx context.Context, noteID uuid.UUID, update registrystore.ExtractedContentUpdate) (*model.Note, error) {
	return s.guardedUpdate(ctx, noteID, update.BaseRevision, true, func(note *model.Note, changes map[string]any) (string, error) {
		if update.RawContent != nil {
			changes["raw_content"] = *update.RawContent
		}
		if update.MarkdownContent != nil {
			changes["markdown_content"] = *update.MarkdownContent
		}
		return "extracted content updated", nil
	}, update.ActorUserID)
}

func (s *Store) UpdateMetadata(ctx context.Context, noteID uuid.UUID, update registrystore.MetadataUpdate) (*model.Note, error) {
	// Metadata-only edits bump the revision and snapshot like any other
	// mutation, but do not reset the status or trigger re-enrichment.
	return s.guardedUpdate(ctx, noteID, update.BaseRevision, false, func(note *model.Note, changes map[string]any) (string, error) {
		if update.Tags != nil {
			changes["tags"] = update.Tags.Normalize()
		}
		if update.Project != nil {
			changes["project"] = *update.Project
		}
		if update.Title != nil {
			metadata := cloneMetadata(note.Metadata)
			metadata[model.MetaTitle] = *update.Title
			metadata[model.MetaTitleEditedByUser] = true
			changes["metadata"] = metadata
		}
		return "metadata edit", nil
	}, update.ActorUserID)
}

// guardedUpdate implements the revision guard. Inside one transaction it
// re-reads the note, verifies the base revision, writes the pre-mutation
// snapshot, then applies the change with a conditional UPDATE keyed on the
// revision it just read. RowsAffected==0 means a concurrent writer slipped
// between the read and the write; that also surfaces as a conflict.
func (s *Store) guardedUpdate(ctx context.Context, noteID uuid.UUID, baseRevision *int64, resetStatus bool,
	apply func(note *model.Note, changes map[string]any) (string, error), actorUserID string) (*model.Note, error) {

	var updated model.Note
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var note model.Note
		q := tx
		if s.supportsSkipLocked {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := q.First(&note, "id = ?", noteID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &registrystore.NotFoundError{Resource: "note", ID: noteID.String()}
			}
			return err
		}

		if baseRevision != nil && *baseRevision != note.Revision {
			snapshot := note
			return &registrystore.RevisionConflictError{
				NoteID:          noteID.String(),
				BaseRevision:    *baseRevision,
				CurrentRevision: note.Revision,
				Snapshot:        &snapshot,
			}
		}

		changes := map[string]any{}
		changeSummary, err := apply(&note, changes)
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			updated = note
			return nil
		}

		version := model.NoteVersion{
			ID:            uuid.New(),
			NoteID:        note.ID,
			WorkspaceID:   note.WorkspaceID,
			VersionNumber: note.Revision,
			Content:       note.Content,
			Summary:       note.Summary,
			Tags:          note.Tags,
			Project:       note.Project,
			Metadata:      note.Metadata,
			ActorUserID:   actorUserID,
			ChangeSummary: changeSummary,
			CreatedAt:     time.Now().UTC(),
		}
		if err := tx.Create(&version).Error; err != nil {
			return fmt.Errorf("write version snapshot: %w", err)
		}

		changes["revision"] = note.Revision + 1
		changes["updated_at"] = time.Now().UTC()
		if resetStatus {
			changes["status"] = model.StatusPending
		}
		if err := encodeJSONColumns(changes); err != nil {
			return err
		}

		res := tx.Model(&model.Note{}).
			Where("id = ? AND revision = ?", note.ID, note.Revision).
			Updates(changes)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Raced by another writer between read and write.
			var current model.Note
			if err := tx.First(&current, "id = ?", noteID).Error; err != nil {
				return err
			}
			base := note.Revision
			if baseRevision != nil {
				base = *baseRevision
			}
			return &registrystore.RevisionConflictError{
				NoteID:          noteID.String(),
				BaseRevision:    base,
				CurrentRevision: current.Revision,
				Snapshot:        &current,
			}
		}

		return tx.First(&updated, "id = ?", noteID).Error
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, noteID)
	return &updated, nil
}

// --- Pipeline writes ---

// CommitEnrichment persists derived fields in one unconditional write. It
// does not bump the revision: enrichment touches a field set disjoint from
// user edits. The sticky title lock is re-checked against the freshly read
// row so a concurrent user rename is never downgraded.
func (s *Store) CommitEnrichment(ctx context.Context, noteID uuid.UUID, commit registrystore.EnrichmentCommit) (*model.Note, error) {
	var updated model.Note
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var note model.Note
		if err := tx.First(&note, "id = ?", noteID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &registrystore.NotFoundError{Resource: "note", ID: noteID.String()}
			}
			return err
		}

		metadata := cloneMetadata(note.Metadata)
		for k, v := range commit.Metadata {
			metadata[k] = v
		}
		if commit.Title != nil && !note.TitleLocked() {
			metadata[model.MetaTitle] = *commit.Title
		}
		delete(metadata, model.MetaEnrichmentError)

		status := commit.Status
		if commit.Revision != 0 && note.Revision != commit.Revision {
			// A user edit advanced the note while the pipeline ran. The
			// derived fields still land, but the edit's status reset must
			// survive so the follow-up pass is visible as pending.
			status = note.Status
		}

		changes := map[string]any{
			"summary":    commit.Summary,
			"tags":       commit.Tags.Normalize(),
			"project":    commit.Project,
			"metadata":   metadata,
			"status":     status,
			"updated_at": time.Now().UTC(),
		}
		if commit.RawContent != nil {
			changes["raw_content"] = *commit.RawContent
		}
		if commit.MarkdownContent != nil {
			changes["markdown_content"] = *commit.MarkdownContent
		}
		if err := encodeJSONColumns(changes); err != nil {
			return err
		}
		if err := tx.Model(&model.Note{}).Where("id = ?", noteID).Updates(changes).Error; err != nil {
			return err
		}
		return tx.First(&updated, "id = ?", noteID).Error
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, noteID)
	return &updated, nil
}

func (s *Store) SetNoteStatus(ctx context.Context, noteID uuid.UUID, status model.NoteStatus, enrichErr *string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var note model.Note
		if err := tx.First(&note, "id = ?", noteID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &registrystore.NotFoundError{Resource: "note", ID: noteID.String()}
			}
			return err
		}
		changes := map[string]any{"status": status, "updated_at": time.Now().UTC()}
		if enrichErr != nil {
			metadata := cloneMetadata(note.Metadata)
			metadata[model.MetaEnrichmentError] = *enrichErr
			changes["metadata"] = metadata
		}
		if err := encodeJSONColumns(changes); err != nil {
			return err
		}
		return tx.Model(&model.Note{}).Where("id = ?", noteID).Updates(changes).Error
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, noteID)
	return nil
}

// --- Version snapshots ---

func (s *Store) ListVersions(ctx context.Context, noteID uuid.UUID, limit int) ([]model.NoteVersion, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var versions []model.NoteVersion
	err := s.db.WithContext(ctx).
		Where("note_id = ?", noteID).
		Order("version_number DESC").
		Limit(limit).
		Find(&versions).Error
	return versions, err
}

func (s *Store) GetVersion(ctx context.Context, noteID uuid.UUID, versionNumber int64) (*model.NoteVersion, error) {
	var version model.NoteVersion
	err := s.db.WithContext(ctx).
		First(&version, "note_id = ? AND version_number = ?", noteID, versionNumber).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{
			Resource: "note version",
			ID:       fmt.Sprintf("%s@%d", noteID, versionNumber),
		}
	}
	if err != nil {
		return nil, err
	}
	return &version, nil
}

// --- Helpers ---

func (s *Store) invalidate(ctx context.Context, noteID uuid.UUID) {
	if s.noteCache != nil && s.noteCache.Available() {
		_ = s.noteCache.Remove(ctx, noteID)
	}
}

func cloneMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}

// encodeJSONColumns marshals values destined for serializer-backed jsonb
// columns. gorm runs field serializers only for struct-based writes; values
// in a map-based Updates call reach the driver as-is, and neither driver
// accepts a Go map or slice there.
func encodeJSONColumns(changes map[string]any) error {
	for k, v := range changes {
		switch v.(type) {
		case map[string]any, model.TagList:
			encoded, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encode %s: %w", k, err)
			}
			changes[k] = string(encoded)
		}
	}
	return nil
}
