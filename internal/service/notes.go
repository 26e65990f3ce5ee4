// Package service orchestrates note mutations: the revision guard, event
// publication, enrichment enqueue, and the synchronous index path for
// metadata-only edits.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/strandhq/strand/internal/events"
	"github.com/strandhq/strand/internal/model"
	"github.com/strandhq/strand/internal/registry/store"
	registryvector "github.com/strandhq/strand/internal/registry/vector"
	"github.com/strandhq/strand/internal/security"
)

// EnqueueError reports that a mutation committed but its enrichment job
// could not be queued. The note has already been marked failed; callers
// should surface this as partial success, not roll back.
type EnqueueError struct {
	NoteID uuid.UUID
	Cause  error
}

func (e *EnqueueError) Error() string {
	return fmt.Sprintf("note %s saved but enrichment enqueue failed: %v", e.NoteID, e.Cause)
}

func (e *EnqueueError) Unwrap() error { return e.Cause }

// NoteService coordinates the store, the event hub, the workspace index,
// and the enrichment queue for every note mutation.
type NoteService struct {
	store   store.NoteStore
	hub     *events.Hub
	index   *WorkspaceIndex
	vectors registryvector.VectorStore
}

func NewNoteService(st store.NoteStore, hub *events.Hub, index *WorkspaceIndex, vectors registryvector.VectorStore) *NoteService {
	return &NoteService{store: st, hub: hub, index: index, vectors: vectors}
}

// Store exposes the underlying NoteStore for read paths that need no
// orchestration.
func (s *NoteService) Store() store.NoteStore { return s.store }

// CreateNote persists the note and queues its first enrichment pass. The
// note is returned even when the error is an EnqueueError.
func (s *NoteService) CreateNote(ctx context.Context, req store.CreateNoteRequest) (*model.Note, error) {
	s.publish(events.Event{
		WorkspaceID:  req.WorkspaceID,
		EntityType:   events.EntityNote,
		MutationType: events.MutationCreate,
		Phase:        events.PhaseStart,
		ActorUserID:  req.OwnerUserID,
	})

	note, err := s.store.CreateNote(ctx, req)
	if err != nil {
		s.publish(events.Event{
			WorkspaceID:  req.WorkspaceID,
			EntityType:   events.EntityNote,
			MutationType: events.MutationCreate,
			Phase:        events.PhaseError,
			ActorUserID:  req.OwnerUserID,
			Error:        err.Error(),
		})
		return nil, err
	}

	s.publishCommit(note, events.MutationCreate, req.OwnerUserID, nil)
	return note, s.enqueue(ctx, note)
}

// UpdateContent applies a guarded content edit and re-queues enrichment.
func (s *NoteService) UpdateContent(ctx context.Context, noteID uuid.UUID, update store.ContentUpdate) (*model.Note, error) {
	s.publishStart(ctx, noteID, events.MutationUpdate, update.ActorUserID, update.BaseRevision)

	note, err := s.store.UpdateContent(ctx, noteID, update)
	if err != nil {
		s.publishMutationError(ctx, noteID, events.MutationUpdate, update.ActorUserID, err)
		return nil, err
	}

	patch := map[string]any{"content": note.Content, "status": note.Status}
	if update.Title != nil {
		patch["metadata"] = note.Metadata
	}
	s.publishCommit(note, events.MutationUpdate, update.ActorUserID, patch)
	return note, s.enqueue(ctx, note)
}

// UpdateAttachment swaps attachment fields and re-queues enrichment.
func (s *NoteService) UpdateAttachment(ctx context.Context, noteID uuid.UUID, update store.AttachmentUpdate) (*model.Note, error) {
	s.publishStart(ctx, noteID, events.MutationUpdate, update.ActorUserID, update.BaseRevision)

	note, err := s.store.UpdateAttachment(ctx, noteID, update)
	if err != nil {
		s.publishMutationError(ctx, noteID, events.MutationUpdate, update.ActorUserID, err)
		return nil, err
	}

	s.publishCommit(note, events.MutationUpdate, update.ActorUserID, map[string]any{
		"fileName": note.FileName, "fileMime": note.FileMime, "status": note.Status,
	})
	return note, s.enqueue(ctx, note)
}

// UpdateExtractedContent stores pipeline-extracted text. Content-affecting,
// so it re-queues enrichment like any other content write.
func (s *NoteService) UpdateExtractedContent(ctx context.Context, noteID uuid.UUID, update store.ExtractedContentUpdate) (*model.Note, error) {
	note, err := s.store.UpdateExtractedContent(ctx, noteID, update)
	if err != nil {
		return nil, err
	}
	s.publishCommit(note, events.MutationUpdate, update.ActorUserID, map[string]any{"status": note.Status})
	return note, s.enqueue(ctx, note)
}

// UpdateMetadata edits tags/project/title only. The revision still advances
// but the note keeps its status, no job is queued, and the workspace index
// is refreshed synchronously.
func (s *NoteService) UpdateMetadata(ctx context.Context, noteID uuid.UUID, update store.MetadataUpdate) (*model.Note, error) {
	s.publishStart(ctx, noteID, events.MutationUpdate, update.ActorUserID, update.BaseRevision)

	note, err := s.store.UpdateMetadata(ctx, noteID, update)
	if err != nil {
		s.publishMutationError(ctx, noteID, events.MutationUpdate, update.ActorUserID, err)
		return nil, err
	}

	patch := map[string]any{"tags": note.Tags, "project": note.Project, "metadata": note.Metadata}
	s.publishCommit(note, events.MutationUpdate, update.ActorUserID, patch)

	if s.index != nil {
		if err := s.index.UpsertNote(ctx, note); err != nil {
			log.Warn("Index update failed", "note", note.ID, "err", err)
		}
	}
	return note, nil
}

// DeleteNote removes the note plus its versions, jobs, embedding, and index
// block.
func (s *NoteService) DeleteNote(ctx context.Context, noteID uuid.UUID, actorUserID string) error {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteNote(ctx, noteID); err != nil {
		return err
	}

	if s.vectors != nil && s.vectors.IsEnabled() {
		if err := s.vectors.DeleteByNoteID(ctx, noteID); err != nil {
			log.Warn("Vector delete failed", "note", noteID, "err", err)
		}
	}
	if s.index != nil {
		if err := s.index.RemoveNote(ctx, note.WorkspaceID, noteID); err != nil {
			log.Warn("Index delete failed", "note", noteID, "err", err)
		}
	}

	s.publish(events.Event{
		WorkspaceID:  note.WorkspaceID,
		EntityType:   events.EntityNote,
		EntityID:     noteID,
		MutationType: events.MutationDelete,
		Phase:        events.PhaseCommit,
		ActorUserID:  actorUserID,
	})
	return nil
}

// RetryEnrichment requeues a failed job, or queues a fresh one when the
// note never had a job. Retrying an in-flight job is absorbed.
func (s *NoteService) RetryEnrichment(ctx context.Context, noteID uuid.UUID) (*model.EnrichmentJob, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}

	job, err := s.store.GetJobForNote(ctx, noteID)
	var notFound *store.NotFoundError
	if errors.As(err, &notFound) {
		queued, _, qerr := s.store.EnqueueEnrichment(ctx, note, nil)
		if qerr != nil {
			return nil, qerr
		}
		job = queued
	} else if err != nil {
		return nil, err
	} else if job.Status.IsTerminal() {
		job, err = s.store.RetryJob(ctx, job.ID)
		if err != nil {
			return nil, err
		}
	}

	if note.Status == model.StatusFailed || note.Status == model.StatusReady {
		if err := s.store.SetNoteStatus(ctx, noteID, model.StatusPending, nil); err != nil {
			return nil, err
		}
	}
	return job, nil
}

// enqueue queues an enrichment pass for a content-affecting commit. On
// queue failure the note is flipped to failed so it cannot sit in pending
// forever with nothing to resolve it.
func (s *NoteService) enqueue(ctx context.Context, note *model.Note) error {
	_, _, err := s.store.EnqueueEnrichment(ctx, note, nil)
	if err == nil {
		return nil
	}
	log.Error("Enrichment enqueue failed", "note", note.ID, "err", err)
	msg := err.Error()
	if serr := s.store.SetNoteStatus(ctx, note.ID, model.StatusFailed, &msg); serr != nil {
		log.Error("Failed to mark note failed after enqueue error", "note", note.ID, "err", serr)
	}
	return &EnqueueError{NoteID: note.ID, Cause: err}
}

func (s *NoteService) publish(event events.Event) {
	if s.hub != nil {
		s.hub.Publish(event)
	}
}

func (s *NoteService) publishStart(ctx context.Context, noteID uuid.UUID, mutation, actor string, baseRevision *int64) {
	workspaceID, ok := s.workspaceOf(ctx, noteID)
	if !ok {
		return
	}
	s.publish(events.Event{
		WorkspaceID:  workspaceID,
		EntityType:   events.EntityNote,
		EntityID:     noteID,
		MutationType: mutation,
		Phase:        events.PhaseStart,
		ActorUserID:  actor,
		BaseRevision: baseRevision,
	})
}

func (s *NoteService) publishCommit(note *model.Note, mutation, actor string, patch map[string]any) {
	base := note.Revision - 1
	rev := note.Revision
	if patch == nil {
		patch = map[string]any{
			"content": note.Content, "tags": note.Tags, "project": note.Project,
			"status": note.Status, "metadata": note.Metadata,
		}
	}
	s.publish(events.Event{
		WorkspaceID:  note.WorkspaceID,
		EntityType:   events.EntityNote,
		EntityID:     note.ID,
		MutationType: mutation,
		Phase:        events.PhaseCommit,
		ActorUserID:  actor,
		BaseRevision: &base,
		NextRevision: &rev,
		Patch:        patch,
	})
}

func (s *NoteService) publishMutationError(ctx context.Context, noteID uuid.UUID, mutation, actor string, cause error) {
	var conflict *store.RevisionConflictError
	if errors.As(cause, &conflict) && security.RevisionConflictsTotal != nil {
		security.RevisionConflictsTotal.Inc()
	}
	workspaceID, ok := s.workspaceOf(ctx, noteID)
	if !ok {
		return
	}
	s.publish(events.Event{
		WorkspaceID:  workspaceID,
		EntityType:   events.EntityNote,
		EntityID:     noteID,
		MutationType: mutation,
		Phase:        events.PhaseError,
		ActorUserID:  actor,
		Error:        cause.Error(),
	})
}

func (s *NoteService) workspaceOf(ctx context.Context, noteID uuid.UUID) (uuid.UUID, bool) {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return uuid.Nil, false
	}
	return note.WorkspaceID, true
}
