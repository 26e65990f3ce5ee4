package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/strandhq/strand/internal/model"
)

// CreateNoteRequest is the input for creating a note.
type CreateNoteRequest struct {
	WorkspaceID uuid.UUID
	OwnerUserID string
	Content     string
	RawContent  string
	SourceType  model.SourceType
	SourceURL   *string
	FileName    *string
	FileMime    *string
	FileSize    *int64
	ImagePath   *string
	Tags        model.TagList
	Project     string
	Title       *string // sets metadata.title and titleEditedByUser=true
}

// ContentUpdate is a content-affecting mutation guarded by BaseRevision.
// A nil BaseRevision applies unconditionally (trusted/background callers).
type ContentUpdate struct {
	Content       *string
	Title         *string // user-provided; sets titleEditedByUser=true
	BaseRevision  *int64
	ActorUserID   string
	ChangeSummary string
}

// AttachmentUpdate swaps a note's attachment fields. Content-affecting.
type AttachmentUpdate struct {
	FileName     *string
	FileMime     *string
	FileSize     *int64
	ImagePath    *string
	SourceURL    *string
	BaseRevision *int64
	ActorUserID  string
}

// ExtractedContentUpdate stores text extracted from a binary attachment.
// Content-affecting; normally submitted without a base revision by the
// pipeline, but callers may still guard it.
type ExtractedContentUpdate struct {
	RawContent      *string
	MarkdownContent *string
	BaseRevision    *int64
	ActorUserID     string
}

// MetadataUpdate changes tags/project/title without touching content. It
// bumps the revision and writes a snapshot but does not re-enqueue
// enrichment or reset the note status.
type MetadataUpdate struct {
	Tags         *model.TagList
	Project      *string
	Title        *string // sets titleEditedByUser=true
	BaseRevision *int64
	ActorUserID  string
}

// EnrichmentCommit is the pipeline's unconditional write. It bypasses the
// revision guard: it touches a field set disjoint from typical user edits
// and must not bump the revision. Revision carries the note revision the
// pipeline read; when the stored note has moved past it, the commit keeps
// the note's current status (the edit's pending reset) instead of Status.
// Zero means unknown and skips the check.
type EnrichmentCommit struct {
	Summary         string
	Tags            model.TagList
	Project         string
	Title           *string // ignored when the stored title is user-locked
	RawContent      *string
	MarkdownContent *string
	Metadata        map[string]any // merged over existing reserved keys
	Status          model.NoteStatus
	Revision        int64
}

// JobCounts aggregates queue state for one workspace.
type JobCounts struct {
	Pending   int64 `json:"pending"`
	Queued    int64 `json:"queued"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Retry     int64 `json:"retry"`
	Delayed   int64 `json:"delayed"`
	Total     int64 `json:"total"`
}

// ListNotesQuery filters workspace note listings.
type ListNotesQuery struct {
	WorkspaceID uuid.UUID
	Status      *model.NoteStatus
	Project     *string
	Limit       int
	Offset      int
}

// NoteStore is the persistence contract for notes, version snapshots, and
// the enrichment job queue.
type NoteStore interface {
	// Notes
	CreateNote(ctx context.Context, req CreateNoteRequest) (*model.Note, error)
	GetNote(ctx context.Context, noteID uuid.UUID) (*model.Note, error)
	ListNotes(ctx context.Context, query ListNotesQuery) ([]model.Note, error)
	DeleteNote(ctx context.Context, noteID uuid.UUID) error

	// Guarded mutations. Each checks BaseRevision atomically when present,
	// writes a pre-mutation snapshot, applies the change, and bumps the
	// revision by exactly one. On mismatch they return RevisionConflictError
	// with no side effects.
	UpdateContent(ctx context.Context, noteID uuid.UUID, update ContentUpdate) (*model.Note, error)
	UpdateAttachment(ctx context.Context, noteID uuid.UUID, update AttachmentUpdate) (*model.Note, error)
	UpdateExtractedContent(ctx context.Context, noteID uuid.UUID, update ExtractedContentUpdate) (*model.Note, error)
	UpdateMetadata(ctx context.Context, noteID uuid.UUID, update MetadataUpdate) (*model.Note, error)

	// Pipeline writes (no revision guard, no revision bump).
	CommitEnrichment(ctx context.Context, noteID uuid.UUID, commit EnrichmentCommit) (*model.Note, error)
	SetNoteStatus(ctx context.Context, noteID uuid.UUID, status model.NoteStatus, enrichErr *string) error

	// Version snapshots
	ListVersions(ctx context.Context, noteID uuid.UUID, limit int) ([]model.NoteVersion, error)
	GetVersion(ctx context.Context, noteID uuid.UUID, versionNumber int64) (*model.NoteVersion, error)

	// Enrichment queue. Enqueue is idempotent per note: when a non-terminal
	// job exists it is returned and created is false. Absorbing an enqueue
	// against a running job flags it so CompleteJob leaves a fresh queued
	// job behind, giving a mid-run edit its own pass.
	EnqueueEnrichment(ctx context.Context, note *model.Note, payload map[string]any) (job *model.EnrichmentJob, created bool, err error)
	ClaimNextJob(ctx context.Context, workerID string) (*model.EnrichmentJob, error)
	CompleteJob(ctx context.Context, jobID uuid.UUID) error
	FailJob(ctx context.Context, jobID uuid.UUID, errMsg string, delay time.Duration) error
	RetryJob(ctx context.Context, jobID uuid.UUID) (*model.EnrichmentJob, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (*model.EnrichmentJob, error)
	GetJobForNote(ctx context.Context, noteID uuid.UUID) (*model.EnrichmentJob, error)
	JobCountsByStatus(ctx context.Context, workspaceID uuid.UUID) (*JobCounts, error)
	ListFailedJobs(ctx context.Context, workspaceID uuid.UUID, limit int) ([]model.EnrichmentJob, error)
}

// Loader creates a NoteStore from config.
type Loader func(ctx context.Context) (NoteStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
