package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SourceType identifies how a note's content entered the system.
type SourceType string

const (
	SourceText  SourceType = "text"
	SourceLink  SourceType = "link"
	SourceImage SourceType = "image"
	SourceFile  SourceType = "file"
)

// NoteStatus tracks a note through the enrichment lifecycle.
// Transitions: pending -> enriching -> {ready, failed}. Any content-affecting
// edit resets the note to pending regardless of prior status.
type NoteStatus string

const (
	StatusPending   NoteStatus = "pending"
	StatusEnriching NoteStatus = "enriching"
	StatusReady     NoteStatus = "ready"
	StatusFailed    NoteStatus = "failed"
)

// JobStatus tracks an enrichment job through the queue.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobRetry     JobStatus = "retry"
	JobDelayed   JobStatus = "delayed"
)

// IsTerminal reports whether the job can no longer be claimed by a worker.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Reserved metadata keys. Metadata is an open string-keyed map, but these
// keys carry invariants the store and pipeline enforce.
const (
	MetaTitle             = "title"
	MetaTitleEditedByUser = "titleEditedByUser"
	MetaEnrichmentSource  = "enrichmentSource"
	MetaEmbeddingSource   = "embeddingSource"
	MetaComments          = "comments"
	MetaLinkPreview       = "linkPreview"
	MetaEnrichmentError   = "enrichmentError"
)

const MaxTags = 8

// Note is a single memory record owned by a workspace.
type Note struct {
	ID              uuid.UUID      `json:"id"              gorm:"primaryKey;type:uuid"`
	WorkspaceID     uuid.UUID      `json:"workspaceId"     gorm:"not null;type:uuid;index"`
	OwnerUserID     string         `json:"ownerUserId"     gorm:"not null"`
	Content         string         `json:"content"`
	RawContent      string         `json:"rawContent"`
	MarkdownContent string         `json:"markdownContent"`
	Summary         string         `json:"summary"`
	Tags            TagList        `json:"tags"            gorm:"type:jsonb;serializer:json;not null;default:'[]'"`
	Project         string         `json:"project"`
	SourceType      SourceType     `json:"sourceType"      gorm:"not null;default:'text'"`
	SourceURL       *string        `json:"sourceUrl,omitempty"`
	FileName        *string        `json:"fileName,omitempty"`
	FileMime        *string        `json:"fileMime,omitempty"`
	FileSize        *int64         `json:"fileSize,omitempty"`
	ImagePath       *string        `json:"imagePath,omitempty"`
	Metadata        map[string]any `json:"metadata"        gorm:"type:jsonb;serializer:json;not null;default:'{}'"`
	Status          NoteStatus     `json:"status"          gorm:"not null;default:'pending'"`
	Revision        int64          `json:"revision"        gorm:"not null;default:1"`
	CreatedAt       time.Time      `json:"createdAt"       gorm:"not null"`
	UpdatedAt       time.Time      `json:"updatedAt"       gorm:"not null"`
}

func (Note) TableName() string { return "notes" }

// Title returns the effective title from metadata, or "" when unset.
func (n *Note) Title() string {
	if n.Metadata == nil {
		return ""
	}
	if t, ok := n.Metadata[MetaTitle].(string); ok {
		return t
	}
	return ""
}

// TitleLocked reports whether the title was edited by the user and must not
// be overwritten by inference.
func (n *Note) TitleLocked() bool {
	if n.Metadata == nil {
		return false
	}
	locked, _ := n.Metadata[MetaTitleEditedByUser].(bool)
	return locked
}

// TagList is an ordered set of tags, capped at MaxTags.
type TagList []string

// Normalize trims, drops empties and case-insensitive duplicates (order
// preserved), and caps the list at MaxTags.
func (t TagList) Normalize() TagList {
	seen := make(map[string]struct{}, len(t))
	out := make(TagList, 0, len(t))
	for _, tag := range t {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
		if len(out) == MaxTags {
			break
		}
	}
	return out
}

// NoteVersion is an immutable snapshot of a note's pre-mutation state,
// written synchronously before any mutation that changes content, summary,
// tags, project, or title. Versions are owned by the note and are deleted
// only when the note is deleted.
type NoteVersion struct {
	ID            uuid.UUID      `json:"id"            gorm:"primaryKey;type:uuid"`
	NoteID        uuid.UUID      `json:"noteId"        gorm:"not null;type:uuid;uniqueIndex:idx_note_versions_note_version,priority:1"`
	WorkspaceID   uuid.UUID      `json:"workspaceId"   gorm:"not null;type:uuid;index"`
	VersionNumber int64          `json:"versionNumber" gorm:"not null;uniqueIndex:idx_note_versions_note_version,priority:2"`
	Content       string         `json:"content"`
	Summary       string         `json:"summary"`
	Tags          TagList        `json:"tags"          gorm:"type:jsonb;serializer:json;not null;default:'[]'"`
	Project       string         `json:"project"`
	Metadata      map[string]any `json:"metadata"      gorm:"type:jsonb;serializer:json;not null;default:'{}'"`
	ActorUserID   string         `json:"actorUserId"`
	ChangeSummary string         `json:"changeSummary"`
	CreatedAt     time.Time      `json:"createdAt"     gorm:"not null"`
}

func (NoteVersion) TableName() string { return "note_versions" }

// EnrichmentJob is one unit of enrichment work. At most one non-terminal job
// exists per note; enqueue against a note with an in-flight job is absorbed.
// When the absorbed enqueue hits a running job, RequeueOnCompletion marks it
// so the edit gets its own pass once the running one finishes.
type EnrichmentJob struct {
	ID                  uuid.UUID      `json:"id"                  gorm:"primaryKey;type:uuid"`
	JobType             string         `json:"type"                gorm:"column:job_type;not null"`
	WorkspaceID         uuid.UUID      `json:"workspaceId"         gorm:"not null;type:uuid;index"`
	VisibilityUserID    string         `json:"visibilityUserId"`
	NoteID              uuid.UUID      `json:"noteId"              gorm:"not null;type:uuid"`
	Payload             map[string]any `json:"payload"             gorm:"type:jsonb;serializer:json;not null;default:'{}'"`
	Status              JobStatus      `json:"status"              gorm:"not null;default:'queued';index"`
	AttemptCount        int            `json:"attemptCount"        gorm:"not null;default:0"`
	MaxAttempts         int            `json:"maxAttempts"         gorm:"not null;default:3"`
	RequeueOnCompletion bool           `json:"requeueOnCompletion" gorm:"not null;default:false"`
	LastError           *string        `json:"lastError,omitempty"`
	NextAttemptAt       *time.Time     `json:"nextAttemptAt,omitempty"`
	CreatedAt           time.Time      `json:"createdAt"           gorm:"not null"`
	UpdatedAt           time.Time      `json:"updatedAt"           gorm:"not null"`
}

func (EnrichmentJob) TableName() string { return "enrichment_jobs" }

// JobTypeEnrichNote is the only job type currently processed.
const JobTypeEnrichNote = "enrich_note"
