package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/strandhq/strand/internal/model"
	"github.com/strandhq/strand/internal/registry/store"
	"github.com/strandhq/strand/internal/security"
)

// Wrap returns a NoteStore that records StoreLatency for every operation.
func Wrap(inner store.NoteStore) store.NoteStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.NoteStore
}

func observe(op string, start time.Time) {
	security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) CreateNote(ctx context.Context, req store.CreateNoteRequest) (*model.Note, error) {
	defer observe("create_note", time.Now())
	return m.inner.CreateNote(ctx, req)
}

func (m *metricsStore) GetNote(ctx context.Context, noteID uuid.UUID) (*model.Note, error) {
	defer observe("get_note", time.Now())
	return m.inner.GetNote(ctx, noteID)
}

func (m *metricsStore) ListNotes(ctx context.Context, query store.ListNotesQuery) ([]model.Note, error) {
	defer observe("list_notes", time.Now())
	return m.inner.ListNotes(ctx, query)
}

func (m *metricsStore) DeleteNote(ctx context.Context, noteID uuid.UUID) error {
	defer observe("delete_note", time.Now())
	return m.inner.DeleteNote(ctx, noteID)
}

func (m *metricsStore) UpdateContent(ctx context.Context, noteID uuid.UUID, update store.ContentUpdate) (*model.Note, error) {
	defer observe("update_content", time.Now())
	return m.inner.UpdateContent(ctx, noteID, update)
}

func (m *metricsStore) UpdateAttachment(ctx context.Context, noteID uuid.UUID, update store.AttachmentUpdate) (*model.Note, error) {
	defer observe("update_attachment", time.Now())
	return m.inner.UpdateAttachment(ctx, noteID, update)
}

func (m *metricsStore) UpdateExtractedContent(ctx context.Context, noteID uuid.UUID, update store.ExtractedContentUpdate) (*model.Note, error) {
	defer observe("update_extracted_content", time.Now())
	return m.inner.UpdateExtractedContent(ctx, noteID, update)
}

func (m *metricsStore) UpdateMetadata(ctx context.Context, noteID uuid.UUID, update store.MetadataUpdate) (*model.Note, error) {
	defer observe("update_metadata", time.Now())
	return m.inner.UpdateMetadata(ctx, noteID, update)
}

func (m *metricsStore) CommitEnrichment(ctx context.Context, noteID uuid.UUID, commit store.EnrichmentCommit) (*model.Note, error) {
	defer observe("commit_enrichment", time.Now())
	return m.inner.CommitEnrichment(ctx, noteID, commit)
}

func (m *metricsStore) SetNoteStatus(ctx context.Context, noteID uuid.UUID, status model.NoteStatus, enrichErr *string) error {
	defer observe("set_note_status", time.Now())
	return m.inner.SetNoteStatus(ctx, noteID, status, enrichErr)
}

func (m *metricsStore) ListVersions(ctx context.Context, noteID uuid.UUID, limit int) ([]model.NoteVersion, error) {
	defer observe("list_versions", time.Now())
	return m.inner.ListVersions(ctx, noteID, limit)
}

func (m *metricsStore) GetVersion(ctx context.Context, noteID uuid.UUID, versionNumber int64) (*model.NoteVersion, error) {
	defer observe("get_version", time.Now())
	return m.inner.GetVersion(ctx, noteID, versionNumber)
}

func (m *metricsStore) EnqueueEnrichment(ctx context.Context, note *model.Note, payload map[string]any) (*model.EnrichmentJob, bool, error) {
	defer observe("enqueue_enrichment", time.Now())
	return m.inner.EnqueueEnrichment(ctx, note, payload)
}

func (m *metricsStore) ClaimNextJob(ctx context.Context, workerID string) (*model.EnrichmentJob, error) {
	defer observe("claim_next_job", time.Now())
	return m.inner.ClaimNextJob(ctx, workerID)
}

func (m *metricsStore) CompleteJob(ctx context.Context, jobID uuid.UUID) error {
	defer observe("complete_job", time.Now())
	return m.inner.CompleteJob(ctx, jobID)
}

func (m *metricsStore) FailJob(ctx context.Context, jobID uuid.UUID, errMsg string, delay time.Duration) error {
	defer observe("fail_job", time.Now())
	return m.inner.FailJob(ctx, jobID, errMsg, delay)
}

func (m *metricsStore) RetryJob(ctx context.Context, jobID uuid.UUID) (*model.EnrichmentJob, error) {
	defer observe("retry_job", time.Now())
	return m.inner.RetryJob(ctx, jobID)
}

func (m *metricsStore) GetJob(ctx context.Context, jobID uuid.UUID) (*model.EnrichmentJob, error) {
	defer observe("get_job", time.Now())
	return m.inner.GetJob(ctx, jobID)
}

func (m *metricsStore) GetJobForNote(ctx context.Context, noteID uuid.UUID) (*model.EnrichmentJob, error) {
	defer observe("get_job_for_note", time.Now())
	return m.inner.GetJobForNote(ctx, noteID)
}

func (m *metricsStore) JobCountsByStatus(ctx context.Context, workspaceID uuid.UUID) (*store.JobCounts, error) {
	defer observe("job_counts_by_status", time.Now())
	return m.inner.JobCountsByStatus(ctx, workspaceID)
}

func (m *metricsStore) ListFailedJobs(ctx context.Context, workspaceID uuid.UUID, limit int) ([]model.EnrichmentJob, error) {
	defer observe("list_failed_jobs", time.Now())
	return m.inner.ListFailedJobs(ctx, workspaceID, limit)
}

var _ store.NoteStore = (*metricsStore)(nil)
