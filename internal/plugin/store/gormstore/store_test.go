package gormstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/strandhq/strand/internal/model"
	registrystore "github.com/strandhq/strand/internal/registry/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, migrateSchema(db))

	return New(db, Options{JobMaxAttempts: 3}), context.Background()
}

func createTestNote(t *testing.T, s *Store, ctx context.Context) *model.Note {
	t.Helper()
	note, err := s.CreateNote(ctx, registrystore.CreateNoteRequest{
		WorkspaceID: uuid.New(),
		OwnerUserID: "user1",
		Content:     "original content",
		SourceType:  model.SourceText,
	})
	require.NoError(t, err)
	return note
}

func strPtr(s string) *string { return &s }

func int64Ptr(n int64) *int64 { return &n }

func TestCreateAndGetNote(t *testing.T) {
	s, ctx := setupTestStore(t)

	note := createTestNote(t, s, ctx)
	assert.Equal(t, int64(1), note.Revision)
	assert.Equal(t, model.StatusPending, note.Status)

	got, err := s.GetNote(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, note.ID, got.ID)
	assert.Equal(t, "original content", got.Content)
}

func TestCreateNoteWithTitleLocksIt(t *testing.T) {
	s, ctx := setupTestStore(t)

	note, err := s.CreateNote(ctx, registrystore.CreateNoteRequest{
		WorkspaceID: uuid.New(),
		OwnerUserID: "user1",
		Content:     "body",
		Title:       strPtr("My Title"),
	})
	require.NoError(t, err)
	assert.Equal(t, "My Title", note.Title())
	assert.True(t, note.TitleLocked())
}

func TestUpdateContentBumpsRevision(t *testing.T) {
	s, ctx := setupTestStore(t)
	note := createTestNote(t, s, ctx)

	updated, err := s.UpdateContent(ctx, note.ID, registrystore.ContentUpdate{
		Content:      strPtr("edited content"),
		Title:        strPtr("Edited Title"),
		BaseRevision: int64Ptr(1),
		ActorUserID:  "user1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Revision)
	assert.Equal(t, "edited content", updated.Content)
	assert.Equal(t, "Edited Title", updated.Title())
	assert.True(t, updated.TitleLocked())
	assert.Equal(t, model.StatusPending, updated.Status)
}

func TestUpdateContentRevisionConflict(t *testing.T) {
	s, ctx := setupTestStore(t)
	note := createTestNote(t, s, ctx)

	// First writer advances the note to revision 2.
	_, err := s.UpdateContent(ctx, note.ID, registrystore.ContentUpdate{
		Content:      strPtr("first edit"),
		BaseRevision: int64Ptr(1),
		ActorUserID:  "user1",
	})
	require.NoError(t, err)

	// Second writer still holds base revision 1 and must be rejected.
	_, err = s.UpdateContent(ctx, note.ID, registrystore.ContentUpdate{
		Content:      strPtr("stale edit"),
		BaseRevision: int64Ptr(1),
		ActorUserID:  "user2",
	})
	var conflict *registrystore.RevisionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), conflict.BaseRevision)
	assert.Equal(t, int64(2), conflict.CurrentRevision)
	require.NotNil(t, conflict.Snapshot)
	assert.Equal(t, "first edit", conflict.Snapshot.Content)

	// The rejected write left no trace.
	got, err := s.GetNote(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Revision)
	assert.Equal(t, "first edit", got.Content)
}

func TestUpdateContentNilBaseRevisionIsUnconditional(t *testing.T) {
	s, ctx := setupTestStore(t)
	note := createTestNote(t, s, ctx)

	updated, err := s.UpdateContent(ctx, note.ID, registrystore.ContentUpdate{
		Content:     strPtr("trusted edit"),
		ActorUserID: "system",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Revision)
}

func TestVersionSnapshotCapturesPreMutationState(t *testing.T) {
	s, ctx := setupTestStore(t)
	note := createTestNote(t, s, ctx)

	_, err := s.UpdateContent(ctx, note.ID, registrystore.ContentUpdate{
		Content:      strPtr("v2 content"),
		BaseRevision: int64Ptr(1),
		ActorUserID:  "user1",
	})
	require.NoError(t, err)

	version, err := s.GetVersion(ctx, note.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "original content", version.Content)
	assert.Equal(t, "user1", version.ActorUserID)

	versions, err := s.ListVersions(ctx, note.ID, 10)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, int64(1), versions[0].VersionNumber)
}

func TestUpdateMetadataKeepsStatus(t *testing.T) {
	s, ctx := setupTestStore(t)
	note := createTestNote(t, s, ctx)

	require.NoError(t, s.SetNoteStatus(ctx, note.ID, model.StatusReady, nil))

	tags := model.TagList{"go", "testing"}
	updated, err := s.UpdateMetadata(ctx, note.ID, registrystore.MetadataUpdate{
		Tags:         &tags,
		BaseRevision: int64Ptr(1),
		ActorUserID:  "user1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Revision)
	assert.Equal(t, model.StatusReady, updated.Status)
	assert.Equal(t, model.TagList{"go", "testing"}, updated.Tags)
}

func TestUpdateMetadataTitleLocksTitle(t *testing.T) {
	s, ctx := setupTestStore(t)
	note := createTestNote(t, s, ctx)

	updated, err := s.UpdateMetadata(ctx, note.ID, registrystore.MetadataUpdate{
		Title:       strPtr("Renamed"),
		ActorUserID: "user1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title())
	assert.True(t, updated.TitleLocked())
}

func TestCommitEnrichmentDoesNotBumpRevision(t *testing.T) {
	s, ctx := setupTestStore(t)
	note := createTestNote(t, s, ctx)

	updated, err := s.CommitEnrichment(ctx, note.ID, registrystore.EnrichmentCommit{
		Summary: "a short summary",
		Tags:    model.TagList{"inferred"},
		Project: "inbox",
		Title:   strPtr("Inferred Title"),
		Status:  model.StatusReady,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Revision)
	assert.Equal(t, "a short summary", updated.Summary)
	assert.Equal(t, "Inferred Title", updated.Title())
	assert.False(t, updated.TitleLocked())
	assert.Equal(t, model.StatusReady, updated.Status)
}

func TestCommitEnrichmentRespectsLockedTitle(t *testing.T) {
	s, ctx := setupTestStore(t)

	note, err := s.CreateNote(ctx, registrystore.CreateNoteRequest{
		WorkspaceID: uuid.New(),
		OwnerUserID: "user1",
		Content:     "body",
		Title:       strPtr("User Title"),
	})
	require.NoError(t, err)

	updated, err := s.CommitEnrichment(ctx, note.ID, registrystore.EnrichmentCommit{
		Summary: "summary",
		Title:   strPtr("Machine Title"),
		Status:  model.StatusReady,
	})
	require.NoError(t, err)
	assert.Equal(t, "User Title", updated.Title())
	assert.True(t, updated.TitleLocked())
}

func TestCommitEnrichmentKeepsPendingAfterMidRunEdit(t *testing.T) {
	s, ctx := setupTestStore(t)
	note := createTestNote(t, s, ctx)

	// The pipeline read the note at revision 1; a user edit then advanced it
	// and reset the status to pending.
	_, err := s.UpdateContent(ctx, note.ID, registrystore.ContentUpdate{
		Content:      strPtr("edited mid-run"),
		BaseRevision: int64Ptr(1),
		ActorUserID:  "user1",
	})
	require.NoError(t, err)

	updated, err := s.CommitEnrichment(ctx, note.ID, registrystore.EnrichmentCommit{
		Summary:  "stale summary",
		Status:   model.StatusReady,
		Revision: 1,
	})
	require.NoError(t, err)
	// Derived fields land, but the edit's pending reset survives.
	assert.Equal(t, "stale summary", updated.Summary)
	assert.Equal(t, model.StatusPending, updated.Status)

	// A commit against the current revision flips the note to ready.
	updated, err = s.CommitEnrichment(ctx, note.ID, registrystore.EnrichmentCommit{
		Summary:  "fresh summary",
		Status:   model.StatusReady,
		Revision: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, updated.Status)
}

func TestSetNoteStatusRecordsError(t *testing.T) {
	s, ctx := setupTestStore(t)
	note := createTestNote(t, s, ctx)

	msg := "pipeline exploded"
	require.NoError(t, s.SetNoteStatus(ctx, note.ID, model.StatusFailed, &msg))

	got, err := s.GetNote(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, "pipeline exploded", got.Metadata[model.MetaEnrichmentError])
}

func TestDeleteNoteRemovesVersionsAndJobs(t *testing.T) {
	s, ctx := setupTestStore(t)
	note := createTestNote(t, s, ctx)

	_, err := s.UpdateContent(ctx, note.ID, registrystore.ContentUpdate{
		Content:     strPtr("edit"),
		ActorUserID: "user1",
	})
	require.NoError(t, err)
	_, _, err = s.EnqueueEnrichment(ctx, note, nil)
	require.NoError(t, err)

	require.NoError(t, s.DeleteNote(ctx, note.ID))

	_, err = s.GetNote(ctx, note.ID)
	var notFound *registrystore.NotFoundError
	assert.ErrorAs(t, err, &notFound)

	versions, err := s.ListVersions(ctx, note.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestEnqueueEnrichmentIsIdempotentPerNote(t *testing.T) {
	s, ctx := setupTestStore(t)
	note := createTestNote(t, s, ctx)

	job1, created, err := s.EnqueueEnrichment(ctx, note, nil)
	require.NoError(t, err)
	assert.True(t, created)

	job2, created, err := s.EnqueueEnrichment(ctx, note, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, job1.ID, job2.ID)
	// A queued job has not read the note yet; no requeue flag needed.
	assert.False(t, job2.RequeueOnCompletion)
}

func TestEditDuringRunningJobGetsFreshPass(t *testing.T) {
	s, ctx := setupTestStore(t)
	note := createTestNote(t, s, ctx)

	job, _, err := s.EnqueueEnrichment(ctx, note, nil)
	require.NoError(t, err)
	claimed, err := s.ClaimNextJob(ctx, "w")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// An edit lands while the job runs. Its enqueue is absorbed against the
	// running job, but the edit must not be lost.
	edited, err := s.UpdateContent(ctx, note.ID, registrystore.ContentUpdate{
		Content:      strPtr("edited while enriching"),
		BaseRevision: int64Ptr(1),
		ActorUserID:  "user1",
	})
	require.NoError(t, err)
	absorbed, created, err := s.EnqueueEnrichment(ctx, edited, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, job.ID, absorbed.ID)
	assert.True(t, absorbed.RequeueOnCompletion)

	require.NoError(t, s.CompleteJob(ctx, job.ID))

	// The completed run leaves a fresh pass behind for the edit.
	next, err := s.ClaimNextJob(ctx, "w")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.NotEqual(t, job.ID, next.ID)
	assert.Equal(t, note.ID, next.NoteID)
}

func TestEnqueueAfterTerminalJobCreatesNewJob(t *testing.T) {
	s, ctx := setupTestStore(t)
	note := createTestNote(t, s, ctx)

	job1, _, err := s.EnqueueEnrichment(ctx, note, nil)
	require.NoError(t, err)
	require.NoError(t, s.CompleteJob(ctx, job1.ID))

	job2, created, err := s.EnqueueEnrichment(ctx, note, nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, job1.ID, job2.ID)
}

func TestClaimNextJobLifecycle(t *testing.T) {
	s, ctx := setupTestStore(t)
	note := createTestNote(t, s, ctx)

	job, _, err := s.EnqueueEnrichment(ctx, note, nil)
	require.NoError(t, err)

	claimed, err := s.ClaimNextJob(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, model.JobRunning, claimed.Status)
	assert.Equal(t, 1, claimed.AttemptCount)

	// A running job is not claimable again.
	second, err := s.ClaimNextJob(ctx, "worker-2")
	require.NoError(t, err)
	assert.Nil(t, second)

	require.NoError(t, s.CompleteJob(ctx, job.ID))
	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, got.Status)
}

func TestFailJobDelaysThenParks(t *testing.T) {
	s, ctx := setupTestStore(t)
	note := createTestNote(t, s, ctx)

	job, _, err := s.EnqueueEnrichment(ctx, note, nil)
	require.NoError(t, err)

	// Attempt 1 fails: delayed with a future next_attempt_at.
	claimed, err := s.ClaimNextJob(ctx, "w")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, s.FailJob(ctx, job.ID, "boom", time.Hour))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobDelayed, got.Status)
	require.NotNil(t, got.NextAttemptAt)
	assert.True(t, got.NextAttemptAt.After(time.Now()))

	// Not claimable until the delay elapses.
	next, err := s.ClaimNextJob(ctx, "w")
	require.NoError(t, err)
	assert.Nil(t, next)

	// Exhaust the remaining attempts with a zero delay.
	for i := 0; i < 2; i++ {
		require.NoError(t, s.FailJob(ctx, job.ID, "boom", 0))
		claimed, err = s.ClaimNextJob(ctx, "w")
		require.NoError(t, err)
		if claimed == nil {
			break
		}
	}
	require.NoError(t, s.FailJob(ctx, job.ID, "final failure", 0))

	got, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, got.Status)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "final failure", *got.LastError)
}

func TestRetryJobPreservesHistory(t *testing.T) {
	s, ctx := setupTestStore(t)
	note := createTestNote(t, s, ctx)

	job, _, err := s.EnqueueEnrichment(ctx, note, nil)
	require.NoError(t, err)

	// Drive to failed.
	for {
		claimed, err := s.ClaimNextJob(ctx, "w")
		require.NoError(t, err)
		if claimed == nil {
			break
		}
		require.NoError(t, s.FailJob(ctx, claimed.ID, "boom", 0))
	}
	failed, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, model.JobFailed, failed.Status)

	retried, err := s.RetryJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobQueued, retried.Status)
	assert.Equal(t, failed.AttemptCount, retried.AttemptCount)
	require.NotNil(t, retried.LastError)
	assert.Equal(t, "boom", *retried.LastError)
}

func TestRetryCompletedJobReturnsLiveJob(t *testing.T) {
	s, ctx := setupTestStore(t)
	note := createTestNote(t, s, ctx)

	job1, _, err := s.EnqueueEnrichment(ctx, note, nil)
	require.NoError(t, err)
	require.NoError(t, s.CompleteJob(ctx, job1.ID))

	// A later edit already queued a fresh job; retrying the old completed
	// one must reuse it instead of colliding with the one-live-job index.
	job2, created, err := s.EnqueueEnrichment(ctx, note, nil)
	require.NoError(t, err)
	require.True(t, created)

	out, err := s.RetryJob(ctx, job1.ID)
	require.NoError(t, err)
	assert.Equal(t, job2.ID, out.ID)
	assert.Equal(t, model.JobQueued, out.Status)

	old, err := s.GetJob(ctx, job1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, old.Status)
}

func TestRetryJobInFlightIsNoOp(t *testing.T) {
	s, ctx := setupTestStore(t)
	note := createTestNote(t, s, ctx)

	job, _, err := s.EnqueueEnrichment(ctx, note, nil)
	require.NoError(t, err)

	out, err := s.RetryJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobQueued, out.Status)
	assert.Equal(t, 0, out.AttemptCount)
}

func TestJobCountsByStatus(t *testing.T) {
	s, ctx := setupTestStore(t)

	workspaceID := uuid.New()
	for i := 0; i < 3; i++ {
		note, err := s.CreateNote(ctx, registrystore.CreateNoteRequest{
			WorkspaceID: workspaceID,
			OwnerUserID: "user1",
			Content:     "note",
		})
		require.NoError(t, err)
		_, _, err = s.EnqueueEnrichment(ctx, note, nil)
		require.NoError(t, err)
	}

	counts, err := s.JobCountsByStatus(ctx, workspaceID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts.Queued)
	assert.Equal(t, int64(3), counts.Total)
	assert.Equal(t, int64(3), counts.Pending)

	// Zero UUID aggregates across workspaces.
	all, err := s.JobCountsByStatus(ctx, uuid.Nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, all.Total, counts.Total)
}

func TestGetJobForNote(t *testing.T) {
	s, ctx := setupTestStore(t)
	note := createTestNote(t, s, ctx)

	_, err := s.GetJobForNote(ctx, note.ID)
	var notFound *registrystore.NotFoundError
	require.True(t, errors.As(err, &notFound))

	job, _, err := s.EnqueueEnrichment(ctx, note, nil)
	require.NoError(t, err)

	got, err := s.GetJobForNote(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	// After completion the most recent terminal job is still reachable.
	require.NoError(t, s.CompleteJob(ctx, job.ID))
	got, err = s.GetJobForNote(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}
