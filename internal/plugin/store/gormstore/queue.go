package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/strandhq/strand/internal/model"
	registrystore "github.com/strandhq/strand/internal/registry/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// nonTerminalStatuses are job states that block a new enqueue for the same
// note. A partial unique index over these backs the check under races.
var nonTerminalStatuses = []model.JobStatus{
	model.JobQueued, model.JobRunning, model.JobRetry, model.JobDelayed,
}

// EnqueueEnrichment creates a job for the note, or returns the existing
// non-terminal job (idempotent per note). Absorbing an enqueue against a
// running job flags it for requeue on completion: that job is working from a
// pre-edit read, so the edit needs its own pass. Queued/retry/delayed jobs
// have not read the note yet and absorb the enqueue as-is.
func (s *Store) EnqueueEnrichment(ctx context.Context, note *model.Note, payload map[string]any) (*model.EnrichmentJob, bool, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["noteId"] = note.ID.String()
	payload["sourceType"] = string(note.SourceType)
	if note.SourceURL != nil {
		payload["sourceUrl"] = *note.SourceURL
	}

	for i := 0; i < 3; i++ {
		existing, err := s.findNonTerminalJob(ctx, note.ID)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			if existing.Status != model.JobRunning || existing.RequeueOnCompletion {
				return existing, false, nil
			}
			res := s.db.WithContext(ctx).Model(&model.EnrichmentJob{}).
				Where("id = ? AND status = ?", existing.ID, model.JobRunning).
				Update("requeue_on_completion", true)
			if res.Error != nil {
				return nil, false, res.Error
			}
			if res.RowsAffected > 0 {
				existing.RequeueOnCompletion = true
				return existing, false, nil
			}
			// The job left the running state under us; look again.
			continue
		}

		now := time.Now().UTC()
		job := model.EnrichmentJob{
			ID:               uuid.New(),
			JobType:          model.JobTypeEnrichNote,
			WorkspaceID:      note.WorkspaceID,
			VisibilityUserID: note.OwnerUserID,
			NoteID:           note.ID,
			Payload:          payload,
			Status:           model.JobQueued,
			MaxAttempts:      s.jobMaxAttempts,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		err = s.db.WithContext(ctx).Create(&job).Error
		if err == nil {
			return &job, true, nil
		}
		if !isUniqueViolation(err) {
			return nil, false, err
		}
		// Lost a race with a concurrent enqueue; loop to reuse its job.
	}
	return nil, false, fmt.Errorf("enqueue enrichment: job for note %s would not settle", note.ID)
}

func (s *Store) findNonTerminalJob(ctx context.Context, noteID uuid.UUID) (*model.EnrichmentJob, error) {
	var job model.EnrichmentJob
	err := s.db.WithContext(ctx).
		First(&job, "note_id = ? AND status IN ?", noteID, nonTerminalStatuses).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ClaimNextJob hands the oldest ready job to exactly one worker. The claim
// is a conditional status flip, so two workers racing on the same row
// resolve to one winner; the loser gets nil and polls again.
func (s *Store) ClaimNextJob(ctx context.Context, workerID string) (*model.EnrichmentJob, error) {
	now := time.Now().UTC()
	var claimed *model.EnrichmentJob
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status IN ? OR (status = ? AND next_attempt_at <= ?)",
			[]model.JobStatus{model.JobQueued, model.JobRetry}, model.JobDelayed, now).
			Order("created_at ASC")
		if s.supportsSkipLocked {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var job model.EnrichmentJob
		if err := q.First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		// Clearing the flag here: this run reads the note fresh, so any
		// edit it was marking is covered by the run itself.
		res := tx.Model(&model.EnrichmentJob{}).
			Where("id = ? AND status = ?", job.ID, job.Status).
			Updates(map[string]any{
				"status":                model.JobRunning,
				"attempt_count":         gorm.Expr("attempt_count + 1"),
				"requeue_on_completion": false,
				"updated_at":            now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil // another worker won the claim
		}
		job.Status = model.JobRunning
		job.AttemptCount++
		job.RequeueOnCompletion = false
		job.UpdatedAt = now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claimed != nil {
		log.Debug("claimed enrichment job", "jobId", claimed.ID, "noteId", claimed.NoteID, "worker", workerID, "attempt", claimed.AttemptCount)
	}
	return claimed, nil
}

// CompleteJob marks the job done. A job flagged by a mid-run edit leaves a
// fresh queued job behind so the edit gets its own enrichment pass.
func (s *Store) CompleteJob(ctx context.Context, jobID uuid.UUID) error {
	var job model.EnrichmentJob
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &registrystore.NotFoundError{Resource: "job", ID: jobID.String()}
	}
	if err != nil {
		return err
	}
	if err := s.setJobStatus(ctx, jobID, map[string]any{
		"status":                model.JobCompleted,
		"requeue_on_completion": false,
		"updated_at":            time.Now().UTC(),
	}); err != nil {
		return err
	}
	if !job.RequeueOnCompletion {
		return nil
	}

	var note model.Note
	err = s.db.WithContext(ctx).First(&note, "id = ?", job.NoteID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil // note deleted mid-run; nothing left to enrich
	}
	if err != nil {
		return err
	}
	next, created, err := s.EnqueueEnrichment(ctx, &note, nil)
	if err != nil {
		return err
	}
	if created {
		log.Debug("requeued enrichment after mid-run edit", "noteId", note.ID, "jobId", next.ID, "completed", jobID)
	}
	return nil
}

// FailJob records the error; the job goes to delayed (retryable after the
// delay) until attempts are exhausted, then to failed.
func (s *Store) FailJob(ctx context.Context, jobID uuid.UUID, errMsg string, delay time.Duration) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job model.EnrichmentJob
		if err := tx.First(&job, "id = ?", jobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &registrystore.NotFoundError{Resource: "job", ID: jobID.String()}
			}
			return err
		}
		now := time.Now().UTC()
		changes := map[string]any{
			"last_error": errMsg,
			"updated_at": now,
		}
		if job.AttemptCount >= job.MaxAttempts {
			changes["status"] = model.JobFailed
			changes["next_attempt_at"] = nil
		} else {
			changes["status"] = model.JobDelayed
			changes["next_attempt_at"] = now.Add(delay)
		}
		return tx.Model(&model.EnrichmentJob{}).Where("id = ?", jobID).Updates(changes).Error
	})
}

// RetryJob transitions a terminal job back to queued. AttemptCount and
// LastError are preserved for observability. Retrying a job that is already
// in flight is absorbed as a no-op, and so is retrying a terminal job whose
// note already holds a newer live job: the live job is returned instead of
// colliding with the one-live-job index.
func (s *Store) RetryJob(ctx context.Context, jobID uuid.UUID) (*model.EnrichmentJob, error) {
	var out model.EnrichmentJob
	var noteID uuid.UUID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job model.EnrichmentJob
		if err := tx.First(&job, "id = ?", jobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &registrystore.NotFoundError{Resource: "job", ID: jobID.String()}
			}
			return err
		}
		noteID = job.NoteID
		if !job.Status.IsTerminal() {
			out = job
			return nil
		}

		var live model.EnrichmentJob
		err := tx.First(&live, "note_id = ? AND status IN ?", job.NoteID, nonTerminalStatuses).Error
		if err == nil {
			out = live
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		res := tx.Model(&model.EnrichmentJob{}).
			Where("id = ? AND status = ?", job.ID, job.Status).
			Updates(map[string]any{
				"status":          model.JobQueued,
				"next_attempt_at": nil,
				"updated_at":      time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		return tx.First(&out, "id = ?", jobID).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			// A concurrent enqueue won; its job covers the retry.
			if existing, ferr := s.findNonTerminalJob(ctx, noteID); ferr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}
	return &out, nil
}

func (s *Store) GetJob(ctx context.Context, jobID uuid.UUID) (*model.EnrichmentJob, error) {
	var job model.EnrichmentJob
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "job", ID: jobID.String()}
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJobForNote returns the note's in-flight job, or the most recent one.
func (s *Store) GetJobForNote(ctx context.Context, noteID uuid.UUID) (*model.EnrichmentJob, error) {
	if job, err := s.findNonTerminalJob(ctx, noteID); err != nil {
		return nil, err
	} else if job != nil {
		return job, nil
	}
	var job model.EnrichmentJob
	err := s.db.WithContext(ctx).
		Where("note_id = ?", noteID).
		Order("updated_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "job", ID: noteID.String()}
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// JobCountsByStatus aggregates queue state for one workspace, or for all
// workspaces when workspaceID is the zero UUID.
func (s *Store) JobCountsByStatus(ctx context.Context, workspaceID uuid.UUID) (*registrystore.JobCounts, error) {
	counts := &registrystore.JobCounts{}

	q := s.db.WithContext(ctx).Model(&model.EnrichmentJob{}).
		Select("status, COUNT(*) AS n")
	if workspaceID != uuid.Nil {
		q = q.Where("workspace_id = ?", workspaceID)
	}
	rows, err := q.Group("status").Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status model.JobStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		switch status {
		case model.JobQueued:
			counts.Queued = n
		case model.JobRunning:
			counts.Running = n
		case model.JobCompleted:
			counts.Completed = n
		case model.JobFailed:
			counts.Failed = n
		case model.JobRetry:
			counts.Retry = n
		case model.JobDelayed:
			counts.Delayed = n
		}
		counts.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	pendingQ := s.db.WithContext(ctx).Model(&model.Note{}).
		Where("status = ?", model.StatusPending)
	if workspaceID != uuid.Nil {
		pendingQ = pendingQ.Where("workspace_id = ?", workspaceID)
	}
	if err := pendingQ.Count(&counts.Pending).Error; err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *Store) ListFailedJobs(ctx context.Context, workspaceID uuid.UUID, limit int) ([]model.EnrichmentJob, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var jobs []model.EnrichmentJob
	err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND status = ?", workspaceID, model.JobFailed).
		Order("updated_at DESC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (s *Store) setJobStatus(ctx context.Context, jobID uuid.UUID, changes map[string]any) error {
	res := s.db.WithContext(ctx).Model(&model.EnrichmentJob{}).Where("id = ?", jobID).Updates(changes)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "job", ID: jobID.String()}
	}
	return nil
}
