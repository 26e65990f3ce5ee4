package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/strandhq/strand/internal/enrich"
	"github.com/strandhq/strand/internal/events"
	"github.com/strandhq/strand/internal/model"
	registrystore "github.com/strandhq/strand/internal/registry/store"
	"github.com/strandhq/strand/internal/security"
)

// WorkerPool polls the enrichment queue and runs the pipeline for each
// claimed job, decoupled from the request path. Notes move enriching while
// a job runs, then ready or failed.
type WorkerPool struct {
	store      registrystore.NoteStore
	pipeline   *enrich.Pipeline
	hub        *events.Hub
	count      int
	interval   time.Duration
	retryDelay time.Duration
}

func NewWorkerPool(store registrystore.NoteStore, pipeline *enrich.Pipeline, hub *events.Hub, count int, interval, retryDelay time.Duration) *WorkerPool {
	if count < 1 {
		count = 1
	}
	return &WorkerPool{
		store:      store,
		pipeline:   pipeline,
		hub:        hub,
		count:      count,
		interval:   interval,
		retryDelay: retryDelay,
	}
}

// Start runs the worker loops until ctx is cancelled.
func (p *WorkerPool) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.count; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runLoop(ctx, workerID)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.observeQueueDepth(ctx)
	}()

	wg.Wait()
}

func (p *WorkerPool) runLoop(ctx context.Context, workerID string) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Drain ready jobs before sleeping again.
			for {
				job, err := p.store.ClaimNextJob(ctx, workerID)
				if err != nil {
					log.Error("Worker: claim failed", "worker", workerID, "err", err)
					break
				}
				if job == nil {
					break
				}
				p.processJob(ctx, workerID, job)
			}
		}
	}
}

func (p *WorkerPool) processJob(ctx context.Context, workerID string, job *model.EnrichmentJob) {
	start := time.Now()
	log.Info("Enriching note", "worker", workerID, "job", job.ID, "note", job.NoteID, "attempt", job.AttemptCount)

	if err := p.store.SetNoteStatus(ctx, job.NoteID, model.StatusEnriching, nil); err != nil {
		log.Warn("Worker: status flip to enriching failed", "note", job.NoteID, "err", err)
	}
	p.publishJobPhase(job, events.PhaseStart, nil, "")

	note, outcomes, err := p.pipeline.Run(ctx, job)
	for _, outcome := range outcomes {
		if outcome.Result == enrich.ResultFallback || outcome.Result == enrich.ResultFailed {
			log.Debug("Enrichment stage degraded", "job", job.ID, "stage", outcome.Stage, "result", outcome.Result, "err", outcome.Err)
		}
	}

	if err != nil {
		log.Error("Enrichment failed", "worker", workerID, "job", job.ID, "note", job.NoteID, "err", err)
		if fErr := p.store.FailJob(ctx, job.ID, err.Error(), p.retryDelay); fErr != nil {
			log.Error("Worker: fail job record failed", "job", job.ID, "err", fErr)
		}
		msg := err.Error()
		if sErr := p.store.SetNoteStatus(ctx, job.NoteID, model.StatusFailed, &msg); sErr != nil {
			log.Error("Worker: status flip to failed failed", "note", job.NoteID, "err", sErr)
		}
		p.publishJobPhase(job, events.PhaseError, nil, err.Error())
		p.countJob("failed", start)
		return
	}

	if cErr := p.store.CompleteJob(ctx, job.ID); cErr != nil {
		log.Error("Worker: complete job failed", "job", job.ID, "err", cErr)
	}

	patch := map[string]any{"status": model.StatusReady}
	if note != nil {
		// A mid-run edit keeps the note pending through the commit; the
		// event must carry what was actually stored.
		patch["status"] = note.Status
		patch["summary"] = note.Summary
		patch["tags"] = note.Tags
		patch["project"] = note.Project
		patch["metadata"] = note.Metadata
	}
	p.publishJobPhase(job, events.PhaseCommit, patch, "")
	p.countJob("ok", start)
	log.Info("Enrichment complete", "worker", workerID, "job", job.ID, "note", job.NoteID, "took", time.Since(start))
}

// publishJobPhase emits enrich lifecycle events. Commit events carry no
// NextRevision because enrichment never advances the revision.
func (p *WorkerPool) publishJobPhase(job *model.EnrichmentJob, phase string, patch map[string]any, errMsg string) {
	if p.hub == nil {
		return
	}
	p.hub.Publish(events.Event{
		WorkspaceID:  job.WorkspaceID,
		EntityType:   events.EntityNote,
		EntityID:     job.NoteID,
		MutationType: events.MutationEnrich,
		Phase:        phase,
		Patch:        patch,
		Error:        errMsg,
	})
}

func (p *WorkerPool) countJob(result string, start time.Time) {
	if security.JobsProcessedTotal != nil {
		security.JobsProcessedTotal.WithLabelValues(result).Inc()
		security.JobDuration.Observe(time.Since(start).Seconds())
	}
}

const queueDepthInterval = 15 * time.Second

func (p *WorkerPool) observeQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(queueDepthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if security.QueueDepth == nil {
				continue
			}
			counts, err := p.store.JobCountsByStatus(ctx, uuid.Nil)
			if err != nil {
				log.Debug("Worker: queue depth query failed", "err", err)
				continue
			}
			security.QueueDepth.WithLabelValues("queued").Set(float64(counts.Queued))
			security.QueueDepth.WithLabelValues("running").Set(float64(counts.Running))
			security.QueueDepth.WithLabelValues("retry").Set(float64(counts.Retry))
			security.QueueDepth.WithLabelValues("delayed").Set(float64(counts.Delayed))
			security.QueueDepth.WithLabelValues("failed").Set(float64(counts.Failed))
		}
	}
}
