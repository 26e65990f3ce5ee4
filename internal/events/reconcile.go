package events

import (
	"sync"

	"github.com/google/uuid"
)

// CachedNote is a client-side view of a note, maintained from push events.
type CachedNote struct {
	Revision int64
	Fields   map[string]any
}

// Reconciler folds push events into a client-side note cache. Events may
// arrive late or duplicated; revision ordering decides what applies.
type Reconciler struct {
	mu    sync.Mutex
	notes map[uuid.UUID]*CachedNote
}

func NewReconciler() *Reconciler {
	return &Reconciler{notes: map[uuid.UUID]*CachedNote{}}
}

// Apply folds one event into the cache and reports whether it changed
// anything. Rules:
//   - Only commit-phase events touch the cache. Start, progress, and error
//     phases are transient UI signals.
//   - Deletes apply unconditionally, whatever the cached revision says.
//   - A commit without NextRevision (an enrichment write) merges its patch
//     without advancing the revision.
//   - A commit with NextRevision applies only when it is newer than the
//     cached revision, so replays and out-of-order delivery are no-ops.
func (r *Reconciler) Apply(event Event) bool {
	if event.Phase != PhaseCommit || event.EntityType != EntityNote {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if event.MutationType == MutationDelete {
		if _, ok := r.notes[event.EntityID]; !ok {
			return false
		}
		delete(r.notes, event.EntityID)
		return true
	}

	cached, ok := r.notes[event.EntityID]
	if !ok {
		cached = &CachedNote{Fields: map[string]any{}}
		r.notes[event.EntityID] = cached
	}

	if event.NextRevision != nil {
		if ok && *event.NextRevision <= cached.Revision {
			return false
		}
		cached.Revision = *event.NextRevision
	}
	for k, v := range event.Patch {
		cached.Fields[k] = v
	}
	return true
}

// Get returns the cached view of a note, or nil when absent. The returned
// value is a copy; mutating it does not affect the cache.
func (r *Reconciler) Get(noteID uuid.UUID) *CachedNote {
	r.mu.Lock()
	defer r.mu.Unlock()
	cached, ok := r.notes[noteID]
	if !ok {
		return nil
	}
	fields := make(map[string]any, len(cached.Fields))
	for k, v := range cached.Fields {
		fields[k] = v
	}
	return &CachedNote{Revision: cached.Revision, Fields: fields}
}

// Len reports how many notes the cache holds.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notes)
}
