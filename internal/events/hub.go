// Package events carries mutation lifecycle notifications from the service
// layer to connected clients, and reconciles them into client-side caches.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mutation phases. A mutation emits start, zero or more progress events,
// and exactly one of commit or error.
const (
	PhaseStart    = "start"
	PhaseProgress = "progress"
	PhaseCommit   = "commit"
	PhaseError    = "error"
)

// Entity types carried in push events.
const (
	EntityNote = "note"
	EntityJob  = "enrichmentJob"
)

// Mutation types.
const (
	MutationCreate = "create"
	MutationUpdate = "update"
	MutationDelete = "delete"
	MutationEnrich = "enrich"
)

// Event is a push notification about one mutation phase.
type Event struct {
	ID           string         `json:"id"`
	WorkspaceID  uuid.UUID      `json:"workspaceId"`
	EntityType   string         `json:"entityType"`
	EntityID     uuid.UUID      `json:"entityId"`
	MutationType string         `json:"mutationType"`
	Phase        string         `json:"phase"`
	ActorUserID  string         `json:"actorUserId,omitempty"`
	BaseRevision *int64         `json:"baseRevision,omitempty"`
	NextRevision *int64         `json:"nextRevision,omitempty"`
	Patch        map[string]any `json:"patch,omitempty"`
	Error        string         `json:"error,omitempty"`
	OccurredAt   time.Time      `json:"occurredAt"`
}

// subscriber buffers events for one connected client. The channel is never
// closed by Publish; a slow client that fills its buffer is dropped.
type subscriber struct {
	ch          chan Event
	workspaceID uuid.UUID
}

// Hub fans mutation events out to per-workspace subscribers.
type Hub struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[*subscriber]struct{}{}}
}

const subscriberBuffer = 64

// Subscribe registers a listener for one workspace. The returned cancel
// function must be called when the client disconnects.
func (h *Hub) Subscribe(workspaceID uuid.UUID) (<-chan Event, func()) {
	sub := &subscriber{
		ch:          make(chan Event, subscriberBuffer),
		workspaceID: workspaceID,
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish delivers the event to every subscriber of its workspace. Delivery
// is best effort: subscribers whose buffers are full miss the event rather
// than blocking the mutation path.
func (h *Hub) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.workspaceID != event.WorkspaceID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// SubscriberCount reports live subscribers, for readiness and tests.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
