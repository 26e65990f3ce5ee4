package events

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rev(n int64) *int64 { return &n }

func commitEvent(noteID uuid.UUID, nextRevision *int64, patch map[string]any) Event {
	return Event{
		WorkspaceID:  uuid.New(),
		EntityType:   EntityNote,
		EntityID:     noteID,
		MutationType: MutationUpdate,
		Phase:        PhaseCommit,
		NextRevision: nextRevision,
		Patch:        patch,
	}
}

func TestReconcilerAppliesCommit(t *testing.T) {
	r := NewReconciler()
	noteID := uuid.New()

	applied := r.Apply(commitEvent(noteID, rev(1), map[string]any{"content": "hello"}))
	assert.True(t, applied)

	cached := r.Get(noteID)
	require.NotNil(t, cached)
	assert.Equal(t, int64(1), cached.Revision)
	assert.Equal(t, "hello", cached.Fields["content"])
}

func TestReconcilerIgnoresStaleRevision(t *testing.T) {
	r := NewReconciler()
	noteID := uuid.New()

	require.True(t, r.Apply(commitEvent(noteID, rev(3), map[string]any{"content": "v3"})))

	// A late-arriving older commit must not regress the cache.
	assert.False(t, r.Apply(commitEvent(noteID, rev(2), map[string]any{"content": "v2"})))
	assert.False(t, r.Apply(commitEvent(noteID, rev(3), map[string]any{"content": "replay"})))

	cached := r.Get(noteID)
	assert.Equal(t, int64(3), cached.Revision)
	assert.Equal(t, "v3", cached.Fields["content"])
}

func TestReconcilerIgnoresNonCommitPhases(t *testing.T) {
	r := NewReconciler()
	noteID := uuid.New()

	for _, phase := range []string{PhaseStart, PhaseProgress, PhaseError} {
		event := commitEvent(noteID, rev(1), map[string]any{"content": "x"})
		event.Phase = phase
		assert.False(t, r.Apply(event))
	}
	assert.Nil(t, r.Get(noteID))
	assert.Equal(t, 0, r.Len())
}

func TestReconcilerIgnoresJobEvents(t *testing.T) {
	r := NewReconciler()
	event := commitEvent(uuid.New(), rev(1), nil)
	event.EntityType = EntityJob
	assert.False(t, r.Apply(event))
}

func TestReconcilerDeleteIsUnconditional(t *testing.T) {
	r := NewReconciler()
	noteID := uuid.New()

	require.True(t, r.Apply(commitEvent(noteID, rev(5), map[string]any{"content": "x"})))

	deleteEvent := commitEvent(noteID, rev(2), nil)
	deleteEvent.MutationType = MutationDelete
	assert.True(t, r.Apply(deleteEvent))
	assert.Nil(t, r.Get(noteID))

	// Deleting an unknown note changes nothing.
	assert.False(t, r.Apply(deleteEvent))
}

func TestReconcilerEnrichmentMergesWithoutAdvancing(t *testing.T) {
	r := NewReconciler()
	noteID := uuid.New()

	require.True(t, r.Apply(commitEvent(noteID, rev(4), map[string]any{"content": "body"})))

	// Enrichment commits carry no next revision.
	enrich := commitEvent(noteID, nil, map[string]any{"summary": "derived", "status": "ready"})
	enrich.MutationType = MutationEnrich
	assert.True(t, r.Apply(enrich))

	cached := r.Get(noteID)
	assert.Equal(t, int64(4), cached.Revision)
	assert.Equal(t, "body", cached.Fields["content"])
	assert.Equal(t, "derived", cached.Fields["summary"])
}

func TestReconcilerGetReturnsCopy(t *testing.T) {
	r := NewReconciler()
	noteID := uuid.New()
	require.True(t, r.Apply(commitEvent(noteID, rev(1), map[string]any{"content": "x"})))

	cached := r.Get(noteID)
	cached.Fields["content"] = "mutated"
	assert.Equal(t, "x", r.Get(noteID).Fields["content"])
}

func TestHubFansOutPerWorkspace(t *testing.T) {
	h := NewHub()
	workspaceA := uuid.New()
	workspaceB := uuid.New()

	chA, cancelA := h.Subscribe(workspaceA)
	defer cancelA()
	chB, cancelB := h.Subscribe(workspaceB)
	defer cancelB()
	assert.Equal(t, 2, h.SubscriberCount())

	h.Publish(Event{WorkspaceID: workspaceA, EntityType: EntityNote, Phase: PhaseCommit})

	select {
	case got := <-chA:
		assert.Equal(t, workspaceA, got.WorkspaceID)
		assert.NotEmpty(t, got.ID)
		assert.False(t, got.OccurredAt.IsZero())
	default:
		t.Fatal("workspace A subscriber missed its event")
	}
	select {
	case <-chB:
		t.Fatal("workspace B received an event for workspace A")
	default:
	}
}

func TestHubDropsWhenSubscriberBufferFull(t *testing.T) {
	h := NewHub()
	workspaceID := uuid.New()
	ch, cancel := h.Subscribe(workspaceID)
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		h.Publish(Event{WorkspaceID: workspaceID, EntityType: EntityNote, Phase: PhaseProgress})
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestHubCancelRemovesSubscriber(t *testing.T) {
	h := NewHub()
	_, cancel := h.Subscribe(uuid.New())
	require.Equal(t, 1, h.SubscriberCount())
	cancel()
	assert.Equal(t, 0, h.SubscriberCount())
}
