package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/strandhq/strand/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexNote(workspaceID uuid.UUID) *model.Note {
	return &model.Note{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		Summary:     "A summary of the note.",
		Tags:        model.TagList{"go", "notes"},
		Project:     "strand",
		Status:      model.StatusReady,
		Revision:    2,
		Metadata:    map[string]any{model.MetaTitle: "Note Title"},
	}
}

func readIndex(t *testing.T, dir string, workspaceID uuid.UUID) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, workspaceID.String()+".md"))
	require.NoError(t, err)
	return string(data)
}

func TestWorkspaceIndexUpsertWritesBlock(t *testing.T) {
	dir := t.TempDir()
	idx := NewWorkspaceIndex(dir, 0)
	workspaceID := uuid.New()
	note := indexNote(workspaceID)

	require.NoError(t, idx.UpsertNote(context.Background(), note))

	content := readIndex(t, dir, workspaceID)
	assert.Contains(t, content, "## Note Title")
	assert.Contains(t, content, "A summary of the note.")
	assert.Contains(t, content, "Tags: go, notes")
	assert.Contains(t, content, "Project: strand")
	assert.Contains(t, content, "Status: ready | Revision: 2")
}

func TestWorkspaceIndexUpsertIsIdempotentPerNote(t *testing.T) {
	dir := t.TempDir()
	idx := NewWorkspaceIndex(dir, 0)
	workspaceID := uuid.New()
	note := indexNote(workspaceID)

	require.NoError(t, idx.UpsertNote(context.Background(), note))
	note.Summary = "Updated summary."
	require.NoError(t, idx.UpsertNote(context.Background(), note))

	content := readIndex(t, dir, workspaceID)
	assert.Equal(t, 1, strings.Count(content, blockStart(note.ID)))
	assert.Equal(t, 1, strings.Count(content, blockEnd(note.ID)))
	assert.Contains(t, content, "Updated summary.")
	assert.NotContains(t, content, "A summary of the note.")
}

func TestWorkspaceIndexHoldsMultipleNotes(t *testing.T) {
	dir := t.TempDir()
	idx := NewWorkspaceIndex(dir, 0)
	workspaceID := uuid.New()
	first := indexNote(workspaceID)
	second := indexNote(workspaceID)

	require.NoError(t, idx.UpsertNote(context.Background(), first))
	require.NoError(t, idx.UpsertNote(context.Background(), second))

	content := readIndex(t, dir, workspaceID)
	assert.Contains(t, content, first.ID.String())
	assert.Contains(t, content, second.ID.String())
}

func TestWorkspaceIndexRemoveNote(t *testing.T) {
	dir := t.TempDir()
	idx := NewWorkspaceIndex(dir, 0)
	workspaceID := uuid.New()
	keep := indexNote(workspaceID)
	drop := indexNote(workspaceID)

	require.NoError(t, idx.UpsertNote(context.Background(), keep))
	require.NoError(t, idx.UpsertNote(context.Background(), drop))
	require.NoError(t, idx.RemoveNote(context.Background(), workspaceID, drop.ID))

	content := readIndex(t, dir, workspaceID)
	assert.Contains(t, content, keep.ID.String())
	assert.NotContains(t, content, drop.ID.String())

	// Removing an absent note is a no-op, including a missing file.
	require.NoError(t, idx.RemoveNote(context.Background(), workspaceID, drop.ID))
	require.NoError(t, idx.RemoveNote(context.Background(), uuid.New(), drop.ID))
}

func TestWorkspaceIndexRotatesWhenOverBudget(t *testing.T) {
	dir := t.TempDir()
	idx := NewWorkspaceIndex(dir, 300)
	workspaceID := uuid.New()

	first := indexNote(workspaceID)
	require.NoError(t, idx.UpsertNote(context.Background(), first))

	second := indexNote(workspaceID)
	second.Summary = strings.Repeat("filler text ", 40)
	require.NoError(t, idx.UpsertNote(context.Background(), second))

	// The active file holds only the newest block; the old content moved aside.
	content := readIndex(t, dir, workspaceID)
	assert.Contains(t, content, second.ID.String())
	assert.NotContains(t, content, first.ID.String())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 2)
}
