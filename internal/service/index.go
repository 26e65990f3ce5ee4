package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/strandhq/strand/internal/model"
)

// WorkspaceIndex maintains one denormalized markdown file per workspace.
// Each note occupies a marker-delimited block keyed by note id, so rewrites
// replace the block in place instead of appending duplicates. Files that
// outgrow maxBytes are rotated aside with a unix-timestamp suffix.
type WorkspaceIndex struct {
	dir      string
	maxBytes int64
	mu       sync.Mutex
}

func NewWorkspaceIndex(dir string, maxBytes int64) *WorkspaceIndex {
	return &WorkspaceIndex{dir: dir, maxBytes: maxBytes}
}

func blockStart(noteID uuid.UUID) string {
	return fmt.Sprintf("<!-- strand:note %s -->", noteID)
}

func blockEnd(noteID uuid.UUID) string {
	return fmt.Sprintf("<!-- /strand:note %s -->", noteID)
}

func (w *WorkspaceIndex) path(workspaceID uuid.UUID) string {
	return filepath.Join(w.dir, workspaceID.String()+".md")
}

// UpsertNote writes or replaces the note's block in its workspace index.
func (w *WorkspaceIndex) UpsertNote(_ context.Context, note *model.Note) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("index: %w", err)
	}
	path := w.path(note.WorkspaceID)
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("index: %w", err)
	}

	content := removeBlock(string(existing), note.ID)
	block := renderBlock(note)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += block

	if w.maxBytes > 0 && int64(len(content)) > w.maxBytes {
		rotated := filepath.Join(w.dir, fmt.Sprintf("%s.%d.md", note.WorkspaceID, time.Now().Unix()))
		if err := os.Rename(path, rotated); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("index rotate: %w", err)
		}
		log.Info("Rotated workspace index", "workspace", note.WorkspaceID, "archived", rotated)
		content = block
	}

	return os.WriteFile(path, []byte(content), 0o644)
}

// RemoveNote deletes the note's block from its workspace index, if present.
func (w *WorkspaceIndex) RemoveNote(_ context.Context, workspaceID, noteID uuid.UUID) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	path := w.path(workspaceID)
	existing, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}
	content := removeBlock(string(existing), noteID)
	if content == string(existing) {
		return nil
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func removeBlock(content string, noteID uuid.UUID) string {
	start := strings.Index(content, blockStart(noteID))
	if start < 0 {
		return content
	}
	endMarker := blockEnd(noteID)
	end := strings.Index(content[start:], endMarker)
	if end < 0 {
		// Truncated block; drop everything from the start marker.
		return strings.TrimRight(content[:start], "\n") + "\n"
	}
	after := content[start+end+len(endMarker):]
	after = strings.TrimLeft(after, "\n")
	before := content[:start]
	if before != "" && after != "" && !strings.HasSuffix(before, "\n") {
		before += "\n"
	}
	return before + after
}

func renderBlock(note *model.Note) string {
	var b strings.Builder
	b.WriteString(blockStart(note.ID))
	b.WriteString("\n")

	title := note.Title()
	if title == "" {
		title = "Untitled note"
	}
	fmt.Fprintf(&b, "## %s\n\n", title)
	if note.Summary != "" {
		b.WriteString(note.Summary)
		b.WriteString("\n\n")
	}
	if len(note.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(note.Tags, ", "))
	}
	if note.Project != "" {
		fmt.Fprintf(&b, "Project: %s\n", note.Project)
	}
	if note.SourceURL != nil && *note.SourceURL != "" {
		fmt.Fprintf(&b, "Source: %s\n", *note.SourceURL)
	}
	fmt.Fprintf(&b, "Status: %s | Revision: %d\n", note.Status, note.Revision)
	b.WriteString(blockEnd(note.ID))
	b.WriteString("\n")
	return b.String()
}
