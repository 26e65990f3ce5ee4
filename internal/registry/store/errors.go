package store

import (
	"fmt"

	"github.com/strandhq/strand/internal/model"
)

// NotFoundError indicates the resource was not found (or user lacks access).
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError indicates a client-side validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// RevisionConflictError indicates an optimistic-concurrency mismatch: the
// caller's base revision no longer matches the stored revision. The mutation
// was aborted with no side effects. Current carries the authoritative
// revision, and Snapshot (when present) the latest stored note state so
// callers can rebase without a second read.
type RevisionConflictError struct {
	NoteID          string
	BaseRevision    int64
	CurrentRevision int64
	Snapshot        *model.Note
}

func (e *RevisionConflictError) Error() string {
	return fmt.Sprintf("revision conflict on note %s: base %d, current %d",
		e.NoteID, e.BaseRevision, e.CurrentRevision)
}

// ForbiddenError indicates insufficient access.
type ForbiddenError struct{}

func (e *ForbiddenError) Error() string {
	return "forbidden"
}
