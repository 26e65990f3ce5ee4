package service

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/strandhq/strand/internal/merge"
	"github.com/strandhq/strand/internal/model"
	"github.com/strandhq/strand/internal/registry/store"
	"github.com/strandhq/strand/internal/security"
)

// Rebase outcomes, recorded in metrics and returned to callers.
const (
	RebaseClean      = "clean"       // first attempt succeeded, no rebase needed
	RebaseMerged     = "merged"      // conflict merged and resubmitted successfully
	RebaseRemoteOnly = "remote-only" // remote edit already covered the local one
	RebaseConflict   = "conflict"    // merge or resubmission failed
)

// UpdateContentRebased is UpdateContent with the bounded auto-rebase loop:
// at most two attempts total. On a revision conflict it three-way merges
// content and title against the stored base version and resubmits once with
// the authoritative revision as the new base. A second conflict, or an
// unmergeable edit, surfaces the conflict to the caller.
func (s *NoteService) UpdateContentRebased(ctx context.Context, noteID uuid.UUID, update store.ContentUpdate) (*model.Note, string, error) {
	note, err := s.UpdateContent(ctx, noteID, update)
	if err == nil || isEnqueueError(err) {
		s.countRebase(RebaseClean)
		return note, RebaseClean, err
	}

	var conflict *store.RevisionConflictError
	if !errors.As(err, &conflict) || update.BaseRevision == nil {
		return nil, RebaseConflict, err
	}

	remote := conflict.Snapshot
	if remote == nil {
		remote, err = s.store.GetNote(ctx, noteID)
		if err != nil {
			return nil, RebaseConflict, err
		}
	}

	// The snapshot written by the mutation that advanced past our base holds
	// the exact text this client last saw.
	base, err := s.store.GetVersion(ctx, noteID, *update.BaseRevision)
	if err != nil {
		log.Debug("Rebase aborted: base version unavailable", "note", noteID, "baseRevision", *update.BaseRevision)
		s.countRebase(RebaseConflict)
		return nil, RebaseConflict, conflict
	}

	merged := update
	changed := false

	if update.Content != nil {
		result := merge.Merge(base.Content, *update.Content, remote.Content)
		switch result.Status {
		case merge.StatusConflict:
			s.countRebase(RebaseConflict)
			return nil, RebaseConflict, conflict
		case merge.StatusSame, merge.StatusRemote:
			merged.Content = nil
		default:
			text := result.Text
			merged.Content = &text
			changed = true
		}
	}

	if update.Title != nil {
		baseTitle := titleOf(base.Metadata)
		result := merge.Merge(baseTitle, *update.Title, remote.Title())
		switch result.Status {
		case merge.StatusConflict:
			s.countRebase(RebaseConflict)
			return nil, RebaseConflict, conflict
		case merge.StatusSame, merge.StatusRemote:
			merged.Title = nil
		default:
			title := result.Text
			merged.Title = &title
			changed = true
		}
	}

	if !changed {
		// The remote edit already contains everything this caller wanted.
		s.countRebase(RebaseRemoteOnly)
		return remote, RebaseRemoteOnly, nil
	}

	merged.BaseRevision = &conflict.CurrentRevision
	note, err = s.UpdateContent(ctx, noteID, merged)
	if err != nil && !isEnqueueError(err) {
		s.countRebase(RebaseConflict)
		return nil, RebaseConflict, err
	}
	s.countRebase(RebaseMerged)
	return note, RebaseMerged, err
}

func (s *NoteService) countRebase(outcome string) {
	if security.RebaseOutcomesTotal != nil {
		security.RebaseOutcomesTotal.WithLabelValues(outcome).Inc()
	}
}

func isEnqueueError(err error) bool {
	var qerr *EnqueueError
	return errors.As(err, &qerr)
}

func titleOf(metadata map[string]any) string {
	if metadata == nil {
		return ""
	}
	t, _ := metadata[model.MetaTitle].(string)
	return t
}
