package noop

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/strandhq/strand/internal/model"
	"github.com/strandhq/strand/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.NoteCache, error) {
			return &noopNoteCache{}, nil
		},
	})
}

type noopNoteCache struct{}

func (n *noopNoteCache) Available() bool { return false }
func (n *noopNoteCache) Get(_ context.Context, _ uuid.UUID) (*model.Note, error) {
	return nil, nil
}
func (n *noopNoteCache) Set(_ context.Context, _ *model.Note, _ time.Duration) error {
	return nil
}
func (n *noopNoteCache) Remove(_ context.Context, _ uuid.UUID) error { return nil }

var _ cache.NoteCache = (*noopNoteCache)(nil)
