package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/strandhq/strand/internal/model"
)

type noteCacheKey struct{}

// WithNoteCacheContext returns a new context carrying the given NoteCache.
func WithNoteCacheContext(ctx context.Context, c NoteCache) context.Context {
	return context.WithValue(ctx, noteCacheKey{}, c)
}

// NoteCacheFromContext retrieves the NoteCache from the context.
// Returns nil if none was set.
func NoteCacheFromContext(ctx context.Context) NoteCache {
	c, _ := ctx.Value(noteCacheKey{}).(NoteCache)
	return c
}

// NoteCache caches note reads keyed by note id. Entries are invalidated on
// every committed mutation, so a hit is at most one revision stale.
type NoteCache interface {
	Available() bool
	Get(ctx context.Context, noteID uuid.UUID) (*model.Note, error)
	Set(ctx context.Context, note *model.Note, ttl time.Duration) error
	Remove(ctx context.Context, noteID uuid.UUID) error
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (NoteCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
