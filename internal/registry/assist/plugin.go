package assist

import (
	"context"
	"fmt"
)

// SummarizeRequest carries the note text the assistant should work from.
type SummarizeRequest struct {
	Content    string
	SourceType string
	SourceURL  string
	FileName   string
	// ExistingTags bias tag suggestions toward the workspace vocabulary.
	ExistingTags []string
}

// SummarizeResult is the assistant's derived view of a note.
type SummarizeResult struct {
	Summary string
	Tags    []string
	Project string
}

// Assistant derives summaries, tags, project labels, and titles with an AI
// provider. Implementations are fallible; callers must fall back to
// heuristics on error.
type Assistant interface {
	Summarize(ctx context.Context, req SummarizeRequest) (*SummarizeResult, error)
	// SuggestTitle proposes a short title for the text, or "" when the
	// provider has no suggestion.
	SuggestTitle(ctx context.Context, text string) (string, error)
}

// Loader creates an Assistant from config.
type Loader func(ctx context.Context) (Assistant, error)

// Plugin represents an assistant plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds an assistant plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered assistant plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named assistant plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown assistant %q; valid: %v", name, Names())
}
