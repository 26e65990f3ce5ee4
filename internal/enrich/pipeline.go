// Package enrich runs the best-effort enrichment pipeline against one note
// per claimed job. Every stage is independently fallible: a stage error
// downgrades to that stage's fallback and the job keeps going. Only the
// final commit can fail the job.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/strandhq/strand/internal/model"
	registryassist "github.com/strandhq/strand/internal/registry/assist"
	registryembed "github.com/strandhq/strand/internal/registry/embed"
	"github.com/strandhq/strand/internal/registry/store"
	registryvector "github.com/strandhq/strand/internal/registry/vector"

	locembed "github.com/strandhq/strand/internal/plugin/embed/local"
)

// Embedding source markers stored under the embeddingSource metadata key.
const (
	EmbedSourcePseudoLarge = "pseudo-large-upload"
	EmbedSourcePseudoError = "pseudo-fallback"
)

// Indexer receives the enriched note for the per-workspace markdown index.
type Indexer interface {
	UpsertNote(ctx context.Context, note *model.Note) error
}

// Stage results captured per run.
const (
	ResultOK       = "ok"
	ResultFallback = "fallback"
	ResultSkipped  = "skipped"
	ResultFailed   = "failed"
)

// StageOutcome records what happened to one stage, for logs and tests.
type StageOutcome struct {
	Stage  string
	Result string
	Err    string
}

var errStageSkipped = errors.New("stage not applicable")

type noteState struct {
	note             *model.Note
	preview          *LinkPreview
	title            *string
	summary          string
	tags             model.TagList
	project          string
	embedding        []float32
	embeddingSource  string
	enrichmentSource string
	updated          *model.Note
}

type stage struct {
	name string
	run  func(ctx context.Context, st *noteState) error
	// fallback recovers from a run error. A nil fallback means the error is
	// recorded and the pipeline moves on.
	fallback func(ctx context.Context, st *noteState, cause error) error
	critical bool
}

// Options configures a Pipeline. Assistant, Vectors, and Indexer may be nil.
type Options struct {
	Store           store.NoteStore
	Embedder        registryembed.Embedder
	Assistant       registryassist.Assistant
	Vectors         registryvector.VectorStore
	Indexer         Indexer
	PreviewTimeout  time.Duration
	PreviewMaxBytes int64
	EmbedMaxChars   int
}

type Pipeline struct {
	opts Options
}

func NewPipeline(opts Options) *Pipeline {
	return &Pipeline{opts: opts}
}

// Run executes the pipeline for one claimed job. The returned outcomes list
// one entry per stage in order; the note is the committed state after a
// successful run. A non-nil error means the job itself failed and should be
// retried or marked failed by the caller.
func (p *Pipeline) Run(ctx context.Context, job *model.EnrichmentJob) (*model.Note, []StageOutcome, error) {
	note, err := p.opts.Store.GetNote(ctx, job.NoteID)
	if err != nil {
		return nil, nil, fmt.Errorf("enrich: load note: %w", err)
	}

	st := &noteState{note: note}
	stages := []stage{
		{name: "convert", run: p.runConvert},
		{name: "preview", run: p.runPreview, fallback: func(_ context.Context, st *noteState, _ error) error {
			st.preview = nil
			return nil
		}},
		{name: "title", run: p.runTitle, fallback: p.fallbackTitle},
		{name: "summarize", run: p.runSummarize, fallback: p.fallbackSummarize},
		{name: "embed", run: p.runEmbed, fallback: p.fallbackEmbed},
		{name: "commit", run: p.runCommit, critical: true},
	}

	outcomes := make([]StageOutcome, 0, len(stages))
	for _, s := range stages {
		outcome := StageOutcome{Stage: s.name, Result: ResultOK}
		err := s.run(ctx, st)
		switch {
		case err == nil:
		case errors.Is(err, errStageSkipped):
			outcome.Result = ResultSkipped
		case s.critical:
			outcome.Result = ResultFailed
			outcome.Err = err.Error()
			outcomes = append(outcomes, outcome)
			return nil, outcomes, err
		case s.fallback != nil:
			log.Debug("Enrichment stage falling back", "note", note.ID, "stage", s.name, "err", err)
			if fbErr := s.fallback(ctx, st, err); fbErr != nil {
				outcome.Result = ResultFailed
				outcome.Err = fbErr.Error()
			} else {
				outcome.Result = ResultFallback
				outcome.Err = err.Error()
			}
		default:
			outcome.Result = ResultFailed
			outcome.Err = err.Error()
		}
		outcomes = append(outcomes, outcome)
	}
	return st.updated, outcomes, nil
}

func (p *Pipeline) runConvert(_ context.Context, st *noteState) error {
	note := st.note
	if note.SourceType != model.SourceFile && note.SourceType != model.SourceImage {
		return errStageSkipped
	}
	if note.ImagePath == nil || note.RawContent != "" {
		return errStageSkipped
	}
	mime := ""
	if note.FileMime != nil {
		mime = *note.FileMime
	}
	raw, markdown, err := ConvertAttachment(*note.ImagePath, mime)
	if err != nil {
		// Proceed with whatever text already exists.
		return err
	}
	note.RawContent = raw
	note.MarkdownContent = markdown
	if note.Content == "" {
		note.Content = raw
	}
	return nil
}

func (p *Pipeline) runPreview(ctx context.Context, st *noteState) error {
	note := st.note
	if note.SourceType != model.SourceLink || note.SourceURL == nil {
		return errStageSkipped
	}
	preview, err := FetchPreview(ctx, *note.SourceURL, p.opts.PreviewTimeout, p.opts.PreviewMaxBytes)
	if err != nil {
		return err
	}
	st.preview = preview
	return nil
}

func (p *Pipeline) runTitle(ctx context.Context, st *noteState) error {
	if st.note.TitleLocked() {
		return errStageSkipped
	}
	if p.opts.Assistant != nil {
		title, err := p.opts.Assistant.SuggestTitle(ctx, titleInput(st))
		if err != nil {
			return err
		}
		if title != "" {
			st.title = &title
			return nil
		}
	}
	return p.fallbackTitle(ctx, st, nil)
}

func (p *Pipeline) fallbackTitle(_ context.Context, st *noteState, _ error) error {
	if st.preview != nil && st.preview.Title != "" {
		title := truncateTitle(st.preview.Title)
		st.title = &title
		return nil
	}
	title := HeuristicTitle(st.note)
	st.title = &title
	return nil
}

func (p *Pipeline) runSummarize(ctx context.Context, st *noteState) error {
	if p.opts.Assistant == nil {
		return p.fallbackSummarize(ctx, st, nil)
	}
	note := st.note
	req := registryassist.SummarizeRequest{
		Content:      summarizeInput(st),
		SourceType:   string(note.SourceType),
		ExistingTags: note.Tags,
	}
	if note.SourceURL != nil {
		req.SourceURL = *note.SourceURL
	}
	if note.FileName != nil {
		req.FileName = *note.FileName
	}
	result, err := p.opts.Assistant.Summarize(ctx, req)
	if err != nil {
		return err
	}
	st.summary = result.Summary
	st.tags = model.TagList(result.Tags).Normalize()
	st.project = result.Project
	st.enrichmentSource = SourceAssisted
	return nil
}

func (p *Pipeline) fallbackSummarize(_ context.Context, st *noteState, _ error) error {
	note := st.note
	st.summary = HeuristicSummary(summarizeInput(st), 240)
	st.tags = HeuristicTags(note.Content, model.MaxTags)
	st.project = HeuristicProject(note.SourceURL, st.tags)
	st.enrichmentSource = SourceHeuristic
	return nil
}

func (p *Pipeline) runEmbed(ctx context.Context, st *noteState) error {
	text := embedInput(st)
	if len(text) > p.opts.EmbedMaxChars {
		// Oversize input never reaches a provider, configured or not.
		st.embedding = locembed.EmbedOne(text)
		st.embeddingSource = EmbedSourcePseudoLarge
		return p.upsertVector(ctx, st)
	}
	if p.opts.Embedder == nil {
		return p.fallbackEmbed(ctx, st, nil)
	}
	vectors, err := p.opts.Embedder.EmbedTexts(ctx, []string{text})
	if err != nil {
		return err
	}
	if len(vectors) != 1 {
		return fmt.Errorf("embed: expected 1 vector, got %d", len(vectors))
	}
	st.embedding = vectors[0]
	st.embeddingSource = p.opts.Embedder.ModelName()
	return p.upsertVector(ctx, st)
}

func (p *Pipeline) fallbackEmbed(ctx context.Context, st *noteState, _ error) error {
	st.embedding = locembed.EmbedOne(embedInput(st))
	st.embeddingSource = EmbedSourcePseudoError
	return p.upsertVector(ctx, st)
}

func (p *Pipeline) upsertVector(ctx context.Context, st *noteState) error {
	if p.opts.Vectors == nil || !p.opts.Vectors.IsEnabled() {
		return nil
	}
	err := p.opts.Vectors.Upsert(ctx, []registryvector.UpsertRequest{{
		WorkspaceID: st.note.WorkspaceID,
		NoteID:      st.note.ID,
		Embedding:   st.embedding,
		ModelName:   st.embeddingSource,
	}})
	if err != nil {
		// The embedding source is already recorded; losing the vector write
		// must not block job completion.
		log.Warn("Vector upsert failed", "note", st.note.ID, "err", err)
	}
	return nil
}

func (p *Pipeline) runCommit(ctx context.Context, st *noteState) error {
	note := st.note
	metadata := map[string]any{
		model.MetaEnrichmentSource: st.enrichmentSource,
		model.MetaEmbeddingSource:  st.embeddingSource,
	}
	if st.preview != nil {
		metadata[model.MetaLinkPreview] = st.preview
	}

	commit := store.EnrichmentCommit{
		Summary:  st.summary,
		Tags:     st.tags,
		Project:  st.project,
		Title:    st.title,
		Metadata: metadata,
		Status:   model.StatusReady,
		Revision: note.Revision,
	}
	if note.RawContent != "" {
		commit.RawContent = &note.RawContent
	}
	if note.MarkdownContent != "" {
		commit.MarkdownContent = &note.MarkdownContent
	}

	updated, err := p.opts.Store.CommitEnrichment(ctx, note.ID, commit)
	if err != nil {
		return fmt.Errorf("enrich: commit: %w", err)
	}
	st.updated = updated

	if p.opts.Indexer != nil {
		if err := p.opts.Indexer.UpsertNote(ctx, updated); err != nil {
			log.Warn("Index upsert failed", "note", note.ID, "err", err)
		}
	}
	return nil
}

func titleInput(st *noteState) string {
	text := st.note.Content
	if text == "" && st.preview != nil {
		text = st.preview.Title + "\n" + st.preview.Excerpt
	}
	return text
}

func summarizeInput(st *noteState) string {
	var b strings.Builder
	b.WriteString(st.note.Content)
	if st.preview != nil {
		if st.preview.Title != "" {
			b.WriteString("\n")
			b.WriteString(st.preview.Title)
		}
		if st.preview.Excerpt != "" {
			b.WriteString("\n")
			b.WriteString(st.preview.Excerpt)
		}
	}
	return b.String()
}

func embedInput(st *noteState) string {
	parts := []string{st.note.Content, st.summary, strings.Join(st.tags, " "), st.project}
	if st.preview != nil {
		parts = append(parts, st.preview.Title, st.preview.Excerpt)
	}
	var kept []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}
