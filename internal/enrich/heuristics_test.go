package enrich

import (
	"strings"
	"testing"

	"github.com/strandhq/strand/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristicTagsFrequencyAndTies(t *testing.T) {
	content := "kubernetes kubernetes deployment deployment cluster"
	tags := HeuristicTags(content, 3)
	// kubernetes and deployment tie at 2, alphabetical break; cluster last.
	assert.Equal(t, model.TagList{"deployment", "kubernetes", "cluster"}, tags)
}

func TestHeuristicTagsIgnoresShortWordsAndStopwords(t *testing.T) {
	tags := HeuristicTags("the cat sat on the mat with golang", 8)
	assert.Equal(t, model.TagList{"golang"}, tags)
}

func TestHeuristicTagsDeterministic(t *testing.T) {
	content := "alpha bravo charlie delta alpha bravo charlie alpha"
	first := HeuristicTags(content, 4)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, HeuristicTags(content, 4))
	}
}

func TestHeuristicSummaryTakesTwoSentences(t *testing.T) {
	content := "First sentence. Second sentence. Third sentence."
	summary := HeuristicSummary(content, 240)
	assert.Equal(t, "First sentence. Second sentence.", summary)
}

func TestHeuristicSummaryTruncates(t *testing.T) {
	long := strings.Repeat("word ", 100)
	summary := HeuristicSummary(long, 40)
	assert.LessOrEqual(t, len([]rune(summary)), 40)
	assert.True(t, strings.HasSuffix(summary, "…"))
}

func TestHeuristicSummaryStripsMarkdown(t *testing.T) {
	summary := HeuristicSummary("# Heading\n\nSome **bold** text. More text.", 240)
	assert.NotContains(t, summary, "#")
	assert.NotContains(t, summary, "*")
}

func TestHeuristicSummaryEmpty(t *testing.T) {
	assert.Equal(t, "", HeuristicSummary("   ", 240))
}

func TestHeuristicProjectFromHostname(t *testing.T) {
	url := "https://www.example.com/some/page"
	assert.Equal(t, "example", HeuristicProject(&url, nil))
}

func TestHeuristicProjectFallsBackToFirstTag(t *testing.T) {
	assert.Equal(t, "golang", HeuristicProject(nil, model.TagList{"golang", "testing"}))
	assert.Equal(t, "", HeuristicProject(nil, nil))
}

func TestHeuristicTitlePriority(t *testing.T) {
	fileName := "meeting-notes.pdf"
	note := &model.Note{
		FileName:   &fileName,
		Content:    "# A Heading\n\nBody text here.",
		SourceType: model.SourceFile,
	}
	assert.Equal(t, "meeting-notes", HeuristicTitle(note))

	note.FileName = nil
	assert.Equal(t, "A Heading", HeuristicTitle(note))

	note.Content = "Just a plain sentence. And another."
	assert.Equal(t, "Just a plain sentence", HeuristicTitle(note))
}

func TestHeuristicTitleSourceDefaults(t *testing.T) {
	for sourceType, want := range map[model.SourceType]string{
		model.SourceLink:  "Saved link",
		model.SourceImage: "Image capture",
		model.SourceFile:  "Uploaded file",
		model.SourceText:  "Untitled note",
	} {
		note := &model.Note{SourceType: sourceType}
		assert.Equal(t, want, HeuristicTitle(note))
	}
}

func TestHeuristicTitleTruncation(t *testing.T) {
	note := &model.Note{Content: strings.Repeat("x", 200), SourceType: model.SourceText}
	title := HeuristicTitle(note)
	require.LessOrEqual(t, len([]rune(title)), maxTitleLen)
	assert.True(t, strings.HasSuffix(title, "…"))
}
