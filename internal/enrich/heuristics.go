package enrich

import (
	"net/url"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/strandhq/strand/internal/model"
)

// Provenance markers stored under the enrichmentSource metadata key.
const (
	SourceAssisted  = "ai"
	SourceHeuristic = "heuristic"
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true, "has": true,
	"have": true, "i": true, "in": true, "is": true, "it": true, "its": true,
	"not": true, "of": true, "on": true, "or": true, "that": true, "the": true,
	"this": true, "to": true, "was": true, "were": true, "will": true,
	"with": true, "you": true, "your": true,
}

// HeuristicTags extracts up to max tags by keyword frequency. Words shorter
// than four characters and stopwords are ignored; ties break alphabetically
// so the result is deterministic.
func HeuristicTags(content string, max int) model.TagList {
	counts := map[string]int{}
	for _, word := range splitWords(content) {
		if len(word) < 4 || stopwords[word] {
			continue
		}
		counts[word]++
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > max {
		words = words[:max]
	}
	return model.TagList(words).Normalize()
}

var sentenceEnd = regexp.MustCompile(`[.!?]\s`)

// HeuristicSummary returns the first sentences of the content, truncated to
// maxLen runes.
func HeuristicSummary(content string, maxLen int) string {
	text := strings.TrimSpace(stripMarkdown(content))
	if text == "" {
		return ""
	}
	// Take up to two sentences.
	end := len(text)
	if locs := sentenceEnd.FindAllStringIndex(text, 2); len(locs) > 0 {
		end = locs[len(locs)-1][0] + 1
	}
	summary := strings.TrimSpace(text[:end])
	runes := []rune(summary)
	if len(runes) > maxLen {
		summary = strings.TrimSpace(string(runes[:maxLen-1])) + "…"
	}
	return summary
}

// HeuristicProject guesses a project label from the source hostname or the
// first tag. Returns "" when nothing plausible exists.
func HeuristicProject(sourceURL *string, tags model.TagList) string {
	if sourceURL != nil {
		if u, err := url.Parse(*sourceURL); err == nil && u.Hostname() != "" {
			host := strings.TrimPrefix(u.Hostname(), "www.")
			if i := strings.IndexByte(host, '.'); i > 0 {
				return host[:i]
			}
			return host
		}
	}
	if len(tags) > 0 {
		return tags[0]
	}
	return ""
}

var markdownHeading = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)

const maxTitleLen = 80

// HeuristicTitle infers a title without the assistant: file name, then the
// first markdown heading, then the first sentence, then a source-type
// default.
func HeuristicTitle(note *model.Note) string {
	if note.FileName != nil && *note.FileName != "" {
		name := strings.TrimSuffix(*note.FileName, filepath.Ext(*note.FileName))
		if name != "" {
			return truncateTitle(name)
		}
	}
	if m := markdownHeading.FindStringSubmatch(note.Content); m != nil {
		return truncateTitle(strings.TrimSpace(m[1]))
	}
	if sentence := firstSentence(note.Content); sentence != "" {
		return truncateTitle(sentence)
	}
	switch note.SourceType {
	case model.SourceLink:
		return "Saved link"
	case model.SourceImage:
		return "Image capture"
	case model.SourceFile:
		return "Uploaded file"
	default:
		return "Untitled note"
	}
}

func firstSentence(content string) string {
	text := strings.TrimSpace(stripMarkdown(content))
	if text == "" {
		return ""
	}
	if loc := sentenceEnd.FindStringIndex(text); loc != nil {
		text = text[:loc[0]+1]
	}
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSuffix(strings.TrimSpace(text), ".")
}

func truncateTitle(title string) string {
	runes := []rune(title)
	if len(runes) > maxTitleLen {
		return strings.TrimSpace(string(runes[:maxTitleLen-1])) + "…"
	}
	return title
}

var markdownSyntax = regexp.MustCompile("(?m)^#{1,6}\\s+|[*_`>]|\\!?\\[([^\\]]*)\\]\\([^)]*\\)")

func stripMarkdown(content string) string {
	return markdownSyntax.ReplaceAllString(content, "$1")
}

func splitWords(content string) []string {
	return strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsNumber(r))
	})
}
