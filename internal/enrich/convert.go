package enrich

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

const maxConvertBytes = 2 << 20

// ConvertAttachment extracts raw and markdown text from an attachment on
// disk. Only text-like payloads are handled; anything else returns an error
// so the pipeline can proceed with whatever text already exists.
func ConvertAttachment(path string, mime string) (raw string, markdown string, err error) {
	if !textLikeMime(mime) {
		return "", "", fmt.Errorf("convert: unsupported mime type %q", mime)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("convert: %w", err)
	}
	if len(data) > maxConvertBytes {
		// Back off to a rune boundary so the cut cannot split a multi-byte
		// character and fail the validity check below.
		cut := maxConvertBytes
		for cut > 0 && !utf8.RuneStart(data[cut]) {
			cut--
		}
		data = data[:cut]
	}
	if !utf8.Valid(data) {
		return "", "", fmt.Errorf("convert: attachment is not valid UTF-8 text")
	}

	raw = string(data)
	switch {
	case strings.Contains(mime, "markdown"):
		markdown = raw
	case strings.Contains(mime, "html"):
		// Leave HTML as raw only; rendering it to markdown is not worth a
		// dedicated dependency for preview purposes.
		markdown = ""
	default:
		markdown = "```\n" + raw + "\n```"
	}
	return raw, markdown, nil
}

func textLikeMime(mime string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if strings.HasPrefix(mime, "text/") {
		return true
	}
	switch {
	case strings.Contains(mime, "json"),
		strings.Contains(mime, "xml"),
		strings.Contains(mime, "markdown"),
		strings.Contains(mime, "yaml"),
		strings.Contains(mime, "csv"):
		return true
	}
	return false
}
