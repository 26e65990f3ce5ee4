package enrich

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAttachment(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestConvertAttachmentMarkdown(t *testing.T) {
	path := writeAttachment(t, "notes.md", "# Heading\n\nSome body text.")

	raw, markdown, err := ConvertAttachment(path, "text/markdown")
	require.NoError(t, err)
	assert.Equal(t, "# Heading\n\nSome body text.", raw)
	assert.Equal(t, raw, markdown)
}

func TestConvertAttachmentRejectsBinary(t *testing.T) {
	path := writeAttachment(t, "blob.bin", "\xff\xfe\xfd")

	_, _, err := ConvertAttachment(path, "text/plain")
	require.Error(t, err)

	_, _, err = ConvertAttachment(path, "application/octet-stream")
	require.Error(t, err)
}

func TestConvertAttachmentTruncatesOnRuneBoundary(t *testing.T) {
	// Three-byte runes sized so the byte cap lands mid-rune.
	content := strings.Repeat("→", maxConvertBytes/3+1)
	path := writeAttachment(t, "big.txt", content)

	raw, _, err := ConvertAttachment(path, "text/plain")
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(raw))
	assert.LessOrEqual(t, len(raw), maxConvertBytes)
	assert.True(t, strings.HasSuffix(raw, "→"))
}
