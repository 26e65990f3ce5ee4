package merge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFastPaths(t *testing.T) {
	r := Merge("base", "edited", "edited")
	require.Equal(t, StatusSame, r.Status)
	require.Equal(t, "edited", r.Text)

	r = Merge("base", "base", "remote wins")
	require.Equal(t, StatusRemote, r.Status)
	require.Equal(t, "remote wins", r.Text)

	r = Merge("base", "local wins", "base")
	require.Equal(t, StatusLocal, r.Status)
	require.Equal(t, "local wins", r.Text)
}

func TestDisjointEditsMerge(t *testing.T) {
	r := Merge("Hello world", "Hello there world", "Hello world today")
	require.Equal(t, StatusMerged, r.Status)
	require.Equal(t, "Hello there world today", r.Text)
}

func TestOverlappingEditsConflict(t *testing.T) {
	r := Merge("abc", "abX", "abY")
	require.Equal(t, StatusConflict, r.Status)
	// Conflicts return the local value so no caller data is lost.
	require.Equal(t, "abX", r.Text)
}

func TestSamePositionInsertionsConflict(t *testing.T) {
	// Insertion order at the identical offset is ambiguous.
	r := Merge("ab", "aXb", "aYb")
	require.Equal(t, StatusConflict, r.Status)
	require.Equal(t, "aXb", r.Text)
}

func TestDeletionMergesWithAppend(t *testing.T) {
	r := Merge("one two three", "two three", "one two three four")
	require.Equal(t, StatusMerged, r.Status)
	require.Equal(t, "two three four", r.Text)
}

func TestDeterminism(t *testing.T) {
	base, local, remote := "the quick brown fox", "the slow brown fox", "the quick brown foxes"
	first := Merge(base, local, remote)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, Merge(base, local, remote))
	}
}

func TestMergedResultIsSymmetric(t *testing.T) {
	cases := [][3]string{
		{"Hello world", "Hello there world", "Hello world today"},
		{"one two three", "zero one two three", "one two three four"},
		{"abcdef", "aXcdef", "abcdeYf"},
	}
	for _, c := range cases {
		fwd := Merge(c[0], c[1], c[2])
		if fwd.Status != StatusMerged {
			continue
		}
		rev := Merge(c[0], c[2], c[1])
		require.Equal(t, fwd.Text, rev.Text, "swapped merge diverged for base %q", c[0])
	}
}

func TestMergeIdempotence(t *testing.T) {
	merged := Merge("Hello world", "Hello there world", "Hello world today").Text
	r := Merge(merged, merged, merged)
	require.Equal(t, StatusSame, r.Status)
	require.Equal(t, merged, r.Text)
}

func TestEmptyBase(t *testing.T) {
	// Both sides wrote fresh text over an empty base: overlapping inserts.
	r := Merge("", "local text", "remote text")
	require.Equal(t, StatusConflict, r.Status)
	require.Equal(t, "local text", r.Text)
}

func TestMultiHunkCollapsesToConflict(t *testing.T) {
	// Local edits two separate regions; they collapse to one superset span
	// that overlaps remote's edit. Conservative: conflict, not a bad merge.
	base := "aaa bbb ccc ddd"
	local := "aXa bbb ccc dYd"
	remote := "aaa bZb ccc ddd"
	r := Merge(base, local, remote)
	require.Equal(t, StatusConflict, r.Status)
	require.Equal(t, local, r.Text)
}
