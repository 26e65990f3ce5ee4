// Package merge implements a deterministic three-way text merge used to
// absorb concurrent edits of the same note. It deliberately models a single
// contiguous edited span per side: multi-hunk edits collapse to one superset
// region, which can report a false conflict but never auto-merges truly
// overlapping edits.
package merge

// Status classifies a merge outcome.
type Status string

const (
	// StatusSame means local and remote are already identical.
	StatusSame Status = "same"
	// StatusLocal means the local text wins (remote did not diverge).
	StatusLocal Status = "local"
	// StatusRemote means the remote text wins (local did not diverge).
	StatusRemote Status = "remote"
	// StatusMerged means both edits were combined.
	StatusMerged Status = "merged"
	// StatusConflict means the edits overlap; Text holds the local value so
	// the caller's edit is never silently lost.
	StatusConflict Status = "conflict"
)

// Result is the outcome of a three-way merge. It is never persisted.
type Result struct {
	Status Status
	Text   string
}

// patch is a single contiguous edit region relative to a base string:
// base[Start:End] is replaced with Insert.
type patch struct {
	Start  int
	End    int
	Insert string
}

// Merge resolves (base, local, remote) into a single text or a conflict.
// It is pure and deterministic: identical inputs always produce identical
// results.
func Merge(base, local, remote string) Result {
	if local == remote {
		return Result{Status: StatusSame, Text: local}
	}
	if local == base {
		return Result{Status: StatusRemote, Text: remote}
	}
	if remote == base {
		return Result{Status: StatusLocal, Text: local}
	}

	lp := diffOne(base, local)
	rp := diffOne(base, remote)

	// Two zero-width insertions at the same position conflict: their order
	// is ambiguous.
	if lp.Start == rp.Start && lp.Start == lp.End && rp.Start == rp.End {
		return Result{Status: StatusConflict, Text: local}
	}

	// Order by position. On a start tie the shorter region goes first, which
	// keeps the result independent of which side is "local".
	first, second := lp, rp
	if rp.Start < lp.Start || (rp.Start == lp.Start && rp.End < lp.End) {
		first, second = rp, lp
	}
	// Overlapping regions conflict.
	if first.End > second.Start {
		return Result{Status: StatusConflict, Text: local}
	}

	// Apply both patches in position order. The second patch's offsets shift
	// by the length delta the first patch introduced.
	merged := base[:first.Start] + first.Insert + base[first.End:second.Start] +
		second.Insert + base[second.End:]

	switch merged {
	case local:
		return Result{Status: StatusLocal, Text: merged}
	case remote:
		return Result{Status: StatusRemote, Text: merged}
	}
	return Result{Status: StatusMerged, Text: merged}
}

// diffOne reduces (base, edited) to one contiguous edit region by trimming
// the longest common prefix and suffix.
func diffOne(base, edited string) patch {
	prefix := 0
	for prefix < len(base) && prefix < len(edited) && base[prefix] == edited[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(base)-prefix && suffix < len(edited)-prefix &&
		base[len(base)-1-suffix] == edited[len(edited)-1-suffix] {
		suffix++
	}
	return patch{
		Start:  prefix,
		End:    len(base) - suffix,
		Insert: edited[prefix : len(edited)-suffix],
	}
}
