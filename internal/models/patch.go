package models

import "time"

// PatchStrategy selects how a Patch is applied.
type PatchStrategy string

const (
	StrategyAuto   PatchStrategy = "auto"
	StrategyRemote PatchStrategy = "remote"
	StrategyLocal  PatchStrategy = "local"
)

// SectionKind distinguishes the three file-level operations the local
// patch dialect supports.
type SectionKind string

const (
	SectionUpdate SectionKind = "update"
	SectionAdd    SectionKind = "add"
	SectionDelete SectionKind = "delete"
)

// HunkLineKind tags one line within a Hunk.
type HunkLineKind int

const (
	LineContext HunkLineKind = iota
	LineAdd
	LineDelete
)

// HunkLine is one line of a Hunk body, tagged by how it participates in
// the match/apply process.
type HunkLine struct {
	Kind HunkLineKind
	Text string
}

// Hunk is one contiguous edit within a Patch, anchored by context text
// that must appear in the target file. Deletions and context lines must
// match consecutively in the source, starting at the anchor.
type Hunk struct {
	ContextAnchor string
	Lines         []HunkLine
}

// Section is one `*** Update File:`/`*** Add File:`/`*** Delete File:`
// block of a patch document.
type Section struct {
	Kind  SectionKind
	Path  string
	Hunks []Hunk    // only meaningful for SectionUpdate
	Body  string    // full file content, only meaningful for SectionAdd
}

// Patch is a parsed patch document: an ordered sequence of Sections,
// processed in order.
type Patch struct {
	Sections []Section
}

// DiffMetric is one append-only record of a patch-engine invocation.
// Never mutated once written.
type DiffMetric struct {
	Timestamp        time.Time
	RequestID        string
	Strategy         PatchStrategy
	File             string
	FileSizeBytes    int64
	ExecutionTimeMs  int64
	Success          bool
	Error            string
	OriginalLength   int
	UpdatedLength    int
	FallbackUsed     bool
	FallbackReason   string
}
