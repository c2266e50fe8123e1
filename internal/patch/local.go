package patch

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/forgehq/forge/internal/models"
)

var wsRuns = regexp.MustCompile(`[ \t]+`)

// normalize collapses runs of spaces/tabs to a single space, per
// spec.md §4.4 rule 1's whitespace-normalized anchor comparison.
func normalize(s string) string {
	return wsRuns.ReplaceAllString(s, " ")
}

// localResult is the in-memory outcome of applying one Section, staged
// before any filesystem write so a multi-file patch can fail atomically.
type localResult struct {
	absPath   string
	mode      os.FileMode
	content   string
	isDelete  bool
	added     int
	removed   int
}

// applyHunk locates hunk's anchor within fileLines and returns the
// updated line slice plus added/removed counts. The anchor may appear
// anywhere in the hunk's own context/deletion lines, not only as the
// first one; its offset within the hunk establishes where the hunk's
// leading lines must begin matching in the file.
func applyHunk(fileLines []string, hunk models.Hunk) ([]string, int, int, error) {
	matchable := make([]string, 0, len(hunk.Lines))
	matchableKinds := make([]models.HunkLineKind, 0, len(hunk.Lines))
	anchorOffset := -1
	normalizedAnchor := normalize(hunk.ContextAnchor)

	for _, l := range hunk.Lines {
		if l.Kind == models.LineAdd {
			continue
		}
		if anchorOffset == -1 && normalize(l.Text) == normalizedAnchor {
			anchorOffset = len(matchable)
		}
		matchable = append(matchable, l.Text)
		matchableKinds = append(matchableKinds, l.Kind)
	}
	if anchorOffset == -1 {
		anchorOffset = 0
	}

	anchorFileIdx := -1
	for i, line := range fileLines {
		if normalize(line) == normalizedAnchor {
			anchorFileIdx = i
			break
		}
	}
	if anchorFileIdx == -1 {
		return nil, 0, 0, fmt.Errorf("anchor not found: %q", hunk.ContextAnchor)
	}

	start := anchorFileIdx - anchorOffset
	if start < 0 || start+len(matchable) > len(fileLines) {
		return nil, 0, 0, fmt.Errorf("context mismatch near anchor %q", hunk.ContextAnchor)
	}
	for i, want := range matchable {
		if normalize(fileLines[start+i]) != normalize(want) {
			return nil, 0, 0, fmt.Errorf("context mismatch near anchor %q", hunk.ContextAnchor)
		}
		_ = matchableKinds[i]
	}

	result := make([]string, 0, len(fileLines)+len(hunk.Lines))
	result = append(result, fileLines[:start]...)
	added, removed := 0, 0
	for _, l := range hunk.Lines {
		switch l.Kind {
		case models.LineContext:
			result = append(result, l.Text)
		case models.LineDelete:
			removed++
		case models.LineAdd:
			result = append(result, l.Text)
			added++
		}
	}
	result = append(result, fileLines[start+len(matchable):]...)
	return result, added, removed, nil
}

// applyUpdateSection applies every hunk of an Update section in order
// against the file's current content, failing the whole section (and
// by extension the whole patch) if any hunk's anchor does not resolve.
func applyUpdateSection(content string, section models.Section) (string, int, int, error) {
	hadTrailingNewline := strings.HasSuffix(content, "\n")
	trimmed := strings.TrimSuffix(content, "\n")
	var lines []string
	if trimmed != "" {
		lines = strings.Split(trimmed, "\n")
	}

	totalAdded, totalRemoved := 0, 0
	for _, hunk := range section.Hunks {
		updated, added, removed, err := applyHunk(lines, hunk)
		if err != nil {
			return "", 0, 0, err
		}
		lines = updated
		totalAdded += added
		totalRemoved += removed
	}

	result := strings.Join(lines, "\n")
	if hadTrailingNewline || result == "" {
		result += "\n"
	}
	return result, totalAdded, totalRemoved, nil
}
