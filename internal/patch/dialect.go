package patch

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/forgehq/forge/internal/models"
)

const (
	updateFilePrefix = "*** Update File: "
	addFilePrefix    = "*** Add File: "
	deleteFilePrefix = "*** Delete File: "
)

var hunkHeader = regexp.MustCompile(`^@@ (.*) @@$`)

// looksLikeLocalDialect reports whether text opens with one of the
// three section headers the local patch dialect recognizes, per
// spec.md §4.4's Auto-strategy dispatch rule.
func looksLikeLocalDialect(text string) bool {
	trimmed := strings.TrimLeft(text, "\r\n\t ")
	return strings.HasPrefix(trimmed, "*** Update File: ") ||
		strings.HasPrefix(trimmed, "*** Add File: ") ||
		strings.HasPrefix(trimmed, "*** Delete File: ")
}

// parseDialect parses a patch document into an ordered sequence of
// file Sections.
func parseDialect(text string) (models.Patch, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	var patchDoc models.Patch
	var current *models.Section
	var currentHunk *models.Hunk
	var addBody strings.Builder
	inAddBody := false

	flushAddBody := func() {
		if current != nil && current.Kind == models.SectionAdd {
			current.Body = addBody.String()
		}
		addBody.Reset()
		inAddBody = false
	}

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, updateFilePrefix):
			flushAddBody()
			patchDoc.Sections = append(patchDoc.Sections, models.Section{
				Kind: models.SectionUpdate,
				Path: strings.TrimSpace(strings.TrimPrefix(line, updateFilePrefix)),
			})
			current = &patchDoc.Sections[len(patchDoc.Sections)-1]
			currentHunk = nil

		case strings.HasPrefix(line, addFilePrefix):
			flushAddBody()
			patchDoc.Sections = append(patchDoc.Sections, models.Section{
				Kind: models.SectionAdd,
				Path: strings.TrimSpace(strings.TrimPrefix(line, addFilePrefix)),
			})
			current = &patchDoc.Sections[len(patchDoc.Sections)-1]
			currentHunk = nil
			inAddBody = true

		case strings.HasPrefix(line, deleteFilePrefix):
			flushAddBody()
			patchDoc.Sections = append(patchDoc.Sections, models.Section{
				Kind: models.SectionDelete,
				Path: strings.TrimSpace(strings.TrimPrefix(line, deleteFilePrefix)),
			})
			current = &patchDoc.Sections[len(patchDoc.Sections)-1]
			currentHunk = nil

		case hunkHeader.MatchString(line):
			if current == nil || current.Kind != models.SectionUpdate {
				return models.Patch{}, fmt.Errorf("invalid patch: hunk header outside an Update File section")
			}
			match := hunkHeader.FindStringSubmatch(line)
			current.Hunks = append(current.Hunks, models.Hunk{ContextAnchor: match[1]})
			currentHunk = &current.Hunks[len(current.Hunks)-1]

		case inAddBody:
			addBody.WriteString(line)
			addBody.WriteString("\n")

		case currentHunk != nil && line != "":
			kind, text, err := classifyHunkLine(line)
			if err != nil {
				return models.Patch{}, err
			}
			currentHunk.Lines = append(currentHunk.Lines, models.HunkLine{Kind: kind, Text: text})

		case currentHunk != nil && line == "":
			currentHunk.Lines = append(currentHunk.Lines, models.HunkLine{Kind: models.LineContext, Text: ""})
		}
	}
	flushAddBody()

	if len(patchDoc.Sections) == 0 {
		return models.Patch{}, fmt.Errorf("invalid patch: no file sections found")
	}
	for _, s := range patchDoc.Sections {
		if s.Kind == models.SectionUpdate && len(s.Hunks) == 0 {
			return models.Patch{}, fmt.Errorf("invalid patch: %q has no hunks", s.Path)
		}
	}
	return patchDoc, nil
}

func classifyHunkLine(line string) (models.HunkLineKind, string, error) {
	prefix := line[:1]
	text := line[1:]
	switch prefix {
	case " ":
		return models.LineContext, text, nil
	case "+":
		return models.LineAdd, text, nil
	case "-":
		return models.LineDelete, text, nil
	default:
		return 0, "", fmt.Errorf("invalid patch line: %q", line)
	}
}
