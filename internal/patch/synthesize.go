package patch

import "strings"

const existingCodeSentinel = "... existing code ..."

// isSentinelLine reports whether a trimmed line (stripped of a leading
// line-comment marker) is the "... existing code ..." placeholder used
// in free-form code_edit text.
func isSentinelLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, marker := range []string{"//", "#", "--"} {
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, marker))
	}
	return trimmed == existingCodeSentinel
}

func splitSentinelSegments(codeEdit string) []string {
	lines := strings.Split(codeEdit, "\n")
	var segments []string
	var current []string
	for _, l := range lines {
		if isSentinelLine(l) {
			segments = append(segments, strings.Join(current, "\n"))
			current = nil
			continue
		}
		current = append(current, l)
	}
	segments = append(segments, strings.Join(current, "\n"))
	return segments
}

// synthesizeFullContent builds a complete replacement file from a
// free-form code_edit (segments of new code separated by
// "... existing code ..." markers) and the file's current content, for
// the Auto-strategy Remote-failure fallback described in spec.md §4.4.
// Segments are stitched against currentContent by locating each
// segment's first/last line as a context anchor; a segment that cannot
// be aligned is inserted verbatim at the last resolved cursor.
func synthesizeFullContent(codeEdit, currentContent string) string {
	segments := splitSentinelSegments(codeEdit)
	if len(segments) == 1 {
		return codeEdit
	}

	currentLines := strings.Split(currentContent, "\n")
	var out []string
	cursor := 0

	for i, seg := range segments {
		segLines := strings.Split(seg, "\n")
		if i > 0 && len(segLines) > 0 {
			if idx := indexOfNormalizedFrom(currentLines, segLines[0], cursor); idx >= 0 {
				out = append(out, currentLines[cursor:idx]...)
				cursor = idx
			}
		}
		out = append(out, segLines...)
		if i < len(segments)-1 && len(segLines) > 0 {
			last := segLines[len(segLines)-1]
			if idx := indexOfNormalizedFrom(currentLines, last, cursor); idx >= 0 {
				cursor = idx + 1
			}
		}
	}
	if cursor < len(currentLines) {
		out = append(out, currentLines[cursor:]...)
	}
	return strings.Join(out, "\n")
}

func indexOfNormalizedFrom(lines []string, target string, from int) int {
	want := normalize(strings.TrimSpace(target))
	if want == "" {
		return -1
	}
	for i := from; i < len(lines); i++ {
		if normalize(strings.TrimSpace(lines[i])) == want {
			return i
		}
	}
	return -1
}
