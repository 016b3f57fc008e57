package contextpack

import "strings"

// ClampWindow returns the inclusive [start, end] line range clamped to
// start>=1 and end<=len (spec §8 boundary behavior: "Line-window slicer
// clamps start>=1, end<=len, and returns inclusive [start,end]").
func ClampWindow(start, end, length int) (int, int) {
	if start > length {
		start = length
	}
	if start < 1 {
		start = 1
	}
	if end > length {
		end = length
	}
	if end < start {
		end = start
	}
	return start, end
}

// SliceLines returns the inclusive 1-based [start, end] line range of
// content, clamped to content's actual length.
func SliceLines(content string, start, end int) string {
	lines := strings.Split(content, "\n")
	start, end = ClampWindow(start, end, len(lines))
	if start > len(lines) {
		return ""
	}
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start-1:end], "\n")
}
