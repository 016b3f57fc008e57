// Package modelrouter picks a model from a pool by mode (spec §4.G): given
// a task, its chosen executor, and an attempt index, select round-robin,
// strong-first, or ladder-wise from a pool sorted strong-to-weak.
package modelrouter

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var paramCountPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*[bB]\b`)

// ParamCount extracts the parameter count (in billions) from a model name
// such as "70B" or "27B"; returns 0 if none is found.
func ParamCount(model string) float64 {
	m := paramCountPattern.FindStringSubmatch(model)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return v
}

// SortStrongToWeak orders models strongest-first (spec §4.G fallback pool):
// a hard pin for models containing preferredTag comes first; the remainder
// is sorted by descending extracted parameter count, ties broken
// lexicographically (spec §8: "Model strength sort places a model tagged
// with the preferred family above a larger parameter count from another
// family").
func SortStrongToWeak(models []string, preferredTag string) []string {
	out := append([]string{}, models...)
	sort.SliceStable(out, func(i, j int) bool {
		pi := preferredTag != "" && strings.Contains(strings.ToLower(out[i]), strings.ToLower(preferredTag))
		pj := preferredTag != "" && strings.Contains(strings.ToLower(out[j]), strings.ToLower(preferredTag))
		if pi != pj {
			return pi
		}
		ci, cj := ParamCount(out[i]), ParamCount(out[j])
		if ci != cj {
			return ci > cj
		}
		return out[i] < out[j]
	})
	return out
}

// OpenCodePrefix is the naming prefix used to filter a pool down to
// models valid for an executor: opencode models carry an explicit prefix
// ("opencode/..."), codex models do not (spec §4.G "Pools").
const OpenCodePrefix = "opencode/"

// FilterForExecutor returns only models in pool that are valid for the
// given executor by prefix convention.
func FilterForExecutor(pool []string, isOpenCode bool) []string {
	var out []string
	for _, m := range pool {
		has := strings.HasPrefix(m, OpenCodePrefix)
		if has == isOpenCode {
			out = append(out, m)
		}
	}
	return out
}
