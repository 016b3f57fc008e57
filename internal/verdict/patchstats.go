package verdict

import (
	"strings"

	"github.com/kilroy-labs/factoryctl/internal/jobqueue"
)

const (
	patchBeginMarker = "*** Begin Patch"
	patchEndMarker   = "*** End Patch"
)

// ExtractPatchStats finds the first Begin/End Patch block in stdout and
// summarizes it (spec §4.I step 1, informational). Lines beginning with
// "*** " inside the block (Add File/Update File/Delete File) name distinct
// paths; "+"/"-" prefixed lines (excluding the "+++"/"---" diff headers)
// count as added/removed.
func ExtractPatchStats(stdout string) *jobqueue.PatchStats {
	start := strings.Index(stdout, patchBeginMarker)
	if start < 0 {
		return nil
	}
	end := strings.Index(stdout[start:], patchEndMarker)
	if end < 0 {
		return nil
	}
	block := stdout[start : start+end]

	stats := &jobqueue.PatchStats{}
	seen := map[string]bool{}
	for _, line := range strings.Split(block, "\n") {
		switch {
		case strings.HasPrefix(line, "*** Add File: "), strings.HasPrefix(line, "*** Update File: "), strings.HasPrefix(line, "*** Delete File: "):
			path := afterLastColon(line)
			if path != "" && !seen[path] {
				seen[path] = true
				stats.Files = append(stats.Files, path)
			}
		case strings.HasPrefix(line, "@@"):
			stats.Hunks++
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			stats.Added++
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			stats.Removed++
		}
	}
	return stats
}

func afterLastColon(line string) string {
	idx := strings.LastIndex(line, ": ")
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(line[idx+2:])
}
