package verdict

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kilroy-labs/factoryctl/internal/taxonomy"
)

// HygieneResult is the outcome of the hygiene gate (spec §4.I step 4).
type HygieneResult struct {
	OK     bool
	Reason taxonomy.Reason
}

func underArtifacts(path string) bool {
	return strings.HasPrefix(path, "artifacts/")
}

// CheckHygiene requires every SUBMIT artifact path to live under
// artifacts/, and every touched_files entry to match one of allowedPaths
// (doublestar glob or plain prefix).
func CheckHygiene(s *Submit, allowedPaths []string) HygieneResult {
	artifacts := map[taxonomy.Reason]string{
		taxonomy.MissingArtifactReportMD:    s.Artifacts.ReportMD,
		taxonomy.MissingArtifactSelftestLog: s.Artifacts.SelftestLog,
		taxonomy.MissingArtifactEvidenceDir: s.Artifacts.EvidenceDir,
		taxonomy.MissingArtifactPatchDiff:   s.Artifacts.PatchDiff,
		taxonomy.MissingArtifactSubmitJSON:  s.Artifacts.SubmitJSON,
	}
	for reason, path := range artifacts {
		if strings.TrimSpace(path) == "" {
			return HygieneResult{OK: false, Reason: reason}
		}
		if !underArtifacts(path) {
			return HygieneResult{OK: false, Reason: taxonomy.ArtifactOutOfRoot}
		}
	}

	if len(allowedPaths) == 0 {
		if len(s.TouchedFiles) > 0 {
			return HygieneResult{OK: false, Reason: taxonomy.TouchedFileOutsideAllowPaths}
		}
		return HygieneResult{OK: true}
	}
	for _, touched := range s.TouchedFiles {
		if !matchesAnyAllowedPath(touched, allowedPaths) {
			return HygieneResult{OK: false, Reason: taxonomy.TouchedFileOutsideAllowPaths}
		}
	}
	return HygieneResult{OK: true}
}

func matchesAnyAllowedPath(path string, allowed []string) bool {
	for _, pattern := range allowed {
		if strings.HasPrefix(path, pattern) {
			return true
		}
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}
