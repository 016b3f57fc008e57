// Package contextpack builds the size-bounded, allowlist-checked text
// artifact injected into executor prompts (spec §4.C). It is grounded on
// the teacher's general preference for fail-closed path handling (pins
// allowlists, `forbidden_paths`) expressed throughout engine/config.go, and
// on the teacher's go.mod choice of doublestar for glob-shaped allowlist
// checks.
package contextpack

// LineWindow is an inclusive [Start, End] 1-based line range within a file.
type LineWindow struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// Pins is a task-level allowlist of paths, line windows, and symbols that
// bounds executor context (spec GLOSSARY: "Pins").
type Pins struct {
	AllowedPaths   []string              `json:"allowed_paths" yaml:"allowed_paths"`
	ForbiddenPaths []string              `json:"forbidden_paths,omitempty" yaml:"forbidden_paths,omitempty"`
	Symbols        []string              `json:"symbols,omitempty" yaml:"symbols,omitempty"`
	LineWindows    map[string][]LineWindow `json:"line_windows,omitempty" yaml:"line_windows,omitempty"`
	MaxFiles       int                   `json:"max_files,omitempty" yaml:"max_files,omitempty"`
	MaxLOC         int                   `json:"max_loc,omitempty" yaml:"max_loc,omitempty"`
}

// DefaultForbiddenPaths is the fixed forbidden list applied to inferred
// pins (spec §4.D "Infer").
var DefaultForbiddenPaths = []string{".git", "node_modules", "dist", "build", "coverage"}

// MergeTemplateInstance resolves effective pins from a template and an
// instance override (spec §4.H step 6): set-union semantics for
// paths/symbols, merge for line_windows, prefer-instance for
// maxFiles/maxLoc.
func MergeTemplateInstance(template, instance Pins) Pins {
	merged := Pins{
		AllowedPaths:   unionStrings(template.AllowedPaths, instance.AllowedPaths),
		ForbiddenPaths: unionStrings(template.ForbiddenPaths, instance.ForbiddenPaths),
		Symbols:        unionStrings(template.Symbols, instance.Symbols),
		LineWindows:    mergeLineWindows(template.LineWindows, instance.LineWindows),
		MaxFiles:       template.MaxFiles,
		MaxLOC:         template.MaxLOC,
	}
	if instance.MaxFiles > 0 {
		merged.MaxFiles = instance.MaxFiles
	}
	if instance.MaxLOC > 0 {
		merged.MaxLOC = instance.MaxLOC
	}
	return merged
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func mergeLineWindows(a, b map[string][]LineWindow) map[string][]LineWindow {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string][]LineWindow, len(a)+len(b))
	for k, v := range a {
		out[k] = append(out[k], v...)
	}
	for k, v := range b {
		out[k] = append(out[k], v...)
	}
	return out
}
