package executor

import (
	"fmt"
	"os"
	"strings"
)

// conflictingProviderPrefixes lists environment variable prefixes that, if
// inherited unchanged from the control plane's own process, could leak
// provider credentials meant for a different executor into a child
// (grounded on the teacher's scrubConflictingProviderEnvKeys).
var conflictingProviderPrefixes = []string{"ANTHROPIC_", "OPENAI_", "GOOGLE_", "GEMINI_"}

// IsolatedEnv returns a scrubbed copy of the current process environment
// with conflicting provider variables removed and extra overrides applied,
// plus an isolated HOME so the child can't pick up a stray user config file
// (grounded on the teacher's buildCodexIsolatedEnv).
func IsolatedEnv(home string, overrides map[string]string) []string {
	base := os.Environ()
	out := make([]string, 0, len(base)+len(overrides)+1)
	for _, kv := range base {
		if scrubbed(kv) {
			continue
		}
		out = append(out, kv)
	}
	if home != "" {
		out = append(out, "HOME="+home)
	}
	for k, v := range overrides {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

func scrubbed(kv string) bool {
	key := kv
	if i := strings.IndexByte(kv, '='); i >= 0 {
		key = kv[:i]
	}
	for _, prefix := range conflictingProviderPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return key == "HOME"
}
