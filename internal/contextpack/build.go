package contextpack

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Builder assembles context packs against a fixed allowed-roots list. Path
// resolution is fail-closed: any path escaping the allowed-roots list is
// silently dropped rather than erroring the whole build (spec §4.H).
type Builder struct {
	AllowedRoots []string
}

// NewBuilder constructs a Builder over the given allowed-roots directories.
func NewBuilder(allowedRoots []string) *Builder {
	abs := make([]string, 0, len(allowedRoots))
	for _, r := range allowedRoots {
		if a, err := filepath.Abs(r); err == nil {
			abs = append(abs, filepath.Clean(a))
		}
	}
	return &Builder{AllowedRoots: abs}
}

// resolve returns the absolute, cleaned path for repo-relative path if (and
// only if) it resolves under one of the builder's allowed roots.
func (b *Builder) resolve(relPath string) (string, bool) {
	for _, root := range b.AllowedRoots {
		candidate := filepath.Clean(filepath.Join(root, relPath))
		rel, err := filepath.Rel(root, candidate)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}
	return "", false
}

func matchesAny(patterns []string, path string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pat := range patterns {
		if ok, _ := doublestar.Match(pat, path); ok {
			return true
		}
		if strings.HasPrefix(path, strings.TrimSuffix(pat, "/")) {
			return true
		}
	}
	return false
}

// BuildFromPins assembles a context pack from a pins spec (spec §4.H
// "createContextPackFromPins"): resolve each file against allowed roots,
// intersect with allowed_paths, slice by the file's line windows into
// fenced blocks with a "## path (lines a-b)" header, prepend the pins JSON
// trimmed to PinsHeaderMaxBytes, accumulate until maxBytes.
func (b *Builder) BuildFromPins(pins Pins, maxBytes int) (*Pack, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if maxBytes > HardCapBytes {
		maxBytes = HardCapBytes
	}

	var sb strings.Builder
	pinsJSON, err := json.MarshalIndent(pins, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal pins: %w", err)
	}
	header := string(pinsJSON)
	if len(header) > PinsHeaderMaxBytes {
		header = header[:PinsHeaderMaxBytes]
	}
	sb.WriteString("## pins\n```json\n")
	sb.WriteString(header)
	sb.WriteString("\n```\n\n")

	paths := make([]string, 0, len(pins.LineWindows))
	for p := range pins.LineWindows {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var included []string
	for _, relPath := range paths {
		if !matchesAny(pins.AllowedPaths, relPath) || (len(pins.ForbiddenPaths) > 0 && matchesAny(pins.ForbiddenPaths, relPath)) {
			continue
		}
		abs, ok := b.resolve(relPath)
		if !ok {
			continue
		}
		content, err := os.ReadFile(abs)
		if err != nil {
			continue
		}
		lines := strings.Split(string(content), "\n")
		for _, w := range pins.LineWindows[relPath] {
			start, end := ClampWindow(w.Start, w.End, len(lines))
			block := fmt.Sprintf("## %s (lines %d-%d)\n```\n%s\n```\n\n", relPath, start, end, strings.Join(lines[start-1:end], "\n"))
			if sb.Len()+len(block) > maxBytes {
				break
			}
			sb.WriteString(block)
			included = append(included, relPath)
		}
	}

	content := sb.String()
	if len(content) > maxBytes {
		content = content[:maxBytes]
	}

	return &Pack{
		ID:       deriveID(content),
		Files:    dedupe(included),
		ByteSize: len(content),
		Content:  content,
	}, nil
}

// BuildFromFiles assembles a context pack from a plain file list (spec §4.H
// "createContextPackFromFiles"): full-file slices up to PerFileMaxBytes
// each, accumulated until maxBytes.
func (b *Builder) BuildFromFiles(files []string, maxBytes int) (*Pack, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if maxBytes > HardCapBytes {
		maxBytes = HardCapBytes
	}

	var sb strings.Builder
	var included []string
	for _, relPath := range files {
		abs, ok := b.resolve(relPath)
		if !ok {
			continue
		}
		content, err := os.ReadFile(abs)
		if err != nil {
			continue
		}
		body := string(content)
		if len(body) > PerFileMaxBytes {
			body = body[:PerFileMaxBytes]
		}
		block := fmt.Sprintf("## %s\n```\n%s\n```\n\n", relPath, body)
		if sb.Len()+len(block) > maxBytes {
			break
		}
		sb.WriteString(block)
		included = append(included, relPath)
	}

	content := sb.String()
	if len(content) > maxBytes {
		content = content[:maxBytes]
	}

	return &Pack{
		ID:       deriveID(content),
		Files:    included,
		ByteSize: len(content),
		Content:  content,
	}, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
