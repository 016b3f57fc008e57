package contextpack

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildFromPinsResolvesWithinAllowedRoots(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.md"), []byte("line1\nline2\nline3\nline4\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	b := NewBuilder([]string{root})
	pins := Pins{
		AllowedPaths: []string{"a.md"},
		LineWindows: map[string][]LineWindow{
			"a.md": {{Start: 2, End: 3}},
		},
	}

	pack, err := b.BuildFromPins(pins, 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if pack.ID == "" {
		t.Fatal("expected non-empty pack id")
	}
	if !strings.Contains(pack.Content, "line2") || !strings.Contains(pack.Content, "line3") {
		t.Fatalf("expected lines 2-3 in content, got: %s", pack.Content)
	}
	if strings.Contains(pack.Content, "line4") {
		t.Fatalf("did not expect line4 in content: %s", pack.Content)
	}
	if pack.ByteSize > HardCapBytes {
		t.Fatalf("byte size %d exceeds hard cap", pack.ByteSize)
	}
}

func TestBuildDropsEscapingPaths(t *testing.T) {
	root := t.TempDir()
	b := NewBuilder([]string{root})

	pins := Pins{
		AllowedPaths: []string{"**"},
		LineWindows: map[string][]LineWindow{
			"../../etc/passwd": {{Start: 1, End: 1}},
		},
	}
	pack, err := b.BuildFromPins(pins, 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(pack.Files) != 0 {
		t.Fatalf("expected no files included, got %v", pack.Files)
	}
}

func TestClampWindow(t *testing.T) {
	cases := []struct {
		start, end, length, wantStart, wantEnd int
	}{
		{0, 5, 10, 1, 5},
		{3, 100, 10, 3, 10},
		{5, 2, 10, 5, 5},
	}
	for _, c := range cases {
		gs, ge := ClampWindow(c.start, c.end, c.length)
		if gs != c.wantStart || ge != c.wantEnd {
			t.Fatalf("ClampWindow(%d,%d,%d) = (%d,%d), want (%d,%d)", c.start, c.end, c.length, gs, ge, c.wantStart, c.wantEnd)
		}
	}
}
