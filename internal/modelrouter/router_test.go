package modelrouter

import (
	"path/filepath"
	"testing"
)

func TestSortStrongToWeakPrefersTagOverParamCount(t *testing.T) {
	models := []string{"vendor/model-70b", "vendor/model-27b-preferred", "vendor/model-8b"}
	sorted := SortStrongToWeak(models, "preferred")
	if sorted[0] != "vendor/model-27b-preferred" {
		t.Fatalf("expected preferred-tagged model first, got %v", sorted)
	}
	if sorted[1] != "vendor/model-70b" {
		t.Fatalf("expected 70b next by param count, got %v", sorted)
	}
}

func TestModeLadderPicksByAttemptIndexScenario5(t *testing.T) {
	r := New(ModeLadder, "")
	pool := []string{"opencode/kimi", "opencode/glm", "opencode/qwen"}

	m1, err := r.Pick("pool", pool, 0)
	if err != nil || m1 != "opencode/kimi" {
		t.Fatalf("attempt 0 = %q, %v", m1, err)
	}
	m2, err := r.Pick("pool", pool, 1)
	if err != nil || m2 != "opencode/glm" {
		t.Fatalf("attempt 1 = %q, %v", m2, err)
	}
	m3, err := r.Pick("pool", pool, 99)
	if err != nil || m3 != "opencode/qwen" {
		t.Fatalf("attempt beyond cap = %q, %v, want last entry", m3, err)
	}
}

func TestModeRRPersistsIndexAcrossRestarts(t *testing.T) {
	file := filepath.Join(t.TempDir(), "model_rr.json")
	pool := []string{"a", "b", "c"}

	r1 := New(ModeRR, file)
	first, _ := r1.Pick("pool", pool, 0)
	second, _ := r1.Pick("pool", pool, 0)
	if first == second {
		t.Fatalf("expected rr to advance, got %q twice", first)
	}

	r2 := New(ModeRR, file)
	third, _ := r2.Pick("pool", pool, 0)
	if third == first {
		t.Fatalf("expected restart to continue rr cursor, not collapse back to %q", first)
	}
}

func TestModeStrongFirstAlwaysPicksHead(t *testing.T) {
	r := New(ModeStrongFirst, "")
	pool := []string{"strongest", "weaker"}
	for attempt := 0; attempt < 3; attempt++ {
		got, _ := r.Pick("pool", pool, attempt)
		if got != "strongest" {
			t.Fatalf("attempt %d = %q, want strongest", attempt, got)
		}
	}
}
