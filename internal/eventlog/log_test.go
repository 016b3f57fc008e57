package eventlog

import (
	"path/filepath"
	"testing"
)

func TestAppendAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.jsonl")
	w, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := w.Append(Info(TypeJobFinished, map[string]any{"job_id": "J1"})); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if err := w.Append(Warn(TypeJobLeaseExpired, map[string]any{"job_id": "J2"})); err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	events, err := ReadAll(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != TypeJobFinished || events[0].Data["job_id"] != "J1" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Level != LevelWarn {
		t.Fatalf("expected warn level, got %v", events[1].Level)
	}
}

func TestChainedAppendProducesDistinctChainValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ci_failures.jsonl")
	w, err := OpenChained(path)
	if err != nil {
		t.Fatalf("open chained: %v", err)
	}
	defer func() { _ = w.Close() }()

	if err := w.Append(Info("ci_failure", map[string]any{"n": 1})); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if err := w.Append(Info("ci_failure", map[string]any{"n": 2})); err != nil {
		t.Fatalf("append 2: %v", err)
	}

	events, err := ReadAll(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	c1, _ := events[0].Data["_chain"].(string)
	c2, _ := events[1].Data["_chain"].(string)
	if c1 == "" || c2 == "" || c1 == c2 {
		t.Fatalf("expected distinct non-empty chain values, got %q %q", c1, c2)
	}
}

func TestOpenChainedContinuesExistingChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.jsonl")
	w1, err := OpenChained(path)
	if err != nil {
		t.Fatalf("open 1: %v", err)
	}
	if err := w1.Append(Info("x", map[string]any{"n": 1})); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	w2, err := OpenChained(path)
	if err != nil {
		t.Fatalf("open 2: %v", err)
	}
	defer func() { _ = w2.Close() }()
	if err := w2.Append(Info("x", map[string]any{"n": 2})); err != nil {
		t.Fatalf("append 2: %v", err)
	}

	events, err := ReadAll(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
}
