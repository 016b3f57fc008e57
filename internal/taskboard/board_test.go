package taskboard

import (
	"path/filepath"
	"testing"

	"github.com/kilroy-labs/factoryctl/internal/contextpack"
)

func newTestBoard(t *testing.T, opts Options) *Board {
	t.Helper()
	file := filepath.Join(t.TempDir(), "tasks.json")
	b := New(file, nil, nil, opts)
	if err := b.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	return b
}

func TestCreateAtomicTaskScenario1(t *testing.T) {
	b := newTestBoard(t, Options{})
	task, err := b.Create(CreateInput{
		Title:        "X",
		Goal:         "Y",
		Kind:         KindAtomic,
		Files:        []string{"a.md"},
		AllowedTests: []string{"python -m pytest -q"},
		Pins:         &contextpack.Pins{AllowedPaths: []string{"a.md"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Status != StatusBacklog {
		t.Fatalf("status = %v, want backlog", task.Status)
	}
	if len(task.Files) != 1 || task.Files[0] != "a.md" {
		t.Fatalf("files = %v", task.Files)
	}
	if task.Pins == nil {
		t.Fatalf("pins not set")
	}
	if task.Pins.MaxFiles != 1 {
		t.Fatalf("pins.max_files = %d, want 1", task.Pins.MaxFiles)
	}
	found := false
	for _, p := range task.Pins.ForbiddenPaths {
		if p == ".git" {
			found = true
		}
	}
	if !found {
		t.Fatalf("pins.forbidden_paths = %v, want to include .git", task.Pins.ForbiddenPaths)
	}
}

func TestCreateFailClosedMissingRealTest(t *testing.T) {
	b := newTestBoard(t, Options{CIEnforcementOn: true})
	_, err := b.Create(CreateInput{
		Title:        "X",
		Goal:         "Y",
		Kind:         KindAtomic,
		Files:        []string{"a.md"},
		AllowedTests: []string{"python selftest --task-id {task_id}"},
	})
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Reason != "missing_real_test" {
		t.Fatalf("reason = %v, want missing_real_test", ve.Reason)
	}
}

func TestCreateFailClosedMissingFilesAndPins(t *testing.T) {
	b := newTestBoard(t, Options{})
	_, err := b.Create(CreateInput{Title: "X", Goal: "Y", Kind: KindAtomic})
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Reason != "missing_files" {
		t.Fatalf("reason = %v, want missing_files", ve.Reason)
	}
}

func TestSetStatusEnforcesArrows(t *testing.T) {
	b := newTestBoard(t, Options{})
	task, err := b.Create(CreateInput{Title: "X", Goal: "Y", Files: []string{"a.md"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := b.SetStatus(task.ID, StatusInProgress); err == nil {
		t.Fatal("expected error transitioning backlog -> in_progress directly")
	}

	if _, err := b.SetStatus(task.ID, StatusReady); err != nil {
		t.Fatalf("backlog->ready: %v", err)
	}
	if _, err := b.SetStatus(task.ID, StatusInProgress); err != nil {
		t.Fatalf("ready->in_progress: %v", err)
	}
	if _, err := b.SetStatus(task.ID, StatusDone); err != nil {
		t.Fatalf("in_progress->done: %v", err)
	}
	if _, err := b.SetStatus(task.ID, StatusReady); err == nil {
		t.Fatal("expected done to be terminal for operator transitions")
	}
}

func TestSplitApplyCreatesAtomicChildrenScenario6(t *testing.T) {
	b := newTestBoard(t, Options{})
	parent, err := b.Create(CreateInput{Title: "Parent", Goal: "split me", Kind: KindParent})
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	_, _ = b.AdminSetStatus(parent.ID, StatusNeedsSplit, "")

	stdout := `prose prose [{"title":"t1","goal":"g1","files":["x.md"],"allowedTests":["pytest"]},{"title":"t2","goal":"g2","files":["y.md"],"allowedTests":["pytest"]}] trailing prose`

	res, err := b.SplitApply(parent.ID, "", stdout, false)
	if err != nil {
		t.Fatalf("split apply: %v", err)
	}
	if len(res.ChildIDs) != 2 {
		t.Fatalf("got %d children, want 2", len(res.ChildIDs))
	}
	for _, id := range res.ChildIDs {
		child, ok := b.Get(id)
		if !ok {
			t.Fatalf("child %s not found", id)
		}
		if child.Status != StatusReady {
			t.Fatalf("child status = %v, want ready", child.Status)
		}
		if child.Kind != KindAtomic {
			t.Fatalf("child kind = %v, want atomic", child.Kind)
		}
	}

	parentAfter, _ := b.Get(parent.ID)
	if parentAfter.Status != StatusReady {
		t.Fatalf("parent status = %v, want ready", parentAfter.Status)
	}
}

func TestExtractFirstBalancedArraySkipsNestedBracketsInStrings(t *testing.T) {
	text := `noise [1, "contains ] bracket", [2,3]] more [bad`
	got, ok := ExtractFirstBalancedArray(text)
	if !ok {
		t.Fatal("expected a match")
	}
	want := `[1, "contains ] bracket", [2,3]]`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
