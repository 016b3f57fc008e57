package degrade

import (
	"context"
	"testing"
	"time"

	"github.com/kilroy-labs/factoryctl/internal/taskboard"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	set := NewBreakerSet(BreakerConfig{ConsecutiveFailures: 3, OpenCooldown: time.Minute, HalfOpenMaxCalls: 1}, nil)
	key := ClusterKey{Reason: "ci_failed", Role: taskboard.RoleEngineer, Executor: taskboard.ExecutorCodex}
	for i := 0; i < 3; i++ {
		set.RecordOutcome(key, true)
	}
	if !set.Open(key) {
		t.Fatalf("expected breaker to be open after 3 consecutive failures")
	}
}

func TestBreakerStaysClosedOnSuccessInterleave(t *testing.T) {
	set := NewBreakerSet(BreakerConfig{ConsecutiveFailures: 3, OpenCooldown: time.Minute, HalfOpenMaxCalls: 1}, nil)
	key := ClusterKey{Reason: "ci_failed"}
	set.RecordOutcome(key, true)
	set.RecordOutcome(key, false)
	set.RecordOutcome(key, true)
	if set.Open(key) {
		t.Fatalf("expected breaker to stay closed when failures are not consecutive")
	}
}

func TestQuarantineBlocksNonAllowlistedRole(t *testing.T) {
	q := NewQuarantine(nil)
	q.Enter()
	if !q.Blocked(taskboard.RoleEngineer, "") {
		t.Fatalf("expected engineer role to be blocked during quarantine")
	}
	if q.Blocked(taskboard.RoleFactoryManager, "") {
		t.Fatalf("expected factory_manager to remain allowed during quarantine")
	}
	if q.Blocked(taskboard.RoleQA, "ci_fixup_v1") {
		t.Fatalf("expected ci_fixup_v1 class to remain allowed during quarantine")
	}
}

func TestFuseTripsAtThreshold(t *testing.T) {
	f := NewFuse(5, nil)
	if err := f.Check(3); err != nil {
		t.Fatalf("expected no fuse below threshold, got %v", err)
	}
	if err := f.Check(5); err != ErrFused {
		t.Fatalf("expected ErrFused at threshold, got %v", err)
	}
}

func TestMatrixPicksMostSevereMatch(t *testing.T) {
	matrix, err := NewMatrix(context.Background(), DefaultMatrixEntries())
	if err != nil {
		t.Fatalf("new matrix: %v", err)
	}
	entry, matched, err := matrix.Evaluate(context.Background(), Signals{"breaker_open": true, "queue_overload": true})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !matched || entry.Name != "breaker_open_quarantine" {
		t.Fatalf("expected breaker_open_quarantine to win, got %+v matched=%v", entry, matched)
	}
}

func TestMatrixExcludesBreakerOpenFromQueueOverloadEntry(t *testing.T) {
	matrix, err := NewMatrix(context.Background(), DefaultMatrixEntries())
	if err != nil {
		t.Fatalf("new matrix: %v", err)
	}
	entry, matched, err := matrix.Evaluate(context.Background(), Signals{"queue_overload": true})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !matched || entry.Name != "queue_overload_tighten" {
		t.Fatalf("expected queue_overload_tighten, got %+v matched=%v", entry, matched)
	}
}

func TestEngineEvaluateEntersQuarantineOnMatch(t *testing.T) {
	eng, err := NewEngine(context.Background(), 10, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	_, matched, err := eng.Evaluate(context.Background(), Signals{"breaker_open": true, "queue_overload": true})
	if err != nil || !matched {
		t.Fatalf("evaluate: matched=%v err=%v", matched, err)
	}
	if !eng.Quarantine.Active() {
		t.Fatalf("expected quarantine to be active after matching entry")
	}
}
