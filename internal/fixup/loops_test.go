package fixup

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kilroy-labs/factoryctl/internal/jobqueue"
	"github.com/kilroy-labs/factoryctl/internal/taskboard"
	"github.com/kilroy-labs/factoryctl/internal/taxonomy"
)

func newTestLoops(t *testing.T) *Loops {
	t.Helper()
	dir := t.TempDir()
	board := taskboard.New(filepath.Join(dir, "tasks.json"), nil, nil, taskboard.Options{})
	if err := board.Load(); err != nil {
		t.Fatalf("load board: %v", err)
	}
	queue := jobqueue.New(filepath.Join(dir, "jobs.json"), nil, nil, jobqueue.ExecutorCaps{Codex: 5, OpenCodeCLI: 5})
	if err := queue.Load(); err != nil {
		t.Fatalf("load queue: %v", err)
	}
	return &Loops{Board: board, Queue: queue, Config: DefaultConfig()}
}

func TestTimeoutRequeueBumpsCounterAndReady(t *testing.T) {
	l := newTestLoops(t)
	task, err := l.Board.Create(taskboard.CreateInput{
		Title: "X", Goal: "Y", Kind: taskboard.KindAtomic,
		Files: []string{"a.md"}, AllowedTests: []string{"pytest"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ok, err := l.TimeoutRequeue(task.ID, "job-1")
	if err != nil || !ok {
		t.Fatalf("requeue: ok=%v err=%v", ok, err)
	}
	updated, _ := l.Board.Get(task.ID)
	if updated.TimeoutRetries != 1 {
		t.Fatalf("timeoutRetries = %d, want 1", updated.TimeoutRetries)
	}
	if updated.Status != taskboard.StatusReady {
		t.Fatalf("status = %v, want ready", updated.Status)
	}
}

func TestTimeoutRequeueStopsAtCap(t *testing.T) {
	l := newTestLoops(t)
	l.Config.TimeoutRetryCap = 1
	task, err := l.Board.Create(taskboard.CreateInput{
		Title: "X", Goal: "Y", Kind: taskboard.KindAtomic,
		Files: []string{"a.md"}, AllowedTests: []string{"pytest"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := l.TimeoutRequeue(task.ID, "job-1"); err != nil {
		t.Fatalf("first requeue: %v", err)
	}
	ok, err := l.TimeoutRequeue(task.ID, "job-2")
	if err != nil {
		t.Fatalf("second requeue: %v", err)
	}
	if ok {
		t.Fatalf("expected cap to block second requeue")
	}
}

func TestModelThrottleLadderAdvancesOnRateLimited(t *testing.T) {
	l := newTestLoops(t)
	task, err := l.Board.Create(taskboard.CreateInput{
		Title: "X", Goal: "Y", Kind: taskboard.KindAtomic,
		Files: []string{"a.md"}, AllowedTests: []string{"pytest"},
		AllowedModels: []string{"m1", "m2", "m3"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ok, err := l.ModelThrottleLadder(task.ID, "job-1", taxonomy.RateLimited, 3)
	if err != nil || !ok {
		t.Fatalf("ladder: ok=%v err=%v", ok, err)
	}
	updated, _ := l.Board.Get(task.ID)
	if updated.ModelAttempt != 1 {
		t.Fatalf("modelAttempt = %d, want 1", updated.ModelAttempt)
	}
}

func TestModelThrottleLadderIgnoresOtherReasons(t *testing.T) {
	l := newTestLoops(t)
	task, err := l.Board.Create(taskboard.CreateInput{
		Title: "X", Goal: "Y", Kind: taskboard.KindAtomic,
		Files: []string{"a.md"}, AllowedTests: []string{"pytest"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ok, err := l.ModelThrottleLadder(task.ID, "job-1", taxonomy.Timeout, 3)
	if err != nil {
		t.Fatalf("ladder: %v", err)
	}
	if ok {
		t.Fatalf("expected non-throttle reason to be ignored")
	}
}

func TestCreateCIFixupRespectsCap(t *testing.T) {
	l := newTestLoops(t)
	l.Config.CIFixupCapPerTask = 1
	source, err := l.Board.Create(taskboard.CreateInput{
		Title: "X", Goal: "Y", Kind: taskboard.KindAtomic,
		Files: []string{"a.md"}, AllowedTests: []string{"pytest"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := l.CreateCIFixup(source.ID, "job-1"); err != nil {
		t.Fatalf("first ci fixup: %v", err)
	}
	if _, err := l.CreateCIFixup(source.ID, "job-2"); err == nil {
		t.Fatalf("expected cap to reject second ci fixup")
	}
}

func TestCreatePinsFixupFallsBackToFiles(t *testing.T) {
	l := newTestLoops(t)
	source, err := l.Board.Create(taskboard.CreateInput{
		Title: "X", Goal: "Y", Kind: taskboard.KindAtomic,
		Files: []string{"a.md", "b.md"}, AllowedTests: []string{"pytest"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	child, err := l.CreatePinsFixup(source.ID, "job-1")
	if err != nil {
		t.Fatalf("pins fixup: %v", err)
	}
	if child.Pins == nil || len(child.Pins.AllowedPaths) != 2 {
		t.Fatalf("expected fallback pins seeded from source files, got %+v", child.Pins)
	}
	if child.Role != taskboard.RolePinser {
		t.Fatalf("role = %v, want pinser", child.Role)
	}
}

func TestStaleTaskRecoveryRevivesMissingJob(t *testing.T) {
	l := newTestLoops(t)
	l.Config.StaleThresholdMs = 1000
	task, err := l.Board.Create(taskboard.CreateInput{
		Title: "X", Goal: "Y", Kind: taskboard.KindAtomic,
		Files: []string{"a.md"}, AllowedTests: []string{"pytest"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := l.Board.SetStatus(task.ID, taskboard.StatusReady); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if _, err := l.Board.AdminSetStatus(task.ID, taskboard.StatusInProgress, ""); err != nil {
		t.Fatalf("in_progress: %v", err)
	}
	future := time.Now().Add(2 * time.Second)
	n := l.StaleTaskRecovery(future)
	if n != 1 {
		t.Fatalf("recovered = %d, want 1", n)
	}
	updated, _ := l.Board.Get(task.ID)
	if updated.Status != taskboard.StatusReady {
		t.Fatalf("status = %v, want ready", updated.Status)
	}
}

func TestAutorescueCancelsAndFlipsTaskToInternal(t *testing.T) {
	l := newTestLoops(t)
	l.Config.AutorescueAttemptCap = 1
	task, err := l.Board.Create(taskboard.CreateInput{
		Title: "X", Goal: "Y", Kind: taskboard.KindAtomic,
		Files: []string{"a.md"}, AllowedTests: []string{"pytest"},
		RunnerHint: taskboard.RunnerExternal,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	job := l.Queue.Create(jobqueue.CreateInput{
		TaskID: task.ID, Executor: taskboard.ExecutorCodex, Runner: taskboard.RunnerExternal, Model: "m1",
	})
	if _, err := l.Queue.Mutate(job.ID, func(j *jobqueue.Job) error {
		j.Status = jobqueue.StatusRunning
		j.Attempts = 1
		return nil
	}); err != nil {
		t.Fatalf("bump attempts: %v", err)
	}

	n := l.Autorescue()
	if n != 1 {
		t.Fatalf("rescued = %d, want 1", n)
	}
	updated, _ := l.Board.Get(task.ID)
	if updated.RunnerHint != taskboard.RunnerInternal {
		t.Fatalf("runnerHint = %v, want internal", updated.RunnerHint)
	}
	finishedJob, _ := l.Queue.Get(job.ID)
	if finishedJob.Status != jobqueue.StatusFailed {
		t.Fatalf("job status = %v, want failed", finishedJob.Status)
	}
}

func TestWatchdogEmitsLongRunningOnce(t *testing.T) {
	l := newTestLoops(t)
	task, err := l.Board.Create(taskboard.CreateInput{
		Title: "X", Goal: "Y", Kind: taskboard.KindAtomic,
		Files: []string{"a.md"}, AllowedTests: []string{"pytest"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	job := l.Queue.Create(jobqueue.CreateInput{TaskID: task.ID, Executor: taskboard.ExecutorCodex, Model: "m1"})
	if _, err := l.Queue.Mutate(job.ID, func(j *jobqueue.Job) error {
		j.Status = jobqueue.StatusRunning
		j.StartedAt = time.Now().Add(-1 * time.Hour)
		return nil
	}); err != nil {
		t.Fatalf("bump: %v", err)
	}

	warned := map[string]bool{}
	thresholds := WatchdogThresholds{LongRunning: map[taskboard.Executor]time.Duration{taskboard.ExecutorCodex: 10 * time.Minute}}
	l.Watchdog(time.Now(), thresholds, warned)
	if !warned[job.ID] {
		t.Fatalf("expected job %s to be marked warned", job.ID)
	}
	l.Watchdog(time.Now(), thresholds, warned)
	if len(warned) != 1 {
		t.Fatalf("expected warned set to stay at 1 entry, got %d", len(warned))
	}
}
