package jobqueue

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kilroy-labs/factoryctl/internal/taskboard"
)

func newTestQueue(t *testing.T, caps ExecutorCaps) *Queue {
	t.Helper()
	q := New(filepath.Join(t.TempDir(), "jobs_state.json"), nil, nil, caps)
	if err := q.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	return q
}

func TestScheduleRespectsPerExecutorCap(t *testing.T) {
	q := newTestQueue(t, ExecutorCaps{Codex: 1})
	j1 := q.Create(CreateInput{TaskID: "t1", Executor: taskboard.ExecutorCodex, Runner: taskboard.RunnerInternal})
	j2 := q.Create(CreateInput{TaskID: "t2", Executor: taskboard.ExecutorCodex, Runner: taskboard.RunnerInternal})

	var mu sync.Mutex
	var started []string
	var wg sync.WaitGroup
	wg.Add(1)
	q.Schedule([]taskboard.Executor{taskboard.ExecutorCodex}, func(j *Job) {
		defer wg.Done()
		mu.Lock()
		started = append(started, j.ID)
		mu.Unlock()
	})
	wg.Wait()

	mu.Lock()
	n := len(started)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("expected exactly 1 job started under cap=1, got %d", n)
	}

	running, _ := q.Get(started[0])
	if running.Status != StatusRunning {
		t.Fatalf("status = %v, want running", running.Status)
	}
	other := j2
	if started[0] == j1.ID {
		other = j2
	} else {
		other = j1
	}
	stillQueued, _ := q.Get(other.ID)
	if stillQueued.Status != StatusQueued {
		t.Fatalf("expected other job still queued, got %v", stillQueued.Status)
	}
}

func TestSecondDispatchIsIdempotent(t *testing.T) {
	q := newTestQueue(t, ExecutorCaps{Codex: 5})
	q.Create(CreateInput{TaskID: "t1", Executor: taskboard.ExecutorCodex, Runner: taskboard.RunnerInternal})

	_, active := q.ActiveForTask("t1")
	if !active {
		t.Fatal("expected an active job for t1")
	}
}

func TestClaimTimesOutWithoutMatchingJob(t *testing.T) {
	q := newTestQueue(t, ExecutorCaps{Codex: 5})
	start := time.Now()
	_, ok := q.Claim("w1", []taskboard.Executor{taskboard.ExecutorCodex}, nil, 50)
	if ok {
		t.Fatal("expected claim to time out")
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatal("claim returned suspiciously fast")
	}
}

func TestClaimSucceedsAndSetsLease(t *testing.T) {
	q := newTestQueue(t, ExecutorCaps{Codex: 5})
	q.Create(CreateInput{TaskID: "t1", Executor: taskboard.ExecutorCodex, Runner: taskboard.RunnerExternal, Model: "m1"})

	j, ok := q.Claim("w1", []taskboard.Executor{taskboard.ExecutorCodex}, []string{"m1"}, 500)
	if !ok {
		t.Fatal("expected claim to succeed")
	}
	if j.Status != StatusRunning || j.WorkerID != "w1" || j.LeaseUntil == 0 {
		t.Fatalf("unexpected claimed job state: %+v", j)
	}
}

func TestSweepExpiredLeasesRequeues(t *testing.T) {
	q := newTestQueue(t, ExecutorCaps{Codex: 5})
	q.SetLeaseMs(1)
	j, ok := func() (*Job, bool) {
		q.Create(CreateInput{TaskID: "t1", Executor: taskboard.ExecutorCodex, Runner: taskboard.RunnerExternal, Model: "m1"})
		return q.Claim("w1", []taskboard.Executor{taskboard.ExecutorCodex}, []string{"m1"}, 500)
	}()
	if !ok {
		t.Fatal("expected claim to succeed")
	}
	time.Sleep(5 * time.Millisecond)

	expired := q.SweepExpiredLeases(time.Now(), nil)
	if len(expired) != 1 || expired[0].ID != j.ID {
		t.Fatalf("expected job %s to be expired, got %+v", j.ID, expired)
	}
	after, _ := q.Get(j.ID)
	if after.Status != StatusQueued {
		t.Fatalf("status = %v, want queued after lease expiry", after.Status)
	}
}

func TestCancelRejectsInternalJobs(t *testing.T) {
	q := newTestQueue(t, ExecutorCaps{Codex: 5})
	j := q.Create(CreateInput{TaskID: "t1", Executor: taskboard.ExecutorCodex, Runner: taskboard.RunnerInternal})
	if _, err := q.Cancel(j.ID); err != ErrCannotCancelInternal {
		t.Fatalf("got %v, want ErrCannotCancelInternal", err)
	}
}
