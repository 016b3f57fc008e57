package jobqueue

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilroy-labs/factoryctl/internal/taskboard"
)

// DefaultWorkerActiveWindow is the default lastSeen freshness window (spec
// §3 Worker: "Active if lastSeen within window (default 120 s)").
const DefaultWorkerActiveWindow = 120 * time.Second

// Worker is an external executor process (spec §3 Worker). Identity uses
// google/uuid rather than ulid, distinguishing externally-registered
// entities from internally-minted task/job/context-pack ids.
type Worker struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Executors    []taskboard.Executor `json:"executors"`
	Models       []string            `json:"models,omitempty"`
	LastSeen     time.Time           `json:"lastSeen"`
	RunningJobID string              `json:"runningJobId,omitempty"`
}

// Active reports whether the worker has heartbeated within window.
func (w Worker) Active(now time.Time, window time.Duration) bool {
	if window <= 0 {
		window = DefaultWorkerActiveWindow
	}
	return now.Sub(w.LastSeen) <= window
}

// WorkerRegistry tracks registered external workers. It is kept separate
// from Queue's snapshot file (workers are re-registered by clients on
// reconnect, not a crash-recovery concern).
type WorkerRegistry struct {
	mu      sync.Mutex
	workers map[string]*Worker
}

// NewWorkerRegistry constructs an empty registry.
func NewWorkerRegistry() *WorkerRegistry {
	return &WorkerRegistry{workers: map[string]*Worker{}}
}

// Register creates a new worker identity.
func (r *WorkerRegistry) Register(name string, executors []taskboard.Executor, models []string) *Worker {
	w := &Worker{
		ID:        uuid.NewString(),
		Name:      name,
		Executors: executors,
		Models:    models,
		LastSeen:  time.Now().UTC(),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[w.ID] = w
	cp := *w
	return &cp
}

// Heartbeat refreshes lastSeen for a worker.
func (r *WorkerRegistry) Heartbeat(id string) (*Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return nil, false
	}
	w.LastSeen = time.Now().UTC()
	cp := *w
	return &cp, true
}

// Get returns a copy of the worker by id.
func (r *WorkerRegistry) Get(id string) (*Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return nil, false
	}
	cp := *w
	return &cp, true
}

// List returns all registered workers.
func (r *WorkerRegistry) List() []*Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		cp := *w
		out = append(out, &cp)
	}
	return out
}

// setRunning updates the worker's runningJobId bookkeeping. Only the
// lease-expiry sweep calls it, to clear the field; Claim and
// CompleteExternal do not set RunningJobID.
func (r *WorkerRegistry) setRunning(id, jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[id]; ok {
		w.RunningJobID = jobID
	}
}
