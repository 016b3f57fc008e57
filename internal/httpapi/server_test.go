package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/kilroy-labs/factoryctl/internal/config"
	"github.com/kilroy-labs/factoryctl/internal/contextpack"
	"github.com/kilroy-labs/factoryctl/internal/degrade"
	"github.com/kilroy-labs/factoryctl/internal/dispatch"
	"github.com/kilroy-labs/factoryctl/internal/eventlog"
	"github.com/kilroy-labs/factoryctl/internal/jobqueue"
	"github.com/kilroy-labs/factoryctl/internal/modelrouter"
	"github.com/kilroy-labs/factoryctl/internal/taskboard"
)

var testLogger = log.New(io.Discard, "", 0)

// newTestServer builds a Server over a fresh on-disk state root, wired the
// same way controlplane.New wires production Deps, minus background loops
// and real executor drivers: handlers are exercised directly through the
// underlying chi router.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	root := t.TempDir()
	events, err := eventlog.OpenChained(filepath.Join(root, "events.jsonl"))
	if err != nil {
		t.Fatalf("open event log: %v", err)
	}
	t.Cleanup(func() { _ = events.Close() })

	rolePolicy, err := dispatch.NewRolePolicy(context.Background(), map[taskboard.Role]dispatch.RoleRule{
		taskboard.RoleEngineer: {Unrestricted: true},
		taskboard.RoleQA:       {Unrestricted: true},
	})
	if err != nil {
		t.Fatalf("compile role policy: %v", err)
	}

	board := taskboard.New(filepath.Join(root, "board.json"), events, testLogger, taskboard.Options{
		InferEnabled: true,
		RolePolicy: func(role taskboard.Role, paths []string) bool {
			allowed, err := rolePolicy.Allowed(context.Background(), role, paths)
			return err == nil && allowed
		},
	})
	queue := jobqueue.New(filepath.Join(root, "jobs.json"), events, testLogger, jobqueue.ExecutorCaps{Codex: 2, OpenCodeCLI: 2})
	workers := jobqueue.NewWorkerRegistry()
	builder := contextpack.NewBuilder([]string{"."})
	router := modelrouter.New(modelrouter.ModeRR, filepath.Join(root, "router_state.json"))
	quality := dispatch.NewQualityGate(0)

	degradeEngine, err := degrade.NewEngine(context.Background(), 1000, events)
	if err != nil {
		t.Fatalf("construct degradation engine: %v", err)
	}

	gate := &dispatch.Gate{
		Board:      board,
		Queue:      queue,
		Builder:    builder,
		Router:     router,
		RolePolicy: rolePolicy,
		Quality:    quality,
		Quarantine: degradeEngine,
		Events:     events,
		Config: dispatch.Config{
			ContextPackMaxBytes: contextpack.DefaultMaxBytes,
			DefaultTimeoutMs:    60000,
		},
		ModelPoolFn: func(taskboard.Executor) []string { return []string{"gpt-test"} },
	}

	cfg := &config.File{
		Version:          1,
		ModelRoutingMode: string(modelrouter.ModeRR),
		ModelPools:       config.ModelPools{Free: []string{"gpt-test"}},
	}

	return New("127.0.0.1:0", Deps{
		Board:    board,
		Queue:    queue,
		Workers:  workers,
		Builder:  builder,
		Router:   router,
		Gate:     gate,
		Degrade:  degradeEngine,
		Events:   events,
		EventLog: filepath.Join(root, "events.jsonl"),
		Config:   cfg,
	})
}

func (s *Server) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthAndStatus(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health: status %d, body %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /status: status %d, body %s", rec.Code, rec.Body.String())
	}
	var st statusResponse
	decodeBody(t, rec, &st)
	if !st.OK {
		t.Fatalf("status not ok with no quarantine active: %+v", st)
	}
	if st.RoutingMode != string(modelrouter.ModeRR) {
		t.Fatalf("routing mode = %q, want %q", st.RoutingMode, modelrouter.ModeRR)
	}
}

func TestCreateAndGetTask(t *testing.T) {
	s := newTestServer(t)

	create := CreateTaskRequest{
		Title: "fix the parser",
		Goal:  "make the parser handle trailing commas",
		Role:  taskboard.RoleEngineer,
		Files: []string{"internal/parser/parser.go"},
	}
	rec := s.do(t, http.MethodPost, "/board/tasks", create)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /board/tasks: status %d, body %s", rec.Code, rec.Body.String())
	}
	var created taskboard.Task
	decodeBody(t, rec, &created)
	if created.ID == "" {
		t.Fatalf("created task has no id: %+v", created)
	}
	if created.Title != create.Title {
		t.Fatalf("created task title = %q, want %q", created.Title, create.Title)
	}

	rec = s.do(t, http.MethodGet, "/board/tasks/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /board/tasks/{id}: status %d, body %s", rec.Code, rec.Body.String())
	}
	var fetched taskboard.Task
	decodeBody(t, rec, &fetched)
	if fetched.ID != created.ID {
		t.Fatalf("fetched task id = %q, want %q", fetched.ID, created.ID)
	}

	rec = s.do(t, http.MethodGet, "/board/tasks/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET unknown task: status %d, want 404", rec.Code)
	}
}

func TestCreateTaskInvalidBody(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/board/tasks", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("POST /board/tasks with malformed body: status %d, want 400", rec.Code)
	}
	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	if resp.Error != "invalid_request_body" {
		t.Fatalf("error = %q, want invalid_request_body", resp.Error)
	}
}

func TestBoardListReflectsCounts(t *testing.T) {
	s := newTestServer(t)

	for i := 0; i < 3; i++ {
		rec := s.do(t, http.MethodPost, "/board/tasks", CreateTaskRequest{
			Title: "task", Goal: "goal", Role: taskboard.RoleEngineer,
			Files: []string{"internal/foo/foo.go"},
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("seed task %d: status %d, body %s", i, rec.Code, rec.Body.String())
		}
	}

	rec := s.do(t, http.MethodGet, "/board", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /board: status %d", rec.Code)
	}
	var resp boardResponse
	decodeBody(t, rec, &resp)
	if len(resp.Tasks) != 3 {
		t.Fatalf("len(tasks) = %d, want 3", len(resp.Tasks))
	}
}

func TestSetTaskStatusRejectsInvalidTransition(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/board/tasks", CreateTaskRequest{
		Title: "t", Goal: "g", Role: taskboard.RoleEngineer,
		Files: []string{"internal/foo/foo.go"},
	})
	var created taskboard.Task
	decodeBody(t, rec, &created)

	rec = s.do(t, http.MethodPost, "/board/tasks/"+created.ID+"/status", StatusRequest{Status: taskboard.StatusDone})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("jump-to-done from %s: status %d, want 400", created.Status, rec.Code)
	}
}

func TestCreateAtomicJobRejectsWithoutRealTest(t *testing.T) {
	s := newTestServer(t)

	// No AllowedTests: the gate's step 2 ("allowedTests contains >=1
	// non-selftest command") rejects before a job is ever queued.
	rec := s.do(t, http.MethodPost, "/executor/jobs/atomic", AtomicJobRequest{
		Goal:     "run the thing",
		Role:     taskboard.RoleEngineer,
		Executor: taskboard.ExecutorCodex,
		Files:    []string{"internal/foo/foo.go"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("POST /executor/jobs/atomic without allowedTests: status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	if resp.Error != "dispatch_failed" {
		t.Fatalf("error = %q, want dispatch_failed", resp.Error)
	}

	rec = s.do(t, http.MethodGet, "/executor/jobs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /executor/jobs: status %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestDispatchScenario3IdempotentReturnsBadRequest(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/board/tasks", CreateTaskRequest{
		Title:            "X",
		Goal:             "Y",
		Kind:             taskboard.KindAtomic,
		Role:             taskboard.RoleEngineer,
		AllowedExecutors: []taskboard.Executor{taskboard.ExecutorCodex},
		AllowedModels:    []string{"gpt-test"},
		Files:            []string{"internal/foo/foo.go"},
		AllowedTests:     []string{"python -m pytest -q"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /board/tasks: status %d, body %s", rec.Code, rec.Body.String())
	}
	var task taskboard.Task
	decodeBody(t, rec, &task)

	rec = s.do(t, http.MethodPost, "/board/tasks/"+task.ID+"/status", StatusRequest{Status: taskboard.StatusReady})
	if rec.Code != http.StatusOK {
		t.Fatalf("set ready: status %d, body %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/board/tasks/"+task.ID+"/dispatch", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("first dispatch: status %d, body %s", rec.Code, rec.Body.String())
	}
	var first dispatchResponse
	decodeBody(t, rec, &first)

	// spec.md:236/308 (§8 scenario 3): a second dispatch while the job is
	// still active is a 400 already_dispatched, not a 409 conflict.
	rec = s.do(t, http.MethodPost, "/board/tasks/"+task.ID+"/dispatch", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("idempotent redispatch: status %d, want %d, body %s", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
	var resp map[string]any
	decodeBody(t, rec, &resp)
	if resp["error"] != "already_dispatched" {
		t.Fatalf("error = %v, want already_dispatched", resp["error"])
	}
	if resp["jobId"] != first.Job.ID {
		t.Fatalf("jobId = %v, want %s", resp["jobId"], first.Job.ID)
	}
}

func TestConfigGetAndSet(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/config", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /config: status %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/config/set", ConfigSetRequest{Key: "MODEL_ROUTING_MODE", Value: string(modelrouter.ModeStrongFirst)})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /config/set: status %d, body %s", rec.Code, rec.Body.String())
	}
	if s.deps.Router.Mode() != modelrouter.ModeStrongFirst {
		t.Fatalf("router mode after config/set = %q, want %q", s.deps.Router.Mode(), modelrouter.ModeStrongFirst)
	}
}

func TestCSRFBlocksCrossOriginPost(t *testing.T) {
	s := newTestServer(t)

	b, _ := json.Marshal(CreateTaskRequest{Title: "t", Goal: "g", Role: taskboard.RoleEngineer})
	req := httptest.NewRequest(http.MethodPost, "/board/tasks", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cross-origin POST: status %d, want 403", rec.Code)
	}
}

func TestReplayTaskRequiresTaskID(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/replay/task", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("GET /replay/task without task_id: status %d, want 400", rec.Code)
	}
}
