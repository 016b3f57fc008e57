package httpapi

import (
	"net/http"

	"github.com/kilroy-labs/factoryctl/internal/eventlog"
	"github.com/kilroy-labs/factoryctl/internal/jobqueue"
	"github.com/kilroy-labs/factoryctl/internal/taskboard"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type statusResponse struct {
	OK             bool                     `json:"ok"`
	BoardCounts    map[taskboard.Status]int `json:"boardCounts"`
	QueuedJobs     int                      `json:"queuedJobs"`
	RunningJobs    int                      `json:"runningJobs"`
	Workers        int                      `json:"workers"`
	Quarantined    bool                     `json:"quarantined"`
	RoutingMode    string                   `json:"routingMode"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var queued, running int
	for _, j := range s.deps.Queue.List() {
		switch j.Status {
		case jobqueue.StatusQueued:
			queued++
		case jobqueue.StatusRunning:
			running++
		}
	}
	quarantined := false
	if s.deps.Degrade != nil {
		quarantined = s.deps.Degrade.Quarantine.Active()
	}
	mode := ""
	if s.deps.Router != nil {
		mode = string(s.deps.Router.Mode())
	}
	writeJSON(w, http.StatusOK, statusResponse{
		OK:          !quarantined,
		BoardCounts: s.deps.Board.Counts(),
		QueuedJobs:  queued,
		RunningJobs: running,
		Workers:     len(s.deps.Workers.List()),
		Quarantined: quarantined,
		RoutingMode: mode,
	})
}

// handlePools returns task/worker/model snapshots (spec §6 GET /pools).
func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	var pools map[string][]string
	if s.deps.Config != nil {
		pools = map[string][]string{
			"free":   s.deps.Config.ModelPools.Free,
			"vision": s.deps.Config.ModelPools.Vision,
			"paid":   s.deps.Config.ModelPools.Paid,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks":   s.deps.Board.Counts(),
		"workers": s.deps.Workers.List(),
		"models":  pools,
	})
}

// handleEvents serves the live event stream as SSE (spec §6 GET /events).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeSSE(w, r, s.deps.Broadcast)
}

// handleLearnedPatterns is a read-only inspector over the instinct
// subsystem's pattern catalog (spec §6 "Persisted state layout":
// artifacts/executor_logs/instinct/patterns.json). The control plane does
// not yet populate this file; an empty list is a valid, honest answer.
func (s *Server) handleLearnedPatterns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"patterns": []any{}})
}

// handleRouteDecisions replays every route_decision event recorded in the
// event log (spec §6 GET /routes/decisions).
func (s *Server) handleRouteDecisions(w http.ResponseWriter, r *http.Request) {
	events, err := eventlog.ReadAll(s.deps.EventLog)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"decisions": []any{}})
		return
	}
	var decisions []eventlog.Event
	for _, e := range events {
		if e.Type == eventlog.TypeRouteDecision {
			decisions = append(decisions, e)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": decisions})
}

// handlePinsCandidates lists tasks with pinsPending set plus atomic tasks
// that are not done and have no pins, the set a pins-fixup sweep would act
// on (spec §4.J).
func (s *Server) handlePinsCandidates(w http.ResponseWriter, r *http.Request) {
	var candidates []*taskboard.Task
	for _, t := range s.deps.Board.List() {
		if t.PinsPending || (t.Kind == taskboard.KindAtomic && t.Pins == nil && t.Status != taskboard.StatusDone) {
			candidates = append(candidates, t)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
}

// handleReplayTask replays every event referencing task_id (spec §6 GET
// /replay/task?task_id=..).
func (s *Server) handleReplayTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("task_id")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "missing_task_id")
		return
	}
	events, err := eventlog.ReadAll(s.deps.EventLog)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []any{}})
		return
	}
	var matched []eventlog.Event
	for _, e := range events {
		if v, ok := e.Data["task_id"]; ok && v == taskID {
			matched = append(matched, e)
			continue
		}
		if v, ok := e.Data["source_task_id"]; ok && v == taskID {
			matched = append(matched, e)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": taskID, "events": matched})
}
