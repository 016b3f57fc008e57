package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kilroy-labs/factoryctl/internal/dispatch"
	"github.com/kilroy-labs/factoryctl/internal/jobqueue"
	"github.com/kilroy-labs/factoryctl/internal/taskboard"
)

type boardResponse struct {
	Counts map[taskboard.Status]int `json:"counts"`
	Tasks  []*taskboard.Task        `json:"tasks"`
}

func (s *Server) handleBoardList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, boardResponse{
		Counts: s.deps.Board.Counts(),
		Tasks:  s.deps.Board.List(),
	})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body")
		return
	}
	task, err := s.deps.Board.Create(req.toCreateInput())
	if err != nil {
		var ve *taskboard.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, string(ve.Reason))
			return
		}
		writeError(w, http.StatusBadRequest, "create_failed")
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, ok := s.deps.Board.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "task_not_found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleSetTaskStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req StatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body")
		return
	}
	task, err := s.deps.Board.SetStatus(id, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, taskboard.ErrNotFound):
			writeError(w, http.StatusNotFound, "task_not_found")
		case errors.Is(err, taskboard.ErrInvalidTransition):
			writeError(w, http.StatusBadRequest, "invalid_status_transition")
		default:
			writeError(w, http.StatusBadRequest, "status_update_failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req UpdateTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body")
		return
	}
	task, err := s.deps.Board.Update(id, req.toUpdateFields())
	if err != nil {
		if errors.Is(err, taskboard.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task_not_found")
			return
		}
		writeError(w, http.StatusBadRequest, "update_failed")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type dispatchResponse struct {
	Task *taskboard.Task `json:"task"`
	Job  *jobqueue.Job   `json:"job"`
}

func (s *Server) handleDispatchTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, job, err := s.deps.Gate.Dispatch(r.Context(), id)
	if err != nil {
		var ge *dispatch.GateError
		if errors.As(err, &ge) {
			writeError(w, http.StatusBadRequest, string(ge.Reason))
			return
		}
		if jobID, ok := dispatch.AsIdempotencyError(err); ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "already_dispatched", "jobId": jobID})
			return
		}
		writeError(w, http.StatusBadRequest, "dispatch_failed")
		return
	}
	writeJSON(w, http.StatusAccepted, dispatchResponse{Task: task, Job: job})
}

// handleSplitTask dispatches the parent task as a planner job (spec §6
// "creates a planner job"). A requireDesigner52 style check is left to the
// role policy already enforced by the gate; the planner task must already
// carry role=designer and a strong model pool for this to succeed.
func (s *Server) handleSplitTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, ok := s.deps.Board.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "task_not_found")
		return
	}
	if task.Kind != taskboard.KindParent {
		writeError(w, http.StatusBadRequest, "not_a_parent_task")
		return
	}
	_, job, err := s.deps.Gate.Dispatch(r.Context(), id)
	if err != nil {
		var ge *dispatch.GateError
		if errors.As(err, &ge) {
			writeError(w, http.StatusBadRequest, string(ge.Reason))
			return
		}
		writeError(w, http.StatusBadRequest, "split_failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

func (s *Server) handleSplitApply(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req SplitApplyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body")
		return
	}
	result, err := s.deps.Board.SplitApply(id, req.AgentMessageText, req.RawText, req.TwoPhasePins)
	if err != nil {
		var ve *taskboard.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, string(ve.Reason))
			return
		}
		if errors.Is(err, taskboard.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task_not_found")
			return
		}
		writeError(w, http.StatusBadRequest, "split_apply_failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
