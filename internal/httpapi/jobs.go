package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kilroy-labs/factoryctl/internal/eventlog"
	"github.com/kilroy-labs/factoryctl/internal/jobqueue"
	"github.com/kilroy-labs/factoryctl/internal/taskboard"
)

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Queue.List())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.deps.Queue.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job_not_found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetJobPatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.deps.Queue.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job_not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patchStats": job.PatchStats})
}

func (s *Server) handleCreateAtomicJob(w http.ResponseWriter, r *http.Request) {
	var req AtomicJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body")
		return
	}
	title := req.Title
	if title == "" {
		title = req.Goal
	}
	task, err := s.deps.Board.Create(taskboard.CreateInput{
		Kind:             taskboard.KindAtomic,
		Title:            title,
		Goal:             req.Goal,
		Role:             req.Role,
		AllowedExecutors: []taskboard.Executor{req.Executor},
		Files:            req.Files,
		Pins:             req.Pins,
		AllowedTests:     req.AllowedTests,
		Area:             req.Area,
		Priority:         req.Priority,
		RunnerHint:       req.Runner,
	})
	if err != nil {
		var ve *taskboard.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, string(ve.Reason))
			return
		}
		writeError(w, http.StatusBadRequest, "create_failed")
		return
	}
	_, _ = s.deps.Board.SetStatus(task.ID, taskboard.StatusReady)
	_, job, err := s.deps.Gate.Dispatch(r.Context(), task.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "dispatch_failed")
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.deps.Queue.Cancel(id)
	if err != nil {
		switch {
		case errors.Is(err, jobqueue.ErrNotFound):
			writeError(w, http.StatusNotFound, "job_not_found")
		case errors.Is(err, jobqueue.ErrCannotCancelInternal):
			writeError(w, http.StatusBadRequest, "cannot_cancel_internal_job")
		default:
			writeError(w, http.StatusBadRequest, "cancel_failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleRequeueJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.deps.Queue.Requeue(id)
	if err != nil {
		if errors.Is(err, jobqueue.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job_not_found")
			return
		}
		writeError(w, http.StatusBadRequest, "requeue_failed")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCompleteJob records an external worker's result and immediately
// runs the verdict pipeline against it (spec §4.E/§4.F/§4.I).
func (s *Server) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req CompleteJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body")
		return
	}
	if _, err := s.deps.Queue.CompleteExternal(id, req.WorkerID, req.ExitCode, req.Stdout, req.Stderr); err != nil {
		switch {
		case errors.Is(err, jobqueue.ErrNotFound):
			writeError(w, http.StatusNotFound, "job_not_found")
		case errors.Is(err, jobqueue.ErrStaleCompletion):
			writeError(w, http.StatusConflict, "stale_completion")
		default:
			writeError(w, http.StatusBadRequest, "complete_failed")
		}
		return
	}

	var task *taskboard.Task
	var job *jobqueue.Job
	if s.deps.Pipeline != nil {
		var err error
		task, job, err = s.deps.Pipeline.Run(r.Context(), id, req.AgentMessageText)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "verdict_pipeline_failed")
			return
		}
	} else {
		job, _ = s.deps.Queue.Get(id)
	}
	s.emit(eventlog.Info("job_completed_external", map[string]any{"job_id": id, "worker_id": req.WorkerID}))
	writeJSON(w, http.StatusOK, map[string]any{"task": task, "job": job})
}
