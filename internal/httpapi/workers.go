package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kilroy-labs/factoryctl/internal/taskboard"
)

func (s *Server) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	var req RegisterWorkerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body")
		return
	}
	worker := s.deps.Workers.Register(req.Name, req.Executors, req.Models)
	writeJSON(w, http.StatusCreated, worker)
}

func (s *Server) handleWorkerHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	worker, ok := s.deps.Workers.Heartbeat(id)
	if !ok {
		writeError(w, http.StatusNotFound, "worker_not_found")
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

// handleWorkerClaim long-polls for a queued external job matching the
// worker's declared executors/models (spec §4.E "External claim
// protocol").
func (s *Server) handleWorkerClaim(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	worker, ok := s.deps.Workers.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "worker_not_found")
		return
	}

	executors := worker.Executors
	if e := r.URL.Query().Get("executor"); e != "" {
		executors = []taskboard.Executor{taskboard.Executor(e)}
	}
	waitMs := 1000
	if v := r.URL.Query().Get("waitMs"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			waitMs = parsed
		}
	}

	job, found := s.deps.Queue.Claim(id, executors, worker.Models, waitMs)
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
