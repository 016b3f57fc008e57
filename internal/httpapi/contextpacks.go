package httpapi

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/kilroy-labs/factoryctl/internal/contextpack"
)

// contextPackDir resolves where built packs are persisted so GET
// /executor/contextpacks/:id can serve them back (spec §6 "Persisted state
// layout": artifacts/executor_logs/contextpacks/<id>.md, where <id> is the
// pack's content-addressed id).
func (s *Server) contextPackDir() string {
	if s.deps.Config == nil || s.deps.Config.StateRoot == "" {
		return "artifacts/executor_logs/contextpacks"
	}
	return filepath.Join(s.deps.Config.StateRoot, "executor_logs", "contextpacks")
}

func (s *Server) handleBuildContextPack(w http.ResponseWriter, r *http.Request) {
	var req ContextPackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body")
		return
	}

	var pack *contextpack.Pack
	var err error
	if req.Pins != nil {
		pack, err = s.deps.Builder.BuildFromPins(*req.Pins, req.MaxBytes)
	} else {
		pack, err = s.deps.Builder.BuildFromFiles(req.Files, req.MaxBytes)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "contextpack_build_failed")
		return
	}

	dir := s.contextPackDir()
	if err := os.MkdirAll(dir, 0o755); err == nil {
		_ = os.WriteFile(filepath.Join(dir, pack.ID+".md"), []byte(pack.Content), 0o644)
	}
	writeJSON(w, http.StatusCreated, pack)
}

func (s *Server) handleGetContextPack(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	content, err := os.ReadFile(filepath.Join(s.contextPackDir(), id+".md"))
	if err != nil {
		writeError(w, http.StatusNotFound, "contextpack_not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "content": string(content)})
}
