// Package httpapi implements the control plane's HTTP surface (spec §6): a
// chi-routed JSON API over the taskboard, job queue, dispatch gate, verdict
// pipeline, fixup loops, and degradation engine. Grounded on the teacher's
// internal/server package for the server lifecycle (graceful shutdown,
// Origin-header CSRF check) and SSE broadcaster shape, with one broadcaster
// per server rather than per pipeline run; it carries the events the server
// itself publishes, not the whole shared event log.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ErrorResponse is the JSON body returned alongside any non-2xx response
// (spec §6 "400 with {error: <name>}").
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, name string) {
	writeJSON(w, status, ErrorResponse{Error: name})
}

// decodeJSON decodes r's body into v and runs struct-tag validation.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return validate.Struct(v)
}
