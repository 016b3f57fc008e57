package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/kilroy-labs/factoryctl/internal/config"
	"github.com/kilroy-labs/factoryctl/internal/modelrouter"
)

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	writeJSON(w, http.StatusOK, s.deps.Config)
}

func (s *Server) handleConfigSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, config.SchemaDocument())
}

// handleConfigSet writes one runtime.env key (spec §6 POST /config/set)
// into Env. Recognized keys with a case in applyRecognizedKey also update
// the matching field of the served config; other keys, recognized or not,
// are preserved in Env but not acted on.
func (s *Server) handleConfigSet(w http.ResponseWriter, r *http.Request) {
	var req ConfigSetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body")
		return
	}

	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	if s.deps.Config.Env == nil {
		s.deps.Config.Env = map[string]string{}
	}
	s.deps.Config.Env[req.Key] = req.Value
	applyRecognizedKey(s.deps.Config, s, req.Key, req.Value)

	writeJSON(w, http.StatusOK, map[string]any{"key": req.Key, "value": req.Value})
}

// applyRecognizedKey updates the File struct for the subset of runtime.env
// keys it has a case for. Only MODEL_ROUTING_MODE (the router's mode) and
// MODEL_PREFERRED_TAG (the gate's preferred tag) also reach a running
// component; the other fields were copied into components at construction
// and those copies are not updated. Other keys fall through untouched.
func applyRecognizedKey(f *config.File, s *Server, key, value string) {
	spec, known := config.Registry[key]
	if !known {
		return
	}
	switch key {
	case "GATEWAY_PORT":
		if n, err := strconv.Atoi(value); err == nil {
			f.GatewayPort = n
		}
	case "EXEC_CONCURRENCY_CODEX":
		if n, err := strconv.Atoi(value); err == nil {
			f.ExecutorConcurrency.Codex = n
		}
	case "EXEC_CONCURRENCY_OPENCODE":
		if n, err := strconv.Atoi(value); err == nil {
			f.ExecutorConcurrency.OpenCodeCLI = n
		}
	case "MODEL_ROUTING_MODE":
		f.ModelRoutingMode = value
		if s.deps.Router != nil {
			s.deps.Router.SetMode(modelrouter.Mode(value))
		}
	case "MODEL_POOL_FREE":
		f.ModelPools.Free = splitCSV(value)
	case "MODEL_POOL_VISION":
		f.ModelPools.Vision = splitCSV(value)
	case "MODEL_POOL_PAID":
		f.ModelPools.Paid = splitCSV(value)
	case "MODEL_PREFERRED_TAG":
		f.ModelPools.PreferredTag = value
		if s.deps.Gate != nil {
			s.deps.Gate.Config.PreferredModelTag = value
		}
	case "CI_GATE_ENABLED":
		f.CIGate.Enabled = value == "true"
	case "CI_GATE_STRICT":
		f.CIGate.Strict = value == "true"
	case "CI_GATE_ALLOW_ALL":
		f.CIGate.AllowAll = value == "true"
	case "CI_GATE_TIMEOUT_MS":
		if n, err := strconv.Atoi(value); err == nil {
			f.CIGate.TimeoutMs = n
		}
	case "CI_GATE_CWD":
		f.CIGate.CWD = value
	case "CI_FIXUP_CAP":
		if n, err := strconv.Atoi(value); err == nil {
			f.Fixup.CIFixupCap = n
		}
	case "PINS_FIXUP_CAP":
		if n, err := strconv.Atoi(value); err == nil {
			f.Fixup.PinsFixupCap = n
		}
	case "FIXUP_FUSE_QUEUE_THRESHOLD":
		if n, err := strconv.Atoi(value); err == nil {
			f.Fixup.FuseQueueThreshold = n
		}
	case "QUALITY_GATE_THRESHOLD":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			f.Quality.Threshold = v
		}
	case "QUALITY_GATE_MIN_SAMPLES":
		if n, err := strconv.Atoi(value); err == nil {
			f.Quality.MinSamples = n
		}
	case "WORKER_IDLE_EXIT_SECONDS":
		if n, err := strconv.Atoi(value); err == nil {
			f.WorkerIdleExitSeconds = n
		}
	case "OCCLI_REQUIRE_SUBMIT":
		f.OCCLIRequireSubmit = value == "true"
	default:
		_ = spec // recognized but not yet wired to a typed field
	}
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
