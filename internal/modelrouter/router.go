package modelrouter

import (
	"fmt"
	"sync"

	"github.com/kilroy-labs/factoryctl/internal/stateio"
)

// Mode is the model-selection strategy (spec §4.G "Modes").
type Mode string

const (
	ModeRR          Mode = "rr"
	ModeStrongFirst Mode = "strong_first"
	ModeLadder      Mode = "ladder"
)

// ErrEmptyPool is returned when Pick is called against an empty model
// pool.
var ErrEmptyPool = fmt.Errorf("empty_model_pool")

// rrState is the on-disk shape of artifacts/executor_logs/model_rr.json:
// a round-robin cursor per pool key, so restarts don't collapse routing
// back to the first model (spec §4.G "rr: ... persisting the index to disk
// so restarts don't collapse to one model").
type rrState struct {
	Index map[string]int `json:"index"`
}

// Router picks a model from a pool by mode.
type Router struct {
	mu   sync.Mutex
	mode Mode
	file string
	rr   rrState
}

// New constructs a Router persisting round-robin cursors to file.
func New(mode Mode, rrStateFile string) *Router {
	if mode == "" {
		mode = ModeLadder
	}
	r := &Router{mode: mode, file: rrStateFile}
	if rrStateFile != "" {
		st, err := stateio.ReadJSON(rrStateFile, rrState{Index: map[string]int{}})
		if err == nil {
			if st.Index == nil {
				st.Index = map[string]int{}
			}
			r.rr = st
		} else {
			r.rr = rrState{Index: map[string]int{}}
		}
	} else {
		r.rr = rrState{Index: map[string]int{}}
	}
	return r
}

// Mode returns the router's current mode.
func (r *Router) Mode() Mode { return r.mode }

// SetMode overrides the routing mode (e.g. from a runtime.env config
// change, MODEL_ROUTING_MODE).
func (r *Router) SetMode(m Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = m
}

// Pick selects a model from pool (already sorted strong-to-weak by the
// caller) for the given pool key and attempt index (spec §4.G).
func (r *Router) Pick(poolKey string, pool []string, attempt int) (string, error) {
	if len(pool) == 0 {
		return "", ErrEmptyPool
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.mode {
	case ModeStrongFirst:
		return pool[0], nil
	case ModeRR:
		idx := r.rr.Index[poolKey] % len(pool)
		r.rr.Index[poolKey] = (idx + 1) % len(pool)
		if r.file != "" {
			_ = stateio.WriteJSONAtomic(r.file, r.rr)
		}
		return pool[idx], nil
	case ModeLadder:
		fallthrough
	default:
		idx := attempt
		if idx >= len(pool) {
			idx = len(pool) - 1
		}
		if idx < 0 {
			idx = 0
		}
		return pool[idx], nil
	}
}
