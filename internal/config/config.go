// Package config implements the control plane's single versioned
// configuration struct (spec §6 "recognized options"). Grounded directly
// on the teacher's engine.RunConfigFile/LoadRunConfigFile
// (internal/attractor/engine/config.go): strict YAML decoding via
// gopkg.in/yaml.v3's KnownFields(true), defaults and validation split into
// two passes.
package config

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// ExecutorConcurrency holds per-executor running-job caps.
type ExecutorConcurrency struct {
	Codex       int `yaml:"codex"`
	OpenCodeCLI int `yaml:"opencodecli"`
}

// ExecutorTimeouts holds per-executor default wall-clock timeouts in ms.
type ExecutorTimeouts struct {
	CodexMs       int `yaml:"codex_ms"`
	OpenCodeCLIMs int `yaml:"opencodecli_ms"`
}

// ModelPools holds the named model pools referenced by task allowedModels
// defaults.
type ModelPools struct {
	Free   []string `yaml:"free,omitempty"`
	Vision []string `yaml:"vision,omitempty"`
	Paid   []string `yaml:"paid,omitempty"`

	// PreferredTag hard-pins models whose name contains this substring
	// above the rest of the strong-to-weak sort (spec §4.G, §8: "Model
	// strength sort places a model tagged with the preferred family above
	// a larger parameter count from another family").
	PreferredTag string `yaml:"preferred_tag,omitempty"`
}

// AutoRequeue configures the model-throttle ladder (spec §4.J).
type AutoRequeue struct {
	ModelFailuresEnabled bool  `yaml:"model_failures_enabled"`
	Max                  int   `yaml:"max"`
	CooldownMs           int64 `yaml:"cooldown_ms"`
}

// CIGate configures the verdict pipeline's CI gate (spec §4.I step 3).
type CIGate struct {
	Enabled            bool   `yaml:"enabled"`
	Strict             bool   `yaml:"strict"`
	AllowAll           bool   `yaml:"allow_all"`
	TimeoutMs          int    `yaml:"timeout_ms"`
	CWD                string `yaml:"cwd"`
	AntiForgerySinceMs int64  `yaml:"antiforgery_since_ms"`
}

// FixupCaps bounds CI/pins fixup-child creation per source task (spec
// §4.J).
type FixupCaps struct {
	CIFixupCap        int `yaml:"ci_fixup_cap"`
	PinsFixupCap      int `yaml:"pins_fixup_cap"`
	FuseQueueThreshold int `yaml:"fuse_queue_threshold"`
}

// QualityGate configures the rolling per-area quality gate (spec §4.H step
// 5).
type QualityGate struct {
	Threshold  float64 `yaml:"threshold"`
	MinSamples int     `yaml:"min_samples"`
	WindowMs   int64   `yaml:"window_ms"`
}

// Dispatch configures preflight requirements (spec §4.H).
type Dispatch struct {
	RequirePins         bool   `yaml:"require_pins"`
	RequireContract     bool   `yaml:"require_contract"`
	RequirePinsTemplate bool   `yaml:"require_pins_template"`
	Idempotency         bool   `yaml:"idempotency"`
	DesiredOpenCodeRatio float64 `yaml:"desired_opencode_ratio"`
}

// File is the root configuration document (spec §6 runtime.env registry).
type File struct {
	Version int `yaml:"version"`

	GatewayPort int `yaml:"gateway_port"`
	StateRoot   string `yaml:"state_root"`

	ExecutorConcurrency ExecutorConcurrency `yaml:"executor_concurrency"`
	ExecutorTimeouts    ExecutorTimeouts    `yaml:"executor_timeouts"`
	ModelPools          ModelPools          `yaml:"model_pools"`
	ModelRoutingMode    string              `yaml:"model_routing_mode"`

	AutoRequeue AutoRequeue `yaml:"auto_requeue"`
	CIGate      CIGate      `yaml:"ci_gate"`
	Fixup       FixupCaps   `yaml:"fixup"`
	Quality     QualityGate `yaml:"quality_gate"`
	Dispatch    Dispatch    `yaml:"dispatch"`

	OCCLIRequireSubmit   bool `yaml:"occli_require_submit"`
	WorkerIdleExitSeconds int `yaml:"worker_idle_exit_seconds"`

	// Env is the raw runtime.env key/value overlay (spec §6): unknown keys
	// are preserved but not acted on.
	Env map[string]string `yaml:"env,omitempty"`
}

// DecodeStrict parses b as YAML with unknown-field rejection, matching the
// teacher's decodeYAMLStrict.
func DecodeStrict(b []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return nil, err
	}
	applyDefaults(&f)
	if err := validate(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

func applyDefaults(f *File) {
	if f.Version == 0 {
		f.Version = 1
	}
	if f.StateRoot == "" {
		f.StateRoot = "artifacts"
	}
	if f.GatewayPort == 0 {
		f.GatewayPort = 8089
	}
	if f.ExecutorConcurrency.Codex == 0 {
		f.ExecutorConcurrency.Codex = 3
	}
	if f.ExecutorConcurrency.OpenCodeCLI == 0 {
		f.ExecutorConcurrency.OpenCodeCLI = 3
	}
	if f.ExecutorTimeouts.CodexMs == 0 {
		f.ExecutorTimeouts.CodexMs = 10 * 60 * 1000
	}
	if f.ExecutorTimeouts.OpenCodeCLIMs == 0 {
		f.ExecutorTimeouts.OpenCodeCLIMs = 10 * 60 * 1000
	}
	if f.ModelRoutingMode == "" {
		f.ModelRoutingMode = "ladder"
	}
	if f.AutoRequeue.Max == 0 {
		f.AutoRequeue.Max = 6
	}
	if f.AutoRequeue.CooldownMs == 0 {
		f.AutoRequeue.CooldownMs = 15_000
	}
	if f.CIGate.TimeoutMs == 0 {
		f.CIGate.TimeoutMs = 20 * 60 * 1000
	}
	if f.CIGate.CWD == "" {
		f.CIGate.CWD = "."
	}
	if f.Fixup.CIFixupCap == 0 {
		f.Fixup.CIFixupCap = 2
	}
	if f.Fixup.PinsFixupCap == 0 {
		f.Fixup.PinsFixupCap = 2
	}
	if f.Fixup.FuseQueueThreshold == 0 {
		f.Fixup.FuseQueueThreshold = 200
	}
	if f.Quality.Threshold == 0 {
		f.Quality.Threshold = 0.8
	}
	if f.Quality.MinSamples == 0 {
		f.Quality.MinSamples = 5
	}
	if f.Quality.WindowMs == 0 {
		f.Quality.WindowMs = 30 * 60 * 1000
	}
	if f.Dispatch.DesiredOpenCodeRatio == 0 {
		f.Dispatch.DesiredOpenCodeRatio = 0.5
	}
	if f.CIGate.AntiForgerySinceMs == 0 {
		f.CIGate.AntiForgerySinceMs = 5000
	}
	if f.WorkerIdleExitSeconds == 0 {
		f.WorkerIdleExitSeconds = 120
	}
	if f.Env == nil {
		f.Env = map[string]string{}
	}
}

func validate(f *File) error {
	switch f.ModelRoutingMode {
	case "rr", "strong_first", "ladder":
	default:
		return fmt.Errorf("model_routing_mode must be one of rr|strong_first|ladder, got %q", f.ModelRoutingMode)
	}
	if f.GatewayPort < 1 || f.GatewayPort > 65535 {
		return fmt.Errorf("gateway_port out of range: %d", f.GatewayPort)
	}
	if strings.TrimSpace(f.StateRoot) == "" {
		return fmt.Errorf("state_root must not be empty")
	}
	return nil
}
