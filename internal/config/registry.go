package config

import (
	"github.com/getkin/kin-openapi/openapi3"
)

// Kind is the primitive type a recognized runtime.env key holds.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "integer"
	KindBool   Kind = "boolean"
	KindFloat  Kind = "number"
	KindEnum   Kind = "enum"
)

// KeySpec describes one recognized runtime.env key (spec §6 "a typed
// registry enumerating effect").
type KeySpec struct {
	Kind        Kind
	Default     string
	Description string
	Enum        []string
}

// Registry is the full set of recognized runtime.env keys. Unknown keys
// are preserved in File.Env but not acted on (spec §6).
var Registry = map[string]KeySpec{
	"GATEWAY_PORT":                    {Kind: KindInt, Default: "8089", Description: "HTTP listen port"},
	"EXEC_CONCURRENCY_CODEX":          {Kind: KindInt, Default: "3", Description: "Max concurrent running codex jobs"},
	"EXEC_CONCURRENCY_OPENCODE":       {Kind: KindInt, Default: "3", Description: "Max concurrent running opencodecli jobs"},
	"EXEC_TIMEOUT_CODEX_MS":           {Kind: KindInt, Default: "600000", Description: "Codex job wall-clock timeout"},
	"EXEC_TIMEOUT_OPENCODE_MS":        {Kind: KindInt, Default: "600000", Description: "OpenCode job wall-clock timeout"},
	"MODEL_POOL_FREE":                 {Kind: KindString, Description: "Comma-separated free-tier model pool"},
	"MODEL_POOL_VISION":               {Kind: KindString, Description: "Comma-separated vision-capable model pool"},
	"MODEL_POOL_PAID":                 {Kind: KindString, Description: "Comma-separated paid model pool"},
	"MODEL_ROUTING_MODE":              {Kind: KindEnum, Default: "ladder", Description: "Model routing strategy", Enum: []string{"rr", "strong_first", "ladder"}},
	"MODEL_PREFERRED_TAG":             {Kind: KindString, Description: "Substring hard-pinning a model family above the rest of the strong-to-weak sort"},
	"AUTO_REQUEUE_MODEL_FAILURES":     {Kind: KindBool, Default: "true", Description: "Enable the model-throttle ladder"},
	"AUTO_REQUEUE_MODEL_FAILURES_MAX": {Kind: KindInt, Default: "6", Description: "Model ladder step cap"},
	"AUTO_REQUEUE_MODEL_FAILURES_COOLDOWN_MS": {Kind: KindInt, Default: "15000", Description: "Model ladder base cooldown"},
	"EXEC_REQUIRE_PINS":               {Kind: KindBool, Default: "false", Description: "Fail-closed require pins on atomic tasks"},
	"EXEC_REQUIRE_CONTRACT":           {Kind: KindBool, Default: "false", Description: "Fail-closed require an acceptance contract"},
	"EXEC_REQUIRE_PINS_TEMPLATE":      {Kind: KindBool, Default: "false", Description: "Fail-closed require a pins template id"},
	"DISPATCH_IDEMPOTENCY":            {Kind: KindBool, Default: "true", Description: "Reject a second dispatch while a job is active"},
	"OCCLI_REQUIRE_SUBMIT":            {Kind: KindBool, Default: "true", Description: "Require SUBMIT contract for opencode-like executors"},
	"CI_GATE_ENABLED":                 {Kind: KindBool, Default: "true", Description: "Enable the CI gate step of the verdict pipeline"},
	"CI_GATE_STRICT":                  {Kind: KindBool, Default: "true", Description: "Treat missing allowlisted command as ci_failed"},
	"CI_GATE_ALLOW_ALL":               {Kind: KindBool, Default: "false", Description: "Skip the CI gate entirely (trusted environments only)"},
	"CI_GATE_TIMEOUT_MS":              {Kind: KindInt, Default: "1200000", Description: "CI gate subprocess wall-clock timeout"},
	"CI_GATE_CWD":                     {Kind: KindString, Default: ".", Description: "Working directory for CI gate commands"},
	"CI_ANTIFORGERY_SINCE_MS":         {Kind: KindInt, Default: "5000", Description: "Allowed slop between job and CI-gate timing windows"},
	"CI_FIXUP_CAP":                    {Kind: KindInt, Default: "2", Description: "Max CI-fixup children per source task"},
	"PINS_FIXUP_CAP":                  {Kind: KindInt, Default: "2", Description: "Max pins-fixup children per source task"},
	"FIXUP_FUSE_QUEUE_THRESHOLD":      {Kind: KindInt, Default: "200", Description: "Queued-job count at which new fixup children are rejected"},
	"QUALITY_GATE_THRESHOLD":          {Kind: KindFloat, Default: "0.8", Description: "Rolling failure-rate threshold that blocks dispatch"},
	"QUALITY_GATE_MIN_SAMPLES":        {Kind: KindInt, Default: "5", Description: "Minimum samples before the quality gate can trigger"},
	"QUALITY_GATE_WINDOW_MS":          {Kind: KindInt, Default: "1800000", Description: "Rolling window for the quality gate"},
	"WORKER_IDLE_EXIT_SECONDS":        {Kind: KindInt, Default: "120", Description: "External worker inactivity window before it is considered gone"},
}

// Schema renders a registry entry as an openapi3.Schema (spec §6
// "/config/schema"), grounded on the rest of the pack's use of
// getkin/kin-openapi for schema description rather than a bespoke struct.
func (k KeySpec) Schema() *openapi3.Schema {
	var s *openapi3.Schema
	switch k.Kind {
	case KindInt:
		s = openapi3.NewIntegerSchema()
	case KindBool:
		s = openapi3.NewBoolSchema()
	case KindFloat:
		s = openapi3.NewFloat64Schema()
	case KindEnum:
		s = openapi3.NewStringSchema()
		for _, e := range k.Enum {
			s.Enum = append(s.Enum, e)
		}
	default:
		s = openapi3.NewStringSchema()
	}
	s.Description = k.Description
	if k.Default != "" {
		s.Default = k.Default
	}
	return s
}

// SchemaDocument renders the full registry as an OpenAPI components map,
// keyed by runtime.env key name.
func SchemaDocument() map[string]*openapi3.SchemaRef {
	out := make(map[string]*openapi3.SchemaRef, len(Registry))
	for key, spec := range Registry {
		out[key] = openapi3.NewSchemaRef("", spec.Schema())
	}
	return out
}
