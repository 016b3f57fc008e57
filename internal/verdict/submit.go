// Package verdict implements the post-execution verdict pipeline (spec
// §4.I): SUBMIT-contract parsing, the CI gate with anti-forgery evidence,
// the hygiene gate, failure classification, and board/event bookkeeping.
// Grounded on the teacher's codergen_router.go output-parsing helpers and
// engine.go's completion handling.
package verdict

import (
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SubmitStatus is the outcome an executor reports inside its SUBMIT object.
type SubmitStatus string

const (
	SubmitDone      SubmitStatus = "DONE"
	SubmitNeedInput SubmitStatus = "NEED_INPUT"
	SubmitFailed    SubmitStatus = "FAILED"
)

// SubmitArtifacts is the artifact path bundle every SUBMIT must carry.
type SubmitArtifacts struct {
	ReportMD     string `json:"report_md"`
	SelftestLog  string `json:"selftest_log"`
	EvidenceDir  string `json:"evidence_dir"`
	PatchDiff    string `json:"patch_diff"`
	SubmitJSON   string `json:"submit_json"`
}

// SubmitTests is the test-summary section of a SUBMIT object.
type SubmitTests struct {
	Commands []string `json:"commands"`
	Passed   bool     `json:"passed"`
	Summary  string   `json:"summary"`
}

// Submit is the `scc.submit.v1` contract produced by an executor (spec §9
// "Submit contract").
type Submit struct {
	SchemaVersion string          `json:"schema_version"`
	TaskID        string          `json:"task_id"`
	Status        SubmitStatus    `json:"status"`
	ReasonCode    string          `json:"reason_code,omitempty"`
	ChangedFiles  []string        `json:"changed_files,omitempty"`
	NewFiles      []string        `json:"new_files,omitempty"`
	TouchedFiles  []string        `json:"touched_files,omitempty"`
	Tests         SubmitTests     `json:"tests"`
	Artifacts     SubmitArtifacts `json:"artifacts"`
	ExitCode      int             `json:"exit_code"`
	NeedsInput    []string        `json:"needs_input,omitempty"`
}

const submitSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["schema_version", "task_id", "status", "tests", "artifacts"],
  "properties": {
    "schema_version": {"const": "scc.submit.v1"},
    "task_id": {"type": "string", "minLength": 1},
    "status": {"enum": ["DONE", "NEED_INPUT", "FAILED"]},
    "reason_code": {"type": "string"},
    "changed_files": {"type": "array", "items": {"type": "string"}},
    "new_files": {"type": "array", "items": {"type": "string"}},
    "touched_files": {"type": "array", "items": {"type": "string"}},
    "tests": {
      "type": "object",
      "required": ["commands", "passed"],
      "properties": {
        "commands": {"type": "array", "items": {"type": "string"}},
        "passed": {"type": "boolean"},
        "summary": {"type": "string"}
      }
    },
    "artifacts": {
      "type": "object",
      "required": ["report_md", "selftest_log", "evidence_dir", "patch_diff", "submit_json"],
      "properties": {
        "report_md": {"type": "string"},
        "selftest_log": {"type": "string"},
        "evidence_dir": {"type": "string"},
        "patch_diff": {"type": "string"},
        "submit_json": {"type": "string"}
      }
    },
    "exit_code": {"type": "integer"},
    "needs_input": {"type": "array", "items": {"type": "string"}}
  }
}`

var submitSchema *jsonschema.Schema

func init() {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("scc.submit.v1.json", strings.NewReader(submitSchemaJSON)); err != nil {
		panic(err)
	}
	schema, err := compiler.Compile("scc.submit.v1.json")
	if err != nil {
		panic(err)
	}
	submitSchema = schema
}

// ExtractSubmitLine scans stdout for a line beginning "SUBMIT:" and returns
// the JSON remainder (spec §4.I step 2). The LAST matching line wins, since
// an executor may reprint a corrected SUBMIT later in its transcript.
func ExtractSubmitLine(stdout string) (string, bool) {
	lines := strings.Split(stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "SUBMIT:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "SUBMIT:")), true
		}
	}
	return "", false
}

// ParseSubmit parses and schema-validates a SUBMIT JSON payload.
func ParseSubmit(raw string) (*Submit, error) {
	var generic any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return nil, err
	}
	if err := submitSchema.Validate(generic); err != nil {
		return nil, err
	}
	var s Submit
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ResolveSubmit implements the SUBMIT-vs-agent-message precedence decision
// (raw stdout's SUBMIT: line always wins over any JSON embedded in an
// agent-message channel, since it is the contractual, safety-relevant
// signal for touched-file enforcement).
func ResolveSubmit(stdout string, agentMessageText string) (*Submit, bool, error) {
	if raw, ok := ExtractSubmitLine(stdout); ok {
		s, err := ParseSubmit(raw)
		if err != nil {
			return nil, true, err
		}
		return s, true, nil
	}
	if raw, ok := ExtractSubmitLine(agentMessageText); ok {
		s, err := ParseSubmit(raw)
		if err != nil {
			return nil, true, err
		}
		return s, true, nil
	}
	return nil, false, nil
}
