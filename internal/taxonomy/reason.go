// Package taxonomy defines the closed set of failure/recovery reason codes
// used throughout the control plane (spec §7). Reasons are typed constants
// rather than bare strings so handling of the taxonomy is exhaustiveness
// checkable at call sites that switch on it.
package taxonomy

// Reason is a closed-set failure/recovery code surfaced on tasks, jobs, and
// events.
type Reason string

// Input validation reasons, surfaced as HTTP 400 on create/dispatch.
const (
	MissingTitle          Reason = "missing_title"
	MissingGoal           Reason = "missing_goal"
	MissingFiles          Reason = "missing_files"
	MissingPins           Reason = "missing_pins"
	MissingPinsAllowlist  Reason = "missing_pins_allowlist"
	MissingRealTest       Reason = "missing_real_test"
	RolePolicyViolation   Reason = "role_policy_violation"
	MaxChildrenExceeded   Reason = "max_children_exceeded"
)

// Idempotency.
const (
	AlreadyDispatched Reason = "already_dispatched"
)

// Quality / fuse.
const (
	QualityGateBlocked Reason = "quality_gate_blocked"
	Fused              Reason = "fused"
	Quarantined        Reason = "quarantined"
)

// Executor runtime.
const (
	ExecutorError        Reason = "executor_error"
	Timeout              Reason = "timeout"
	MissingBinary        Reason = "missing_binary"
	WrongSubcommand      Reason = "wrong_subcommand"
	OcliBunInstallFailed Reason = "occli_bun_install_failed"
)

// Model.
const (
	RateLimited  Reason = "rate_limited"
	Unauthorized Reason = "unauthorized"
	Forbidden    Reason = "forbidden"
	NetworkError Reason = "network_error"
)

// Contract.
const (
	MissingSubmitContract Reason = "missing_submit_contract"
	SchemaViolation       Reason = "schema_violation"
)

// Verification.
const (
	CIFailed             Reason = "ci_failed"
	CISkipped            Reason = "ci_skipped"
	TestsOnlySelftest    Reason = "tests_only_task_selftest"
	NoAllowedCommand     Reason = "no_allowed_command"
)

// Pins.
const (
	PinsInsufficient      Reason = "pins_insufficient"
	MissingPinsTemplate   Reason = "missing_pins_template"
	PinsApplyFailed       Reason = "pins_apply_failed"
)

// Hygiene.
const (
	TouchedFileOutsideAllowPaths Reason = "touched_file_outside_allow_paths"
	MissingArtifactReportMD     Reason = "missing_artifact_report_md"
	MissingArtifactSelftestLog  Reason = "missing_artifact_selftest_log"
	MissingArtifactEvidenceDir  Reason = "missing_artifact_evidence_dir"
	MissingArtifactPatchDiff    Reason = "missing_artifact_patch_diff"
	MissingArtifactSubmitJSON   Reason = "missing_artifact_submit_json"
	ArtifactOutOfRoot           Reason = "artifact_out_of_root"
)

// Infra.
const (
	JobMissing       Reason = "job_missing"
	JobLeaseExpired  Reason = "job_lease_expired"
	CanceledByLeader Reason = "canceled_by_leader"
)

// recoverable is the set of reasons for which the system performs local
// recovery (retry / create fixup / reset status). Every other reason is
// terminal until an operator intervenes.
var recoverable = map[Reason]bool{
	Timeout:             true,
	RateLimited:         true,
	Unauthorized:        true,
	Forbidden:           true,
	CIFailed:            true,
	CISkipped:           true,
	NoAllowedCommand:    true,
	PinsInsufficient:    true,
	MissingPinsTemplate: true,
	JobMissing:          true,
	JobLeaseExpired:     true,
}

// Recoverable reports whether the control plane has a named bounded-recovery
// loop for this reason. Unknown/unlisted reasons are treated as terminal.
func (r Reason) Recoverable() bool { return recoverable[r] }

// String implements fmt.Stringer.
func (r Reason) String() string { return string(r) }
