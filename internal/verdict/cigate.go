package verdict

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kilroy-labs/factoryctl/internal/executor"
	"github.com/kilroy-labs/factoryctl/internal/jobqueue"
)

// AllowlistedTestPrefixes is the closed set of command prefixes the CI gate
// will execute on a task's behalf (spec §4.I step 3).
var AllowlistedTestPrefixes = []string{
	"python -m pytest", "pytest", "npm test", "pnpm test", "yarn test",
	"bun test", "go test", "cargo test", "dotnet test", "python selftest",
}

// DefaultCITimeout is the CI gate's default wall-clock budget (spec §4.I
// step 3 "timeout default 20 min").
const DefaultCITimeout = 20 * time.Minute

// CIGateConfig bundles the CI gate's tunables (spec §6 runtime.env
// CI_GATE_ENABLED/STRICT/ALLOW_ALL/TIMEOUT_MS/CWD, CI_ANTIFORGERY_SINCE_MS).
type CIGateConfig struct {
	Enabled            bool
	AllowAll           bool
	TimeoutMs          int
	CWD                string
	EvidenceDir        string
	AntiForgerySinceMs int64
}

func pickCommand(allowedTests []string, taskID, jobID, area string) (string, bool) {
	for _, raw := range allowedTests {
		lower := strings.ToLower(strings.TrimSpace(raw))
		for _, prefix := range AllowlistedTestPrefixes {
			if strings.HasPrefix(lower, prefix) {
				return substituteTemplates(raw, taskID, jobID, area), true
			}
		}
	}
	return "", false
}

func substituteTemplates(cmd, taskID, jobID, area string) string {
	cmd = strings.ReplaceAll(cmd, "{task_id}", taskID)
	cmd = strings.ReplaceAll(cmd, "{job_id}", jobID)
	cmd = strings.ReplaceAll(cmd, "{area}", area)
	return cmd
}

// RunCIGate implements spec §4.I step 3: pick an allowlisted command,
// execute it with anti-forgery evidence persistence, and report whether the
// evidence timing falls inside the job's start/finish window.
func RunCIGate(ctx context.Context, cfg CIGateConfig, job *jobqueue.Job, area string) *jobqueue.CIGateResult {
	if !cfg.Enabled {
		return nil
	}
	command, ok := pickCommand(job.AllowedTests, job.TaskID, job.ID, area)
	if !ok {
		if cfg.AllowAll {
			return &jobqueue.CIGateResult{OK: true, Reason: "ci_skipped_allow_all", EvidenceValid: true}
		}
		return &jobqueue.CIGateResult{OK: false, Reason: "no_allowed_command"}
	}

	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = DefaultCITimeout
	}

	started := time.Now().UTC()
	result := executor.Spawn(ctx, []string{"/bin/sh", "-c", command}, "", os.Environ(), cfg.CWD, timeout, 0)
	finished := time.Now().UTC()

	stdoutPath, stdoutSum, errOut := persistEvidence(cfg.EvidenceDir, started, "stdout", result.Stdout)
	stderrPath, stderrSum, errErr := persistEvidence(cfg.EvidenceDir, started, "stderr", result.Stderr)

	gate := &jobqueue.CIGateResult{
		OK:           result.OK && result.ExitCode == 0,
		Command:      command,
		ExitCode:     result.ExitCode,
		StdoutPath:   stdoutPath,
		StderrPath:   stderrPath,
		StdoutSHA256: stdoutSum,
		StderrSHA256: stderrSum,
		StartedAt:    started,
		FinishedAt:   finished,
	}
	if result.TimedOut {
		gate.Reason = "ci_timeout"
	}
	if errOut != nil || errErr != nil {
		gate.Reason = "evidence_write_failed"
		gate.EvidenceValid = false
		return gate
	}
	gate.EvidenceValid = evidenceWithinWindow(started, finished, job, cfg.AntiForgerySinceMs)
	return gate
}

func persistEvidence(dir string, started time.Time, kind, content string) (string, string, error) {
	if dir == "" {
		dir = "ci_gate"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	name := fmt.Sprintf("ci_%d_%s.%s.log", started.UnixNano()/int64(time.Millisecond), randHex(4), kind)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", "", err
	}
	sum := sha256.Sum256([]byte(content))
	return path, hex.EncodeToString(sum[:]), nil
}

func randHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// evidenceWithinWindow enforces the anti-forgery check (spec §4.I step 3):
// the gate's start/finish must fall inside the job's own start/finish
// window plus a small configured slop.
func evidenceWithinWindow(started, finished time.Time, job *jobqueue.Job, slopMs int64) bool {
	if job.StartedAt.IsZero() {
		return true
	}
	slop := time.Duration(slopMs) * time.Millisecond
	lowerBound := job.StartedAt.Add(-slop)
	var upperBound time.Time
	if !job.FinishedAt.IsZero() {
		upperBound = job.FinishedAt.Add(slop)
	} else {
		upperBound = finished.Add(slop)
	}
	if started.Before(lowerBound) {
		return false
	}
	if finished.After(upperBound) {
		return false
	}
	return true
}
