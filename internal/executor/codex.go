package executor

import (
	"context"
	"os/exec"
	"time"
)

// DefaultTimeout is used when a job does not specify a timeoutMs.
const DefaultTimeout = 10 * time.Minute

// CodexDriver execs the configured codex-like binary with
// "exec --model <m> --sandbox read-only --skip-git-repo-check --json",
// piping the prompt on stdin (spec §4.F "Codex-like").
type CodexDriver struct {
	Bin  string
	Root string
	Home string
}

// Name implements Driver.
func (d *CodexDriver) Name() string { return "codex" }

// Health checks that the binary is resolvable on PATH; it does not run it.
func (d *CodexDriver) Health(ctx context.Context) error {
	if _, err := exec.LookPath(d.Bin); err != nil {
		return err
	}
	return nil
}

// Run implements Driver.
func (d *CodexDriver) Run(ctx context.Context, prompt, model string, timeoutMs int) (RunResult, error) {
	argv := []string{d.Bin, "exec", "--model", model, "--sandbox", "read-only", "--skip-git-repo-check", "--json"}
	env := IsolatedEnv(d.Home, nil)
	res := Spawn(ctx, argv, prompt, env, d.Root, timeoutDuration(timeoutMs, DefaultTimeout), 0)
	return res, nil
}
