package executor

import (
	"context"
	"os/exec"
)

// OpenCodeDriver execs the configured opencode-like binary with
// "run --format json --model <m> --variant <v>" and the prompt as a single
// argv element, disabling project-local config via explicit env overrides
// (spec §4.F "OpenCode-like").
type OpenCodeDriver struct {
	Bin           string
	Root          string
	Home          string
	Variant       string
	ConfigContent string
}

// Name implements Driver.
func (d *OpenCodeDriver) Name() string { return "opencodecli" }

// Health checks that the binary is resolvable on PATH; it does not run it.
func (d *OpenCodeDriver) Health(ctx context.Context) error {
	if _, err := exec.LookPath(d.Bin); err != nil {
		return err
	}
	return nil
}

// Run implements Driver.
func (d *OpenCodeDriver) Run(ctx context.Context, prompt, model string, timeoutMs int) (RunResult, error) {
	variant := d.Variant
	if variant == "" {
		variant = "default"
	}
	argv := []string{d.Bin, "run", "--format", "json", "--model", model, "--variant", variant, prompt}
	overrides := map[string]string{
		"OPENCODE_DISABLE_PROJECT_CONFIG": "true",
		"OPENCODE_CONFIG_CONTENT":         d.ConfigContent,
	}
	env := IsolatedEnv(d.Home, overrides)
	res := Spawn(ctx, argv, "", env, d.Root, timeoutDuration(timeoutMs, DefaultTimeout), 0)
	return res, nil
}
