package executor

import (
	"context"
	"testing"
	"time"
)

func TestSpawnCapturesStdoutAndExitCode(t *testing.T) {
	res := Spawn(context.Background(), []string{"/bin/sh", "-c", "cat; exit 0"}, "hello", nil, ".", 2*time.Second, 0)
	if !res.OK {
		t.Fatalf("expected ok, got %+v", res)
	}
	if res.Stdout != "hello" {
		t.Fatalf("stdout = %q, want %q", res.Stdout, "hello")
	}
	if res.TimedOut {
		t.Fatal("did not expect timeout")
	}
}

func TestSpawnReportsNonZeroExit(t *testing.T) {
	res := Spawn(context.Background(), []string{"/bin/sh", "-c", "exit 7"}, "", nil, ".", 2*time.Second, 0)
	if res.OK {
		t.Fatal("expected not-ok for nonzero exit")
	}
	if res.ExitCode != 7 {
		t.Fatalf("exit code = %d, want 7", res.ExitCode)
	}
}

func TestSpawnHardTimeoutKillsChild(t *testing.T) {
	start := time.Now()
	res := Spawn(context.Background(), []string{"/bin/sh", "-c", "sleep 5"}, "", nil, ".", 200*time.Millisecond, 50*time.Millisecond)
	if !res.TimedOut {
		t.Fatal("expected timedOut=true")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("spawn took too long to kill child")
	}
}

func TestIsolatedEnvScrubsConflictingProviders(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "leaked")
	t.Setenv("OPENAI_API_KEY", "also-leaked")
	env := IsolatedEnv("/tmp/isolated-home", map[string]string{"FOO": "bar"})
	for _, kv := range env {
		if len(kv) >= 10 && kv[:10] == "ANTHROPIC_" {
			t.Fatalf("expected ANTHROPIC_ vars scrubbed, found %q", kv)
		}
	}
}
