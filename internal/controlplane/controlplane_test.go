package controlplane

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kilroy-labs/factoryctl/internal/config"
	"github.com/kilroy-labs/factoryctl/internal/taskboard"
)

func newTestConfig(t *testing.T) *config.File {
	t.Helper()
	cfg, err := config.DecodeStrict([]byte("version: 1\n"))
	if err != nil {
		t.Fatalf("decode default config: %v", err)
	}
	cfg.StateRoot = filepath.Join(t.TempDir(), "state")
	return cfg
}

func TestNewWiresEveryComponent(t *testing.T) {
	cfg := newTestConfig(t)
	cp, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = cp.Shutdown() })

	if cp.Board == nil || cp.Queue == nil || cp.Workers == nil || cp.Builder == nil || cp.Router == nil {
		t.Fatalf("core components not constructed: %+v", cp)
	}
	if cp.RolePolicy == nil || cp.Quality == nil || cp.Degrade == nil || cp.Gate == nil {
		t.Fatalf("dispatch-side components not constructed: %+v", cp)
	}
	if cp.Fixup == nil || cp.Pipeline == nil {
		t.Fatalf("fixup/verdict components not constructed: %+v", cp)
	}
	if cp.Gate.Quarantine == nil {
		t.Fatalf("gate's quarantine checker not wired to the degradation engine")
	}
	if cp.Gate.Fixup != cp.Fixup {
		t.Fatalf("gate's fixup loops not the same instance as the control plane's")
	}
	if cp.Fixup.Fuse != cp.Degrade.Fuse {
		t.Fatalf("fixup loops not sharing the degradation engine's fuse")
	}
	if cp.Pipeline.Breakers != cp.Degrade.Breakers {
		t.Fatalf("verdict pipeline not sharing the degradation engine's breaker set")
	}
	if len(cp.Drivers) != 2 {
		t.Fatalf("len(Drivers) = %d, want 2", len(cp.Drivers))
	}
}

func TestRolePolicyRestrictsEngineerToSourceTrees(t *testing.T) {
	cfg := newTestConfig(t)
	cp, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = cp.Shutdown() })

	allowed, err := cp.RolePolicy.Allowed(context.Background(), taskboard.RoleEngineer, []string{"internal/foo/foo.go"})
	if err != nil || !allowed {
		t.Fatalf("engineer on internal/: allowed=%v err=%v, want true/nil", allowed, err)
	}

	allowed, err = cp.RolePolicy.Allowed(context.Background(), taskboard.RoleEngineer, []string{"docs/readme.md"})
	if err != nil || allowed {
		t.Fatalf("engineer on docs/: allowed=%v err=%v, want false/nil", allowed, err)
	}

	allowed, err = cp.RolePolicy.Allowed(context.Background(), taskboard.RoleDesigner, []string{"docs/readme.md"})
	if err != nil || !allowed {
		t.Fatalf("designer on docs/: allowed=%v err=%v, want true/nil", allowed, err)
	}
}

func TestStartAndShutdownDrainsLoops(t *testing.T) {
	cfg := newTestConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cp, err := New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cp.Start()

	done := make(chan error, 1)
	go func() { done <- cp.Shutdown() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown did not return within 5s; a background loop is not draining")
	}
}
