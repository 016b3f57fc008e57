// Package controlplane wires every component described by spec §2-§9 into
// one explicitly owned aggregate (spec §9: "File-global singletons...
// become explicitly owned state in a ControlPlane aggregate"). Grounded on
// the teacher's main.go/engine.go construction sequence: build every
// dependency from a single config struct, open the event log first so
// every later constructor can emit into it, then start the bounded
// background loops as goroutines tied to one cancellable context.
package controlplane

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kilroy-labs/factoryctl/internal/config"
	"github.com/kilroy-labs/factoryctl/internal/contextpack"
	"github.com/kilroy-labs/factoryctl/internal/degrade"
	"github.com/kilroy-labs/factoryctl/internal/dispatch"
	"github.com/kilroy-labs/factoryctl/internal/eventlog"
	"github.com/kilroy-labs/factoryctl/internal/executor"
	"github.com/kilroy-labs/factoryctl/internal/fixup"
	"github.com/kilroy-labs/factoryctl/internal/httpapi"
	"github.com/kilroy-labs/factoryctl/internal/jobqueue"
	"github.com/kilroy-labs/factoryctl/internal/logging"
	"github.com/kilroy-labs/factoryctl/internal/modelrouter"
	"github.com/kilroy-labs/factoryctl/internal/taskboard"
	"github.com/kilroy-labs/factoryctl/internal/verdict"
)

// ControlPlane owns every long-lived component and the goroutines that
// drive them. Nothing outside this package reaches into package-level
// state: cmd/factoryd constructs exactly one ControlPlane per process.
type ControlPlane struct {
	Config  *config.File
	Logger  *log.Logger
	Events  *eventlog.Writer

	Board   *taskboard.Board
	Queue   *jobqueue.Queue
	Workers *jobqueue.WorkerRegistry
	Builder *contextpack.Builder
	Router  *modelrouter.Router

	RolePolicy *dispatch.RolePolicy
	Quality    *dispatch.QualityGate
	Degrade    *degrade.Engine
	Gate       *dispatch.Gate
	Fixup      *fixup.Loops
	Pipeline   *verdict.Pipeline

	Drivers map[taskboard.Executor]executor.Driver

	HTTP *httpapi.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// defaultRoleRules is the control plane's built-in role/path policy (spec
// §3 roles, §4.H preflight "role/patch paths outside role policy"):
// planning and review roles may touch anything, execution roles are
// confined to source/test trees.
func defaultRoleRules() map[taskboard.Role]dispatch.RoleRule {
	restricted := dispatch.RoleRule{
		Unrestricted:    false,
		AllowedPrefixes: []string{"src/", "internal/", "pkg/", "cmd/", "test/", "tests/"},
	}
	unrestricted := dispatch.RoleRule{Unrestricted: true}
	return map[taskboard.Role]dispatch.RoleRule{
		taskboard.RoleDesigner:       unrestricted,
		taskboard.RoleArchitect:      unrestricted,
		taskboard.RoleIntegrator:     unrestricted,
		taskboard.RoleEngineer:       restricted,
		taskboard.RoleQA:             restricted,
		taskboard.RoleDoc:            unrestricted,
		taskboard.RoleAuditor:        unrestricted,
		taskboard.RoleStatusReview:   unrestricted,
		taskboard.RoleFactoryManager: unrestricted,
		taskboard.RolePinser:         restricted,
	}
}

// New constructs every component from cfg's paths, rooted under
// cfg.StateRoot, and opens the shared event log. It does not start any
// background loop; call Start for that.
func New(ctx context.Context, cfg *config.File, logger *log.Logger) (*ControlPlane, error) {
	if logger == nil {
		logger = logging.New("factoryd")
	}
	root := cfg.StateRoot
	if root == "" {
		root = "artifacts"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir state root: %w", err)
	}

	events, err := eventlog.OpenChained(filepath.Join(root, "events.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	rolePolicy, err := dispatch.NewRolePolicy(ctx, defaultRoleRules())
	if err != nil {
		return nil, fmt.Errorf("compile role policy: %w", err)
	}
	boardRolePolicy := func(role taskboard.Role, paths []string) bool {
		allowed, err := rolePolicy.Allowed(ctx, role, paths)
		return err == nil && allowed
	}

	board := taskboard.New(filepath.Join(root, "board.json"), events, logging.New("board"), taskboard.Options{
		InferEnabled:    true,
		CIEnforcementOn: cfg.CIGate.Enabled,
		AutoSelftestOK:  !cfg.CIGate.Strict,
		ChildBudget:     taskboard.DefaultChildBudget,
		RolePolicy:      boardRolePolicy,
	})

	caps := jobqueue.ExecutorCaps{
		Codex:       cfg.ExecutorConcurrency.Codex,
		OpenCodeCLI: cfg.ExecutorConcurrency.OpenCodeCLI,
	}
	queue := jobqueue.New(filepath.Join(root, "jobs.json"), events, logging.New("queue"), caps)
	workers := jobqueue.NewWorkerRegistry()

	builder := contextpack.NewBuilder([]string{"."})
	router := modelrouter.New(modelrouter.Mode(cfg.ModelRoutingMode), filepath.Join(root, "router_state.json"))

	quality := dispatch.NewQualityGate(time.Duration(cfg.Quality.WindowMs) * time.Millisecond)

	degradeEngine, err := degrade.NewEngine(ctx, cfg.Fixup.FuseQueueThreshold, events)
	if err != nil {
		return nil, fmt.Errorf("construct degradation engine: %w", err)
	}

	modelPools := map[taskboard.Executor][]string{
		taskboard.ExecutorCodex:       cfg.ModelPools.Free,
		taskboard.ExecutorOpenCodeCLI: cfg.ModelPools.Free,
	}

	fixupCfg := fixup.DefaultConfig()
	fixupCfg.CIFixupCapPerTask = cfg.Fixup.CIFixupCap
	fixupCfg.PinsFixupCapPerTask = cfg.Fixup.PinsFixupCap
	loops := &fixup.Loops{Board: board, Queue: queue, Events: events, Config: fixupCfg, Fuse: degradeEngine.Fuse}

	gate := &dispatch.Gate{
		Board:      board,
		Queue:      queue,
		Builder:    builder,
		Router:     router,
		RolePolicy: rolePolicy,
		Quality:    quality,
		Quarantine: degradeEngine,
		Events:     events,
		Config: dispatch.Config{
			QualityGateThreshold:  cfg.Quality.Threshold,
			QualityGateMinSamples: cfg.Quality.MinSamples,
			DesiredOpenCodeRatio:  cfg.Dispatch.DesiredOpenCodeRatio,
			DefaultTimeoutMs:      cfg.ExecutorTimeouts.CodexMs,
			ContextPackMaxBytes:   contextpack.DefaultMaxBytes,
			RequirePinsTemplate:   cfg.Dispatch.RequirePinsTemplate,
			PreferredModelTag:     cfg.ModelPools.PreferredTag,
		},
		ModelPoolFn: func(ex taskboard.Executor) []string { return modelPools[ex] },
		Fixup:       loops,
	}

	pipeline := &verdict.Pipeline{
		Board:    board,
		Queue:    queue,
		Fixup:    loops,
		Events:   events,
		Log:      logger,
		Breakers: degradeEngine.Breakers,
		CIGate: verdict.CIGateConfig{
			Enabled:            cfg.CIGate.Enabled,
			AllowAll:           cfg.CIGate.AllowAll,
			TimeoutMs:          cfg.CIGate.TimeoutMs,
			CWD:                cfg.CIGate.CWD,
			EvidenceDir:        filepath.Join(root, "executor_logs", "ci_evidence"),
			AntiForgerySinceMs: cfg.CIGate.AntiForgerySinceMs,
		},
		RequireSubmit: map[taskboard.Executor]bool{
			taskboard.ExecutorCodex:       true,
			taskboard.ExecutorOpenCodeCLI: cfg.OCCLIRequireSubmit,
		},
		RequireCIGate: cfg.CIGate.Enabled && cfg.CIGate.Strict,
	}

	home := filepath.Join(root, "executor_home")
	drivers := map[taskboard.Executor]executor.Driver{
		taskboard.ExecutorCodex:       &executor.CodexDriver{Bin: "codex", Root: ".", Home: home},
		taskboard.ExecutorOpenCodeCLI: &executor.OpenCodeDriver{Bin: "opencode", Root: ".", Home: home},
	}

	cpCtx, cancel := context.WithCancel(ctx)
	return &ControlPlane{
		Config:     cfg,
		Logger:     logger,
		Events:     events,
		Board:      board,
		Queue:      queue,
		Workers:    workers,
		Builder:    builder,
		Router:     router,
		RolePolicy: rolePolicy,
		Quality:    quality,
		Degrade:    degradeEngine,
		Gate:       gate,
		Fixup:      loops,
		Pipeline:   pipeline,
		Drivers:    drivers,
		ctx:        cpCtx,
		cancel:     cancel,
	}, nil
}

// BuildHTTP creates a fresh httpapi.Broadcaster and builds the HTTP server
// over c's components; the broadcaster is not fed from Events. Must run
// after New; kept separate so tests can construct a
// ControlPlane without binding a listener.
func (c *ControlPlane) BuildHTTP(addr string) {
	broadcast := httpapi.NewBroadcaster(500)
	c.HTTP = httpapi.New(addr, httpapi.Deps{
		Board:     c.Board,
		Queue:     c.Queue,
		Workers:   c.Workers,
		Builder:   c.Builder,
		Router:    c.Router,
		Gate:      c.Gate,
		Pipeline:  c.Pipeline,
		Fixup:     c.Fixup,
		Degrade:   c.Degrade,
		Events:    c.Events,
		EventLog:  filepath.Join(c.Config.StateRoot, "events.jsonl"),
		Config:    c.Config,
		Broadcast: broadcast,
		Logger:    c.Logger,
	})
}

// internalExecutors is the fixed set of executors the in-process scheduler
// drives directly, as opposed to external.Claim which serves any executor
// a registered worker declares (spec §4.E "internal vs external runner").
func (c *ControlPlane) internalExecutors() []taskboard.Executor {
	return []taskboard.Executor{taskboard.ExecutorCodex, taskboard.ExecutorOpenCodeCLI}
}

// runInternalJob executes one internally-scheduled job to completion via
// its driver and immediately runs the verdict pipeline, mirroring what the
// HTTP completion handler does for externally-claimed jobs (spec §4.F/§4.I).
func (c *ControlPlane) runInternalJob(job *jobqueue.Job) {
	driver, ok := c.Drivers[job.Executor]
	if !ok {
		_, _ = c.Queue.Finish(job.ID, jobqueue.StatusFailed, -1, "", "no driver registered for executor", "executor_unavailable")
		return
	}
	res, err := driver.Run(c.ctx, job.Prompt, job.Model, job.TimeoutMs)
	if err != nil {
		reason := string(verdict.ClassifyExecutorFailure(false, -1, err.Error()))
		_, _ = c.Queue.Finish(job.ID, jobqueue.StatusFailed, -1, res.Stdout, err.Error(), reason)
		return
	}
	status := jobqueue.StatusDone
	reason := ""
	if !res.OK {
		status = jobqueue.StatusFailed
		reason = string(verdict.ClassifyExecutorFailure(res.TimedOut, res.ExitCode, res.Stderr))
	}
	if _, ok := c.Queue.Finish(job.ID, status, res.ExitCode, res.Stdout, res.Stderr, reason); !ok {
		return
	}
	if _, _, err := c.Pipeline.Run(c.ctx, job.ID, ""); err != nil {
		c.Logger.Printf("verdict pipeline: job %s: %v", job.ID, err)
	}
}

// Start launches the bounded background loops (spec §4.E scheduler tick
// and lease sweep, §4.J timeout/stale/autorescue/watchdog recovery), each
// ticking independently until ctx is cancelled.
func (c *ControlPlane) Start() {
	c.loopEvery(250*time.Millisecond, func() {
		c.Queue.Schedule(c.internalExecutors(), c.runInternalJob)
	})
	c.loopEvery(2*time.Second, func() {
		expired := c.Queue.SweepExpiredLeases(time.Now().UTC(), c.Workers)
		for _, j := range expired {
			_, _ = c.Fixup.TimeoutRequeue(j.TaskID, j.ID)
		}
	})
	c.loopEvery(3*time.Second, c.evaluateDegradation)
	c.loopEvery(5*time.Second, func() {
		if c.Degrade.HooksDisabled() {
			return
		}
		c.Fixup.StaleTaskRecovery(time.Now().UTC())
	})
	c.loopEvery(10*time.Second, func() {
		if c.Degrade.HooksDisabled() {
			return
		}
		c.Fixup.Autorescue()
	})
	warned := map[string]bool{}
	c.loopEvery(15*time.Second, func() {
		if c.Degrade.HooksDisabled() {
			return
		}
		c.Fixup.Watchdog(time.Now().UTC(), fixup.WatchdogThresholds{
			LongRunning: map[taskboard.Executor]time.Duration{
				taskboard.ExecutorCodex:       20 * time.Minute,
				taskboard.ExecutorOpenCodeCLI: 20 * time.Minute,
			},
			FloorByExecutor: map[taskboard.Executor]int{
				taskboard.ExecutorCodex:       1,
				taskboard.ExecutorOpenCodeCLI: 1,
			},
		}, warned)
	})
}

// evaluateDegradation computes the queue_overload/breaker_open/quality_blocked
// signals (spec §4.K) and runs the degradation matrix against them, tightening
// or restoring the queue's WIP caps according to the matched entry's actions.
// The fixup "hooks" loops above consult Degrade.HooksDisabled() directly
// rather than being paused from here, since they're gated per-tick, not
// started/stopped.
func (c *ControlPlane) evaluateDegradation() {
	queued := 0
	for _, j := range c.Queue.List() {
		if j.Status == jobqueue.StatusQueued {
			queued++
		}
	}
	signals := degrade.Signals{
		"queue_overload":  queued >= c.Config.Fixup.FuseQueueThreshold,
		"breaker_open":    c.Degrade.Breakers.AnyOpen(),
		"quality_blocked": c.Quality.AnyBlocked(c.Config.Quality.Threshold, c.Config.Quality.MinSamples),
	}
	if _, _, err := c.Degrade.Evaluate(c.ctx, signals); err != nil {
		c.Logger.Printf("degradation matrix evaluate: %v", err)
		return
	}
	if c.Degrade.WIPCapsTightened() {
		c.Queue.TightenCaps()
	} else {
		c.Queue.RestoreCaps()
	}
}

func (c *ControlPlane) loopEvery(interval time.Duration, fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// Shutdown cancels every background loop, waits for them to drain, and
// closes the event log.
func (c *ControlPlane) Shutdown() error {
	c.cancel()
	c.wg.Wait()
	return c.Events.Close()
}
