// Package degrade implements the degradation subsystem (spec §4.K):
// per-cluster circuit breakers, quarantine, the fixup fuse, and a
// declarative degradation matrix. Grounded on the teacher's engine.go
// escalation-state tracking for the breaker/quarantine state shape and on
// dispatch/policy.go for the embedded-Rego evaluation pattern used by the
// matrix.
package degrade

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kilroy-labs/factoryctl/internal/eventlog"
	"github.com/kilroy-labs/factoryctl/internal/taskboard"
	"github.com/kilroy-labs/factoryctl/internal/taxonomy"
)

// ClusterKey identifies a failure cluster (spec §4.K "cluster key").
type ClusterKey struct {
	Reason    taxonomy.Reason
	Signature string
	Role      taskboard.Role
	TaskClass string
	Executor  taskboard.Executor
}

// String renders the cluster key as a stable map key.
func (k ClusterKey) String() string {
	return string(k.Reason) + "|" + k.Signature + "|" + string(k.Role) + "|" + k.TaskClass + "|" + string(k.Executor)
}

// BreakerConfig tunes the per-cluster circuit breakers.
type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenCooldown        time.Duration
	MaxCooldown         time.Duration
	HalfOpenMaxCalls    uint32
}

// DefaultBreakerConfig mirrors conservative defaults: trip after 5
// consecutive failures, 30s open cooldown. MaxCooldown is set to 10 minutes
// but nothing in BreakerSet reads it.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenCooldown:        30 * time.Second,
		MaxCooldown:         10 * time.Minute,
		HalfOpenMaxCalls:    1,
	}
}

// BreakerSet owns one gobreaker.CircuitBreaker per cluster key, created
// lazily. Every open, including a reopen after a failed half-open probe,
// lasts the same OpenCooldown: openCount records how often a breaker has
// opened, but the cooldown does not grow with it.
type BreakerSet struct {
	mu       sync.Mutex
	breakers map[string]*clusterBreaker
	cfg      BreakerConfig
	events   *eventlog.Writer
}

type clusterBreaker struct {
	cb          *gobreaker.CircuitBreaker
	openCount   int
	lastState   gobreaker.State
}

// NewBreakerSet constructs an empty breaker set.
func NewBreakerSet(cfg BreakerConfig, events *eventlog.Writer) *BreakerSet {
	return &BreakerSet{breakers: map[string]*clusterBreaker{}, cfg: cfg, events: events}
}

func (s *BreakerSet) getOrCreate(key string) *clusterBreaker {
	if existing, ok := s.breakers[key]; ok {
		return existing
	}
	cb := &clusterBreaker{}
	settings := gobreaker.Settings{
		Name:        key,
		MaxRequests: s.cfg.HalfOpenMaxCalls,
		Interval:    0,
		Timeout:     s.cfg.OpenCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.onStateChange(name, from, to)
		},
	}
	cb.cb = gobreaker.NewCircuitBreaker(settings)
	s.breakers[key] = cb
	return cb
}

func (s *BreakerSet) onStateChange(key string, from, to gobreaker.State) {
	entry := s.breakers[key]
	if entry == nil {
		return
	}
	entry.lastState = to
	switch to {
	case gobreaker.StateOpen:
		entry.openCount++
		s.emit(eventlog.Warn(eventlog.TypeBreakerOpened, map[string]any{"cluster": key, "openCount": entry.openCount}))
	case gobreaker.StateHalfOpen:
		s.emit(eventlog.Info(eventlog.TypeBreakerHalfOpen, map[string]any{"cluster": key}))
	case gobreaker.StateClosed:
		s.emit(eventlog.Info(eventlog.TypeBreakerClosed, map[string]any{"cluster": key}))
	}
}

func (s *BreakerSet) emit(e eventlog.Event) {
	if s.events == nil {
		return
	}
	_ = s.events.Append(e)
}

// RecordOutcome reports a success or failure for the cluster, advancing its
// breaker's internal counts.
func (s *BreakerSet) RecordOutcome(key ClusterKey, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.getOrCreate(key.String())
	_, _ = entry.cb.Execute(func() (any, error) {
		if failed {
			return nil, errFailure
		}
		return nil, nil
	})
}

var errFailure = breakerFailure{}

type breakerFailure struct{}

func (breakerFailure) Error() string { return "cluster_failure" }

// Open reports whether the cluster's breaker currently blocks dispatch
// (state=open; half-open lets a probe call through).
func (s *BreakerSet) Open(key ClusterKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.breakers[key.String()]
	if !ok {
		return false
	}
	return entry.cb.State() == gobreaker.StateOpen
}

// AnyOpen reports whether any cluster breaker is currently open, the
// breaker_open signal fed into the degradation matrix (spec §4.K).
func (s *BreakerSet) AnyOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.breakers {
		if entry.cb.State() == gobreaker.StateOpen {
			return true
		}
	}
	return false
}
