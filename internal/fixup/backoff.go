// Package fixup implements the bounded requeue and recovery loops (spec
// §4.J): timeout requeue, model-throttle ladder, CI/pins fixup child
// creation, stale-task recovery, autorescue, and the long-running
// watchdog. Grounded on the teacher's engine/backoff.go and
// failure_policy.go for the backoff/cooldown shape.
package fixup

import (
	"crypto/sha256"
	"encoding/binary"
)

// Config bundles the bounded-loop caps and cooldowns (spec §6 runtime.env:
// AUTO_REQUEUE_MODEL_FAILURES_MAX/_COOLDOWN_MS, CI_FIXUP_*, PINS_FIXUP_*).
type Config struct {
	TimeoutRetryCap      int
	TimeoutCooldownMs    int64
	ModelLadderCap       int
	ModelLadderCooldownMs int64
	CIFixupCapPerTask    int
	PinsFixupCapPerTask  int
	StaleThresholdMs     int64
	AutorescueAttemptCap int
}

// DefaultConfig mirrors the teacher's conservative defaults (defaultBackoffConfig
// in engine/backoff.go: small initial delay, capped growth).
func DefaultConfig() Config {
	return Config{
		TimeoutRetryCap:       3,
		TimeoutCooldownMs:     30_000,
		ModelLadderCap:        6,
		ModelLadderCooldownMs: 15_000,
		CIFixupCapPerTask:     2,
		PinsFixupCapPerTask:   2,
		StaleThresholdMs:      30 * 60 * 1000,
		AutorescueAttemptCap:  3,
	}
}

// jitterUnit returns a deterministic pseudo-random value in [0,1) seeded by
// seed, grounded on the teacher's sha256-seeded jitterUnit in
// engine/backoff.go (deterministic rather than math/rand, so retries are
// reproducible from logs).
func jitterUnit(seed string) float64 {
	sum := sha256.Sum256([]byte(seed))
	v := binary.BigEndian.Uint64(sum[:8])
	return float64(v) / float64(^uint64(0))
}

// CooldownWithJitter applies up to 20% deterministic jitter to baseMs,
// seeded by key (typically taskID+attempt), matching the teacher's
// DelayForAttempt jitter application.
func CooldownWithJitter(baseMs int64, key string) int64 {
	j := jitterUnit(key)
	return baseMs + int64(float64(baseMs)*0.2*j)
}
