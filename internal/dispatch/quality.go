package dispatch

import (
	"sync"
	"time"
)

// QualityGate tracks a rolling per-area outcome history and rejects
// dispatch when the recent failure rate meets or exceeds a threshold with
// enough samples (spec §4.H step 5).
type QualityGate struct {
	mu      sync.Mutex
	window  time.Duration
	samples map[string][]outcomeSample
}

type outcomeSample struct {
	at     time.Time
	failed bool
}

// NewQualityGate constructs a QualityGate with the given rolling window.
func NewQualityGate(window time.Duration) *QualityGate {
	if window <= 0 {
		window = 30 * time.Minute
	}
	return &QualityGate{window: window, samples: map[string][]outcomeSample{}}
}

// Record appends an outcome for area. Nothing in this repository calls it:
// the verdict pipeline does not record job outcomes here, so the gate only
// sees samples that a caller of Record supplies.
func (g *QualityGate) Record(area string, failed bool) {
	if area == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	g.samples[area] = append(prune(g.samples[area], now, g.window), outcomeSample{at: now, failed: failed})
}

func prune(in []outcomeSample, now time.Time, window time.Duration) []outcomeSample {
	out := in[:0]
	for _, s := range in {
		if now.Sub(s.at) <= window {
			out = append(out, s)
		}
	}
	return out
}

// FailureRate returns the recent failure rate and sample count for area.
func (g *QualityGate) FailureRate(area string) (rate float64, samples int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	list := prune(g.samples[area], time.Now(), g.window)
	g.samples[area] = list
	if len(list) == 0 {
		return 0, 0
	}
	failed := 0
	for _, s := range list {
		if s.failed {
			failed++
		}
	}
	return float64(failed) / float64(len(list)), len(list)
}

// Blocked reports whether area's recent failure rate meets or exceeds
// threshold with at least minSamples observations (spec §4.H step 5).
func (g *QualityGate) Blocked(area string, threshold float64, minSamples int) bool {
	if area == "" {
		return false
	}
	rate, samples := g.FailureRate(area)
	return samples >= minSamples && rate >= threshold
}

// AnyBlocked reports whether any tracked area is currently blocked, the
// quality_blocked signal fed into the degradation matrix (spec §4.K).
func (g *QualityGate) AnyBlocked(threshold float64, minSamples int) bool {
	g.mu.Lock()
	areas := make([]string, 0, len(g.samples))
	for area := range g.samples {
		areas = append(areas, area)
	}
	g.mu.Unlock()
	for _, area := range areas {
		if g.Blocked(area, threshold, minSamples) {
			return true
		}
	}
	return false
}
