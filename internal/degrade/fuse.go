package degrade

import (
	"fmt"
	"sync"

	"github.com/kilroy-labs/factoryctl/internal/eventlog"
)

// Fuse rejects new fixup-child creation once the queue backlog crosses a
// threshold, to stop a failure storm from spawning an unbounded number of
// fixup children (spec §4.K "Fixup fuse").
type Fuse struct {
	mu        sync.Mutex
	threshold int
	tripped   bool
	events    *eventlog.Writer
}

// NewFuse constructs a Fuse with the given queue-depth threshold.
func NewFuse(threshold int, events *eventlog.Writer) *Fuse {
	return &Fuse{threshold: threshold, events: events}
}

// ErrFused is returned by Check when the fuse is tripped.
var ErrFused = fmt.Errorf("fused")

// Check evaluates the current queued-job count against the threshold and
// returns ErrFused if fixup-child creation should be rejected.
func (f *Fuse) Check(queuedCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tripped := f.threshold > 0 && queuedCount >= f.threshold
	if tripped && !f.tripped {
		f.tripped = true
		f.emit(eventlog.Warn(eventlog.TypeFixupFused, map[string]any{"queuedCount": queuedCount, "threshold": f.threshold}))
	} else if !tripped {
		f.tripped = false
	}
	if tripped {
		return ErrFused
	}
	return nil
}

func (f *Fuse) emit(e eventlog.Event) {
	if f.events == nil {
		return
	}
	_ = f.events.Append(e)
}
