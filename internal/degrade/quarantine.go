package degrade

import (
	"sync"
	"time"

	"github.com/kilroy-labs/factoryctl/internal/eventlog"
	"github.com/kilroy-labs/factoryctl/internal/taskboard"
)

// DefaultQuarantineAllowlist is the set of roles/classes still permitted to
// dispatch while quarantine is active (spec §4.K).
var DefaultQuarantineAllowlist = QuarantineAllowlist{
	Roles:      map[taskboard.Role]bool{taskboard.RoleFactoryManager: true},
	TaskClasses: map[string]bool{"ci_fixup_v1": true, "pins_fixup_v1": true},
}

// QuarantineAllowlist names the roles/classes that remain dispatchable
// during quarantine.
type QuarantineAllowlist struct {
	Roles       map[taskboard.Role]bool
	TaskClasses map[string]bool
}

func (a QuarantineAllowlist) permits(role taskboard.Role, taskClass string) bool {
	if a.Roles[role] {
		return true
	}
	if taskClass != "" && a.TaskClasses[taskClass] {
		return true
	}
	return false
}

// Quarantine is the global degradation flag (spec §4.K "Quarantine").
type Quarantine struct {
	mu        sync.Mutex
	active    bool
	since     time.Time
	allowlist QuarantineAllowlist
	events    *eventlog.Writer
}

// NewQuarantine constructs a Quarantine gate using the default allowlist.
func NewQuarantine(events *eventlog.Writer) *Quarantine {
	return &Quarantine{allowlist: DefaultQuarantineAllowlist, events: events}
}

// Enter raises quarantine.
func (q *Quarantine) Enter() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active {
		return
	}
	q.active = true
	q.since = time.Now().UTC()
	q.emit(eventlog.Warn(eventlog.TypeQuarantineEntered, map[string]any{"since": q.since}))
}

// Exit lowers quarantine.
func (q *Quarantine) Exit() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.active {
		return
	}
	q.active = false
	q.emit(eventlog.Info(eventlog.TypeQuarantineExited, map[string]any{}))
}

// Active reports whether quarantine is currently in effect.
func (q *Quarantine) Active() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Blocked implements dispatch.QuarantineChecker: a role/class is blocked
// only while quarantine is active and it is not on the allowlist.
func (q *Quarantine) Blocked(role taskboard.Role, taskClass string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.active {
		return false
	}
	return !q.allowlist.permits(role, taskClass)
}

func (q *Quarantine) emit(e eventlog.Event) {
	if q.events == nil {
		return
	}
	_ = q.events.Append(e)
}
