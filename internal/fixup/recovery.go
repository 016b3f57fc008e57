package fixup

import (
	"time"

	"github.com/kilroy-labs/factoryctl/internal/eventlog"
	"github.com/kilroy-labs/factoryctl/internal/jobqueue"
	"github.com/kilroy-labs/factoryctl/internal/taskboard"
	"github.com/kilroy-labs/factoryctl/internal/taxonomy"
)

// StaleTaskRecovery implements spec §4.J "Stale-task recovery": any atomic
// task in in_progress whose lastJob is missing and age >= stale threshold
// reverts to ready with reason job_missing; parents in in_progress without
// a split job become needs_split.
func (l *Loops) StaleTaskRecovery(now time.Time) int {
	threshold := time.Duration(l.Config.StaleThresholdMs) * time.Millisecond
	recovered := 0
	for _, t := range l.Board.List() {
		if t.Status != taskboard.StatusInProgress {
			continue
		}
		age := now.Sub(t.CreatedAt)
		if age < threshold {
			continue
		}
		if t.Kind == taskboard.KindAtomic {
			if _, active := l.Queue.ActiveForTask(t.ID); active {
				continue
			}
			_, err := l.Board.AdminSetStatus(t.ID, taskboard.StatusReady, string(taxonomy.JobMissing))
			if err != nil {
				continue
			}
			recovered++
			l.emit(eventlog.Warn(eventlog.TypeStaleTaskRecovered, map[string]any{"task_id": t.ID, "reason": taxonomy.JobMissing}))
		} else if t.Kind == taskboard.KindParent {
			if _, active := l.Queue.ActiveForTask(t.ID); active {
				continue
			}
			_, err := l.Board.AdminSetStatus(t.ID, taskboard.StatusNeedsSplit, "")
			if err != nil {
				continue
			}
			recovered++
		}
	}
	return recovered
}

// Autorescue implements spec §4.J "Autorescue": if an external job has
// accumulated attempts >= cap, cancel it and flip the task to ready with
// runner=internal.
func (l *Loops) Autorescue() int {
	rescued := 0
	for _, j := range l.Queue.List() {
		if j.Runner != taskboard.RunnerExternal || !j.IsActive() {
			continue
		}
		if j.Attempts < l.Config.AutorescueAttemptCap {
			continue
		}
		if _, err := l.Queue.Cancel(j.ID); err != nil {
			continue
		}
		_, err := l.Board.Mutate(j.TaskID, func(task *taskboard.Task) error {
			task.Status = taskboard.StatusReady
			task.RunnerHint = taskboard.RunnerInternal
			return nil
		})
		if err != nil {
			continue
		}
		rescued++
		l.emit(eventlog.Info("autorescue", map[string]any{"task_id": j.TaskID, "job_id": j.ID}))
	}
	return rescued
}

// WatchdogThresholds configures the long-running-job and
// underutilization emitters (spec §4.J "Long-running watchdog").
type WatchdogThresholds struct {
	LongRunning map[taskboard.Executor]time.Duration
	FloorByExecutor map[taskboard.Executor]int
}

// Watchdog emits job_long_running once per job exceeding its
// executor-specific threshold, and underutilized if queued>0 and
// running<floor.
func (l *Loops) Watchdog(now time.Time, thresholds WatchdogThresholds, alreadyWarned map[string]bool) {
	var queued, running int
	runningByExecutor := map[taskboard.Executor]int{}
	for _, j := range l.Queue.List() {
		switch j.Status {
		case jobqueue.StatusQueued:
			queued++
		case jobqueue.StatusRunning:
			running++
			runningByExecutor[j.Executor]++
			threshold, ok := thresholds.LongRunning[j.Executor]
			if !ok {
				continue
			}
			if now.Sub(j.StartedAt) >= threshold && !alreadyWarned[j.ID] {
				alreadyWarned[j.ID] = true
				l.emit(eventlog.Warn(eventlog.TypeJobLongRunning, map[string]any{"job_id": j.ID, "executor": j.Executor}))
			}
		}
	}
	for executor, floor := range thresholds.FloorByExecutor {
		if queued > 0 && runningByExecutor[executor] < floor {
			l.emit(eventlog.Warn(eventlog.TypeUnderutilized, map[string]any{"executor": executor, "queued": queued, "running": runningByExecutor[executor]}))
		}
	}
}
