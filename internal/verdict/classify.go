package verdict

import (
	"strings"

	"github.com/kilroy-labs/factoryctl/internal/taskboard"
	"github.com/kilroy-labs/factoryctl/internal/taxonomy"
)

// ClassifyExecutorFailure maps a non-zero/timed-out child-process outcome to
// a taxonomy reason (spec §7 Executor runtime / Model rows).
func ClassifyExecutorFailure(timedOut bool, exitCode int, stderr string) taxonomy.Reason {
	if timedOut {
		return taxonomy.Timeout
	}
	switch {
	case containsAny(stderr, "rate limit", "429"):
		return taxonomy.RateLimited
	case containsAny(stderr, "unauthorized", "401"):
		return taxonomy.Unauthorized
	case containsAny(stderr, "forbidden", "403"):
		return taxonomy.Forbidden
	case containsAny(stderr, "no such file or directory", "command not found", "executable file not found"):
		return taxonomy.MissingBinary
	case containsAny(stderr, "unknown command", "unrecognized subcommand"):
		return taxonomy.WrongSubcommand
	case containsAny(stderr, "econnrefused", "network is unreachable", "dial tcp"):
		return taxonomy.NetworkError
	default:
		return taxonomy.ExecutorError
	}
}

func containsAny(s string, subs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// TaskStatusForJobStatus maps a job's terminal status to the task status it
// drives (spec §4.I step 6 "Board update").
func TaskStatusForJobStatus(jobDone bool) taskboard.Status {
	if jobDone {
		return taskboard.StatusDone
	}
	return taskboard.StatusFailed
}
