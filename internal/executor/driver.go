package executor

import (
	"context"
	"time"
)

// Driver is the shared interface for internal executor runners (spec
// §4.F): "Two drivers with identical interface run(prompt, model,
// timeoutMs)".
type Driver interface {
	Name() string
	Health(ctx context.Context) error
	Run(ctx context.Context, prompt, model string, timeoutMs int) (RunResult, error)
}

func timeoutDuration(timeoutMs int, fallback time.Duration) time.Duration {
	if timeoutMs <= 0 {
		return fallback
	}
	return time.Duration(timeoutMs) * time.Millisecond
}
