// Package logging provides the per-subsystem logger facade used across the
// control plane. It mirrors internal/server/server.go's convention in the
// teacher repo: one prefixed *log.Logger per subsystem writing to stderr,
// rather than a structured-logging framework.
package logging

import (
	"log"
	"os"
)

// New returns a *log.Logger prefixed with the given component name, e.g.
// logging.New("board") logs lines prefixed "[board] ".
func New(component string) *log.Logger {
	return log.New(os.Stderr, "["+component+"] ", log.LstdFlags)
}
