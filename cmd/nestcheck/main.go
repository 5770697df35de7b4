package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/msageha/nestcheck/internal/guard"
	"github.com/msageha/nestcheck/internal/lock"
	"github.com/msageha/nestcheck/internal/session"
)

const version = "1.3.0"

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps recoverable operator errors to 1 and everything else to 2.
func exitCode(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidOrderFormat),
		errors.Is(err, session.ErrNoActiveSession),
		errors.Is(err, session.ErrCriticalUnresolved),
		errors.Is(err, session.ErrNoPendingBypass),
		errors.Is(err, session.ErrSessionFinished),
		errors.Is(err, session.ErrCancelled),
		errors.Is(err, guard.ErrWrongPIN),
		errors.Is(err, guard.ErrLocked),
		errors.Is(err, lock.ErrHeld),
		errors.Is(err, errUsage):
		return 1
	default:
		return 2
	}
}
