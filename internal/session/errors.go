// Package session implements the checklist navigation state machine: the
// cursor, the critical-item gate, master bypass, and continuous persistence
// of the current session.
package session

import "errors"

var (
	ErrInvalidOrderFormat = errors.New("invalid order number, expected digits_digits (e.g. 123456_78)")
	ErrNoActiveSession    = errors.New("no active session")
	ErrCriticalUnresolved = errors.New("critical item failed and not bypassed by a master")
	ErrNoPendingBypass    = errors.New("no critical failure awaiting master bypass")
	ErrSessionFinished    = errors.New("cursor is past the last item, retreat or finish the session")
	ErrCancelled          = errors.New("session start cancelled")
)
