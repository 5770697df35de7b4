// Package report compiles a session into a numbered, paginated PDF and keeps
// the append-only history of compiled reports.
package report

import (
	"errors"
	"fmt"

	"github.com/msageha/nestcheck/internal/session"
)

var (
	// ErrNoActiveSession is shared with the session package so callers can
	// test either with errors.Is.
	ErrNoActiveSession = session.ErrNoActiveSession

	ErrMissingResource = errors.New("missing resource")
	ErrImageDecode     = errors.New("image decode failed")
)

// ResourceError names an asset the compiler needed and could not open.
type ResourceError struct {
	Resource string
	Path     string
	Err      error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("missing %s %s: %v", e.Resource, e.Path, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// Is makes every ResourceError match ErrMissingResource.
func (e *ResourceError) Is(target error) bool {
	return target == ErrMissingResource
}
