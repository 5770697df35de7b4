package model

import (
	"encoding/json"
	"fmt"
)

// Status is the evaluation result of a checklist item.
type Status string

const (
	StatusUnset Status = "unset"
	StatusPass  Status = "pass"
	StatusFail  Status = "fail"
)

var validStatuses = map[Status]bool{
	StatusUnset: true,
	StatusPass:  true,
	StatusFail:  true,
}

// StatusFromOK maps a mark decision onto a status.
func StatusFromOK(ok bool) Status {
	if ok {
		return StatusPass
	}
	return StatusFail
}

func (s Status) Valid() bool {
	return validStatuses[s]
}

// Glyph is the symbol printed for the status in reports.
func (s Status) Glyph() string {
	switch s {
	case StatusPass:
		return "✓"
	case StatusFail:
		return "✗"
	default:
		return "—"
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	if s == "" {
		s = StatusUnset
	}
	if !s.Valid() {
		return nil, fmt.Errorf("invalid item status %q", string(s))
	}
	return json.Marshal(string(s))
}

// UnmarshalJSON accepts the string form as well as the older
// true/false/null encoding of session files.
func (s *Status) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "null":
		*s = StatusUnset
		return nil
	case "true":
		*s = StatusPass
		return nil
	case "false":
		*s = StatusFail
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("item status: %w", err)
	}
	v := Status(raw)
	if v == "" {
		v = StatusUnset
	}
	if !v.Valid() {
		return fmt.Errorf("invalid item status %q", raw)
	}
	*s = v
	return nil
}

// Phase is the completion sub-state of an item inside an active session.
type Phase string

const (
	PhaseUnset      Phase = "unset"
	PhaseInProgress Phase = "in_progress"
	PhaseDone       Phase = "done"
)

// Unset → InProgress → Done; Done may be re-marked, and a mark on an
// untouched item sets both timestamps at once.
var validPhaseTransitions = map[Phase]map[Phase]bool{
	PhaseUnset: {
		PhaseInProgress: true,
		PhaseDone:       true,
	},
	PhaseInProgress: {
		PhaseDone: true,
	},
	PhaseDone: {
		PhaseDone: true,
	},
}

func ValidatePhaseTransition(from, to Phase) error {
	allowed, ok := validPhaseTransitions[from]
	if !ok {
		return fmt.Errorf("unknown item phase %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid item phase transition: %q → %q", from, to)
	}
	return nil
}
