package model

import (
	"encoding/json"
	"time"
)

// TimeLayout is the wall-clock format used for every persisted timestamp.
const TimeLayout = "2006-01-02 15:04:05"

// Item is a single checklist step.
type Item struct {
	ID          string   `json:"id" yaml:"id"`
	Text        string   `json:"text" yaml:"text"`
	Hint        string   `json:"hint" yaml:"hint"`
	Critical    bool     `json:"critical" yaml:"critical"`
	Status      Status   `json:"status" yaml:"-"`
	Note        string   `json:"note" yaml:"-"`
	Photos      []string `json:"photos" yaml:"-"`
	StartedAt   *string  `json:"started_at" yaml:"-"`
	CompletedAt *string  `json:"completed_at" yaml:"-"`
	DurationSec *int     `json:"duration_sec" yaml:"-"`
	BypassedBy  *string  `json:"bypassed_by" yaml:"-"`
}

// UnmarshalJSON also reads bypassed_by_master, the key older session files
// use for the bypass actor.
func (it *Item) UnmarshalJSON(data []byte) error {
	type plain Item
	aux := struct {
		*plain
		BypassedByMaster *string `json:"bypassed_by_master"`
	}{plain: (*plain)(it)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if it.BypassedBy == nil && aux.BypassedByMaster != nil && *aux.BypassedByMaster != "" {
		it.BypassedBy = aux.BypassedByMaster
	}
	return nil
}

// Block is an ordered group of items under one title.
type Block struct {
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title" yaml:"title"`
	Items []Item `json:"items" yaml:"items"`
}

// Phase derives the completion sub-state from the timestamps.
func (it *Item) Phase() Phase {
	switch {
	case it.CompletedAt != nil:
		return PhaseDone
	case it.StartedAt != nil:
		return PhaseInProgress
	default:
		return PhaseUnset
	}
}

// Blocked reports whether the item is a failed critical item nobody has
// overridden yet.
func (it *Item) Blocked() bool {
	return it.Critical && it.Status == StatusFail && it.BypassedBy == nil
}

// Start stamps started_at unless it is already set.
func (it *Item) Start(now time.Time) {
	if it.StartedAt != nil {
		return
	}
	ts := now.Format(TimeLayout)
	it.StartedAt = &ts
}

// Complete records the final status and recomputes the duration.
func (it *Item) Complete(status Status, now time.Time) error {
	if err := ValidatePhaseTransition(it.Phase(), PhaseDone); err != nil {
		return err
	}
	it.Start(now)
	ts := now.Format(TimeLayout)
	it.CompletedAt = &ts
	it.Status = status
	it.DurationSec = Duration(*it.StartedAt, *it.CompletedAt)
	return nil
}

// Duration returns whole seconds between two persisted timestamps, or nil
// when either does not parse or the interval is negative.
func Duration(startedAt, completedAt string) *int {
	t0, err := time.ParseInLocation(TimeLayout, startedAt, time.Local)
	if err != nil {
		return nil
	}
	t1, err := time.ParseInLocation(TimeLayout, completedAt, time.Local)
	if err != nil {
		return nil
	}
	if t1.Before(t0) {
		return nil
	}
	d := int(t1.Sub(t0) / time.Second)
	return &d
}

// StringPtr is a helper for the nullable string fields.
func StringPtr(s string) *string {
	return &s
}
