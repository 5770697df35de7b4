package model

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// DefaultChecklistVersion tags sessions created from templates without one.
const DefaultChecklistVersion = "1.3"

var orderRegex = regexp.MustCompile(`^[0-9]+_[0-9]+$`)

// NormalizeOrder trims the operator input and validates the digits_digits
// format (e.g. 123456_78).
func NormalizeOrder(order string) (string, bool) {
	order = strings.TrimSpace(order)
	return order, orderRegex.MatchString(order)
}

// Session is the in-progress walk through a checklist.
type Session struct {
	OrderNumber     string  `json:"order_number"`
	StartedAt       string  `json:"started_at"`
	Blocks          []Block `json:"blocks"`
	CurrentBlockIdx int     `json:"current_block_idx"`
	CurrentItemIdx  int     `json:"current_item_idx"`
	Finished        bool    `json:"finished"`
	Version         string  `json:"version"`
}

// SessionDoc is the persisted envelope of the current session.
type SessionDoc struct {
	State     *Session `json:"state"`
	Completed bool     `json:"completed"`
}

// Validate checks the structural invariants: non-empty blocks and a cursor
// pointing at an existing item.
func (s *Session) Validate() error {
	if len(s.Blocks) == 0 {
		return fmt.Errorf("session %s has no blocks", s.OrderNumber)
	}
	for i, b := range s.Blocks {
		if len(b.Items) == 0 {
			return fmt.Errorf("block %d (%s) has no items", i, b.ID)
		}
	}
	if s.CurrentBlockIdx < 0 || s.CurrentBlockIdx >= len(s.Blocks) {
		return fmt.Errorf("block cursor %d out of range [0,%d)", s.CurrentBlockIdx, len(s.Blocks))
	}
	items := len(s.Blocks[s.CurrentBlockIdx].Items)
	if s.CurrentItemIdx < 0 || s.CurrentItemIdx >= items {
		return fmt.Errorf("item cursor %d out of range [0,%d)", s.CurrentItemIdx, items)
	}
	return nil
}

// Current returns the block and item under the cursor.
func (s *Session) Current() (*Block, *Item) {
	b := &s.Blocks[s.CurrentBlockIdx]
	return b, &b.Items[s.CurrentItemIdx]
}

// Progress counts completed and total items.
func (s *Session) Progress() (done, total int) {
	for _, b := range s.Blocks {
		for _, it := range b.Items {
			total++
			if it.CompletedAt != nil {
				done++
			}
		}
	}
	return done, total
}

// HasBlockedItem reports whether any failed critical item lacks a bypass.
func (s *Session) HasBlockedItem() bool {
	for _, b := range s.Blocks {
		for i := range b.Items {
			if b.Items[i].Blocked() {
				return true
			}
		}
	}
	return false
}

// Complete is true once the cursor is parked past the last item and no
// critical failure is left unresolved.
func (s *Session) Complete() bool {
	return s.Finished && !s.HasBlockedItem()
}

// Clone returns a deep copy, suitable for handing to a writer goroutine.
func (s *Session) Clone() (*Session, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	var out Session
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &out, nil
}
