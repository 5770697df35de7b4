package report

import (
	"fmt"
	"strings"
	"sync"

	"github.com/msageha/nestcheck/internal/model"
	"github.com/msageha/nestcheck/internal/store"
)

// History is the append-only list of compiled reports in history.json.
type History struct {
	mu    sync.Mutex
	store *store.Store
}

func NewHistory(st *store.Store) *History {
	return &History{store: st}
}

// Append adds entry after the existing ones. Entries are never rewritten.
func (h *History) Append(entry model.HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries, err := h.load()
	if err != nil {
		return err
	}
	entries = append(entries, entry)
	if err := h.store.Save(store.KeyHistory, entries); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// Filter narrows List. Order matches as a substring, Date as a prefix of
// created_at (e.g. "2024-05" or "2024-05-06").
type Filter struct {
	Order string
	Date  string
}

func (f Filter) match(e model.HistoryEntry) bool {
	if f.Order != "" && !strings.Contains(e.Order, strings.TrimSpace(f.Order)) {
		return false
	}
	if f.Date != "" && !strings.HasPrefix(e.CreatedAt, strings.TrimSpace(f.Date)) {
		return false
	}
	return true
}

// List returns matching entries, newest first.
func (h *History) List(f Filter) ([]model.HistoryEntry, error) {
	h.mu.Lock()
	entries, err := h.load()
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]model.HistoryEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if f.match(entries[i]) {
			out = append(out, entries[i])
		}
	}
	return out, nil
}

func (h *History) load() ([]model.HistoryEntry, error) {
	entries := []model.HistoryEntry{}
	if _, err := h.store.Load(store.KeyHistory, &entries); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return entries, nil
}
