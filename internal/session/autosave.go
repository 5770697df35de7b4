package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/msageha/nestcheck/internal/model"
	"github.com/msageha/nestcheck/internal/store"
)

// flush persists until the written snapshot is at least as new as the last
// mutation. Concurrent callers share one in-flight write. Failures are
// logged; the in-memory session stays authoritative.
func (c *Controller) flush() {
	for {
		_, err, _ := c.saves.Do(store.KeySession, c.writeLatest)
		if err != nil {
			c.logger.Warn("session autosave failed", zap.Error(err))
			return
		}
		c.mu.Lock()
		done := c.saved >= c.version
		c.mu.Unlock()
		if done {
			return
		}
	}
}

func (c *Controller) writeLatest() (any, error) {
	c.mu.Lock()
	if c.state == nil {
		c.saved = c.version
		c.mu.Unlock()
		return nil, nil
	}
	snapshot, err := c.state.Clone()
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	doc := model.SessionDoc{State: snapshot, Completed: c.complete}
	version := c.version
	c.mu.Unlock()

	if err := c.store.Save(store.KeySession, doc); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if version > c.saved {
		c.saved = version
	}
	c.mu.Unlock()
	return nil, nil
}

// Save re-persists the current snapshot whether or not it changed.
func (c *Controller) Save() {
	if _, err, _ := c.saves.Do(store.KeySession, c.writeLatest); err != nil {
		c.logger.Warn("session autosave failed", zap.Error(err))
	}
}

// RunAutosave re-persists the active session every interval until ctx is
// done, then writes once more.
func (c *Controller) RunAutosave(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Save()
			return nil
		case <-ticker.C:
			c.logger.Debug("periodic autosave")
			c.Save()
		}
	}
}
