// Package settings owns the persisted credentials, counters and delivery
// configuration, and reloads them when settings.json is edited externally.
package settings

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/msageha/nestcheck/internal/model"
	"github.com/msageha/nestcheck/internal/store"
)

// Manager serializes every read-modify-write of the settings document.
type Manager struct {
	mu      sync.Mutex
	store   *store.Store
	current model.Settings
	logger  *zap.Logger
}

// Open loads settings.json, writing defaults on first run.
func Open(st *store.Store, defaults model.Settings, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{store: st, logger: logger.Named("settings")}

	loaded := defaults
	found, err := st.Load(store.KeySettings, &loaded)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if loaded.ReportSeq < 1 {
		loaded.ReportSeq = 1
	}
	m.current = loaded
	if !found {
		m.logger.Info("first run, writing default settings")
		if err := st.Save(store.KeySettings, loaded); err != nil {
			return nil, fmt.Errorf("write default settings: %w", err)
		}
	}
	return m, nil
}

// Get returns a copy of the current settings.
func (m *Manager) Get() model.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.current)
}

// Update applies fn to the current settings and persists the result. The
// in-memory value is updated even when the write fails; the write error is
// returned for the caller to surface.
func (m *Manager) Update(fn func(s *model.Settings)) (model.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := clone(m.current)
	fn(&next)
	m.current = next
	if err := m.store.Save(store.KeySettings, next); err != nil {
		m.logger.Warn("persist settings failed", zap.Error(err))
		return clone(next), fmt.Errorf("persist settings: %w", err)
	}
	return clone(next), nil
}

// ConsumeSeq returns the current report sequence number and persists its
// successor before returning.
func (m *Manager) ConsumeSeq() (int, error) {
	var seq int
	_, err := m.Update(func(s *model.Settings) {
		seq = s.ReportSeq
		s.ReportSeq++
	})
	return seq, err
}

// Reload re-reads settings.json. A missing file keeps the current value.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	loaded := clone(m.current)
	found, err := m.store.Load(store.KeySettings, &loaded)
	if err != nil {
		return fmt.Errorf("reload settings: %w", err)
	}
	if !found {
		return nil
	}
	m.current = loaded
	return nil
}

// Watch reloads on every write to settings.json until ctx is cancelled.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(m.store.Dir()); err != nil {
		return fmt.Errorf("watch %s: %w", m.store.Dir(), err)
	}
	target := filepath.Base(m.store.Path(store.KeySettings))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				m.logger.Debug("settings changed on disk", zap.String("op", event.Op.String()))
				if err := m.Reload(); err != nil {
					m.logger.Warn("settings reload failed", zap.Error(err))
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Error("fsnotify error", zap.Error(err))
		}
	}
}

func clone(s model.Settings) model.Settings {
	out := s
	if s.PINLockUntil != nil {
		v := *s.PINLockUntil
		out.PINLockUntil = &v
	}
	if s.ExportDir != nil {
		v := *s.ExportDir
		out.ExportDir = &v
	}
	out.SMTP.Recipients = append([]string(nil), s.SMTP.Recipients...)
	return out
}
