package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/msageha/nestcheck/internal/lock"
)

// Document keys.
const (
	KeySettings = "settings"
	KeySession  = "session"
	KeyHistory  = "history"
)

const quarantineDir = "quarantine"

// Store reads and writes key-named JSON documents inside one directory.
// Writes to the same key are serialized; different keys proceed in parallel.
type Store struct {
	dir    string
	locks  *lock.MutexMap
	logger *zap.Logger
}

// New creates the directory if needed.
func New(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		dir:    dir,
		locks:  lock.NewMutexMap(),
		logger: logger.Named("store"),
	}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file backing key.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Save atomically replaces the document under key.
func (s *Store) Save(key string, v any) error {
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	if err := AtomicWriteJSON(s.Path(key), v); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Load decodes the document under key into v. The caller pre-populates v
// with its default: when the file is missing v is left untouched and found is
// false. A corrupt document is quarantined and replaced by its backup when the
// backup decodes; otherwise the default stands.
func (s *Store) Load(key string, v any) (found bool, err error) {
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	path := s.Path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("load %s: %w", key, err)
	}

	if json.Valid(data) {
		if err := json.Unmarshal(data, v); err != nil {
			return false, fmt.Errorf("decode %s: %w", key, err)
		}
		return true, nil
	}

	s.logger.Warn("corrupt document", zap.String("key", key), zap.Int("bytes", len(data)))
	if err := s.quarantine(path); err != nil {
		s.logger.Error("quarantine failed", zap.String("key", key), zap.Error(err))
	}
	if err := s.restoreFromBackup(path, v); err != nil {
		s.logger.Warn("backup restore failed, using default", zap.String("key", key), zap.Error(err))
		return false, nil
	}
	s.logger.Info("restored from backup", zap.String("key", key))
	return true, nil
}

func (s *Store) quarantine(path string) error {
	dir := filepath.Join(s.dir, quarantineDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create quarantine dir: %w", err)
	}
	name := fmt.Sprintf("%s.%s.corrupt", filepath.Base(path), time.Now().Format("20060102T150405.000"))
	if err := os.Rename(path, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("move to quarantine: %w", err)
	}
	return nil
}

func (s *Store) restoreFromBackup(path string, v any) error {
	bakPath := path + ".bak"
	content, err := os.ReadFile(bakPath)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	if !json.Valid(content) {
		return fmt.Errorf("backup is also corrupted: %w", errInvalidJSON)
	}
	if err := json.Unmarshal(content, v); err != nil {
		return fmt.Errorf("decode backup: %w", err)
	}
	if err := AtomicWriteRaw(path, content); err != nil {
		return fmt.Errorf("restore from backup: %w", err)
	}
	return nil
}
