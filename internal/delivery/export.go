package delivery

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/msageha/nestcheck/internal/store"
)

// Exporter copies an artifact to a destination the user picked.
type Exporter interface {
	Write(handle, name, mime string, data []byte) (string, error)
}

// ChooseFolder validates dir as an export destination and returns its
// handle, the absolute path.
func ChooseFolder(dir string) (string, error) {
	if dir == "" {
		return "", ErrNoDestination
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("export folder: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("export folder %s: not a directory", abs)
	}
	probe, err := os.CreateTemp(abs, ".nestcheck-probe-*")
	if err != nil {
		return "", fmt.Errorf("export folder %s not writable: %w", abs, err)
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())
	return abs, nil
}

// FolderExporter writes into a directory handle. Only the MIME types in
// Accept are allowed; an empty Accept allows any.
type FolderExporter struct {
	Accept []string
	logger *zap.Logger
}

func NewFolderExporter(logger *zap.Logger, accept ...string) *FolderExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FolderExporter{Accept: accept, logger: logger.Named("export")}
}

func (e *FolderExporter) Write(handle, name, mime string, data []byte) (string, error) {
	if handle == "" {
		return "", ErrNoDestination
	}
	if !e.accepts(mime) {
		return "", fmt.Errorf("export %s: unsupported type %q", name, mime)
	}
	if filepath.Base(name) != name {
		return "", fmt.Errorf("export %s: name must not contain a path", name)
	}
	dest := filepath.Join(handle, name)
	if err := store.AtomicWriteRaw(dest, data); err != nil {
		return "", fmt.Errorf("export %s: %w", name, err)
	}
	e.logger.Info("report exported", zap.String("destination", dest), zap.Int("bytes", len(data)))
	return dest, nil
}

func (e *FolderExporter) accepts(mime string) bool {
	if len(e.Accept) == 0 {
		return true
	}
	for _, a := range e.Accept {
		if a == mime {
			return true
		}
	}
	return false
}
