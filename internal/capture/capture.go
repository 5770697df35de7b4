// Package capture obtains item photos: either from an external capture tool
// that drops a file into the photos directory, or by importing an existing
// image.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

var (
	ErrCaptureTimeout = errors.New("capture timed out")
	ErrNoSource       = errors.New("no source image")
)

// Camera writes a photo to path or fails. Implementations must honour ctx.
type Camera interface {
	Capture(ctx context.Context, path string) error
}

// PhotoPath returns where a photo for itemID is stored: <dir>/<order>/<item>_<ts>_<id>.jpg.
func PhotoPath(dir, order, itemID string, now time.Time) string {
	name := fmt.Sprintf("%s_%s_%s.jpg", itemID, now.Format("20060102_150405"), uuid.NewString()[:8])
	return filepath.Join(dir, order, name)
}

// DefaultSettle is how long a dropped file must stay unchanged before it is
// accepted.
const DefaultSettle = 500 * time.Millisecond

// AwaitFile blocks until path exists with content that has not changed for
// settle, timeout elapses or ctx is cancelled. Every write to the file
// restarts the settle interval, so a tool writing in chunks is waited for.
// The parent directory must exist.
func AwaitFile(ctx context.Context, path string, timeout, settle time.Duration) error {
	if settle <= 0 {
		settle = DefaultSettle
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	settled := time.NewTimer(settle)
	settled.Stop()
	defer settled.Stop()

	var (
		settleC <-chan time.Time
		last    fileState
	)
	observe := func() {
		st, ok := stat(path)
		if !ok {
			settled.Stop()
			settleC = nil
			return
		}
		last = st
		settled.Reset(settle)
		settleC = settled.C
	}
	// The file may have landed before the watch was registered.
	observe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%s: %w", filepath.Base(path), ErrCaptureTimeout)
		case <-settleC:
			if st, ok := stat(path); ok && st == last {
				return nil
			}
			observe()
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed: %w", ErrCaptureTimeout)
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			observe()
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher closed: %w", ErrCaptureTimeout)
			}
			return fmt.Errorf("watch %s: %w", path, err)
		}
	}
}

type fileState struct {
	size    int64
	modTime int64
}

// stat reports the file's size and modification time when it is a regular
// file with content.
func stat(path string) (fileState, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return fileState{}, false
	}
	return fileState{size: info.Size(), modTime: info.ModTime().UnixNano()}, true
}

// DropCamera asks an external tool to take a picture and waits for the file.
// Trigger receives the target path; it may be nil when the operator copies
// the file by hand.
//
// The tool should write to a temporary name and rename it onto the target
// path. A tool that writes the target in place must not pause for longer
// than Settle between writes, or a partial image is accepted.
type DropCamera struct {
	Timeout time.Duration
	// Settle defaults to DefaultSettle.
	Settle  time.Duration
	Trigger func(ctx context.Context, path string) error
}

func (c DropCamera) Capture(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create photo dir: %w", err)
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	done := make(chan error, 1)
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		done <- AwaitFile(watchCtx, path, timeout, c.Settle)
	}()

	if c.Trigger != nil {
		if err := c.Trigger(ctx, path); err != nil {
			cancel()
			<-done
			return fmt.Errorf("trigger capture: %w", err)
		}
	}
	return <-done
}

// ImportCamera copies Source to the requested path.
type ImportCamera struct {
	Source string
}

func (c ImportCamera) Capture(ctx context.Context, path string) error {
	if c.Source == "" {
		return ErrNoSource
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	in, err := os.Open(c.Source)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.Source, err)
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create photo dir: %w", err)
	}
	tmp := path + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("copy photo: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close photo: %w", err)
	}
	return os.Rename(tmp, path)
}
