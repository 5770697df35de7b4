package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPhotoPath(t *testing.T) {
	now := time.Date(2024, 5, 6, 14, 3, 9, 0, time.UTC)
	p := PhotoPath("/data/photos", "123_4", "b1_i1", now)
	assert.Equal(t, filepath.Join("/data/photos", "123_4"), filepath.Dir(p))
	base := filepath.Base(p)
	assert.True(t, strings.HasPrefix(base, "b1_i1_20240506_140309_"), base)
	assert.True(t, strings.HasSuffix(base, ".jpg"))
	assert.NotEqual(t, p, PhotoPath("/data/photos", "123_4", "b1_i1", now), "names are unique")
}

func TestAwaitFile_AlreadyPresent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0644))
	assert.NoError(t, AwaitFile(context.Background(), path, time.Second, 20*time.Millisecond))
}

func TestAwaitFile_Timeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.jpg")
	err := AwaitFile(context.Background(), path, 50*time.Millisecond, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrCaptureTimeout)
}

func TestAwaitFile_Cancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.jpg")
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := AwaitFile(ctx, path, 10*time.Second, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAwaitFile_IgnoresEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.jpg")
	require.NoError(t, os.WriteFile(path, nil, 0644))
	err := AwaitFile(context.Background(), path, 50*time.Millisecond, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrCaptureTimeout)
}

func TestAwaitFile_WaitsForChunkedWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.jpg")
	written := make(chan error, 1)
	go func() {
		f, err := os.Create(path)
		if err != nil {
			written <- err
			return
		}
		_, _ = f.Write([]byte("head-"))
		time.Sleep(100 * time.Millisecond)
		_, _ = f.Write([]byte("middle-"))
		time.Sleep(100 * time.Millisecond)
		_, _ = f.Write([]byte("tail"))
		written <- f.Close()
	}()

	require.NoError(t, AwaitFile(context.Background(), path, 5*time.Second, 400*time.Millisecond))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "head-middle-tail", string(data))
	require.NoError(t, <-written)
}

func TestAwaitFile_AcceptsRenamedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p.jpg")
	go func() {
		time.Sleep(20 * time.Millisecond)
		tmp := filepath.Join(dir, "p.jpg.tmp")
		_ = os.WriteFile(tmp, []byte("complete-jpeg"), 0644)
		_ = os.Rename(tmp, path)
	}()

	require.NoError(t, AwaitFile(context.Background(), path, 5*time.Second, 30*time.Millisecond))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "complete-jpeg", string(data))
}

func TestAwaitFile_TimeoutWhileStillWriting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.jpg")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_, _ = f.Write([]byte("x"))
			}
		}
	}()

	err = AwaitFile(context.Background(), path, 150*time.Millisecond, 100*time.Millisecond)
	close(stop)
	<-done
	assert.ErrorIs(t, err, ErrCaptureTimeout)
}

func TestDropCamera_TriggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "123_4", "p.jpg")
	cam := DropCamera{
		Timeout: 5 * time.Second,
		Settle:  50 * time.Millisecond,
		Trigger: func(_ context.Context, p string) error {
			go func() {
				time.Sleep(10 * time.Millisecond)
				_ = os.WriteFile(p, []byte("jpeg"), 0644)
			}()
			return nil
		},
	}
	require.NoError(t, cam.Capture(context.Background(), path))
	assert.FileExists(t, path)
}

func TestDropCamera_TriggerError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.jpg")
	cam := DropCamera{
		Timeout: 5 * time.Second,
		Trigger: func(context.Context, string) error { return errors.New("no camera") },
	}
	err := cam.Capture(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no camera")
}

func TestDropCamera_Timeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.jpg")
	err := DropCamera{Timeout: 30 * time.Millisecond}.Capture(context.Background(), path)
	assert.ErrorIs(t, err, ErrCaptureTimeout)
}

func TestImportCamera(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.jpg")
	require.NoError(t, os.WriteFile(src, []byte("jpeg-bytes"), 0644))

	dst := filepath.Join(dir, "photos", "123_4", "p.jpg")
	require.NoError(t, ImportCamera{Source: src}.Capture(context.Background(), dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))
	assert.NoFileExists(t, dst+".part")

	assert.ErrorIs(t, ImportCamera{}.Capture(context.Background(), dst), ErrNoSource)
	assert.Error(t, ImportCamera{Source: filepath.Join(dir, "missing.jpg")}.Capture(context.Background(), dst))
}
