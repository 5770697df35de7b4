package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/msageha/nestcheck/internal/model"
)

func TestNew_WritesFileTailAndStderr(t *testing.T) {
	dir := t.TempDir()
	var stderr bytes.Buffer
	cfg := model.Config{}.WithDefaults().Logging

	l, err := New(cfg, dir, &stderr)
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("session started", zap.String("order", "123_4"))
	l.Warn("autosave failed")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2, "debug is below the default level")

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "session started", first["msg"])
	assert.Equal(t, "123_4", first["order"])
	assert.Equal(t, "info", first["level"])

	assert.NotContains(t, stderr.String(), "session started")
	assert.Contains(t, stderr.String(), "autosave failed")

	tail := l.Tail.Lines(10)
	require.Len(t, tail, 2)
	assert.Contains(t, tail[1], "autosave failed")
}

func TestNew_SeedsTailFromExistingLog(t *testing.T) {
	dir := t.TempDir()
	cfg := model.Config{}.WithDefaults().Logging

	first, err := New(cfg, dir, nil)
	require.NoError(t, err)
	first.Info("before restart")
	require.NoError(t, first.Close())

	second, err := New(cfg, dir, nil)
	require.NoError(t, err)
	defer second.Close()
	second.Info("after restart")

	tail := second.Tail.Lines(0)
	require.Len(t, tail, 2)
	assert.Contains(t, tail[0], "before restart")
	assert.Contains(t, tail[1], "after restart")
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New(model.LoggingConfig{Level: "loud", MaxSizeMB: 1, MaxBackups: 1}, t.TempDir(), nil)
	assert.Error(t, err)
}

func TestTail_KeepsMostRecent(t *testing.T) {
	tail := NewTail(3)
	_, _ = tail.Write([]byte("a\nb\n"))
	_, _ = tail.Write([]byte("c\n"))
	_, _ = tail.Write([]byte("d\n\n"))

	assert.Equal(t, []string{"b", "c", "d"}, tail.Lines(0))
	assert.Equal(t, []string{"c", "d"}, tail.Lines(2))
	assert.Equal(t, []string{"b", "c", "d"}, tail.Lines(50))
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Info("kept in tail")
	assert.Len(t, l.Tail.Lines(0), 1)
	assert.NoError(t, l.Close())
}
