package diagnostics

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/nestcheck/internal/metrics"
	"github.com/msageha/nestcheck/internal/model"
)

func secretSettings() model.Settings {
	s := model.DefaultSettings("adminhash", "masterhash")
	s.SMTP.Password = "hunter2"
	s.SMTP.Host = "smtp.example.com"
	s.SMTP.Recipients = []string{"qa@example.com"}
	dir := "/mnt/usb"
	s.ExportDir = &dir
	return s
}

func TestSummarize_Redacts(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := secretSettings()
	until := float64(now.Unix() + 60)
	s.PINLockUntil = &until

	sum := Summarize(s, now)
	assert.True(t, sum.PINLocked)
	assert.Equal(t, "/mnt/usb", sum.ExportDir)
	assert.Equal(t, 1, sum.SMTPRecipients)

	data, err := json.Marshal(sum)
	require.NoError(t, err)
	for _, secret := range []string{"hunter2", "adminhash", "masterhash"} {
		assert.NotContains(t, string(data), secret)
	}

	expired := float64(now.Unix() - 1)
	s.PINLockUntil = &expired
	assert.False(t, Summarize(s, now).PINLocked)
}

func TestCollector_Export(t *testing.T) {
	dir := t.TempDir()
	sess := &model.Session{OrderNumber: "123_4", Version: "1.3"}
	c := NewCollector(Sources{
		Session:  func() *model.Session { return sess },
		Settings: secretSettings,
		Logs:     func(n int) []string { return []string{"line one", "line two"} },
		Metrics:  func() metrics.Summary { return metrics.Summary{WarningCount: 3} },
	}, dir)

	path, err := c.Export()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, dir))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")

	var b Bundle
	require.NoError(t, json.Unmarshal(data, &b))
	assert.Equal(t, "123_4", b.Session.OrderNumber)
	assert.Equal(t, []string{"line one", "line two"}, b.RecentLogs)
	assert.Equal(t, 3, b.Metrics.WarningCount)
	assert.NotEmpty(t, b.System.GoVersion)
	assert.Nil(t, b.Crash)
}

func TestCollector_EmptySources(t *testing.T) {
	b := NewCollector(Sources{}, t.TempDir()).Collect()
	assert.Nil(t, b.Session)
	assert.Nil(t, b.Settings)
	assert.Empty(t, b.RecentLogs)
}

func TestCollector_WriteCrash(t *testing.T) {
	dir := t.TempDir()
	c := NewCollector(Sources{
		Session: func() *model.Session { panic("session lock poisoned") },
	}, dir)

	path, err := c.WriteCrash("index out of range")
	require.NoError(t, err)
	assert.Contains(t, path, "crash_")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var b Bundle
	require.NoError(t, json.Unmarshal(data, &b))
	require.NotNil(t, b.Crash)
	assert.Equal(t, "index out of range", b.Crash.Panic)
	assert.Contains(t, b.Crash.Stack, "goroutine")
	assert.Nil(t, b.Session, "panicking source falls back to system info")
}
