// Package diagnostics assembles support bundles: system information, the
// active session, a redacted settings summary, recent log lines and metrics.
// The same collector writes crash reports from the top-level panic handler.
package diagnostics

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/msageha/nestcheck/internal/metrics"
	"github.com/msageha/nestcheck/internal/model"
	"github.com/msageha/nestcheck/internal/store"
)

const recentLogLines = 100

type SystemInfo struct {
	Hostname      string `json:"hostname,omitempty"`
	OS            string `json:"os"`
	Arch          string `json:"arch"`
	Platform      string `json:"platform,omitempty"`
	KernelVersion string `json:"kernel_version,omitempty"`
	GoVersion     string `json:"go_version"`
	NumCPU        int    `json:"num_cpu"`
	MemTotalBytes uint64 `json:"mem_total_bytes,omitempty"`
	PID           int    `json:"pid"`
}

// SettingsSummary never carries PIN hashes or the SMTP password.
type SettingsSummary struct {
	PINsMustChange bool   `json:"pins_must_change"`
	PINLocked      bool   `json:"pin_locked"`
	ReportSeq      int    `json:"report_seq"`
	ExportDir      string `json:"export_dir,omitempty"`
	SMTPEnabled    bool   `json:"smtp_enabled"`
	SMTPHost       string `json:"smtp_host,omitempty"`
	SMTPRecipients int    `json:"smtp_recipients"`
}

type Crash struct {
	Panic string `json:"panic"`
	Stack string `json:"stack"`
}

type Bundle struct {
	ID          string           `json:"id"`
	GeneratedAt time.Time        `json:"generated_at"`
	System      SystemInfo       `json:"system"`
	Session     *model.Session   `json:"session"`
	Settings    *SettingsSummary `json:"settings,omitempty"`
	RecentLogs  []string         `json:"recent_logs"`
	Metrics     *metrics.Summary `json:"metrics,omitempty"`
	Crash       *Crash           `json:"crash,omitempty"`
}

// Sources supplies the live state. Any field may be nil.
type Sources struct {
	Session  func() *model.Session
	Settings func() model.Settings
	Logs     func(n int) []string
	Metrics  func() metrics.Summary
}

type Collector struct {
	src Sources
	dir string
	now func() time.Time
}

// NewCollector writes bundles into dir.
func NewCollector(src Sources, dir string) *Collector {
	return &Collector{src: src, dir: dir, now: time.Now}
}

// Summarize redacts s.
func Summarize(s model.Settings, now time.Time) SettingsSummary {
	sum := SettingsSummary{
		PINsMustChange: s.PINsMustChange,
		PINLocked:      s.PINLockUntil != nil && float64(now.UnixNano())/1e9 < *s.PINLockUntil,
		ReportSeq:      s.ReportSeq,
		SMTPEnabled:    s.SMTP.Enabled,
		SMTPHost:       s.SMTP.Host,
		SMTPRecipients: len(s.SMTP.Recipients),
	}
	if s.ExportDir != nil {
		sum.ExportDir = *s.ExportDir
	}
	return sum
}

func System() SystemInfo {
	info := SystemInfo{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		GoVersion: runtime.Version(),
		NumCPU:    runtime.NumCPU(),
		PID:       os.Getpid(),
	}
	if h, err := host.Info(); err == nil {
		info.Hostname = h.Hostname
		info.Platform = h.Platform + " " + h.PlatformVersion
		info.KernelVersion = h.KernelVersion
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemTotalBytes = vm.Total
	}
	return info
}

// Collect gathers a bundle. Source panics are not recovered here; the crash
// path calls Collect from inside its own recover.
func (c *Collector) Collect() Bundle {
	now := c.now()
	b := Bundle{
		ID:          uuid.NewString(),
		GeneratedAt: now,
		System:      System(),
		RecentLogs:  []string{},
	}
	if c.src.Session != nil {
		b.Session = c.src.Session()
	}
	if c.src.Settings != nil {
		sum := Summarize(c.src.Settings(), now)
		b.Settings = &sum
	}
	if c.src.Logs != nil {
		b.RecentLogs = c.src.Logs(recentLogLines)
	}
	if c.src.Metrics != nil {
		m := c.src.Metrics()
		b.Metrics = &m
	}
	return b
}

// Export writes a diagnostics bundle and returns its path.
func (c *Collector) Export() (string, error) {
	b := c.Collect()
	return c.write("diagnostics", b)
}

// WriteCrash records a recovered panic value and the current stack.
func (c *Collector) WriteCrash(recovered any) (string, error) {
	b := c.safeCollect()
	b.Crash = &Crash{Panic: fmt.Sprint(recovered), Stack: string(debug.Stack())}
	return c.write("crash", b)
}

// safeCollect falls back to system info alone when a source panics while
// the process is already crashing.
func (c *Collector) safeCollect() (b Bundle) {
	defer func() {
		if r := recover(); r != nil {
			b = Bundle{ID: uuid.NewString(), GeneratedAt: c.now(), System: System(), RecentLogs: []string{}}
		}
	}()
	return c.Collect()
}

func (c *Collector) write(kind string, b Bundle) (string, error) {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return "", fmt.Errorf("create diagnostics dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s_%s.json", kind, b.GeneratedAt.Format("20060102_150405"), b.ID[:8])
	path := filepath.Join(c.dir, name)
	if err := store.AtomicWriteJSON(path, b); err != nil {
		return "", fmt.Errorf("write %s: %w", kind, err)
	}
	return path, nil
}
