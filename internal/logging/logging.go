// Package logging builds the process logger: JSON lines to a rotated file,
// warnings and errors to stderr, and an in-memory tail for diagnostics.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/msageha/nestcheck/internal/model"
)

// FileName is the log file inside the logs directory.
const FileName = "nestcheck.log"

const (
	tailLines = 200
	seedBytes = 64 << 10
)

// Tail keeps the last lines written to it.
type Tail struct {
	mu    sync.Mutex
	lines []string
	limit int
}

func NewTail(limit int) *Tail {
	return &Tail{limit: limit}
}

func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}
		t.lines = append(t.lines, line)
	}
	if len(t.lines) > t.limit {
		t.lines = t.lines[len(t.lines)-t.limit:]
	}
	return len(p), nil
}

func (t *Tail) Sync() error { return nil }

// Lines returns up to n of the most recent lines, oldest first.
func (t *Tail) Lines(n int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n <= 0 || n > len(t.lines) {
		n = len(t.lines)
	}
	out := make([]string, n)
	copy(out, t.lines[len(t.lines)-n:])
	return out
}

// Logger bundles the zap logger with its recent-lines tail and the file
// writer that must be closed on exit.
type Logger struct {
	*zap.Logger
	Tail *Tail
	file io.Closer
}

// New builds a Logger writing under dir. stderr receives warn and above;
// pass nil to suppress it.
func New(cfg model.LoggingConfig, dir string, stderr io.Writer) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging.level %q: %w", cfg.Level, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	path := filepath.Join(dir, FileName)
	tail := NewTail(tailLines)
	seedTail(tail, path)

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), level),
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), tail, level),
	}
	if stderr != nil {
		consoleCfg := zap.NewDevelopmentEncoderConfig()
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.AddSync(stderr), zapcore.WarnLevel))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return &Logger{Logger: logger, Tail: tail, file: rotator}, nil
}

// seedTail loads the end of an existing log so a fresh process can still
// report what happened before it started.
func seedTail(t *Tail, path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return
	}
	offset := info.Size() - seedBytes
	if offset < 0 {
		offset = 0
	}
	buf := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return
	}
	if offset > 0 {
		// drop the partial first line
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			buf = buf[i+1:]
		}
	}
	_, _ = t.Write(buf)
}

// Nop returns a Logger that discards everything but still keeps a tail.
func Nop() *Logger {
	tail := NewTail(tailLines)
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), tail, zapcore.DebugLevel)
	return &Logger{Logger: zap.New(core), Tail: tail}
}

func (l *Logger) Close() error {
	_ = l.Logger.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
