// Package metrics records performance spans around session and report
// operations and samples system resource usage in the background.
package metrics

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Span is one timed operation.
type Span struct {
	Name       string    `json:"name"`
	Start      time.Time `json:"start"`
	DurationMS float64   `json:"duration_ms"`
	RSSBytes   uint64    `json:"rss_bytes"`
}

// Sample is one reading of system and process usage.
type Sample struct {
	At         time.Time `json:"at"`
	CPUPercent float64   `json:"cpu_percent"`
	MemPercent float64   `json:"mem_percent"`
	RSSBytes   uint64    `json:"rss_bytes"`
}

// Sink persists spans and samples.
type Sink interface {
	WriteSpan(s Span) error
	WriteSample(s Sample) error
}

const recentSpans = 200

// Recorder implements the Begin(op) instrumentation hook used by the session
// controller and the report compiler.
type Recorder struct {
	mu     sync.Mutex
	spans  []Span
	sink   Sink
	rss    func() (uint64, error)
	now    func() time.Time
	logger *zap.Logger
}

type RecorderOption func(*Recorder)

func WithRSS(fn func() (uint64, error)) RecorderOption {
	return func(r *Recorder) { r.rss = fn }
}

func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a Recorder. sink may be nil.
func NewRecorder(sink Sink, logger *zap.Logger, opts ...RecorderOption) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		sink:   sink,
		rss:    ProcessRSS,
		now:    time.Now,
		logger: logger.Named("metrics"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Begin starts a span; calling the returned func ends it.
func (r *Recorder) Begin(op string) func() {
	start := r.now()
	return func() {
		span := Span{
			Name:       op,
			Start:      start,
			DurationMS: float64(r.now().Sub(start).Microseconds()) / 1000,
		}
		if rss, err := r.rss(); err == nil {
			span.RSSBytes = rss
		}
		r.add(span)
	}
}

func (r *Recorder) add(span Span) {
	r.mu.Lock()
	r.spans = append(r.spans, span)
	if len(r.spans) > recentSpans {
		r.spans = r.spans[len(r.spans)-recentSpans:]
	}
	r.mu.Unlock()

	r.logger.Debug("span", zap.String("op", span.Name), zap.Float64("duration_ms", span.DurationMS), zap.Uint64("rss", span.RSSBytes))
	if r.sink != nil {
		if err := r.sink.WriteSpan(span); err != nil {
			r.logger.Warn("span not persisted", zap.String("op", span.Name), zap.Error(err))
		}
	}
}

// Spans returns the most recent spans, oldest first.
func (r *Recorder) Spans() []Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Span, len(r.spans))
	copy(out, r.spans)
	return out
}

// OpStats aggregates the spans of one operation.
type OpStats struct {
	Count int     `json:"count"`
	AvgMS float64 `json:"avg_ms"`
	MaxMS float64 `json:"max_ms"`
}

// Aggregate groups spans by name.
func Aggregate(spans []Span) map[string]OpStats {
	out := make(map[string]OpStats)
	for _, s := range spans {
		st := out[s.Name]
		st.AvgMS = (st.AvgMS*float64(st.Count) + s.DurationMS) / float64(st.Count+1)
		st.Count++
		st.MaxMS = max(st.MaxMS, s.DurationMS)
		out[s.Name] = st
	}
	return out
}

// OpNames returns the keys of stats in sorted order.
func OpNames(stats map[string]OpStats) []string {
	names := make([]string, 0, len(stats))
	for k := range stats {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ProcessRSS reports the resident set size of the current process.
func ProcessRSS() (uint64, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := p.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}
