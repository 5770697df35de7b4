package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stepClock struct {
	mu  sync.Mutex
	t   time.Time
	inc time.Duration
}

func (c *stepClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.t
	c.t = c.t.Add(c.inc)
	return t
}

type memSink struct {
	mu      sync.Mutex
	spans   []Span
	samples []Sample
	err     error
}

func (m *memSink) WriteSpan(s Span) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spans = append(m.spans, s)
	return m.err
}

func (m *memSink) WriteSample(s Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, s)
	return m.err
}

func TestRecorder_Begin(t *testing.T) {
	clock := &stepClock{t: time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC), inc: 250 * time.Millisecond}
	sink := &memSink{}
	r := NewRecorder(sink, zaptest.NewLogger(t),
		WithRecorderClock(clock.now),
		WithRSS(func() (uint64, error) { return 42 << 20, nil }))

	end := r.Begin("mark")
	end()

	spans := r.Spans()
	require.Len(t, spans, 1)
	assert.Equal(t, "mark", spans[0].Name)
	assert.Equal(t, 250.0, spans[0].DurationMS)
	assert.Equal(t, uint64(42<<20), spans[0].RSSBytes)
	assert.Equal(t, spans, sink.spans)
}

func TestRecorder_SinkErrorDoesNotDropSpan(t *testing.T) {
	r := NewRecorder(&memSink{err: errors.New("disk full")}, zaptest.NewLogger(t),
		WithRSS(func() (uint64, error) { return 0, errors.New("unsupported") }))
	r.Begin("compile")()
	spans := r.Spans()
	require.Len(t, spans, 1)
	assert.Zero(t, spans[0].RSSBytes)
}

func TestRecorder_KeepsRecentSpans(t *testing.T) {
	r := NewRecorder(nil, zaptest.NewLogger(t), WithRSS(func() (uint64, error) { return 1, nil }))
	for i := 0; i < recentSpans+10; i++ {
		r.Begin("advance")()
	}
	assert.Len(t, r.Spans(), recentSpans)
}

func TestAggregate(t *testing.T) {
	stats := Aggregate([]Span{
		{Name: "mark", DurationMS: 10},
		{Name: "mark", DurationMS: 30},
		{Name: "compile", DurationMS: 500},
	})
	assert.Equal(t, OpStats{Count: 2, AvgMS: 20, MaxMS: 30}, stats["mark"])
	assert.Equal(t, OpStats{Count: 1, AvgMS: 500, MaxMS: 500}, stats["compile"])
	assert.Equal(t, []string{"compile", "mark"}, OpNames(stats))
}

func TestWarnings(t *testing.T) {
	assert.Empty(t, Warnings(Sample{CPUPercent: 80, MemPercent: 85, RSSBytes: RSSWarnBytes}))

	w := Warnings(Sample{CPUPercent: 95.5, MemPercent: 90, RSSBytes: RSSWarnBytes + 1})
	require.Len(t, w, 3)
	assert.Contains(t, w[0], "CPU")
	assert.Contains(t, w[1], "memory usage")
	assert.Contains(t, w[2], "process memory")
}

type scriptedProbe struct {
	mu      sync.Mutex
	samples []Sample
	calls   int
}

func (p *scriptedProbe) Sample(context.Context) (Sample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls > len(p.samples) {
		return Sample{}, errors.New("probe exhausted")
	}
	return p.samples[p.calls-1], nil
}

func TestSampler_TickRecordsAndCountsWarnings(t *testing.T) {
	probe := &scriptedProbe{samples: []Sample{
		{CPUPercent: 10, MemPercent: 20},
		{CPUPercent: 99, MemPercent: 99},
	}}
	sink := &memSink{}
	s := NewSampler(probe, sink, zaptest.NewLogger(t))

	s.Tick(context.Background())
	s.Tick(context.Background())
	s.Tick(context.Background())

	assert.Len(t, s.Samples(), 2, "failed sample is skipped")
	assert.Equal(t, 2, s.WarningCount())
	assert.Len(t, sink.samples, 2)
}

func TestSampler_RunStopsOnCancel(t *testing.T) {
	probe := &scriptedProbe{samples: make([]Sample, 1000)}
	s := NewSampler(probe, nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, 5*time.Millisecond) }()

	assert.Eventually(t, func() bool { return len(s.Samples()) >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sampler did not stop")
	}
}

func TestSQLiteSink(t *testing.T) {
	sink, err := OpenSQLite(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	at := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	require.NoError(t, sink.WriteSpan(Span{Name: "mark", Start: at, DurationMS: 1.5, RSSBytes: 100}))
	require.NoError(t, sink.WriteSpan(Span{Name: "compile", Start: at.Add(time.Second), DurationMS: 800, RSSBytes: 200}))
	require.NoError(t, sink.WriteSample(Sample{At: at, CPUPercent: 12.5, MemPercent: 40, RSSBytes: 300}))

	spans, err := sink.Spans(10)
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, "compile", spans[0].Name)
	assert.Equal(t, 800.0, spans[0].DurationMS)
	assert.True(t, at.Add(time.Second).Equal(spans[0].Start))
	assert.Equal(t, uint64(100), spans[1].RSSBytes)

	samples, err := sink.Samples(10)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 12.5, samples[0].CPUPercent)
	assert.Equal(t, uint64(300), samples[0].RSSBytes)

	limited, err := sink.Spans(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLiteSink_ReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	sink, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, sink.WriteSpan(Span{Name: "advance", Start: time.Now()}))
	require.NoError(t, sink.Close())

	sink, err = OpenSQLite(path)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()
	spans, err := sink.Spans(10)
	require.NoError(t, err)
	assert.Len(t, spans, 1)
}

func TestExport(t *testing.T) {
	r := NewRecorder(nil, zaptest.NewLogger(t), WithRSS(func() (uint64, error) { return 1, nil }))
	r.Begin("mark")()
	s := NewSampler(&scriptedProbe{samples: []Sample{{CPUPercent: 90}}}, nil, zaptest.NewLogger(t))
	s.Tick(context.Background())

	path := filepath.Join(t.TempDir(), "metrics.json")
	require.NoError(t, Export(path, Summarize(r, s, time.Now())))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got Summary
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 1, got.Operations["mark"].Count)
	assert.Len(t, got.Samples, 1)
	assert.Equal(t, 1, got.WarningCount)

	empty := Summarize(nil, nil, time.Now())
	assert.NotNil(t, empty.Operations)
	assert.NotNil(t, empty.Samples)
}

func TestSystemProbe(t *testing.T) {
	s, err := SystemProbe{}.Sample(context.Background())
	if err != nil {
		t.Skipf("system metrics unavailable: %v", err)
	}
	assert.GreaterOrEqual(t, s.MemPercent, 0.0)
	assert.NotZero(t, s.RSSBytes)
}
