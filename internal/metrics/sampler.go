package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"
)

// Warning thresholds for a sample.
const (
	CPUWarnPercent = 80.0
	MemWarnPercent = 85.0
	RSSWarnBytes   = 500 * 1024 * 1024
)

// Probe reads the current resource usage.
type Probe interface {
	Sample(ctx context.Context) (Sample, error)
}

// SystemProbe reads CPU and memory through gopsutil.
type SystemProbe struct{}

func (SystemProbe) Sample(ctx context.Context) (Sample, error) {
	s := Sample{At: time.Now()}
	cpus, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return s, fmt.Errorf("cpu: %w", err)
	}
	if len(cpus) > 0 {
		s.CPUPercent = cpus[0]
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return s, fmt.Errorf("memory: %w", err)
	}
	s.MemPercent = vm.UsedPercent
	rss, err := ProcessRSS()
	if err != nil {
		return s, fmt.Errorf("process: %w", err)
	}
	s.RSSBytes = rss
	return s, nil
}

// Warnings lists every threshold s exceeds.
func Warnings(s Sample) []string {
	var out []string
	if s.CPUPercent > CPUWarnPercent {
		out = append(out, fmt.Sprintf("high CPU usage: %.1f%%", s.CPUPercent))
	}
	if s.MemPercent > MemWarnPercent {
		out = append(out, fmt.Sprintf("high memory usage: %.1f%%", s.MemPercent))
	}
	if s.RSSBytes > RSSWarnBytes {
		out = append(out, fmt.Sprintf("high process memory: %.1f MB", float64(s.RSSBytes)/(1024*1024)))
	}
	return out
}

const keptSamples = 120

// Sampler polls a Probe on an interval. Failures are logged and sampling
// continues.
type Sampler struct {
	mu       sync.Mutex
	probe    Probe
	sink     Sink
	samples  []Sample
	warnings int
	logger   *zap.Logger
}

func NewSampler(probe Probe, sink Sink, logger *zap.Logger) *Sampler {
	if probe == nil {
		probe = SystemProbe{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sampler{probe: probe, sink: sink, logger: logger.Named("sampler")}
}

// Run samples until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick takes one sample.
func (s *Sampler) Tick(ctx context.Context) {
	sample, err := s.probe.Sample(ctx)
	if err != nil {
		s.logger.Warn("resource sample failed", zap.Error(err))
		return
	}
	warns := Warnings(sample)
	for _, w := range warns {
		s.logger.Warn(w)
	}

	s.mu.Lock()
	s.samples = append(s.samples, sample)
	if len(s.samples) > keptSamples {
		s.samples = s.samples[len(s.samples)-keptSamples:]
	}
	s.warnings += len(warns)
	s.mu.Unlock()

	if s.sink != nil {
		if err := s.sink.WriteSample(sample); err != nil {
			s.logger.Warn("sample not persisted", zap.Error(err))
		}
	}
}

// Samples returns the retained samples, oldest first.
func (s *Sampler) Samples() []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// WarningCount is the number of threshold breaches seen so far.
func (s *Sampler) WarningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.warnings
}
