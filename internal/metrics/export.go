package metrics

import (
	"time"

	"github.com/msageha/nestcheck/internal/store"
)

// Summary is the exported view of recorded metrics.
type Summary struct {
	GeneratedAt  time.Time          `json:"generated_at"`
	Operations   map[string]OpStats `json:"operations"`
	RecentSpans  []Span             `json:"recent_spans"`
	Samples      []Sample           `json:"samples"`
	WarningCount int                `json:"warning_count"`
}

// Summarize builds a Summary from the in-memory recorder and sampler. Either
// may be nil.
func Summarize(r *Recorder, s *Sampler, now time.Time) Summary {
	sum := Summary{GeneratedAt: now, Operations: map[string]OpStats{}, RecentSpans: []Span{}, Samples: []Sample{}}
	if r != nil {
		sum.RecentSpans = r.Spans()
		sum.Operations = Aggregate(sum.RecentSpans)
	}
	if s != nil {
		sum.Samples = s.Samples()
		sum.WarningCount = s.WarningCount()
	}
	return sum
}

// Export writes the summary to path as JSON.
func Export(path string, sum Summary) error {
	return store.AtomicWriteJSON(path, sum)
}
