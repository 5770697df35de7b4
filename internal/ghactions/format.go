package ghactions

import (
	"fmt"
	"io"
	"time"
)

var stateTags = map[State]string{
	StateSuccess: "[ok]",
	StateFailed:  "[FAIL]",
	StateRunning: "[run]",
	StateQueued:  "[wait]",
	StateUnknown: "[?]",
}

// WriteStatus prints a summary of runs.
func WriteStatus(w io.Writer, runs []Run) {
	fmt.Fprintln(w, "Workflow runs:")
	if len(runs) == 0 {
		fmt.Fprintln(w, "  none")
		return
	}
	for _, r := range runs {
		sha := r.SHA
		if len(sha) > 8 {
			sha = sha[:8]
		}
		fmt.Fprintf(w, "\n%s Run #%d\n", stateTags[r.State()], r.ID)
		fmt.Fprintf(w, "  Status:     %s\n", r.Status)
		if r.Conclusion != "" {
			fmt.Fprintf(w, "  Conclusion: %s\n", r.Conclusion)
		}
		fmt.Fprintf(w, "  Duration:   %s\n", FormatDuration(r.Duration()))
		fmt.Fprintf(w, "  Branch:     %s\n", r.Branch)
		fmt.Fprintf(w, "  SHA:        %s\n", sha)
		fmt.Fprintf(w, "  URL:        %s\n", r.URL)
	}
}

// WriteProgress prints one monitoring observation.
func WriteProgress(w io.Writer, at time.Time, r Run) {
	ts := at.Format("15:04:05")
	switch r.State() {
	case StateRunning:
		fmt.Fprintf(w, "[%s] Run #%d is running (%s)\n", ts, r.ID, FormatDuration(r.Duration()))
	case StateQueued:
		fmt.Fprintf(w, "[%s] Run #%d is queued\n", ts, r.ID)
	case StateSuccess:
		fmt.Fprintf(w, "[%s] Run #%d completed successfully (%s)\n", ts, r.ID, FormatDuration(r.Duration()))
	case StateFailed:
		fmt.Fprintf(w, "[%s] Run #%d failed (%s)\n  URL: %s\n", ts, r.ID, FormatDuration(r.Duration()), r.URL)
	default:
		fmt.Fprintf(w, "[%s] Run #%d status: %s\n", ts, r.ID, r.Status)
	}
}
