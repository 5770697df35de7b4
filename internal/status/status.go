// Package status renders the state of the active session, the PIN guard and
// the running instance for the CLI.
package status

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/msageha/nestcheck/internal/model"
	"github.com/msageha/nestcheck/internal/session"
)

type Status struct {
	Instance  InstanceStatus `json:"instance"`
	Session   *SessionStatus `json:"session,omitempty"`
	Guard     GuardStatus    `json:"guard"`
	NextSeq   int            `json:"next_report_seq"`
	ExportDir string         `json:"export_dir,omitempty"`
	Mail      bool           `json:"mail_enabled"`
}

type InstanceStatus struct {
	Running bool `json:"running"`
	PID     int  `json:"pid,omitempty"`
}

type SessionStatus struct {
	Order         string `json:"order"`
	Block         string `json:"block"`
	BlockPos      int    `json:"block_pos"`
	BlockCount    int    `json:"block_count"`
	ItemID        string `json:"item_id"`
	ItemText      string `json:"item_text"`
	ItemPos       int    `json:"item_pos"`
	ItemCount     int    `json:"item_count"`
	Critical      bool   `json:"critical"`
	ItemStatus    string `json:"item_status"`
	Done          int    `json:"done"`
	Total         int    `json:"total"`
	Percent       int    `json:"percent"`
	Finished      bool   `json:"finished"`
	PendingBypass bool   `json:"pending_bypass"`
}

type GuardStatus struct {
	Locked      bool       `json:"locked"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	Failures    int        `json:"failures"`
	MustChange  bool       `json:"pins_must_change"`
}

// FromView converts a controller view.
func FromView(v session.View) *SessionStatus {
	return &SessionStatus{
		Order:         v.Order,
		Block:         v.BlockTitle,
		BlockPos:      v.BlockIdx + 1,
		BlockCount:    v.BlockCount,
		ItemID:        v.Item.ID,
		ItemText:      v.Item.Text,
		ItemPos:       v.ItemIdx + 1,
		ItemCount:     v.ItemCount,
		Critical:      v.Item.Critical,
		ItemStatus:    string(v.Item.Status),
		Done:          v.Done,
		Total:         v.Total,
		Percent:       Percent(v.Done, v.Total),
		Finished:      v.Finished,
		PendingBypass: v.PendingBypass,
	}
}

func Percent(done, total int) int {
	if total == 0 {
		return 0
	}
	return done * 100 / total
}

// Print writes s as text or indented JSON.
func Print(w io.Writer, s Status, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	printStatus(w, s)
	return nil
}

func printStatus(w io.Writer, s Status) {
	if s.Instance.Running {
		fmt.Fprintf(w, "Instance: running (pid %d)\n", s.Instance.PID)
	} else {
		fmt.Fprintln(w, "Instance: idle")
	}

	if s.Session == nil {
		fmt.Fprintln(w, "\nSession: none")
	} else {
		ss := s.Session
		fmt.Fprintf(w, "\nSession: %s\n", ss.Order)
		fmt.Fprintf(w, "  Progress:  %d/%d (%d%%)\n", ss.Done, ss.Total, ss.Percent)
		if ss.Finished {
			fmt.Fprintln(w, "  Position:  end of checklist")
		} else {
			fmt.Fprintf(w, "  Block:     %d/%d %s\n", ss.BlockPos, ss.BlockCount, ss.Block)
			fmt.Fprintf(w, "  Item:      %d/%d %s\n", ss.ItemPos, ss.ItemCount, ss.ItemID)
		}
		if ss.PendingBypass {
			fmt.Fprintln(w, "  Blocked:   critical item failed, master bypass required")
		}
	}

	fmt.Fprintln(w, "\nGuard:")
	switch {
	case s.Guard.Locked && s.Guard.LockedUntil != nil:
		fmt.Fprintf(w, "  PIN entry locked until %s\n", s.Guard.LockedUntil.Format(model.TimeLayout))
	case s.Guard.Failures > 0:
		fmt.Fprintf(w, "  %d failed attempt(s)\n", s.Guard.Failures)
	default:
		fmt.Fprintln(w, "  ok")
	}
	if s.Guard.MustChange {
		fmt.Fprintln(w, "  default PINs in use, change them with 'nestcheck pins'")
	}

	fmt.Fprintf(w, "\nNext report: #%04d\n", s.NextSeq)
	if s.ExportDir != "" {
		fmt.Fprintf(w, "Export folder: %s\n", s.ExportDir)
	}
	if s.Mail {
		fmt.Fprintln(w, "Mail: enabled")
	}
}

// PrintItem shows the item under the cursor the way the shell presents it.
func PrintItem(w io.Writer, v session.View) {
	if v.Finished {
		fmt.Fprintf(w, "[%s] all items visited, %d/%d done. 'finish' to compile the report, 'back' to review.\n",
			v.Order, v.Done, v.Total)
		return
	}
	crit := ""
	if v.Item.Critical {
		crit = " [CRIT]"
	}
	fmt.Fprintf(w, "[%s] %s (%d/%d)  %d%%\n", v.Order, v.BlockTitle, v.BlockIdx+1, v.BlockCount, Percent(v.Done, v.Total))
	fmt.Fprintf(w, "  %d/%d %s %s%s\n", v.ItemIdx+1, v.ItemCount, v.Item.Status.Glyph(), v.Item.Text, crit)
	if v.Item.Note != "" {
		fmt.Fprintf(w, "  Note: %s\n", v.Item.Note)
	}
	if n := len(v.Item.Photos); n > 0 {
		fmt.Fprintf(w, "  Photos: %d\n", n)
	}
	if v.PendingBypass {
		fmt.Fprintln(w, "  Critical failure: 'ok' after fixing, or 'bypass' with the master PIN")
	}
}

// PrintHistory lists report history entries.
func PrintHistory(w io.Writer, entries []model.HistoryEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No reports.")
		return
	}
	fmt.Fprintf(w, "  %-6s  %-14s  %-19s  %s\n", "SEQ", "ORDER", "CREATED", "FILE")
	for _, e := range entries {
		fmt.Fprintf(w, "  %-6d  %-14s  %-19s  %s\n", e.Seq, e.Order, e.CreatedAt, e.File)
	}
}
