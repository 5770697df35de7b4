// Package ghactions watches the release workflow of a GitHub repository and
// fetches run logs for analysis.
package ghactions

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
	"go.uber.org/zap"
)

// DefaultWorkflow is the workflow file watched by default.
const DefaultWorkflow = "android-release.yml"

// DefaultPollInterval between checks while monitoring.
const DefaultPollInterval = 30 * time.Second

var (
	ErrNoRuns         = errors.New("no workflow runs found")
	ErrBadRepository  = errors.New("repository must be in format owner/repo")
	ErrLogsNotFetched = errors.New("run logs unavailable")
)

// State summarizes a run's status and conclusion.
type State string

const (
	StateSuccess State = "success"
	StateFailed  State = "failed"
	StateRunning State = "running"
	StateQueued  State = "queued"
	StateUnknown State = "unknown"
)

// Run is the subset of a workflow run the monitor reports.
type Run struct {
	ID         int64
	Status     string
	Conclusion string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	URL        string
	Branch     string
	SHA        string
}

func (r Run) State() State {
	switch {
	case r.Conclusion == "success":
		return StateSuccess
	case r.Conclusion == "failure":
		return StateFailed
	case r.Status == "in_progress":
		return StateRunning
	case r.Status == "queued":
		return StateQueued
	default:
		return StateUnknown
	}
}

// Terminal reports whether monitoring should stop at this run.
func (r Run) Terminal() bool {
	s := r.State()
	return s == StateSuccess || s == StateFailed
}

func (r Run) Duration() time.Duration {
	if r.CreatedAt.IsZero() || r.UpdatedAt.IsZero() {
		return 0
	}
	return r.UpdatedAt.Sub(r.CreatedAt)
}

// FormatDuration renders d as "1h 2m 3s", "2m 3s" or "3s".
func FormatDuration(d time.Duration) string {
	total := int(d.Seconds())
	h, m, s := total/3600, (total%3600)/60, total%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// ParseRepository splits "owner/repo".
func ParseRepository(s string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(s, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", fmt.Errorf("%q: %w", s, ErrBadRepository)
	}
	return owner, repo, nil
}

// NewClient returns a go-github client, authenticated when token is set.
func NewClient(token string) *github.Client {
	c := github.NewClient(nil)
	if token != "" {
		c = c.WithAuthToken(token)
	}
	return c
}

type Monitor struct {
	client   *github.Client
	http     *http.Client
	owner    string
	repo     string
	workflow string
	logger   *zap.Logger
}

type Option func(*Monitor)

func WithWorkflow(file string) Option {
	return func(m *Monitor) { m.workflow = file }
}

// WithHTTPClient sets the client used to download log archives.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Monitor) { m.http = c }
}

func NewMonitor(client *github.Client, owner, repo string, logger *zap.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		client:   client,
		http:     http.DefaultClient,
		owner:    owner,
		repo:     repo,
		workflow: DefaultWorkflow,
		logger:   logger.Named("ghactions"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Runs lists up to limit recent runs of the workflow, newest first.
func (m *Monitor) Runs(ctx context.Context, limit int) ([]Run, error) {
	opts := &github.ListWorkflowRunsOptions{ListOptions: github.ListOptions{PerPage: limit}}
	res, _, err := m.client.Actions.ListWorkflowRunsByFileName(ctx, m.owner, m.repo, m.workflow, opts)
	if err != nil {
		return nil, fmt.Errorf("list runs of %s: %w", m.workflow, err)
	}
	runs := make([]Run, 0, len(res.WorkflowRuns))
	for _, wr := range res.WorkflowRuns {
		runs = append(runs, fromGitHub(wr))
	}
	return runs, nil
}

func fromGitHub(wr *github.WorkflowRun) Run {
	return Run{
		ID:         wr.GetID(),
		Status:     wr.GetStatus(),
		Conclusion: wr.GetConclusion(),
		CreatedAt:  wr.GetCreatedAt().Time,
		UpdatedAt:  wr.GetUpdatedAt().Time,
		URL:        wr.GetHTMLURL(),
		Branch:     wr.GetHeadBranch(),
		SHA:        wr.GetHeadSHA(),
	}
}

// Watch polls the latest run every interval, calling report with each
// observation, until it succeeds or fails or ctx is cancelled.
func (m *Monitor) Watch(ctx context.Context, interval time.Duration, report func(Run)) (Run, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		runs, err := m.Runs(ctx, 1)
		if err != nil {
			return Run{}, err
		}
		if len(runs) == 0 {
			return Run{}, ErrNoRuns
		}
		latest := runs[0]
		if report != nil {
			report(latest)
		}
		if latest.Terminal() {
			return latest, nil
		}

		select {
		case <-ctx.Done():
			return latest, ctx.Err()
		case <-ticker.C:
		}
	}
}

// DownloadLogs fetches the log archive of runID and writes every job log,
// concatenated in name order, to <dir>/run_<id>_logs.txt.
func (m *Monitor) DownloadLogs(ctx context.Context, runID int64, dir string) (string, error) {
	u, _, err := m.client.Actions.GetWorkflowRunLogs(ctx, m.owner, m.repo, runID, 3)
	if err != nil {
		return "", fmt.Errorf("locate logs of run %d: %w", runID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download logs of run %d: %w", runID, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download logs of run %d: %s: %w", runID, resp.Status, ErrLogsNotFetched)
	}
	archive, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read logs of run %d: %w", runID, err)
	}

	text, err := ExtractLogs(archive)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("run_%d_logs.txt", runID))
	if err := os.WriteFile(path, text, 0644); err != nil {
		return "", fmt.Errorf("write logs: %w", err)
	}
	m.logger.Info("run logs saved", zap.Int64("run", runID), zap.String("path", path), zap.Int("bytes", len(text)))
	return path, nil
}

// ExtractLogs flattens a GitHub log archive. Each file is preceded by a
// header line naming it. Data that is not a zip archive is returned as is.
func ExtractLogs(archive []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		if errors.Is(err, zip.ErrFormat) {
			return archive, nil
		}
		return nil, fmt.Errorf("open log archive: %w", err)
	}

	files := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if !f.FileInfo().IsDir() {
			files = append(files, f)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	var out bytes.Buffer
	for _, f := range files {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		fmt.Fprintf(&out, "===== %s =====\n", f.Name)
		_, err = io.Copy(&out, rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		if out.Len() > 0 && out.Bytes()[out.Len()-1] != '\n' {
			out.WriteByte('\n')
		}
	}
	return out.Bytes(), nil
}
