package report

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/msageha/nestcheck/internal/audit"
	"github.com/msageha/nestcheck/internal/model"
	"github.com/msageha/nestcheck/internal/store"
)

// MIMEType of every artifact.
const MIMEType = "application/pdf"

// SeqSource hands out report numbers; *settings.Manager implements it. The
// number must be persisted before ConsumeSeq returns.
type SeqSource interface {
	ConsumeSeq() (int, error)
}

// ArtifactSink stores a finished document and returns where it went.
type ArtifactSink interface {
	Write(name string, data []byte) (string, error)
}

// DirSink writes artifacts atomically into Dir.
type DirSink struct {
	Dir string
}

func (s DirSink) Write(name string, data []byte) (string, error) {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(s.Dir, name)
	if err := store.AtomicWriteRaw(path, data); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

// Instrumenter matches session.Instrumenter.
type Instrumenter interface {
	Begin(op string) func()
}

// Artifact is a compiled report on disk.
type Artifact struct {
	Name   string
	Path   string
	Seq    int
	Pages  int
	Size   int
	Report *model.Report
}

type Options struct {
	Operator    string
	MaxImagePx  int
	JPEGQuality int
}

type Compiler struct {
	seq      SeqSource
	history  *History
	sink     ArtifactSink
	renderer Renderer
	audit    audit.Recorder
	spans    Instrumenter
	logger   *zap.Logger
	now      func() time.Time
	opts     Options
}

type Option func(*Compiler)

func WithClock(now func() time.Time) Option {
	return func(c *Compiler) { c.now = now }
}

func WithInstrumenter(in Instrumenter) Option {
	return func(c *Compiler) { c.spans = in }
}

func NewCompiler(seq SeqSource, history *History, sink ArtifactSink, renderer Renderer, rec audit.Recorder, logger *zap.Logger, opts Options, extra ...Option) *Compiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxImagePx <= 0 {
		opts.MaxImagePx = 1600
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 80
	}
	c := &Compiler{
		seq:      seq,
		history:  history,
		sink:     sink,
		renderer: renderer,
		audit:    rec,
		logger:   logger.Named("report"),
		now:      time.Now,
		opts:     opts,
	}
	for _, opt := range extra {
		opt(c)
	}
	return c
}

// ArtifactName formats <date>_<time>_<order>_nesting_<seq>.pdf.
func ArtifactName(at time.Time, order string, seq int) string {
	return fmt.Sprintf("%s_%s_nesting_%04d.pdf", at.Format("2006-01-02_150405"), order, seq)
}

// Snapshot freezes s into a report.
func Snapshot(s *model.Session, operator, completedAt string, seq int) (*model.Report, error) {
	frozen, err := s.Clone()
	if err != nil {
		return nil, err
	}
	return &model.Report{
		Order:       frozen.OrderNumber,
		Operator:    operator,
		StartedAt:   frozen.StartedAt,
		CompletedAt: completedAt,
		Version:     frozen.Version,
		Seq:         seq,
		Blocks:      frozen.Blocks,
	}, nil
}

// Compile consumes a sequence number, renders s and stores the artifact and
// its history entry. The number stays consumed when any later step fails.
func (c *Compiler) Compile(ctx context.Context, s *model.Session) (Artifact, model.HistoryEntry, error) {
	if c.spans != nil {
		defer c.spans.Begin("compile")()
	}
	if s == nil {
		return Artifact{}, model.HistoryEntry{}, ErrNoActiveSession
	}

	seq, err := c.seq.ConsumeSeq()
	if err != nil {
		c.logger.Warn("report sequence not persisted", zap.Int("seq", seq), zap.Error(err))
	}

	fail := func(err error) (Artifact, model.HistoryEntry, error) {
		c.logger.Error("report compilation failed", zap.String("order", s.OrderNumber), zap.Int("seq", seq), zap.Error(err))
		c.record(audit.ReportFailed(s.OrderNumber, seq, err))
		return Artifact{}, model.HistoryEntry{}, err
	}

	now := c.now()
	completedAt := now.Format(model.TimeLayout)
	rep, err := Snapshot(s, c.opts.Operator, completedAt, seq)
	if err != nil {
		return fail(err)
	}
	name := ArtifactName(now, rep.Order, seq)

	images := make(map[string]PreparedImage)
	for _, b := range rep.Blocks {
		for _, it := range b.Items {
			for _, p := range it.Photos {
				if err := ctx.Err(); err != nil {
					return fail(err)
				}
				if _, done := images[p]; done {
					continue
				}
				img, err := PrepareImage(p, c.opts.MaxImagePx, c.opts.JPEGQuality)
				if err != nil {
					return fail(err)
				}
				images[p] = img
			}
		}
	}

	doc := Layout(rep, images, A4())
	var buf bytes.Buffer
	if err := c.renderer.Render(doc, &buf); err != nil {
		return fail(err)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	path, err := c.sink.Write(name, buf.Bytes())
	if err != nil {
		return fail(err)
	}

	entry := model.HistoryEntry{Order: rep.Order, File: path, CreatedAt: completedAt, Seq: seq}
	if c.history != nil {
		if err := c.history.Append(entry); err != nil {
			c.logger.Warn("history not updated", zap.String("file", path), zap.Error(err))
		}
	}

	c.logger.Info("report created", zap.String("order", rep.Order), zap.Int("seq", seq), zap.String("file", path), zap.Int("pages", len(doc.Pages)))
	c.record(audit.ReportCreated(rep.Order, path, seq))

	return Artifact{
		Name:   name,
		Path:   path,
		Seq:    seq,
		Pages:  len(doc.Pages),
		Size:   buf.Len(),
		Report: rep,
	}, entry, nil
}

func (c *Compiler) record(e audit.Event) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Record(e); err != nil {
		c.logger.Warn("audit record failed", zap.String("event", string(e.Type)), zap.Error(err))
	}
}
