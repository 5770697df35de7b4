// Package app constructs the nestcheck services for one data directory and
// runs their background loops.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/msageha/nestcheck/internal/audit"
	"github.com/msageha/nestcheck/internal/capture"
	"github.com/msageha/nestcheck/internal/checklist"
	"github.com/msageha/nestcheck/internal/delivery"
	"github.com/msageha/nestcheck/internal/diagnostics"
	"github.com/msageha/nestcheck/internal/guard"
	"github.com/msageha/nestcheck/internal/lock"
	"github.com/msageha/nestcheck/internal/logging"
	"github.com/msageha/nestcheck/internal/metrics"
	"github.com/msageha/nestcheck/internal/model"
	"github.com/msageha/nestcheck/internal/report"
	"github.com/msageha/nestcheck/internal/session"
	"github.com/msageha/nestcheck/internal/settings"
	"github.com/msageha/nestcheck/internal/setup"
	"github.com/msageha/nestcheck/internal/status"
	"github.com/msageha/nestcheck/internal/store"
)

// LockFile guards the data directory against a second process.
const LockFile = "nestcheck.lock"

const shutdownTimeout = 10 * time.Second

// Options tune Open. Zero values are fine for the CLI.
type Options struct {
	// Stderr receives warn and above; nil silences the console.
	Stderr io.Writer
	// Dialer replaces the SMTP transport, for tests.
	Dialer delivery.Dialer
	// Renderer replaces the PDF renderer, for tests.
	Renderer report.Renderer
	Clock    func() time.Time
}

// App owns every service bound to one data directory.
type App struct {
	dataDir string
	config  model.Config
	log     *logging.Logger
	logger  *zap.Logger

	fileLock *lock.FileLock
	store    *store.Store
	trail    *audit.Trail
	db       *metrics.SQLiteSink

	Settings    *settings.Manager
	Guard       *guard.Guard
	Session     *session.Controller
	Compiler    *report.Compiler
	History     *report.History
	Mailer      *delivery.Mailer
	Exporter    *delivery.FolderExporter
	Recorder    *metrics.Recorder
	Sampler     *metrics.Sampler
	Diagnostics *diagnostics.Collector

	cancel   context.CancelFunc
	group    *errgroup.Group
	shutdown sync.Once
}

// Open builds the services. It fails with lock.ErrHeld when another
// process is attached to dataDir.
func Open(dataDir string, opts Options) (a *App, err error) {
	// Step 1: configuration and logging
	cfg, err := setup.LoadConfig(dataDir)
	if err != nil {
		return nil, err
	}
	lg, err := logging.New(cfg.Logging, filepath.Join(dataDir, "logs"), opts.Stderr)
	if err != nil {
		return nil, err
	}
	logger := lg.Logger

	a = &App{
		dataDir:  dataDir,
		config:   cfg,
		log:      lg,
		logger:   logger,
		fileLock: lock.NewFileLock(filepath.Join(dataDir, LockFile)),
	}
	defer func() {
		if err != nil {
			a.release()
		}
	}()

	// Step 2: single instance
	if err := a.fileLock.TryLock(); err != nil {
		return nil, fmt.Errorf("instance lock: %w", err)
	}

	// Step 3: persistence, settings and audit trail
	if a.store, err = store.New(dataDir, logger); err != nil {
		return nil, err
	}
	if a.Settings, err = settings.Open(a.store, guard.DefaultSettings(), logger); err != nil {
		return nil, err
	}
	if a.trail, err = audit.Open(filepath.Join(dataDir, "audit", "audit"+audit.TrailFileExtension), audit.DefaultMaxTrailSize); err != nil {
		return nil, err
	}

	// Step 4: metrics
	var sink metrics.Sink
	if cfg.Metrics.Enabled {
		db, err := metrics.OpenSQLite(setup.Resolve(dataDir, cfg.Metrics.DB))
		if err != nil {
			logger.Warn("metrics database unavailable", zap.Error(err))
		} else {
			a.db = db
			sink = db
		}
	}
	a.Recorder = metrics.NewRecorder(sink, logger)
	a.Sampler = metrics.NewSampler(nil, sink, logger)

	// Step 5: guard and session
	guardOpts := []guard.Option{guard.WithPolicy(cfg.Guard.MaxFailures, cfg.LockoutDuration())}
	sessionOpts := []session.Option{session.WithInstrumenter(a.Recorder)}
	compilerOpts := []report.Option{report.WithInstrumenter(a.Recorder)}
	if opts.Clock != nil {
		guardOpts = append(guardOpts, guard.WithClock(opts.Clock))
		sessionOpts = append(sessionOpts, session.WithClock(opts.Clock))
		compilerOpts = append(compilerOpts, report.WithClock(opts.Clock))
	}
	a.Guard = guard.New(a.Settings, a.trail, logger, guardOpts...)
	provider := checklist.FileProvider{Path: setup.Resolve(dataDir, cfg.Session.TemplatePath)}
	a.Session = session.New(a.store, provider, a.Guard, a.trail, logger, sessionOpts...)

	// Step 6: report pipeline and delivery
	renderer := opts.Renderer
	if renderer == nil {
		renderer = report.PDFRenderer{FontPath: setup.Resolve(dataDir, cfg.Report.FontPath)}
	}
	a.History = report.NewHistory(a.store)
	a.Compiler = report.NewCompiler(
		a.Settings, a.History,
		report.DirSink{Dir: setup.Resolve(dataDir, cfg.Report.OutputDir)},
		renderer, a.trail, logger,
		report.Options{Operator: cfg.Session.Operator, MaxImagePx: cfg.Report.MaxImagePx, JPEGQuality: cfg.Report.JPEGQuality},
		compilerOpts...,
	)
	a.Mailer = delivery.NewMailer(opts.Dialer, a.trail, logger)
	a.Exporter = delivery.NewFolderExporter(logger, report.MIMEType)

	// Step 7: diagnostics
	a.Diagnostics = diagnostics.NewCollector(diagnostics.Sources{
		Session: func() *model.Session {
			s, err := a.Session.Snapshot()
			if err != nil {
				return nil
			}
			return s
		},
		Settings: a.Settings.Get,
		Logs:     a.log.Tail.Lines,
		Metrics:  a.MetricsSummary,
	}, filepath.Join(dataDir, "diagnostics"))

	logger.Info("nestcheck opened", zap.String("data_dir", dataDir), zap.Int("pid", os.Getpid()))
	return a, nil
}

func (a *App) DataDir() string {
	return a.dataDir
}

func (a *App) Config() model.Config {
	return a.config
}

func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Camera returns the capture device for photos. A non-empty source imports
// that file instead of waiting for a capture tool.
func (a *App) Camera(source string) capture.Camera {
	if source != "" {
		return capture.ImportCamera{Source: source}
	}
	return capture.DropCamera{Timeout: a.config.CaptureTimeout()}
}

// PhotoDir is where captured photos are stored.
func (a *App) PhotoDir() string {
	return setup.Resolve(a.dataDir, a.config.Capture.PhotosDir)
}

// MetricsSummary combines the in-process recorder and sampler with the
// persisted history when the metrics database is open.
func (a *App) MetricsSummary() metrics.Summary {
	sum := metrics.Summarize(a.Recorder, a.Sampler, time.Now())
	if a.db == nil {
		return sum
	}
	if spans, err := a.db.Spans(200); err != nil {
		a.logger.Warn("read stored spans", zap.Error(err))
	} else if len(spans) > len(sum.RecentSpans) {
		sum.RecentSpans = spans
		sum.Operations = metrics.Aggregate(spans)
	}
	if samples, err := a.db.Samples(120); err != nil {
		a.logger.Warn("read stored samples", zap.Error(err))
	} else if len(samples) > len(sum.Samples) {
		sum.Samples = samples
	}
	return sum
}

// Start launches autosave, the settings watcher and, when enabled, the
// resource sampler. Close stops them.
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	a.group = g

	g.Go(func() error {
		return a.Session.RunAutosave(gctx, a.config.AutosaveInterval())
	})
	g.Go(func() error {
		if err := a.Settings.Watch(gctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("settings watcher stopped", zap.Error(err))
		}
		return nil
	})
	if a.config.Metrics.Enabled {
		g.Go(func() error {
			return a.Sampler.Run(gctx, a.config.SampleInterval())
		})
	}
	a.logger.Info("background loops started")
}

// Close stops background loops, saves the session and releases the data
// directory. It is safe to call more than once.
func (a *App) Close() {
	a.shutdown.Do(func() {
		// 1. Stop producers
		if a.cancel != nil {
			a.cancel()
		}

		// 2. Drain with timeout
		if a.group != nil {
			done := make(chan error, 1)
			go func() { done <- a.group.Wait() }()
			select {
			case err := <-done:
				if err != nil {
					a.logger.Warn("background loop failed", zap.Error(err))
				}
			case <-time.After(shutdownTimeout):
				a.logger.Warn("shutdown timeout, some operations may be incomplete")
			}
		}

		// 3. Final save and cleanup
		a.Session.Save()
		a.logger.Info("nestcheck closed")
		a.release()
	})
}

func (a *App) release() {
	if a.trail != nil {
		if err := a.trail.Close(); err != nil {
			a.logger.Warn("close audit trail", zap.Error(err))
		}
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.fileLock != nil {
		_ = a.fileLock.Unlock()
	}
	_ = a.log.Close()
}

// Status gathers what 'nestcheck status' prints. It reads only in-memory
// state and the settings document.
func (a *App) Status() status.Status {
	st := a.Settings.Get()
	out := status.Status{
		Instance: status.InstanceStatus{Running: true, PID: os.Getpid()},
		NextSeq:  st.ReportSeq,
		Mail:     st.SMTP.Ready(),
		Guard: status.GuardStatus{
			Failures:   a.Guard.Failures(),
			MustChange: a.Guard.MustChange(),
		},
	}
	if until, locked := a.Guard.LockedUntil(); locked {
		out.Guard.Locked = true
		out.Guard.LockedUntil = &until
	}
	if st.ExportDir != nil {
		out.ExportDir = *st.ExportDir
	}
	if v, err := a.Session.Current(); err == nil {
		out.Session = status.FromView(v)
	}
	return out
}

// HandleCrash must be deferred directly in main. It writes a crash bundle
// for a panic and exits with status 2.
func (a *App) HandleCrash() {
	r := recover()
	if r == nil {
		return
	}
	path, err := a.Diagnostics.WriteCrash(r)
	if err != nil {
		a.logger.Error("crash report not written", zap.Any("panic", r), zap.Error(err))
	} else {
		a.logger.Error("crashed", zap.Any("panic", r), zap.String("report", path))
		fmt.Fprintf(os.Stderr, "nestcheck crashed; report written to %s\n", path)
	}
	a.Session.Save()
	a.release()
	os.Exit(2)
}

// SignalContext is cancelled on the first SIGINT or SIGTERM; a second
// signal exits immediately.
func SignalContext(parent context.Context, logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("signal received, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
			signal.Stop(sigCh)
			return
		}
		select {
		case <-sigCh:
			logger.Warn("second signal, forcing exit")
			os.Exit(1)
		case <-parent.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
