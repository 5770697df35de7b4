package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"github.com/msageha/nestcheck/internal/audit"
	"github.com/msageha/nestcheck/internal/capture"
	"github.com/msageha/nestcheck/internal/delivery"
	"github.com/msageha/nestcheck/internal/lock"
	"github.com/msageha/nestcheck/internal/model"
	"github.com/msageha/nestcheck/internal/report"
	"github.com/msageha/nestcheck/internal/session"
	"github.com/msageha/nestcheck/internal/setup"
)

type stubRenderer struct {
	err error
}

func (r stubRenderer) Render(doc report.Document, w io.Writer) error {
	if r.err != nil {
		return r.err
	}
	_, err := fmt.Fprintf(w, "%%PDF-stub pages=%d\n", len(doc.Pages))
	return err
}

type capturedMail struct {
	sent []*mail.Msg
	err  error
}

func (c *capturedMail) DialAndSendWithContext(_ context.Context, msgs ...*mail.Msg) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, msgs...)
	return nil
}

func newDataDir(t *testing.T) string {
	t.Helper()
	dir, err := setup.Run(t.TempDir(), "Tester")
	require.NoError(t, err)
	// keep the sampler and its database out of unit tests
	cfg := []byte("metrics:\n  enabled: false\nsession:\n  operator: Tester\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), cfg, 0644))
	return dir
}

func openApp(t *testing.T, dir string, opts Options) *App {
	t.Helper()
	if opts.Renderer == nil {
		opts.Renderer = stubRenderer{}
	}
	a, err := Open(dir, opts)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func trailEvents(t *testing.T, dir string) []audit.EventType {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, "audit", "audit.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var out []audit.EventType
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e audit.Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e.EventType)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestOpen_SingleInstance(t *testing.T) {
	dir := newDataDir(t)
	a, err := Open(dir, Options{Renderer: stubRenderer{}})
	require.NoError(t, err)

	_, err = Open(dir, Options{Renderer: stubRenderer{}})
	assert.ErrorIs(t, err, lock.ErrHeld)

	a.Close()
	a.Close()

	again, err := Open(dir, Options{Renderer: stubRenderer{}})
	require.NoError(t, err)
	again.Close()
}

func TestOpen_WritesDefaultSettings(t *testing.T) {
	dir := newDataDir(t)
	a := openApp(t, dir, Options{})

	assert.FileExists(t, filepath.Join(dir, "settings.json"))
	st := a.Settings.Get()
	assert.Equal(t, 1, st.ReportSeq)
	assert.True(t, st.PINsMustChange)
	assert.Equal(t, "Tester", a.Config().Session.Operator)
	assert.False(t, a.Config().Metrics.Enabled)
}

func TestOpen_BadConfig(t *testing.T) {
	dir := newDataDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("guard: ["), 0644))
	_, err := Open(dir, Options{})
	assert.Error(t, err)
}

func TestStartClose_PersistsSession(t *testing.T) {
	dir := newDataDir(t)
	a, err := Open(dir, Options{Renderer: stubRenderer{}})
	require.NoError(t, err)

	a.Start(context.Background())
	require.NoError(t, a.Session.Start("123456_78", nil))
	require.NoError(t, a.Session.SetNote("burr on edge"))
	a.Close()

	b := openApp(t, dir, Options{})
	pending, err := b.Session.Pending()
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, "123456_78", pending.OrderNumber)

	attached, err := b.Session.Attach()
	require.NoError(t, err)
	assert.True(t, attached)
	v, err := b.Session.Current()
	require.NoError(t, err)
	assert.Equal(t, "burr on edge", v.Item.Note)
}

func TestStatus(t *testing.T) {
	dir := newDataDir(t)
	a := openApp(t, dir, Options{})

	s := a.Status()
	assert.True(t, s.Instance.Running)
	assert.Nil(t, s.Session)
	assert.Equal(t, 1, s.NextSeq)
	assert.True(t, s.Guard.MustChange)
	assert.False(t, s.Mail)

	require.NoError(t, a.Session.Start("123456_78", nil))
	s = a.Status()
	require.NotNil(t, s.Session)
	assert.Equal(t, "123456_78", s.Session.Order)
	assert.Equal(t, 1, s.Session.BlockPos)
}

func TestStatus_Lockout(t *testing.T) {
	dir := newDataDir(t)
	a := openApp(t, dir, Options{})

	for i := 0; i < 5; i++ {
		a.Guard.Verify("admin", "0000")
	}
	s := a.Status()
	assert.True(t, s.Guard.Locked)
	require.NotNil(t, s.Guard.LockedUntil)
	assert.Equal(t, 5, s.Guard.Failures)
}

func TestFinish_CompilesExportsMails(t *testing.T) {
	dir := newDataDir(t)
	transport := &capturedMail{}
	a := openApp(t, dir, Options{Dialer: func(model.SMTPSettings) (delivery.Transport, error) {
		return transport, nil
	}})

	exportDir := t.TempDir()
	_, err := a.Settings.Update(func(s *model.Settings) {
		s.ExportDir = &exportDir
		s.SMTP = model.SMTPSettings{Enabled: true, Host: "smtp.example.com", Port: 587, Recipients: []string{"qa@example.com"}}
	})
	require.NoError(t, err)

	require.NoError(t, a.Session.Start("123456_78", nil))
	_, err = a.Session.Mark(true)
	require.NoError(t, err)

	res, err := a.Finish(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Complete)
	assert.Equal(t, 1, res.Artifact.Seq)
	assert.FileExists(t, res.Artifact.Path)
	assert.Equal(t, filepath.Join(dir, "reports"), filepath.Dir(res.Artifact.Path))

	require.NoError(t, res.ExportErr)
	assert.Equal(t, filepath.Join(exportDir, res.Artifact.Name), res.Exported)
	assert.FileExists(t, res.Exported)

	require.NoError(t, res.MailErr)
	assert.True(t, res.Mailed)
	require.Len(t, transport.sent, 1)
	assert.Len(t, transport.sent[0].GetAttachments(), 1)

	assert.False(t, a.Session.Active())
	assert.Equal(t, 2, a.Settings.Get().ReportSeq)

	entries, err := a.History.List(report.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "123456_78", entries[0].Order)

	events := trailEvents(t, dir)
	assert.Contains(t, events, audit.EventReportCreated)
	assert.Contains(t, events, audit.EventReportExported)
	assert.Contains(t, events, audit.EventEmailSent)
	assert.Equal(t, audit.EventSessionEnd, events[len(events)-1])
}

func TestFinish_DeliveryErrorsKeepReport(t *testing.T) {
	dir := newDataDir(t)
	transport := &capturedMail{err: errors.New("connection refused")}
	a := openApp(t, dir, Options{Dialer: func(model.SMTPSettings) (delivery.Transport, error) {
		return transport, nil
	}})

	missing := filepath.Join(t.TempDir(), "gone")
	_, err := a.Settings.Update(func(s *model.Settings) {
		s.ExportDir = &missing
		s.SMTP = model.SMTPSettings{Enabled: true, Host: "smtp.example.com", Port: 587, Recipients: []string{"qa@example.com"}}
	})
	require.NoError(t, err)
	require.NoError(t, a.Session.Start("123456_78", nil))

	res, err := a.Finish(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, res.Artifact.Path)
	assert.Error(t, res.ExportErr)
	assert.Error(t, res.MailErr)
	assert.False(t, res.Mailed)
	assert.False(t, a.Session.Active())

	events := trailEvents(t, dir)
	assert.Contains(t, events, audit.EventEmailFailed)
	assert.NotContains(t, events, audit.EventReportExported)
}

func TestFinish_CompileFailureKeepsSession(t *testing.T) {
	dir := newDataDir(t)
	a := openApp(t, dir, Options{Renderer: stubRenderer{err: report.ErrMissingResource}})

	require.NoError(t, a.Session.Start("123456_78", nil))
	_, err := a.Finish(context.Background())
	assert.ErrorIs(t, err, report.ErrMissingResource)
	assert.True(t, a.Session.Active())
	assert.Equal(t, 2, a.Settings.Get().ReportSeq)
}

func TestFinish_NoSession(t *testing.T) {
	a := openApp(t, newDataDir(t), Options{})
	_, err := a.Finish(context.Background())
	assert.ErrorIs(t, err, session.ErrNoActiveSession)
}

func TestCamera(t *testing.T) {
	a := openApp(t, newDataDir(t), Options{})
	assert.IsType(t, capture.ImportCamera{}, a.Camera("/tmp/x.jpg"))
	assert.IsType(t, capture.DropCamera{}, a.Camera(""))
	assert.Equal(t, filepath.Join(a.DataDir(), "photos"), a.PhotoDir())
}

func TestSignalContext_ParentCancel(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	ctx, stop := SignalContext(parent, openApp(t, newDataDir(t), Options{}).Logger())
	defer stop()

	cancelParent()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled with parent")
	}
}

func TestDiagnosticsExport(t *testing.T) {
	dir := newDataDir(t)
	a := openApp(t, dir, Options{})
	require.NoError(t, a.Session.Start("123456_78", nil))

	path, err := a.Diagnostics.Export()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "diagnostics"), filepath.Dir(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "123456_78")
	assert.NotContains(t, string(data), "pin_hash")
}
