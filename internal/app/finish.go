package app

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/msageha/nestcheck/internal/audit"
	"github.com/msageha/nestcheck/internal/delivery"
	"github.com/msageha/nestcheck/internal/report"
)

// FinishResult describes one finish flow. Delivery errors are reported here
// and never undo the report.
type FinishResult struct {
	Artifact  report.Artifact
	Complete  bool
	Exported  string
	ExportErr error
	Mailed    bool
	MailErr   error
}

// Finish compiles the report for the active session, delivers it and closes
// the session. A compile failure leaves the session open so it can be
// compiled again.
func (a *App) Finish(ctx context.Context) (FinishResult, error) {
	var res FinishResult

	s, err := a.Session.Snapshot()
	if err != nil {
		return res, err
	}
	art, _, err := a.Compiler.Compile(ctx, s)
	if err != nil {
		return res, fmt.Errorf("compile report: %w", err)
	}
	res.Artifact = art

	st := a.Settings.Get()
	if st.ExportDir != nil || st.SMTP.Ready() {
		data, err := os.ReadFile(art.Path)
		if err != nil {
			res.ExportErr = err
			res.MailErr = err
		} else {
			if st.ExportDir != nil {
				res.Exported, res.ExportErr = a.export(*st.ExportDir, s.OrderNumber, art.Name, data)
			}
			if st.SMTP.Ready() {
				res.MailErr = a.Mailer.Send(ctx, st.SMTP, delivery.Message{
					Order:   s.OrderNumber,
					Subject: fmt.Sprintf("Nesting inspection report %s", s.OrderNumber),
					Body:    fmt.Sprintf("Report #%04d for order %s is attached.", art.Seq, s.OrderNumber),
					Attachments: []delivery.Attachment{
						{Name: art.Name, MIME: report.MIMEType, Data: data},
					},
				})
				res.Mailed = res.MailErr == nil
			}
		}
	}

	if res.Complete, err = a.Session.Finish(); err != nil {
		return res, err
	}
	return res, nil
}

func (a *App) export(dir, order, name string, data []byte) (string, error) {
	path, err := a.Exporter.Write(dir, name, report.MIMEType, data)
	if err != nil {
		a.logger.Warn("report export failed", zap.String("order", order), zap.String("dir", dir), zap.Error(err))
		return "", err
	}
	if err := a.trail.Record(audit.ReportExported(order, path)); err != nil {
		a.logger.Warn("audit record failed", zap.String("event", string(audit.EventReportExported)), zap.Error(err))
	}
	return path, nil
}
