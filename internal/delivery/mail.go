// Package delivery hands finished reports to the outside world: a chosen
// export folder and SMTP recipients.
package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/msageha/nestcheck/internal/audit"
	"github.com/msageha/nestcheck/internal/model"
)

var (
	ErrMailDisabled  = errors.New("mail delivery is not configured")
	ErrNoRecipients  = errors.New("no recipients")
	ErrNoDestination = errors.New("no export folder selected")
)

// Attachment is an in-memory file sent with a message.
type Attachment struct {
	Name string
	MIME string
	Data []byte
}

// Message is what the caller wants delivered; the SMTP settings decide how.
type Message struct {
	Order       string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Transport sends composed messages; *mail.Client implements it.
type Transport interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Dialer builds a Transport for the given settings.
type Dialer func(cfg model.SMTPSettings) (Transport, error)

// Mailer sends report mail and audits the outcome. A failure never touches
// the report that was already written.
type Mailer struct {
	dial   Dialer
	audit  audit.Recorder
	logger *zap.Logger
}

func NewMailer(dial Dialer, rec audit.Recorder, logger *zap.Logger) *Mailer {
	if dial == nil {
		dial = DialSMTP
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailer{dial: dial, audit: rec, logger: logger.Named("mail")}
}

// DialSMTP configures a go-mail client: implicit TLS when SSL is set,
// mandatory STARTTLS when TLS is set, plain otherwise. Authentication is
// used whenever a user name is present.
func DialSMTP(cfg model.SMTPSettings) (Transport, error) {
	opts := []mail.Option{mail.WithPort(cfg.Port)}
	switch {
	case cfg.SSL:
		opts = append(opts, mail.WithSSL())
	case cfg.TLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if cfg.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.User),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return client, nil
}

// Compose builds the MIME message. The sender is the SMTP user.
func Compose(cfg model.SMTPSettings, m Message) (*mail.Msg, error) {
	if len(cfg.Recipients) == 0 {
		return nil, ErrNoRecipients
	}
	msg := mail.NewMsg()
	from := cfg.User
	if !strings.Contains(from, "@") {
		from = "nestcheck@" + cfg.Host
	}
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("sender %q: %w", from, err)
	}
	if err := msg.To(cfg.Recipients...); err != nil {
		return nil, fmt.Errorf("recipients: %w", err)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextPlain, m.Body)
	for _, a := range m.Attachments {
		opts := []mail.FileOption{}
		if a.MIME != "" {
			opts = append(opts, mail.WithFileContentType(mail.ContentType(a.MIME)))
		}
		msg.AttachReadSeeker(a.Name, bytes.NewReader(a.Data), opts...)
	}
	return msg, nil
}

// Send delivers m using cfg. Disabled or incomplete settings return
// ErrMailDisabled without auditing.
func (mm *Mailer) Send(ctx context.Context, cfg model.SMTPSettings, m Message) error {
	if !cfg.Ready() {
		return ErrMailDisabled
	}
	err := mm.send(ctx, cfg, m)
	if err != nil {
		mm.logger.Warn("email delivery failed", zap.String("order", m.Order), zap.Strings("to", cfg.Recipients), zap.Error(err))
		mm.record(audit.EmailFailed(m.Order, cfg.Recipients, err))
		return err
	}
	mm.logger.Info("email sent", zap.String("order", m.Order), zap.Strings("to", cfg.Recipients))
	mm.record(audit.EmailSent(m.Order, cfg.Recipients))
	return nil
}

func (mm *Mailer) send(ctx context.Context, cfg model.SMTPSettings, m Message) error {
	msg, err := Compose(cfg, m)
	if err != nil {
		return err
	}
	transport, err := mm.dial(cfg)
	if err != nil {
		return err
	}
	if err := transport.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (mm *Mailer) record(e audit.Event) {
	if mm.audit == nil {
		return
	}
	if err := mm.audit.Record(e); err != nil {
		mm.logger.Warn("audit record failed", zap.String("event", string(e.Type)), zap.Error(err))
	}
}
