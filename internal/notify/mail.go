package notify

import (
	"bytes"
	"context"

	"github.com/cockroachdb/errors"
	"github.com/wneessen/go-mail"
)

type Attachment struct {
	Name string
	Data []byte
}

type Message struct {
	To          string
	Subject     string
	Body        string
	Attachments []Attachment
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender delivers through the SMTP server in the effective mail
// settings, read fresh for every message.
type SMTPSender struct {
	settings *Settings
}

func NewSMTPSender(settings *Settings) *SMTPSender {
	return &SMTPSender{settings: settings}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	cfg, err := s.settings.Effective(ctx)
	if err != nil {
		return err
	}
	if cfg.Server == "" {
		return errors.New("mail server is not configured")
	}

	m := mail.NewMsg()
	if err := m.From(cfg.DefaultSender); err != nil {
		return errors.Wrap(err, "invalid sender address")
	}
	if err := m.To(msg.To); err != nil {
		return errors.Wrapf(err, "invalid recipient %q", msg.To)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	for _, a := range msg.Attachments {
		if err := m.AttachReader(a.Name, bytes.NewReader(a.Data)); err != nil {
			return errors.Wrapf(err, "attach %s", a.Name)
		}
	}

	opts := []mail.Option{mail.WithPort(cfg.Port)}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	if cfg.UseTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	client, err := mail.NewClient(cfg.Server, opts...)
	if err != nil {
		return errors.Wrap(err, "create mail client")
	}
	return errors.Wrap(client.DialAndSendWithContext(ctx, m), "send mail")
}
