// Package email delivers workflow email over SMTP.
package email

import (
	"context"
	"fmt"
	"time"

	"github.com/go-mail/mail/v2"
	"go.uber.org/zap"

	"github.com/garyjia/crm-workflow/internal/application/port"
)

// Config holds SMTP settings
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// Enabled reports whether an SMTP host and sender are configured
func (c Config) Enabled() bool {
	return c.Host != "" && c.From != ""
}

type dialer interface {
	DialAndSend(m ...*mail.Message) error
}

// SMTPSender implements port.EmailSender
type SMTPSender struct {
	dialer dialer
	from   string
	logger *zap.Logger
}

// NewSMTPSender creates a sender that dials the configured server per message
func NewSMTPSender(cfg Config, logger *zap.Logger) *SMTPSender {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.Timeout > 0 {
		d.Timeout = cfg.Timeout
	}
	return newSender(d, cfg.From, logger)
}

func newSender(d dialer, from string, logger *zap.Logger) *SMTPSender {
	return &SMTPSender{
		dialer: d,
		from:   from,
		logger: logger,
	}
}

// Send delivers one HTML message
func (s *SMTPSender) Send(ctx context.Context, msg port.EmailMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.To == "" {
		return fmt.Errorf("recipient cannot be empty")
	}

	m := mail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)

	if err := s.dialer.DialAndSend(m); err != nil {
		s.logger.Error("Failed to send email",
			zap.String("to", msg.To),
			zap.String("subject", msg.Subject),
			zap.Error(err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("Email sent", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}

// Verify interface compliance
var _ port.EmailSender = (*SMTPSender)(nil)
