package config

import (
	"context"
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail/v2"
	"go.uber.org/zap"
)

// SMTPMailer delivers HTML mail through an SMTP relay.
type SMTPMailer struct {
	host          string
	port          int
	user          string
	pass          string
	from          string
	skipTLSVerify bool
}

func NewSMTPMailer(s SMTPSettings) *SMTPMailer {
	return &SMTPMailer{
		host:          s.Host,
		port:          s.Port,
		user:          s.User,
		pass:          s.Pass,
		from:          s.From,
		skipTLSVerify: s.SkipTLSVerify,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, to []string, subject, html string) error {
	if len(to) == 0 {
		return nil
	}
	if m.host == "" || m.from == "" {
		return fmt.Errorf("smtp not configured (SMTP_HOST/SMTP_FROM)")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", html)

	d := mail.NewDialer(m.host, m.port, m.user, m.pass)
	d.StartTLSPolicy = mail.MandatoryStartTLS
	d.TLSConfig = &tls.Config{
		ServerName:         m.host,
		InsecureSkipVerify: m.skipTLSVerify, // dev only
	}

	return d.DialAndSend(msg)
}

// LogMailer only logs outgoing mail. Used when SMTP_HOST is empty.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, to []string, subject, _ string) error {
	m.logger.Info("mail not sent: smtp disabled",
		zap.Strings("to", to),
		zap.String("subject", subject),
	)
	return nil
}
