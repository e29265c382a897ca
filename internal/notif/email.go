package notif

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"time"

	"amplifi/internal/common"
	"amplifi/internal/config"
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer sends plain-text mail through the configured relay.
type SMTPMailer struct {
	cfg  config.EmailConfig
	send sendFunc
	now  func() time.Time
}

// NewEmailService returns nil when email delivery is disabled, which keeps
// the email observer unsubscribed.
func NewEmailService(cfg *config.Config) common.EmailService {
	if !cfg.Email.Enabled || cfg.Email.SMTPHost == "" || cfg.Email.FromEmail == "" {
		return nil
	}
	return &SMTPMailer{cfg: cfg.Email, send: smtp.SendMail, now: time.Now}
}

func (m *SMTPMailer) SendEmail(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rcpt, err := mail.ParseAddress(to)
	if err != nil {
		return common.WrapError(common.ErrInvalidInput, err, "invalid recipient address")
	}

	from := mail.Address{Name: m.cfg.FromName, Address: m.cfg.FromEmail}
	addr := net.JoinHostPort(m.cfg.SMTPHost, strconv.Itoa(m.cfg.SMTPPort))

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.SMTPHost)
	}

	msg := m.compose(&from, rcpt, subject, body)
	if err := m.send(addr, auth, from.Address, []string{rcpt.Address}, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (m *SMTPMailer) compose(from, to *mail.Address, subject, body string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from.String())
	fmt.Fprintf(&buf, "To: %s\r\n", to.String())
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", m.now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(body)
	buf.WriteString("\r\n")
	return buf.Bytes()
}
