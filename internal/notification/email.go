package notification

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/weather-alerts/pkg/config"
)

// ErrMessageRejected is a permanent refusal by the mail server (5xx reply).
var ErrMessageRejected = errors.New("message rejected by mail server")

// Subject is the subject line of every alert email.
const Subject = "WEATHER UPDATE"

// SMTPTransport delivers plain-text alert emails over SMTP.
type SMTPTransport struct {
	config config.SMTPConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewSMTPTransport creates a new SMTP transport
func NewSMTPTransport(cfg config.SMTPConfig, logger *zap.Logger) *SMTPTransport {
	return &SMTPTransport{config: cfg, logger: logger, now: time.Now}
}

// Configured reports whether credentials are set. Without them Send only logs.
func (s *SMTPTransport) Configured() bool {
	return s.config.Username != "" && s.config.Password != ""
}

// Send delivers body to the address to
func (s *SMTPTransport) Send(ctx context.Context, to, body string) error {
	if !s.Configured() {
		s.logger.Info("SMTP not configured, logging email instead of sending",
			zap.String("to", to),
			zap.String("subject", Subject),
			zap.String("body", body))
		return nil
	}

	if err := s.send(ctx, to, s.compose(to, body)); err != nil {
		return classify(err)
	}

	s.logger.Debug("Email sent", zap.String("to", to))
	return nil
}

func (s *SMTPTransport) compose(to, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.config.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

func (s *SMTPTransport) send(ctx context.Context, to string, msg []byte) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.config.Host}); err != nil {
			return fmt.Errorf("starttls failed: %w", err)
		}
	}
	if ok, _ := c.Extension("AUTH"); ok {
		if err := c.Auth(smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)); err != nil {
			return err
		}
	}

	if err := c.Mail(s.config.From); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	return c.Quit()
}

// classify maps permanent SMTP replies to ErrMessageRejected
func classify(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 && tpErr.Code < 600 {
		return fmt.Errorf("%w: %d %s", ErrMessageRejected, tpErr.Code, tpErr.Msg)
	}
	return fmt.Errorf("failed to send email: %w", err)
}
