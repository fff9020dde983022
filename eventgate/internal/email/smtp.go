package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// SMTPSender delivers emails over SMTP, upgrading to TLS when the server
// offers STARTTLS and authenticating when a username is set.
type SMTPSender struct {
	Addr     string
	Host     string
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

func (s *SMTPSender) Type() string {
	return BackendSMTP
}

func (s *SMTPSender) Send(ctx context.Context, e *Email) (err error) {
	defer func() { observe(BackendSMTP, err) }()

	from := e.From
	if from == "" {
		from = s.From
	}

	msg, err := buildMessage(from, e)
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	if err := s.deliver(ctx, from, e.To, msg); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("smtp delivery interrupted: %w", ctx.Err())
		}
		return &DeliveryError{Backend: BackendSMTP, To: e.To, Err: err}
	}
	return nil
}

func (s *SMTPSender) deliver(ctx context.Context, from, to string, msg []byte) error {
	dialer := &net.Dialer{Timeout: s.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.Addr, err)
	}

	deadline := time.Now().Add(s.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	host := s.Host
	if host == "" {
		host, _, _ = net.SplitHostPort(s.Addr)
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if s.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.Username, s.Password, host)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := c.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close body: %w", err)
	}

	return c.Quit()
}

// buildMessage renders an RFC 5322 message with a quoted-printable HTML body.
func buildMessage(from string, e *Email) ([]byte, error) {
	var buf bytes.Buffer

	header := func(k, v string) {
		buf.WriteString(k + ": " + v + "\r\n")
	}
	header("From", from)
	header("To", e.To)
	header("Subject", mime.QEncoding.Encode("utf-8", e.Subject))
	header("Date", time.Now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/html; charset="UTF-8"`)
	header("Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write([]byte(strings.ReplaceAll(e.HTMLBody, "\r\n", "\n"))); err != nil {
		return nil, err
	}
	if err := qp.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
