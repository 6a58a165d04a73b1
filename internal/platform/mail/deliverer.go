// Package mail delivers converted books to their recipients over SMTP.
package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/phrazzld/bookpush/internal/config"
	"github.com/phrazzld/bookpush/internal/task"
)

// SMTPDeliverer sends each artifact as the attachment of a single message.
type SMTPDeliverer struct {
	addr     string
	host     string
	username string
	password string
	from     string
	logger   *slog.Logger
}

var _ task.Deliverer = (*SMTPDeliverer)(nil)

// NewSMTPDeliverer creates an SMTPDeliverer from cfg. PLAIN auth is used when
// a username is configured.
func NewSMTPDeliverer(cfg config.MailConfig, l *slog.Logger) *SMTPDeliverer {
	if l == nil {
		l = slog.Default()
	}
	return &SMTPDeliverer{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		host:     cfg.Host,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		logger:   l.With(slog.String("component", "mail")),
	}
}

// Deliver implements task.Deliverer.
func (d *SMTPDeliverer) Deliver(ctx context.Context, attachmentPath, recipient, title, author string) error {
	attachment, err := os.ReadFile(attachmentPath)
	if err != nil {
		return fmt.Errorf("failed to read attachment: %w", err)
	}

	msg, err := buildMessage(d.from, recipient, title, author, filepath.Base(attachmentPath), attachment)
	if err != nil {
		return err
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", d.addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, d.host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake failed: %w", err)
	}
	defer func() { _ = client.Close() }()

	if err := d.send(client, recipient, msg); err != nil {
		return err
	}

	d.logger.Info("book delivered",
		"recipient", recipient,
		"attachment", attachmentPath,
		"bytes", len(attachment))
	return nil
}

func (d *SMTPDeliverer) send(client *smtp.Client, recipient string, msg []byte) error {
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(nil); err != nil {
			return fmt.Errorf("starttls failed: %w", err)
		}
	}
	if d.username != "" {
		if err := client.Auth(smtp.PlainAuth("", d.username, d.password, d.host)); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}
	if err := client.Mail(d.from); err != nil {
		return fmt.Errorf("smtp MAIL failed: %w", err)
	}
	if err := client.Rcpt(recipient); err != nil {
		return fmt.Errorf("smtp RCPT failed: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA failed: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp message rejected: %w", err)
	}
	return client.Quit()
}

// buildMessage renders a multipart/mixed message with a short text body and
// the artifact attached.
func buildMessage(from, to, title, author, fileName string, attachment []byte) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", title))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mw.Boundary())

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=utf-8"},
	})
	if err != nil {
		return nil, err
	}
	body := title
	if author != "" {
		body += " by " + author
	}
	if _, err := text.Write([]byte(body + "\r\n")); err != nil {
		return nil, err
	}

	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"application/octet-stream"},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": fileName})},
	})
	if err != nil {
		return nil, err
	}
	enc := base64.NewEncoder(base64.StdEncoding, &lineWriter{w: part})
	if _, err := enc.Write(attachment); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
