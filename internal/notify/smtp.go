// ABOUTME: SMTP email notifier with markdown-to-HTML body rendering
// ABOUTME: Sends multipart/alternative mail so plain-text clients still work

package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/smtp"
	"strings"

	"github.com/yuin/goldmark"
)

// SMTPNotifier sends email notifications over SMTP. The body is treated
// as markdown (assistant answers usually are) and rendered to HTML for
// the alternative part.
type SMTPNotifier struct {
	host     string
	port     int
	username string
	password string
	from     string
	markdown goldmark.Markdown
	logger   *slog.Logger

	// sendMail is swappable for tests; defaults to smtp.SendMail.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPNotifier creates an SMTP notifier. Username may be empty for
// unauthenticated relays.
func NewSMTPNotifier(host string, port int, username, password, from string) *SMTPNotifier {
	return &SMTPNotifier{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		markdown: goldmark.New(),
		logger:   slog.Default().With("component", "notify"),
		sendMail: smtp.SendMail,
	}
}

func (n *SMTPNotifier) Name() string { return "smtp" }

// Send delivers one email. Errors propagate to the caller; the reconciler
// treats a failed notification as a failed reconciliation.
func (n *SMTPNotifier) Send(ctx context.Context, address, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := n.buildMessage(address, subject, body)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if n.username != "" {
		auth = smtp.PlainAuth("", n.username, n.password, n.host)
	}

	addr := fmt.Sprintf("%s:%d", n.host, n.port)
	if err := n.sendMail(addr, auth, n.from, []string{address}, msg); err != nil {
		return fmt.Errorf("sending mail to %s: %w", address, err)
	}

	n.logger.Info("notification sent", "to", address, "subject", subject)
	return nil
}

const multipartBoundary = "ophub-alt-boundary"

// buildMessage assembles a multipart/alternative MIME message with the
// raw body as text/plain and the markdown rendering as text/html.
func (n *SMTPNotifier) buildMessage(to, subject, body string) ([]byte, error) {
	var html bytes.Buffer
	if err := n.markdown.Convert([]byte(body), &html); err != nil {
		return nil, fmt.Errorf("rendering notification body: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n", multipartBoundary)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", multipartBoundary)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", multipartBoundary)
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	b.Write(html.Bytes())
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s--\r\n", multipartBoundary)
	return []byte(b.String()), nil
}
