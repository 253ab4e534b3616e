// Package stdout implements a Provider that prints a summary of each
// composed message instead of delivering it.
package stdout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/shineum/smtp-mailer-lite/internal/email"
	"github.com/shineum/smtp-mailer-lite/internal/parser"
)

const separator = "========================================\n"

// Provider prints messages in a human-readable format.
type Provider struct {
	writer io.Writer
	// raw prints the full wire message after the summary.
	raw bool
}

// New creates a stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a Provider that writes to w. With raw set, the
// complete message follows the summary.
func NewWithWriter(w io.Writer, raw bool) *Provider {
	return &Provider{writer: w, raw: raw}
}

// Send parses msg back into its parts and prints them along with the
// envelope. A message that cannot be parsed is printed raw.
func (p *Provider) Send(_ context.Context, env email.Envelope, msg *email.Message) error {
	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "Envelope-From: %s\n", env.From)
	fmt.Fprintf(&b, "Envelope-To: %s\n", strings.Join(env.Recipients, ", "))

	parsed, err := parser.Parse(msg.Bytes())
	if err != nil {
		slog.Warn("could not parse message, printing raw", "error", err)
		b.WriteString(msg.String() + "\n")
		b.WriteString(separator)
		return p.write(b.String())
	}

	fmt.Fprintf(&b, "From: %s\n", parsed.From)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(parsed.To, ", "))
	if len(parsed.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(parsed.Cc, ", "))
	}
	if len(parsed.Bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\n", strings.Join(parsed.Bcc, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\n", parsed.Subject)
	if parsed.MessageID != "" {
		fmt.Fprintf(&b, "Message-ID: %s\n", parsed.MessageID)
	}
	b.WriteString("Body:\n")

	body := parsed.TextBody
	if body == "" {
		body = parsed.HtmlBody
	}
	b.WriteString(strings.TrimRight(body, "\r\n") + "\n")

	if len(parsed.Attachments) > 0 {
		attachments := make([]string, 0, len(parsed.Attachments))
		for _, att := range parsed.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s, %s)", att.Filename, att.ContentType, formatSize(len(att.Content))))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}

	if p.raw {
		b.WriteString("Raw:\n")
		b.WriteString(msg.String() + "\n")
	}
	b.WriteString(separator)

	return p.write(b.String())
}

func (p *Provider) write(s string) error {
	if _, err := io.WriteString(p.writer, s); err != nil {
		return fmt.Errorf("stdout: %w", err)
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
