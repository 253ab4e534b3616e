package stdout

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shineum/smtp-mailer-lite/internal/email"
)

func plainMessage(extra string) *email.Message {
	return email.NewMessage(
		"MIME-Version: 1.0\r\nMessage-ID: <abc@example.com>\r\nSubject: Monthly Report\r\nFrom: sender@example.com\r\nTo: alice@example.com, bob@example.com"+extra+"\r\nContent-Type: text/plain; charset=\"UTF-8\"",
		"Please find the report attached.",
	)
}

var envelope = email.Envelope{
	From:       "sender@example.com",
	Recipients: []string{"alice@example.com", "bob@example.com"},
}

func TestSend_BasicEmail(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf, false)

	require.NoError(t, p.Send(context.Background(), envelope, plainMessage("")))

	output := buf.String()
	for _, want := range []string{
		"Envelope-From: sender@example.com\n",
		"Envelope-To: alice@example.com, bob@example.com\n",
		"From: sender@example.com\n",
		"To: alice@example.com, bob@example.com\n",
		"Subject: Monthly Report\n",
		"Message-ID: <abc@example.com>\n",
		"Please find the report attached.\n",
	} {
		require.Contains(t, output, want)
	}
	require.NotContains(t, output, "Attachments:")
	require.NotContains(t, output, "Cc:")
	require.NotContains(t, output, "Raw:")
	require.True(t, strings.HasPrefix(output, separator), "output should start with a separator")
	require.True(t, strings.HasSuffix(output, separator), "output should end with a separator")
}

func TestSend_WithCcAndBcc(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf, false)

	msg := plainMessage("\r\nCc: carol@example.com\r\nBcc: dave@example.com")
	require.NoError(t, p.Send(context.Background(), envelope, msg))

	output := buf.String()
	require.Contains(t, output, "Cc: carol@example.com\n")
	require.Contains(t, output, "Bcc: dave@example.com\n")
}

func TestSend_WithAttachments(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf, false)

	pdf := base64.StdEncoding.EncodeToString(make([]byte, 46080))
	msg := email.NewMessage(
		"MIME-Version: 1.0\r\nSubject: Monthly Report\r\nFrom: sender@example.com\r\nTo: alice@example.com\r\nContent-Type: multipart/mixed; boundary=\"B\"",
		strings.Join([]string{
			"--B",
			"Content-Type: text/plain; charset=UTF-8",
			"",
			"See attached.",
			"",
			"--B",
			"Content-Type: application/pdf; name=\"report.pdf\"",
			"Content-Disposition: attachment",
			"Content-Transfer-Encoding: base64",
			"",
			pdf,
			"",
			"--B--",
		}, "\r\n"),
	)

	require.NoError(t, p.Send(context.Background(), envelope, msg))

	output := buf.String()
	require.Contains(t, output, "See attached.\n")
	require.Contains(t, output, "Attachments: report.pdf (application/pdf, 45.0 KB)")
}

func TestSend_HTMLBodyFallback(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf, false)

	msg := email.NewMessage(
		"Subject: HTML Only\r\nFrom: sender@example.com\r\nTo: alice@example.com\r\nContent-Type: text/html; charset=\"UTF-8\"",
		"<p>HTML content</p>",
	)
	require.NoError(t, p.Send(context.Background(), envelope, msg))
	require.Contains(t, buf.String(), "<p>HTML content</p>")
}

func TestSend_Raw(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf, true)

	msg := plainMessage("")
	require.NoError(t, p.Send(context.Background(), envelope, msg))
	require.Contains(t, buf.String(), "Raw:\n"+msg.String()+"\n")
}

func TestSend_UnparseableMessage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf, false)

	msg := email.NewMessage("not a header line", "body")
	require.NoError(t, p.Send(context.Background(), envelope, msg))
	require.Contains(t, buf.String(), "not a header line")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestSend_WriteError(t *testing.T) {
	t.Parallel()

	p := NewWithWriter(failingWriter{}, false)
	require.Error(t, p.Send(context.Background(), envelope, plainMessage("")))
}

func TestName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "stdout", New().Name())
}

func TestFormatSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		bytes int
		want  string
	}{
		{name: "zero bytes", bytes: 0, want: "0 B"},
		{name: "small bytes", bytes: 512, want: "512 B"},
		{name: "kilobytes", bytes: 46080, want: "45.0 KB"},
		{name: "megabytes", bytes: 1258291, want: "1.2 MB"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, formatSize(tt.bytes))
		})
	}
}
