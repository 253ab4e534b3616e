package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shineum/smtp-mailer-lite/internal/smtptest"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		"SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_TOKEN",
		"SMTP_TLS", "SMTP_SSL", "SMTP_DOMAIN", "SMTP_TIMEOUT", "SMTP_FROM", "MAIL_ENGINE",
		"REDIS_URL", "S3_REGION", "S3_ENDPOINT", "SES_REGION", "GRAPH_TENANT_ID",
		"GRAPH_CLIENT_ID", "GRAPH_CLIENT_SECRET", "GRAPH_SENDER", "LOG_LEVEL",
	} {
		t.Setenv(env, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRun_DebugWithoutAccount(t *testing.T) {
	clearEnv(t)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{
		"-debug",
		"-from", "Mailer <mailer@example.com>",
		"-to", "james@example.com",
		"-to", "anna@example.com",
		"-subject", "test #1",
		"-text", "this is a test",
	}, &stdout, &stderr)
	require.NoError(t, err)

	out := stdout.String()
	for _, want := range []string{
		"\r\nSubject: test #1\r\n",
		"\r\nFrom: \"Mailer\" <mailer@example.com>\r\n",
		"\r\nTo: james@example.com, anna@example.com\r\n",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"\r\n\r\nthis is a test\r\n",
	} {
		require.Contains(t, out, want)
	}
}

func TestRun_SendsThroughConfiguredAccount(t *testing.T) {
	clearEnv(t)

	srv, err := smtptest.NewServer(smtptest.Config{Username: "user", Password: "secret"})
	require.NoError(t, err)
	defer srv.Close()

	cfgPath := writeFile(t, "config.yaml", fmt.Sprintf(`
default_account: relay
accounts:
  relay:
    host: %s
    port: %d
    username: user
    password: secret
    timeout: 5
    from: mailer@example.com
logging:
  level: error
`, srv.Host(), srv.Port()))
	mdPath := writeFile(t, "welcome.md", "---\nsubject: Welcome\n---\nHello **there**\n")
	attachPath := writeFile(t, "notes.html", "<p>notes</p>")

	var stdout, stderr bytes.Buffer
	err = run(context.Background(), []string{
		"-config", cfgPath,
		"-to", "james@example.com",
		"-bcc", "audit@example.com",
		"-markdown", mdPath,
		"-attach", attachPath,
		"-log",
	}, &stdout, &stderr)
	require.NoError(t, err, stderr.String())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	m := msgs[0]
	require.Equal(t, "mailer@example.com", m.From)
	require.Equal(t, []string{"james@example.com", "audit@example.com"}, m.Recipients)
	require.NotNil(t, m.Parsed, "relay could not parse the message")
	require.Equal(t, "Welcome", m.Parsed.Subject)
	require.Contains(t, m.Parsed.HtmlBody, "<strong>there</strong>")
	require.Len(t, m.Parsed.Attachments, 1)
	require.Equal(t, "notes.html", m.Parsed.Attachments[0].Filename)
	require.Contains(t, stderr.String(), "AUTH LOGIN", "session log not printed")
}

func TestRun_UnknownAccount(t *testing.T) {
	clearEnv(t)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{
		"-account", "missing",
		"-to", "james@example.com",
		"-from", "mailer@example.com",
		"-text", "hi",
	}, &stdout, &stderr)
	require.Error(t, err)
}

func TestRun_InvalidAddress(t *testing.T) {
	clearEnv(t)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-debug", "-to", "James <broken"}, &stdout, &stderr)
	require.Error(t, err)
}

func TestSplitAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, email, name string
	}{
		{in: "james@example.com", email: "james@example.com"},
		{in: " james@example.com ", email: "james@example.com"},
		{in: "James <james@example.com>", email: "james@example.com", name: "James"},
		{in: `"Doe, Jane" <jane@example.com>`, email: "jane@example.com", name: "Doe, Jane"},
	}

	for _, tt := range tests {
		email, name, err := splitAddress(tt.in)
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.email, email, tt.in)
		require.Equal(t, tt.name, name, tt.in)
	}
}

func TestImpliedFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		opts options
		want string
	}{
		{opts: options{text: "t"}, want: "text"},
		{opts: options{html: "h"}, want: "html"},
		{opts: options{text: "t", html: "h"}, want: "both"},
		{opts: options{markdown: "m.md", text: "t"}, want: ""},
		{opts: options{}, want: ""},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, impliedFormat(&tt.opts), "%+v", tt.opts)
	}
}
