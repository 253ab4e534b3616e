package message

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shineum/smtp-mailer-lite/internal/address"
)

const boundary = "0000000000000000000000000000"

func mustAddr(t *testing.T, email, name string) address.Address {
	t.Helper()
	a, err := address.New(email, name)
	require.NoError(t, err)
	return a
}

func baseInput(t *testing.T) *Input {
	t.Helper()
	return &Input{
		From:      mustAddr(t, "mailer@example.com", ""),
		To:        []address.Address{mustAddr(t, "james@example.com", "")},
		Subject:   "test #1",
		TextBody:  "this is a test",
		Format:    FormatText,
		Charset:   "UTF-8",
		Boundary:  boundary,
		MessageID: "<2b0a6e14-5c1c-4f3a-9c8d-0d6f3f9a7e21@example.com>",
		Date:      time.Date(2019, time.March, 5, 10, 30, 0, 0, time.UTC),
	}
}

func textAttachment() Attachment {
	return Attachment{Name: "test.txt", ContentType: "text/plain", Content: []byte("foo/bar")}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(in *Input)
		want   error
	}{
		{"no from", func(in *Input) { in.From = address.Address{} }, ErrMissingFrom},
		{"no to", func(in *Input) { in.To = nil }, ErrMissingTo},
		{"html required", func(in *Input) { in.Format = FormatHTML }, ErrMissingHTMLBody},
		{"text required", func(in *Input) { in.Format = FormatBoth; in.HTMLBody = "<p>x</p>"; in.TextBody = "" }, ErrMissingTextBody},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := baseInput(t)
			tt.mutate(in)
			err := in.Validate()
			require.ErrorIs(t, err, tt.want)
			require.ErrorIs(t, err, ErrMissingPrecondition)

			_, err = Build(in)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBuildPlainText(t *testing.T) {
	t.Parallel()

	msg, err := Build(baseInput(t))
	require.NoError(t, err)

	require.Contains(t, msg.Header(), `Content-Type: text/plain; charset="UTF-8"`)
	require.NotContains(t, msg.Header(), "Content-Transfer-Encoding")
	require.Equal(t, "this is a test\r\n", msg.Body())

	want := strings.Join([]string{
		"MIME-Version: 1.0",
		"Date: Tue, 05 Mar 2019 10:30:00 +0000",
		"Message-ID: <2b0a6e14-5c1c-4f3a-9c8d-0d6f3f9a7e21@example.com>",
		"Subject: test #1",
		"From: mailer@example.com",
		"To: james@example.com",
		`Content-Type: text/plain; charset="UTF-8"`,
	}, "\r\n")
	require.Equal(t, want, msg.Header())
	require.Equal(t, want+"\r\n\r\nthis is a test\r\n", msg.String())
}

func TestBuildQuotedPrintable(t *testing.T) {
	t.Parallel()

	in := baseInput(t)
	in.TextBody = "Are you in Valhöll?"

	msg, err := Build(in)
	require.NoError(t, err)
	require.Contains(t, msg.Header(), "Content-Transfer-Encoding: quoted-printable")
	require.Contains(t, msg.Body(), "Valh=C3=B6ll?")
}

func TestBuildNormalisesLineEndings(t *testing.T) {
	t.Parallel()

	in := baseInput(t)
	in.TextBody = "Yo Adrian!\nRocky"

	msg, err := Build(in)
	require.NoError(t, err)
	require.Equal(t, "Yo Adrian!\r\nRocky\r\n", msg.Body())
}

func TestBuildBothWithoutAttachments(t *testing.T) {
	t.Parallel()

	in := baseInput(t)
	in.Format = FormatBoth
	in.HTMLBody = "<p>this is a test</p>"
	in.Boundary = "B"

	msg, err := Build(in)
	require.NoError(t, err)
	require.Contains(t, msg.Header(), `Content-Type: multipart/alternative; boundary="B"`)
	require.Equal(t,
		"--B\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\nthis is a test\r\n\r\n"+
			"--B\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n<p>this is a test</p>\r\n\r\n--B--",
		msg.Body(),
	)
}

func TestBuildBothEncoded(t *testing.T) {
	t.Parallel()

	in := baseInput(t)
	in.Format = FormatBoth
	in.TextBody = "Are you in Valhöll?"
	in.HTMLBody = "<p>Are you in Valhöll?</p>"

	msg, err := Build(in)
	require.NoError(t, err)
	require.NotContains(t, msg.Header(), "Content-Transfer-Encoding")
	require.Contains(t, msg.Body(),
		"Content-Type: text/plain; charset=\"UTF-8\"\r\nContent-Transfer-Encoding: quoted-printable\r\n\r\nAre you in Valh=C3=B6ll?\r\n\r\n--"+boundary+"\r\n")
	require.Contains(t, msg.Body(), "<p>Are you in Valh=C3=B6ll?</p>")
}

func TestBuildTextWithAttachment(t *testing.T) {
	t.Parallel()

	in := baseInput(t)
	in.Attachments = []Attachment{textAttachment()}

	msg, err := Build(in)
	require.NoError(t, err)
	require.Contains(t, msg.Header(), `Content-Type: multipart/mixed; boundary="`+boundary+`"`)

	want := "--" + boundary + "\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\nthis is a test\r\n\r\n" +
		"--" + boundary + "\r\nContent-Type: text/plain; name=\"test.txt\"\r\nContent-Disposition: attachment\r\n" +
		"Content-Transfer-Encoding: base64\r\n\r\nZm9vL2Jhcg==\r\n\r\n\r\n--" + boundary + "--"
	require.Equal(t, want, msg.Body())
}

func TestBuildBothWithAttachment(t *testing.T) {
	t.Parallel()

	in := baseInput(t)
	in.Format = FormatBoth
	in.HTMLBody = "<p>this is a test</p>"
	in.Attachments = []Attachment{textAttachment()}

	msg, err := Build(in)
	require.NoError(t, err)

	want := "--" + boundary + "\r\nContent-Type: multipart/alternative; boundary=\"alt-" + boundary + "\"\r\n\r\n" +
		"--alt-" + boundary + "\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\nthis is a test\r\n\r\n" +
		"--alt-" + boundary + "\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n<p>this is a test</p>\r\n\r\n" +
		"--" + boundary + "\r\nContent-Type: text/plain; name=\"test.txt\"\r\nContent-Disposition: attachment\r\n" +
		"Content-Transfer-Encoding: base64\r\n\r\nZm9vL2Jhcg==\r\n\r\n\r\n--" + boundary + "--"
	require.Equal(t, want, msg.Body())
}

func TestBuildHTMLWithAttachmentEncoded(t *testing.T) {
	t.Parallel()

	in := baseInput(t)
	in.Format = FormatHTML
	in.HTMLBody = "The email message has non-ascii chars Ragnarr Loþbrók."
	in.Attachments = []Attachment{textAttachment()}

	msg, err := Build(in)
	require.NoError(t, err)
	require.NotContains(t, msg.Header(), "Content-Transfer-Encoding")
	require.Contains(t, msg.Body(),
		"Content-Type: text/html; charset=\"UTF-8\"\r\nContent-Transfer-Encoding: quoted-printable\r\n\r\n"+
			"The email message has non-ascii chars Ragnarr Lo=C3=BEbr=C3=B3k.\r\n")
}

func TestBuildAttachmentNameIsQuoted(t *testing.T) {
	t.Parallel()

	in := baseInput(t)
	in.Attachments = []Attachment{{
		Name:        "x\".txt\r\nContent-Type: text/html",
		ContentType: "text/plain",
		Content:     []byte("foo/bar"),
	}}

	msg, err := Build(in)
	require.NoError(t, err)
	require.NotContains(t, msg.Body(), "\r\nContent-Type: text/html")
	require.Contains(t, msg.Body(), "\r\nContent-Type: text/plain; name=\"=?UTF-8?B?")

	in.Attachments[0].Name = `say "hi".txt`
	msg, err = Build(in)
	require.NoError(t, err)
	require.Contains(t, msg.Body(), `Content-Type: text/plain; name="say \"hi\".txt"`)
}

func TestContentTypeSelection(t *testing.T) {
	t.Parallel()

	in := baseInput(t)
	require.Equal(t, `text/plain; charset="UTF-8"`, ContentType(in))

	in.Format = FormatHTML
	require.Equal(t, `text/html; charset="UTF-8"`, ContentType(in))

	in.Format = FormatBoth
	require.Equal(t, `multipart/alternative; boundary="`+boundary+`"`, ContentType(in))

	in.Format = FormatText
	in.Attachments = []Attachment{textAttachment()}
	require.Equal(t, `multipart/mixed; boundary="`+boundary+`"`, ContentType(in))
}

func TestHeadersOrder(t *testing.T) {
	t.Parallel()

	in := baseInput(t)
	in.Headers = []Header{{"X-Mailer", "smtp-mailer-lite"}}
	in.Sender = mustAddr(t, "sender@example.com", "")
	in.ReplyTo = mustAddr(t, "reply@example.com", "Reply Desk")
	in.ReturnPath = mustAddr(t, "bounce@example.com", "")
	in.Cc = []address.Address{mustAddr(t, "cc1@example.com", ""), mustAddr(t, "cc2@example.com", "")}
	in.Bcc = []address.Address{mustAddr(t, "bcc@example.com", "")}

	headers, err := Headers(in)
	require.NoError(t, err)

	var names []string
	for _, h := range headers {
		names = append(names, h.Name)
	}
	require.Equal(t, []string{
		"MIME-Version", "Date", "Message-ID", "X-Mailer", "Subject",
		"Sender", "Reply-To", "Return-Path", "From", "To", "Cc", "Bcc", "Content-Type",
	}, names)
	require.Equal(t, `"Reply Desk" <reply@example.com>`, headers[6].Value)
	require.Equal(t, "cc1@example.com, cc2@example.com", headers[10].Value)
}

func TestHeaderInjection(t *testing.T) {
	t.Parallel()

	t.Run("subject is neutralised by encoding", func(t *testing.T) {
		t.Parallel()
		in := baseInput(t)
		in.Subject = "Injection test\nBcc: apollo@boxers.io"

		msg, err := Build(in)
		require.NoError(t, err)
		require.Contains(t, msg.Header(), "Subject: =?UTF-8?B?SW5qZWN0aW9uIHRlc3QKQmNjOiBhcG9sbG9AYm94ZXJzLmlv?=")
		require.NotContains(t, msg.String(), "apollo@boxers.io")
	})

	t.Run("display name is neutralised by encoding", func(t *testing.T) {
		t.Parallel()
		in := baseInput(t)
		in.To = []address.Address{mustAddr(t, "james@example.com", "James\nBcc: apollo@boxers.io")}

		msg, err := Build(in)
		require.NoError(t, err)
		require.NotContains(t, msg.String(), "apollo@boxers.io")
		require.NotContains(t, msg.Header(), "\nBcc:")
	})

	t.Run("custom header is rejected", func(t *testing.T) {
		t.Parallel()
		in := baseInput(t)
		in.Headers = []Header{{"X-Mailer", "Custom Mailer\nBcc: hacker@blackbox.io"}}

		_, err := Build(in)
		require.ErrorIs(t, err, ErrHeaderInjection)
	})

	t.Run("url encoded line break is rejected", func(t *testing.T) {
		t.Parallel()
		in := baseInput(t)
		in.Headers = []Header{{"X-Campaign", "spring%0d%0aBcc: hacker@blackbox.io"}}

		_, err := Build(in)
		require.ErrorIs(t, err, ErrHeaderInjection)
	})
}

func TestBuildNonUTF8Charset(t *testing.T) {
	t.Parallel()

	in := baseInput(t)
	in.Charset = "ISO-8859-1"
	in.Subject = "Valhöll"
	in.TextBody = "Are you in Valhöll?"

	msg, err := Build(in)
	require.NoError(t, err)
	require.Contains(t, msg.Header(), "Subject: =?ISO-8859-1?B?VmFsaPZsbA==?=")
	require.Contains(t, msg.Header(), `Content-Type: text/plain; charset="ISO-8859-1"`)
	require.Equal(t, "Are you in Valh=F6ll?\r\n", msg.Body())
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Format{"text": FormatText, "HTML": FormatHTML, "both": FormatBoth} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := ParseFormat("markdown")
	require.ErrorIs(t, err, ErrInvalidFormat)
}
