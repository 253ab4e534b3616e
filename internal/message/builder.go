// Package message assembles the header and body blocks of a MIME message
// from compose-time state.
package message

import (
	"fmt"
	"strings"
	"time"

	"github.com/shineum/smtp-mailer-lite/internal/address"
	"github.com/shineum/smtp-mailer-lite/internal/email"
	"github.com/shineum/smtp-mailer-lite/internal/mimeenc"
)

const crlf = "\r\n"

// Header is a single header field.
type Header struct {
	Name  string
	Value string
}

// Attachment is a file resolved for inclusion in the message.
type Attachment struct {
	Name        string
	ContentType string
	Content     []byte
}

// Input is everything the builder needs to render one message.
// Zero-valued singular addresses are treated as unset.
type Input struct {
	From       address.Address
	Sender     address.Address
	ReplyTo    address.Address
	ReturnPath address.Address

	To  []address.Address
	Cc  []address.Address
	Bcc []address.Address

	Subject  string
	TextBody string
	HTMLBody string
	Format   Format
	Charset  string

	// Headers are emitted after the fixed headers, in order.
	Headers     []Header
	Attachments []Attachment

	Boundary  string
	MessageID string
	Date      time.Time
}

// Validate checks the render preconditions in order: from, to, then the
// bodies the format requires.
func (in *Input) Validate() error {
	if in.From.IsZero() {
		return ErrMissingFrom
	}
	if len(in.To) == 0 {
		return ErrMissingTo
	}
	if in.Format.HasHTML() && in.HTMLBody == "" {
		return ErrMissingHTMLBody
	}
	if in.Format.HasText() && in.TextBody == "" {
		return ErrMissingTextBody
	}
	return nil
}

// Build validates in and renders it.
func Build(in *Input) (*email.Message, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	headers, err := Headers(in)
	if err != nil {
		return nil, err
	}
	body, err := Body(in)
	if err != nil {
		return nil, err
	}

	lines := make([]string, 0, len(headers))
	for _, h := range headers {
		lines = append(lines, h.Name+": "+h.Value)
	}

	return email.NewMessage(strings.Join(lines, crlf), strings.Join(body, crlf)), nil
}

// Headers returns the header fields in emission order. Every value up to and
// including Bcc is checked for line breaks after encoding.
func Headers(in *Input) ([]Header, error) {
	charset := in.charset()

	headers := []Header{
		{"MIME-Version", "1.0"},
		{"Date", in.Date.Format(time.RFC1123Z)},
		{"Message-ID", in.MessageID},
	}
	headers = append(headers, in.Headers...)

	subject, err := mimeenc.EncodeHeader(charset, in.Subject)
	if err != nil {
		return nil, err
	}
	headers = append(headers, Header{"Subject", subject})

	for _, opt := range []struct {
		name string
		addr address.Address
	}{
		{"Sender", in.Sender},
		{"Reply-To", in.ReplyTo},
		{"Return-Path", in.ReturnPath},
		{"From", in.From},
	} {
		if opt.addr.IsZero() {
			continue
		}
		v, err := mimeenc.FormatAddress(charset, opt.addr)
		if err != nil {
			return nil, err
		}
		headers = append(headers, Header{opt.name, v})
	}

	for _, list := range []struct {
		name  string
		addrs []address.Address
	}{
		{"To", in.To},
		{"Cc", in.Cc},
		{"Bcc", in.Bcc},
	} {
		if len(list.addrs) == 0 {
			continue
		}
		v, err := mimeenc.FormatAddresses(charset, list.addrs)
		if err != nil {
			return nil, err
		}
		headers = append(headers, Header{list.name, v})
	}

	for _, h := range headers {
		if mimeenc.HasLineBreak(h.Value) || strings.ContainsAny(h.Name, ":\r\n") {
			return nil, fmt.Errorf("%w: %s", ErrHeaderInjection, h.Name)
		}
	}

	headers = append(headers, Header{"Content-Type", ContentType(in)})
	if NeedsEncoding(in) && len(in.Attachments) == 0 && in.Format != FormatBoth {
		headers = append(headers, Header{"Content-Transfer-Encoding", "quoted-printable"})
	}

	return headers, nil
}

// ContentType returns the top-level Content-Type value.
func ContentType(in *Input) string {
	switch {
	case len(in.Attachments) > 0:
		return `multipart/mixed; boundary="` + in.Boundary + `"`
	case in.Format == FormatBoth:
		return `multipart/alternative; boundary="` + in.Boundary + `"`
	case in.Format == FormatHTML:
		return `text/html; charset="` + in.charset() + `"`
	default:
		return `text/plain; charset="` + in.charset() + `"`
	}
}

// NeedsEncoding reports whether any body the format carries is not pure ASCII.
func NeedsEncoding(in *Input) bool {
	if in.Format.HasText() && !mimeenc.IsASCII(in.TextBody) {
		return true
	}
	if in.Format.HasHTML() && !mimeenc.IsASCII(in.HTMLBody) {
		return true
	}
	return false
}

// Body returns the body block as lines to be joined with CRLF.
func Body(in *Input) ([]string, error) {
	var lines []string

	charset := in.charset()
	encode := NeedsEncoding(in)
	hasAttachments := len(in.Attachments) > 0
	boundary := in.Boundary
	altBoundary := boundary

	if hasAttachments && in.Format != FormatBoth {
		lines = append(lines, "--"+boundary)
		lines = append(lines, partContentType(in.Format, charset))
		if encode {
			lines = append(lines, "Content-Transfer-Encoding: quoted-printable")
		}
		lines = append(lines, "")
	}

	if hasAttachments && in.Format == FormatBoth {
		altBoundary = "alt-" + boundary
		lines = append(lines,
			"--"+boundary,
			`Content-Type: multipart/alternative; boundary="`+altBoundary+`"`,
			"",
		)
	}

	parts := []struct {
		format Format
		want   bool
		text   string
	}{
		{FormatText, in.Format.HasText(), in.TextBody},
		{FormatHTML, in.Format.HasHTML(), in.HTMLBody},
	}
	for _, p := range parts {
		if !p.want || p.text == "" {
			continue
		}
		if in.Format == FormatBoth {
			lines = append(lines, "--"+altBoundary, partContentType(p.format, charset))
			if encode {
				lines = append(lines, "Content-Transfer-Encoding: quoted-printable")
			}
			lines = append(lines, "")
		}
		text, err := formatBody(charset, p.text, encode)
		if err != nil {
			return nil, err
		}
		lines = append(lines, text, "")
	}

	for _, a := range in.Attachments {
		name, err := mimeenc.QuoteParam(charset, a.Name)
		if err != nil {
			return nil, err
		}
		lines = append(lines,
			"--"+boundary,
			"Content-Type: "+a.ContentType+"; name="+name,
			"Content-Disposition: attachment",
			"Content-Transfer-Encoding: base64",
			"",
			mimeenc.Base64Lines(a.Content),
			"",
		)
	}

	if in.Format == FormatBoth || hasAttachments {
		lines = append(lines, "--"+boundary+"--")
	}

	return lines, nil
}

func partContentType(f Format, charset string) string {
	if f == FormatHTML {
		return `Content-Type: text/html; charset="` + charset + `"`
	}
	return `Content-Type: text/plain; charset="` + charset + `"`
}

// formatBody normalises line endings, then transcodes and quoted-printable
// encodes when the message needs it.
func formatBody(charset, text string, encode bool) (string, error) {
	text = mimeenc.NormalizeCRLF(text)
	if !encode {
		return text, nil
	}
	text, err := mimeenc.Transcode(charset, text)
	if err != nil {
		return "", err
	}
	return mimeenc.QuotedPrintable(text), nil
}

func (in *Input) charset() string {
	if in.Charset == "" {
		return mimeenc.DefaultCharset
	}
	return in.Charset
}
