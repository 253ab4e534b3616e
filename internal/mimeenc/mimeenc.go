// Package mimeenc holds the stateless encoders used to build RFC 5322 / MIME
// messages: line ending normalisation, quoted-printable bodies, RFC 2047
// encoded-words, chunked base64 and mailbox formatting.
package mimeenc

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"strings"

	"golang.org/x/text/encoding/ianaindex"

	"github.com/shineum/smtp-mailer-lite/internal/address"
)

// DefaultCharset is used when no charset has been chosen.
const DefaultCharset = "UTF-8"

// LineLength is the maximum encoded line length for base64 payloads (RFC 2045).
const LineLength = 76

const crlf = "\r\n"

// ErrUnknownCharset is returned when a charset name cannot be resolved.
var ErrUnknownCharset = errors.New("unknown charset")

// NormalizeCRLF converts every LF or CRLF line ending to CRLF.
// Lone CR characters are left untouched.
func NormalizeCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", crlf)
}

// IsASCII reports whether s contains only 7-bit bytes.
func IsASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// QuotedPrintable encodes s as quoted-printable text with CRLF line endings
// and soft line breaks at 76 columns.
func QuotedPrintable(s string) string {
	var buf bytes.Buffer
	w := quotedprintable.NewWriter(&buf)
	// Writes to a bytes.Buffer cannot fail.
	_, _ = w.Write([]byte(s))
	_ = w.Close()
	return buf.String()
}

// CheckCharset reports whether charset can be used to encode text.
func CheckCharset(charset string) error {
	if isUTF8(charset) {
		return nil
	}
	enc, err := ianaindex.IANA.Encoding(charset)
	if err != nil || enc == nil {
		return fmt.Errorf("%w: %q", ErrUnknownCharset, charset)
	}
	return nil
}

// Transcode converts UTF-8 text into the given charset.
// Text that is already in the target charset is returned unchanged.
func Transcode(charset, s string) (string, error) {
	if isUTF8(charset) || IsASCII(s) {
		return s, nil
	}
	enc, err := ianaindex.IANA.Encoding(charset)
	if err != nil || enc == nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownCharset, charset)
	}
	out, err := enc.NewEncoder().String(s)
	if err != nil {
		return "", fmt.Errorf("cannot represent text in %s: %w", charset, err)
	}
	return out, nil
}

// EncodeHeader returns s as an RFC 2047 B encoded-word in the given charset
// when it contains any byte outside printable ASCII, and s unchanged otherwise.
// Control characters such as LF force encoding, which keeps attacker supplied
// line breaks out of the rendered header block.
func EncodeHeader(charset, s string) (string, error) {
	if charset == "" {
		charset = DefaultCharset
	}
	t, err := Transcode(charset, s)
	if err != nil {
		return "", err
	}
	encoded := mime.BEncoding.Encode(charset, t)
	if encoded == t {
		return s, nil
	}
	// mime writes the encoding letter in lower case.
	return strings.ReplaceAll(encoded, "=?"+charset+"?b?", "=?"+charset+"?B?"), nil
}

// Base64Lines base64 encodes data and splits it into 76 character lines,
// each terminated by CRLF.
func Base64Lines(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)

	var b strings.Builder
	b.Grow(len(encoded) + (len(encoded)/LineLength+1)*len(crlf))
	for i := 0; i < len(encoded); i += LineLength {
		end := i + LineLength
		if end > len(encoded) {
			end = len(encoded)
		}
		b.WriteString(encoded[i:end])
		b.WriteString(crlf)
	}
	return b.String()
}

// FormatAddress renders a mailbox for use in a header value:
// `"Display Name" <email>` when a name is set, the bare email otherwise.
// Non-ASCII names are encoded before quoting.
func FormatAddress(charset string, a address.Address) (string, error) {
	if !a.HasName() {
		return a.Email(), nil
	}
	name, err := EncodeHeader(charset, a.Name())
	if err != nil {
		return "", err
	}
	return quote(name) + " <" + a.Email() + ">", nil
}

// QuoteParam renders a MIME parameter value such as an attachment name:
// encoded like a header word when needed, then quoted.
func QuoteParam(charset, value string) (string, error) {
	encoded, err := EncodeHeader(charset, value)
	if err != nil {
		return "", err
	}
	return quote(encoded), nil
}

// FormatAddresses renders a list of mailboxes joined by ", ".
func FormatAddresses(charset string, list []address.Address) (string, error) {
	parts := make([]string, 0, len(list))
	for _, a := range list {
		s, err := FormatAddress(charset, a)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ", "), nil
}

// HasLineBreak reports whether a header value contains CR, LF or their
// URL-encoded forms %0D and %0A.
func HasLineBreak(value string) bool {
	if strings.ContainsAny(value, "\r\n") {
		return true
	}
	lower := strings.ToLower(value)
	return strings.Contains(lower, "%0a") || strings.Contains(lower, "%0d")
}

func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('"')
	return b.String()
}

func isUTF8(charset string) bool {
	return charset == "" || strings.EqualFold(charset, "UTF-8") || strings.EqualFold(charset, "UTF8")
}
