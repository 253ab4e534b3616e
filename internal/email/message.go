// Package email defines the message values passed between the composer,
// the MIME builder and the delivery engines.
package email

// Message is a rendered RFC 5322 message: a header block and a body block.
// Neither part carries a trailing line break; they are joined by a blank line.
type Message struct {
	header string
	body   string
}

// NewMessage returns a Message for the given header and body blocks.
func NewMessage(header, body string) *Message {
	return &Message{header: header, body: body}
}

// Header returns the header block.
func (m *Message) Header() string { return m.header }

// Body returns the body block.
func (m *Message) Body() string { return m.body }

// String returns the full wire form: header, CRLF CRLF, body.
func (m *Message) String() string {
	return m.header + "\r\n\r\n" + m.body
}

// Bytes returns the full wire form as bytes.
func (m *Message) Bytes() []byte {
	return []byte(m.String())
}

// Envelope is the SMTP transaction for one message: the reverse path and
// every forward path (to, then cc, then bcc, duplicates kept).
type Envelope struct {
	From       string
	Recipients []string
}

// Email is a parsed summary of a message, used for display and inspection.
type Email struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	TextBody    string
	HtmlBody    string
	Attachments []Attachment
	RawHeaders  map[string][]string
	MessageID   string
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}
