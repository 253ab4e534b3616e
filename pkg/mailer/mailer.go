package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/smtp-mailer-lite/internal/account"
	"github.com/shineum/smtp-mailer-lite/internal/address"
	"github.com/shineum/smtp-mailer-lite/internal/attachment"
	"github.com/shineum/smtp-mailer-lite/internal/email"
	"github.com/shineum/smtp-mailer-lite/internal/message"
	"github.com/shineum/smtp-mailer-lite/internal/mimeenc"
	"github.com/shineum/smtp-mailer-lite/internal/provider"
	"github.com/shineum/smtp-mailer-lite/internal/render"
	"github.com/shineum/smtp-mailer-lite/internal/smtp"
)

// Attachment names a file to attach. An empty Name uses the basename of Path.
type Attachment struct {
	Path string
	Name string
}

// Composer builds one message at a time and sends it.
type Composer struct {
	account   *account.Account
	registry  account.Registry
	source    attachment.Source
	dialer    smtp.Dialer
	providers map[string]provider.Provider
	now       func() time.Time

	to, cc, bcc                       address.List
	from, sender, replyTo, returnPath address.Address

	subject  string
	textBody string
	htmlBody string
	format   message.Format
	charset  string

	headers     []message.Header
	attachments []attachment.File

	boundary  string
	messageID string

	sessionLog []string
}

// New returns a Composer. When an account is given its default addresses
// are applied as if the matching setters had been called.
func New(opts ...Option) (*Composer, error) {
	c := &Composer{
		source:    attachment.NewRouter(nil),
		providers: make(map[string]provider.Provider),
		now:       time.Now,
		format:    message.FormatText,
		charset:   mimeenc.DefaultCharset,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.account != nil {
		if err := c.account.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		if err := c.applyAccountAddresses(*c.account); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// SetAccount replaces the account and applies its default addresses.
func (c *Composer) SetAccount(a account.Account) error {
	a.ApplyDefaults()
	if err := a.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if err := c.applyAccountAddresses(a); err != nil {
		return err
	}
	c.account = &a
	return nil
}

// UseAccount resolves name through the registry and calls SetAccount.
func (c *Composer) UseAccount(ctx context.Context, name string) error {
	if c.registry == nil {
		return fmt.Errorf("%w: no account registry for %q", ErrConfiguration, name)
	}
	a, err := c.registry.Lookup(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return c.SetAccount(a)
}

// Account returns the current account, or nil.
func (c *Composer) Account() *account.Account {
	return c.account
}

func (c *Composer) applyAccountAddresses(a account.Account) error {
	singles := []struct {
		set   func(string, string) error
		email string
	}{
		{c.From, a.From},
		{c.Sender, a.Sender},
		{c.ReplyTo, a.ReplyTo},
	}
	for _, s := range singles {
		if s.email == "" {
			continue
		}
		if err := s.set(s.email, ""); err != nil {
			return err
		}
	}
	for i, e := range a.To {
		set := c.AddTo
		if i == 0 {
			set = c.To
		}
		if err := set(e, ""); err != nil {
			return err
		}
	}
	for _, e := range a.Cc {
		if err := c.AddCc(e, ""); err != nil {
			return err
		}
	}
	for _, e := range a.Bcc {
		if err := c.AddBcc(e, ""); err != nil {
			return err
		}
	}
	return nil
}

// To replaces the To list with a single address.
func (c *Composer) To(email, name string) error { return c.to.Replace(email, name) }

// AddTo appends an address to the To list.
func (c *Composer) AddTo(email, name string) error { return c.to.Append(email, name) }

// Cc replaces the Cc list with a single address.
func (c *Composer) Cc(email, name string) error { return c.cc.Replace(email, name) }

// AddCc appends an address to the Cc list.
func (c *Composer) AddCc(email, name string) error { return c.cc.Append(email, name) }

// Bcc replaces the Bcc list with a single address.
func (c *Composer) Bcc(email, name string) error { return c.bcc.Replace(email, name) }

// AddBcc appends an address to the Bcc list.
func (c *Composer) AddBcc(email, name string) error { return c.bcc.Append(email, name) }

// From sets the author address.
func (c *Composer) From(email, name string) error { return setSingle(&c.from, email, name) }

// Sender sets the Sender header.
func (c *Composer) Sender(email, name string) error { return setSingle(&c.sender, email, name) }

// ReplyTo sets the Reply-To header.
func (c *Composer) ReplyTo(email, name string) error { return setSingle(&c.replyTo, email, name) }

// ReturnPath sets the Return-Path header.
func (c *Composer) ReturnPath(email, name string) error {
	return setSingle(&c.returnPath, email, name)
}

func setSingle(dst *address.Address, email, name string) error {
	a, err := address.New(email, name)
	if err != nil {
		return err
	}
	*dst = a
	return nil
}

// Subject sets the subject.
func (c *Composer) Subject(s string) { c.subject = s }

// TextBody sets the text/plain body.
func (c *Composer) TextBody(s string) { c.textBody = s }

// HTMLBody sets the text/html body.
func (c *Composer) HTMLBody(s string) { c.htmlBody = s }

// Format selects which bodies are sent: "text", "html" or "both".
func (c *Composer) Format(name string) error {
	f, err := message.ParseFormat(name)
	if err != nil {
		return err
	}
	c.format = f
	return nil
}

// Charset sets the charset declared for bodies and encoded words.
func (c *Composer) Charset(name string) error {
	if err := mimeenc.CheckCharset(name); err != nil {
		return err
	}
	c.charset = name
	return nil
}

// AddHeader sets an additional header. Headers keep the order in which they
// were first added; adding a name again replaces its value.
func (c *Composer) AddHeader(name, value string) {
	for i, h := range c.headers {
		if strings.EqualFold(h.Name, name) {
			c.headers[i].Value = value
			return
		}
	}
	c.headers = append(c.headers, message.Header{Name: name, Value: value})
}

// AddAttachment attaches the file at path, checking that it exists. An
// empty name uses the basename of path. Attaching a path again replaces
// its name.
func (c *Composer) AddAttachment(ctx context.Context, path, name string) error {
	f, err := attachment.Resolve(ctx, c.source, path, name)
	if err != nil {
		return err
	}
	for i, existing := range c.attachments {
		if existing.Path == path {
			c.attachments[i] = f
			return nil
		}
	}
	c.attachments = append(c.attachments, f)
	return nil
}

// AddAttachments attaches each file in order, stopping at the first error.
func (c *Composer) AddAttachments(ctx context.Context, files ...Attachment) error {
	for _, f := range files {
		if err := c.AddAttachment(ctx, f.Path, f.Name); err != nil {
			return err
		}
	}
	return nil
}

// MarkdownBody renders a markdown template into both bodies and selects
// the "both" format. A subject in the front matter replaces the subject.
func (c *Composer) MarkdownBody(src string, data any) error {
	res, err := render.Markdown(src, data)
	if err != nil {
		return err
	}
	if res.Subject != "" {
		c.subject = res.Subject
	}
	c.textBody = res.Text
	c.htmlBody = res.HTML
	c.format = message.FormatBoth
	return nil
}

// SetBoundary fixes the MIME boundary instead of generating one.
func (c *Composer) SetBoundary(b string) { c.boundary = b }

// ResetIdentity discards the boundary and message id so the next render
// generates new ones.
func (c *Composer) ResetIdentity() {
	c.boundary = ""
	c.messageID = ""
}

// SessionLog returns every line sent and received by the last SMTP send.
func (c *Composer) SessionLog() []string {
	out := make([]string, len(c.sessionLog))
	copy(out, c.sessionLog)
	return out
}

// Render validates the compose state and builds the message. The boundary
// and message id are generated once and reused by later renders.
func (c *Composer) Render(ctx context.Context) (*email.Message, error) {
	in := c.input()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	for _, f := range c.attachments {
		data, err := c.source.ReadBytes(ctx, f.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment %s: %w", f.Path, err)
		}
		in.Attachments = append(in.Attachments, message.Attachment{
			Name:        f.Name,
			ContentType: f.ContentType,
			Content:     data,
		})
	}

	in.Boundary = c.getBoundary()
	in.MessageID = "<" + c.getMessageID() + "@" + c.domain() + ">"
	in.Date = c.now()

	msg, err := message.Build(in)
	if err != nil {
		return nil, err
	}
	slog.Debug("message rendered",
		"recipients", c.to.Len()+c.cc.Len()+c.bcc.Len(),
		"attachments", len(in.Attachments),
		"format", c.format.String(),
	)
	return msg, nil
}

func (c *Composer) input() *message.Input {
	headers := make([]message.Header, len(c.headers))
	copy(headers, c.headers)
	return &message.Input{
		From:       c.from,
		Sender:     c.sender,
		ReplyTo:    c.replyTo,
		ReturnPath: c.returnPath,
		To:         c.to.Entries(),
		Cc:         c.cc.Entries(),
		Bcc:        c.bcc.Entries(),
		Subject:    c.subject,
		TextBody:   c.textBody,
		HTMLBody:   c.htmlBody,
		Format:     c.format,
		Charset:    c.charset,
		Headers:    headers,
	}
}

func (c *Composer) getBoundary() string {
	if c.boundary == "" {
		c.boundary = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return c.boundary
}

func (c *Composer) getMessageID() string {
	if c.messageID == "" {
		c.messageID = uuid.NewString()
	}
	return c.messageID
}

// domain is the from address's domain, or the host name when from is unset.
func (c *Composer) domain() string {
	if !c.from.IsZero() {
		return c.from.Domain()
	}
	host, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return host
}

func (c *Composer) envelope() email.Envelope {
	return email.Envelope{
		From:       c.from.Email(),
		Recipients: address.Concat(&c.to, &c.cc, &c.bcc),
	}
}
