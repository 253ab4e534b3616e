package mailer

import (
	"time"

	"github.com/shineum/smtp-mailer-lite/internal/account"
	"github.com/shineum/smtp-mailer-lite/internal/attachment"
	"github.com/shineum/smtp-mailer-lite/internal/provider"
	"github.com/shineum/smtp-mailer-lite/internal/smtp"
)

// Option configures a Composer.
type Option func(*Composer)

// WithAccount sets the account messages are sent with. Its default
// addresses are applied when the Composer is created.
func WithAccount(a account.Account) Option {
	return func(c *Composer) {
		a.ApplyDefaults()
		c.account = &a
	}
}

// WithRegistry sets the registry UseAccount resolves names against.
func WithRegistry(r account.Registry) Option {
	return func(c *Composer) { c.registry = r }
}

// WithAttachmentSource replaces the default local-filesystem source.
func WithAttachmentSource(s attachment.Source) Option {
	return func(c *Composer) { c.source = s }
}

// WithDialer replaces the TCP dialer used by the smtp engine.
func WithDialer(d smtp.Dialer) Option {
	return func(c *Composer) { c.dialer = d }
}

// WithProvider registers a delivery engine under its Name.
func WithProvider(p provider.Provider) Option {
	return func(c *Composer) { c.providers[p.Name()] = p }
}

// WithClock sets the function used for the Date header.
func WithClock(now func() time.Time) Option {
	return func(c *Composer) { c.now = now }
}
