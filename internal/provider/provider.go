// Package provider defines the interface for delivery engines that are not
// the built-in SMTP session.
package provider

import (
	"context"

	"github.com/shineum/smtp-mailer-lite/internal/email"
)

// Provider delivers a composed message. Every engine receives the same
// rendered message and envelope that an SMTP relay would.
type Provider interface {
	// Send delivers msg to every recipient of env. A Provider makes a single
	// attempt; retrying is left to the caller.
	Send(ctx context.Context, env email.Envelope, msg *email.Message) error

	// Name returns the engine name.
	Name() string
}
