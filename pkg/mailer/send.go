package mailer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shineum/smtp-mailer-lite/internal/account"
	"github.com/shineum/smtp-mailer-lite/internal/email"
	"github.com/shineum/smtp-mailer-lite/internal/provider/stdout"
	"github.com/shineum/smtp-mailer-lite/internal/smtp"
)

// Send renders the message and delivers it with the account's engine.
// With debug set, or with the test engine, the message is returned without
// being delivered. Without an account only debug sends are allowed.
func (c *Composer) Send(ctx context.Context, debug bool) (*email.Message, error) {
	msg, err := c.Render(ctx)
	if err != nil {
		return nil, err
	}

	if c.account == nil {
		if debug {
			return msg, nil
		}
		return nil, fmt.Errorf("%w: no email account configured", ErrConfiguration)
	}
	if debug || c.account.Engine == account.EngineTest {
		slog.Debug("message not delivered", "debug", debug, "engine", c.account.Engine)
		return msg, nil
	}

	env := c.envelope()
	switch c.account.Engine {
	case account.EngineSMTP:
		err = c.sendSMTP(ctx, env, msg)
	default:
		err = c.sendProvider(ctx, env, msg)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (c *Composer) sendSMTP(ctx context.Context, env email.Envelope, msg *email.Message) error {
	cfg, err := c.account.SMTPConfig(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	sess := smtp.NewSession(cfg, c.dialer)
	err = sess.Send(ctx, env, msg)
	c.sessionLog = sess.Log()
	if err != nil {
		slog.Warn("smtp delivery failed",
			"host", cfg.Host,
			"port", cfg.Port,
			"state", sess.State().String(),
			"error", err,
		)
		return err
	}
	return nil
}

func (c *Composer) sendProvider(ctx context.Context, env email.Envelope, msg *email.Message) error {
	engine := c.account.Engine
	p, ok := c.providers[engine]
	if !ok && engine == account.EngineStdout {
		p, ok = stdout.New(), true
	}
	if !ok {
		return fmt.Errorf("%w: engine %q is not configured", ErrConfiguration, engine)
	}

	c.sessionLog = nil
	if err := p.Send(ctx, env, msg); err != nil {
		slog.Warn("delivery failed", "engine", p.Name(), "error", err)
		return fmt.Errorf("%s: %w", p.Name(), err)
	}
	slog.Info("message delivered", "engine", p.Name(), "recipients", len(env.Recipients))
	return nil
}
