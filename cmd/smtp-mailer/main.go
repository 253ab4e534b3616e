// Package main is the entry point for the smtp-mailer command. It composes
// one message from flags and sends it with a configured account, or prints
// it with -debug.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shineum/smtp-mailer-lite/internal/account"
	"github.com/shineum/smtp-mailer-lite/internal/attachment"
	"github.com/shineum/smtp-mailer-lite/internal/config"
	"github.com/shineum/smtp-mailer-lite/internal/provider/graph"
	"github.com/shineum/smtp-mailer-lite/internal/provider/ses"
	"github.com/shineum/smtp-mailer-lite/pkg/mailer"
)

// stringList is a repeatable string flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

type options struct {
	configPath  string
	accountName string
	to, cc, bcc stringList
	from        string
	subject     string
	text        string
	html        string
	markdown    string
	format      string
	attach      stringList
	debug       bool
	showLog     bool
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, aborting", "signal", sig)
		cancel()
	}()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("send failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogger(cfg.Logging.Level, stderr)

	c, err := buildComposer(ctx, cfg, opts)
	if err != nil {
		return err
	}

	msg, err := c.Send(ctx, opts.debug)
	if opts.showLog || err != nil {
		for _, line := range c.SessionLog() {
			if opts.showLog {
				fmt.Fprintln(stderr, line)
			} else {
				slog.Debug("session", "line", line)
			}
		}
	}
	if err != nil {
		return err
	}

	if opts.debug {
		fmt.Fprintln(stdout, msg.String())
		return nil
	}
	slog.Info("message sent", "account", accountName(cfg, opts), "engine", c.Account().Engine)
	return nil
}

func parseFlags(args []string, output io.Writer) (*options, error) {
	fs := flag.NewFlagSet("smtp-mailer", flag.ContinueOnError)
	fs.SetOutput(output)

	opts := &options{}
	fs.StringVar(&opts.configPath, "config", "", "path to YAML configuration file (optional)")
	fs.StringVar(&opts.accountName, "account", "", "account name (default: default_account from config)")
	fs.Var(&opts.to, "to", "recipient, repeatable (\"Name <addr>\" or addr)")
	fs.Var(&opts.cc, "cc", "carbon copy recipient, repeatable")
	fs.Var(&opts.bcc, "bcc", "blind carbon copy recipient, repeatable")
	fs.StringVar(&opts.from, "from", "", "author address (default: the account's from)")
	fs.StringVar(&opts.subject, "subject", "", "subject")
	fs.StringVar(&opts.text, "text", "", "text body")
	fs.StringVar(&opts.html, "html", "", "html body")
	fs.StringVar(&opts.markdown, "markdown", "", "markdown template file for both bodies")
	fs.StringVar(&opts.format, "format", "", "text, html or both (default: from the bodies given)")
	fs.Var(&opts.attach, "attach", "attachment path or s3://bucket/key, repeatable")
	fs.BoolVar(&opts.debug, "debug", false, "print the rendered message instead of sending it")
	fs.BoolVar(&opts.showLog, "log", false, "print the SMTP session log")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string, w io.Writer) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

func accountName(cfg *config.Config, opts *options) string {
	if opts.accountName != "" {
		return opts.accountName
	}
	return cfg.DefaultAccount
}

// buildComposer wires the registry, attachment source and delivery engines
// from cfg, then applies the flags.
func buildComposer(ctx context.Context, cfg *config.Config, opts *options) (*mailer.Composer, error) {
	composerOpts := []mailer.Option{mailer.WithRegistry(newRegistry(cfg))}

	if cfg.S3Configured() {
		s3src, err := attachment.NewS3Source(ctx, attachment.S3Config{
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			PathStyle:       cfg.S3.PathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 attachment source: %w", err)
		}
		composerOpts = append(composerOpts, mailer.WithAttachmentSource(attachment.NewRouter(s3src)))
	}

	if cfg.SESConfigured() {
		p, err := ses.New(ctx, ses.Config{
			Region:           cfg.SES.Region,
			AccessKeyID:      cfg.SES.AccessKeyID,
			SecretAccessKey:  cfg.SES.SecretAccessKey,
			Sender:           cfg.SES.Sender,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		composerOpts = append(composerOpts, mailer.WithProvider(p))
	}
	if cfg.GraphConfigured() {
		composerOpts = append(composerOpts, mailer.WithProvider(graph.New(ctx, graph.Config{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Graph.Sender,
		})))
	}

	c, err := mailer.New(composerOpts...)
	if err != nil {
		return nil, err
	}

	// Without a config file or environment account, -debug still renders.
	name := accountName(cfg, opts)
	if err := c.UseAccount(ctx, name); err != nil {
		if !opts.debug || !errors.Is(err, mailer.ErrAccountNotFound) {
			return nil, err
		}
		slog.Debug("no account configured, rendering only", "account", name)
	}

	if err := applyFlags(ctx, c, opts); err != nil {
		return nil, err
	}
	return c, nil
}

func newRegistry(cfg *config.Config) account.Registry {
	chain := account.Chain{account.NewMemoryRegistry(cfg.Accounts)}
	if cfg.Redis.URL != "" {
		client, err := account.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			slog.Warn("ignoring invalid redis url", "error", err)
			return chain
		}
		chain = append(chain, account.NewRedisRegistry(client, cfg.Redis.Prefix))
	}
	return chain
}

func applyFlags(ctx context.Context, c *mailer.Composer, opts *options) error {
	lists := []struct {
		values  stringList
		replace func(string, string) error
		add     func(string, string) error
	}{
		{opts.to, c.To, c.AddTo},
		{opts.cc, c.Cc, c.AddCc},
		{opts.bcc, c.Bcc, c.AddBcc},
	}
	for _, l := range lists {
		for i, v := range l.values {
			set := l.add
			if i == 0 {
				set = l.replace
			}
			email, name, err := splitAddress(v)
			if err != nil {
				return err
			}
			if err := set(email, name); err != nil {
				return err
			}
		}
	}

	if opts.from != "" {
		email, name, err := splitAddress(opts.from)
		if err != nil {
			return err
		}
		if err := c.From(email, name); err != nil {
			return err
		}
	}

	if opts.subject != "" {
		c.Subject(opts.subject)
	}

	if opts.markdown != "" {
		src, err := os.ReadFile(opts.markdown)
		if err != nil {
			return fmt.Errorf("failed to read markdown template: %w", err)
		}
		if err := c.MarkdownBody(string(src), nil); err != nil {
			return err
		}
		if opts.subject != "" {
			c.Subject(opts.subject)
		}
	}
	if opts.text != "" {
		c.TextBody(opts.text)
	}
	if opts.html != "" {
		c.HTMLBody(opts.html)
	}

	format := opts.format
	if format == "" {
		format = impliedFormat(opts)
	}
	if format != "" {
		if err := c.Format(format); err != nil {
			return err
		}
	}

	for _, path := range opts.attach {
		if err := c.AddAttachment(ctx, path, ""); err != nil {
			return err
		}
	}
	return nil
}

// impliedFormat picks a format from the bodies given on the command line,
// or "" to keep the composer's.
func impliedFormat(opts *options) string {
	switch {
	case opts.markdown != "":
		return ""
	case opts.text != "" && opts.html != "":
		return "both"
	case opts.html != "":
		return "html"
	case opts.text != "":
		return "text"
	}
	return ""
}

// splitAddress accepts "addr" or "Name <addr>".
func splitAddress(v string) (string, string, error) {
	if !strings.ContainsAny(v, "<\"") {
		return strings.TrimSpace(v), "", nil
	}
	a, err := mail.ParseAddress(v)
	if err != nil {
		return "", "", fmt.Errorf("%w: %q: %v", mailer.ErrInvalidAddress, v, err)
	}
	return a.Address, a.Name, nil
}
