package smtp

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"golang.org/x/oauth2"

	"github.com/shineum/smtp-mailer-lite/internal/email"
)

// State is a step of the client dialogue.
type State int

// Session states, in the order a successful send passes through them.
const (
	StateDisconnected State = iota
	StateConnected
	StateGreeted
	StateTLSNegotiating
	StateAuthenticated
	StateTransacting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateGreeted:
		return "greeted"
	case StateTLSNegotiating:
		return "tls-negotiating"
	case StateAuthenticated:
		return "authenticated"
	case StateTransacting:
		return "transacting"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// DefaultDomain is sent with EHLO when no domain is configured.
const DefaultDomain = "[127.0.0.1]"

// DefaultTimeout bounds connecting and each reply when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Config describes the relay and the credentials for one session.
type Config struct {
	Host string
	Port int

	Username string
	Password string
	// Token is a static OAuth2 bearer token for XOAUTH2.
	Token string
	// TokenSource supplies the XOAUTH2 bearer token when Token is empty.
	TokenSource oauth2.TokenSource
	// Mechanism forces MechPlain instead of MechLogin for password accounts.
	Mechanism string

	// TLS issues STARTTLS after the first EHLO.
	TLS bool
	// SSL wraps the socket in TLS before the greeting.
	SSL bool
	// TLSConfig overrides the client TLS settings for both TLS and SSL.
	TLSConfig *tls.Config

	// Domain is the EHLO argument; DefaultDomain when empty.
	Domain  string
	Timeout time.Duration
}

func (c Config) domain() string {
	if c.Domain == "" {
		return DefaultDomain
	}
	return c.Domain
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// Session drives one SMTP submission. A Session is not safe for concurrent
// use and should not be reused after Send returns.
type Session struct {
	cfg    Config
	dialer Dialer
	conn   Conn
	state  State
	log    []string
	now    func() time.Time

	// authenticating suppresses credential payloads in debug logs.
	authenticating bool
}

// NewSession returns a Session for cfg. A nil dialer uses NetDialer.
func NewSession(cfg Config, dialer Dialer) *Session {
	if dialer == nil {
		dialer = NetDialer{TLSConfig: cfg.TLSConfig}
	}
	return &Session{
		cfg:    cfg,
		dialer: dialer,
		state:  StateDisconnected,
		now:    time.Now,
	}
}

// State returns the current dialogue state.
func (s *Session) State() State { return s.state }

// Log returns every line sent and received so far, in order.
func (s *Session) Log() []string {
	return slices.Clone(s.log)
}

// Send transmits msg to every recipient in env. The connection is closed
// before Send returns, whatever the outcome.
func (s *Session) Send(ctx context.Context, env email.Envelope, msg *email.Message) error {
	if err := s.open(ctx); err != nil {
		return err
	}
	defer s.close()

	if err := s.hello(ctx); err != nil {
		return err
	}
	if err := s.authenticate(ctx); err != nil {
		return err
	}
	if err := s.transact(ctx, env, msg); err != nil {
		return err
	}
	if _, err := s.command(ctx, "QUIT", "221"); err != nil {
		return err
	}

	slog.Info("message delivered",
		"host", s.cfg.Host,
		"recipients", len(env.Recipients),
	)
	return nil
}

func (s *Session) open(ctx context.Context) error {
	scheme := "tcp"
	if s.cfg.SSL {
		scheme = "ssl"
	}
	s.record(fmt.Sprintf("Connecting to %s://%s:%d", scheme, s.cfg.Host, s.cfg.Port))

	conn, err := s.dialer.Dial(ctx, s.cfg.Host, s.cfg.Port, s.cfg.SSL, s.cfg.timeout())
	if err != nil {
		s.record("Unable to connect to the SMTP server.")
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	s.conn = conn
	s.state = StateConnected
	s.record("Connected to SMTP server.")
	return nil
}

func (s *Session) close() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Close(); err != nil {
		slog.Debug("closing smtp connection", "error", err)
	}
	s.conn = nil
	s.state = StateClosed
}

// hello reads the greeting, sends EHLO and, when configured, upgrades the
// connection with STARTTLS and sends EHLO again.
func (s *Session) hello(ctx context.Context) error {
	if _, err := s.command(ctx, "", "220"); err != nil {
		return err
	}

	ehlo := "EHLO " + s.cfg.domain()
	if _, err := s.command(ctx, ehlo, "250"); err != nil {
		return err
	}
	s.state = StateGreeted

	if !s.cfg.TLS {
		return nil
	}

	s.state = StateTLSNegotiating
	if _, err := s.command(ctx, "STARTTLS", "220"); err != nil {
		return err
	}
	if err := s.conn.StartTLS(s.cfg.TLSConfig); err != nil {
		return fmt.Errorf("%w: %v", ErrTLS, err)
	}
	if _, err := s.command(ctx, ehlo, "250"); err != nil {
		return err
	}
	s.state = StateGreeted
	return nil
}

// authenticate runs AUTH when the account has credentials.
func (s *Session) authenticate(ctx context.Context) error {
	client, err := s.authClient()
	if err != nil || client == nil {
		return err
	}

	s.authenticating = true
	defer func() { s.authenticating = false }()

	mech, ir, err := client.Start()
	if err != nil {
		return fmt.Errorf("smtp: start %s: %w", mech, err)
	}

	cmd, want := "AUTH "+mech, []string{"334"}
	if ir != nil {
		cmd += " " + base64.StdEncoding.EncodeToString(ir)
		want = []string{"235"}
	}

	reply, err := s.command(ctx, cmd, want...)
	if err != nil {
		if mech == MechXOAuth2 && errors.Is(err, ErrProtocol) {
			// Providers only reveal the real failure after a follow-up command.
			_, _ = s.command(ctx, "RSET")
		}
		return err
	}

	for reply.Code() == "334" {
		challenge, decodeErr := base64.StdEncoding.DecodeString(reply.Text())
		if decodeErr != nil {
			challenge = []byte(reply.Text())
		}
		resp, err := client.Next(challenge)
		if err != nil {
			return fmt.Errorf("smtp: %s: %w", mech, err)
		}
		next := "235"
		if hasMoreSteps(client) {
			next = "334"
		}
		reply, err = s.command(ctx, base64.StdEncoding.EncodeToString(resp), next)
		if err != nil {
			return err
		}
	}

	s.state = StateAuthenticated
	return nil
}

// authClient picks the mechanism: username+password uses LOGIN (or PLAIN),
// username+token uses XOAUTH2, anything else skips AUTH.
func (s *Session) authClient() (sasl.Client, error) {
	c := s.cfg
	if c.Username == "" {
		return nil, nil
	}

	if c.Password != "" {
		if strings.EqualFold(c.Mechanism, MechPlain) {
			return newPlainClient(c.Username, c.Password), nil
		}
		return newLoginClient(c.Username, c.Password), nil
	}

	token := c.Token
	if token == "" && c.TokenSource != nil {
		tok, err := c.TokenSource.Token()
		if err != nil {
			return nil, fmt.Errorf("smtp: obtain oauth2 token: %w", err)
		}
		token = tok.AccessToken
	}
	if token != "" {
		return newXOAuth2Client(c.Username, token), nil
	}
	return nil, nil
}

func (s *Session) transact(ctx context.Context, env email.Envelope, msg *email.Message) error {
	s.state = StateTransacting

	if _, err := s.command(ctx, "MAIL FROM: <"+env.From+">", "250"); err != nil {
		return err
	}
	for _, rcpt := range env.Recipients {
		if _, err := s.command(ctx, "RCPT TO: <"+rcpt+">", "250", "251"); err != nil {
			return err
		}
	}
	if _, err := s.command(ctx, "DATA", "354"); err != nil {
		return err
	}

	// The message, a blank line, then the terminating dot.
	data := dotStuff(msg.String()) + "\r\n\r\n."
	_, err := s.command(ctx, data, "250")
	return err
}

// command sends line (unless empty) and reads the reply. When want is empty
// any reply code is accepted.
func (s *Session) command(ctx context.Context, line string, want ...string) (*Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if line != "" {
		s.record(line)
		s.debug("smtp command", s.redact(line))
		if err := s.conn.SetDeadline(s.deadline(ctx)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnection, err)
		}
		if err := s.conn.WriteLine(line); err != nil {
			if isTimeout(err) {
				return nil, ErrTimeout
			}
			return nil, fmt.Errorf("%w: %v", ErrConnection, err)
		}
	}

	reply, err := s.readReply(ctx)
	if err != nil {
		return nil, err
	}

	if len(want) > 0 && !slices.Contains(want, reply.Code()) {
		return reply, &ProtocolError{
			Command:  line,
			Expected: want,
			Response: reply.String(),
		}
	}
	return reply, nil
}

// readReply reads lines until the final line of a reply: one whose fourth
// character is a space, or one that is exactly three characters long.
func (s *Session) readReply(ctx context.Context) (*Reply, error) {
	deadline := s.deadline(ctx)
	if err := s.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	reply := &Reply{}
	for {
		line, err := s.conn.ReadLine()
		if err != nil {
			if isTimeout(err) {
				return nil, ErrTimeout
			}
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w: %v", ErrConnection, err)
		}

		s.record(line)
		s.debug("smtp reply", line)
		reply.Lines = append(reply.Lines, line)

		if len(line) == 3 || (len(line) > 3 && line[3] == ' ') {
			break
		}
		if s.now().After(deadline) {
			return nil, ErrTimeout
		}
	}
	return reply, nil
}

// deadline is the reply budget: now plus the session timeout, or the
// context deadline if that is sooner.
func (s *Session) deadline(ctx context.Context) time.Time {
	d := s.now().Add(s.cfg.timeout())
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}

func (s *Session) record(line string) {
	s.log = append(s.log, line)
}

func (s *Session) debug(msg, line string) {
	slog.Debug(msg, "host", s.cfg.Host, "state", s.state.String(), "line", firstLine(line))
}

// redact hides credential payloads sent during AUTH from the debug log.
// The session log keeps them verbatim.
func (s *Session) redact(line string) string {
	if !s.authenticating || line == "RSET" {
		return line
	}
	if fields := strings.Fields(line); len(fields) >= 2 && fields[0] == "AUTH" {
		return "AUTH " + fields[1]
	}
	return "<credentials>"
}

// Reply is a complete, possibly multi-line, server reply.
type Reply struct {
	Lines []string
}

// Code returns the first three characters of the last line.
func (r *Reply) Code() string {
	if len(r.Lines) == 0 {
		return ""
	}
	last := r.Lines[len(r.Lines)-1]
	if len(last) < 3 {
		return last
	}
	return last[:3]
}

// Text returns the last line without its code and separator.
func (r *Reply) Text() string {
	if len(r.Lines) == 0 {
		return ""
	}
	last := r.Lines[len(r.Lines)-1]
	if len(last) <= 4 {
		return ""
	}
	return last[4:]
}

func (r *Reply) String() string {
	return strings.Join(r.Lines, "\r\n")
}

// dotStuff doubles a leading '.' on every line of a CRLF message.
func dotStuff(msg string) string {
	lines := strings.Split(msg, "\r\n")
	for i, l := range lines {
		if strings.HasPrefix(l, ".") {
			lines[i] = "." + l
		}
	}
	return strings.Join(lines, "\r\n")
}

func firstLine(s string) string {
	if i := strings.Index(s, "\r\n"); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
