// Package smtptest provides an in-process SMTP relay for tests. It speaks
// enough ESMTP (EHLO, STARTTLS, AUTH LOGIN/PLAIN/XOAUTH2, MAIL, RCPT, DATA,
// RSET, QUIT) to exercise a client end to end, records every command and
// message it receives, and can be scripted to fail individual commands.
package smtptest

import (
	"crypto/tls"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/shineum/smtp-mailer-lite/internal/email"
)

// Config controls the relay's behaviour.
type Config struct {
	// Hostname is used in the greeting and EHLO reply.
	Hostname string

	// TLSConfig enables STARTTLS. When ImplicitTLS is set the listener
	// itself is wrapped in TLS instead.
	TLSConfig   *tls.Config
	ImplicitTLS bool

	// Username with Password enables AUTH LOGIN and PLAIN; Username with
	// Token enables AUTH XOAUTH2. With no username AUTH is rejected.
	Username string
	Password string
	Token    string

	// Replies overrides the reply for a command verb ("MAIL", "RCPT", ...).
	// The key "GREETING" overrides the initial 220 line. Values may contain
	// several CRLF separated lines.
	Replies map[string]string

	// Stall lists command verbs the relay reads but never answers.
	Stall map[string]bool
}

// Message is one message accepted by the relay.
type Message struct {
	From       string
	Recipients []string
	// Data is the DATA payload with dot-stuffing removed and the
	// terminating line stripped.
	Data string
	// Parsed is Data run through the message parser, or nil if it failed.
	Parsed *email.Email
}

// Server is a running relay bound to a loopback port.
type Server struct {
	config   Config
	auth     *Authenticator
	listener net.Listener

	mu       sync.Mutex
	messages []Message
	commands []string
	conns    int

	wg sync.WaitGroup
}

// NewServer starts a relay on 127.0.0.1 with an ephemeral port.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Hostname == "" {
		cfg.Hostname = "relay.test"
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	if cfg.ImplicitTLS && cfg.TLSConfig != nil {
		ln = tls.NewListener(ln, cfg.TLSConfig)
	}

	s := &Server{
		config:   cfg,
		auth:     NewAuthenticator(cfg.Username, cfg.Password, cfg.Token),
		listener: ln,
	}

	s.wg.Add(1)
	go s.serve()

	return s, nil
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns++
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			newSession(s, conn).handle()
		}()
	}
}

// Close stops accepting connections and waits for open sessions to finish.
func (s *Server) Close() error {
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Host returns the listener IP.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listener port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	p, _ := strconv.Atoi(port)
	return p
}

// Messages returns the messages accepted so far.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Commands returns every command line received, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

// Connections returns the number of accepted connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

func (s *Server) recordCommand(line string) {
	s.mu.Lock()
	s.commands = append(s.commands, line)
	s.mu.Unlock()
}

func (s *Server) deliver(m Message) {
	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.mu.Unlock()
	slog.Debug("relay accepted message", "from", m.From, "recipients", len(m.Recipients))
}
