package smtptest

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/shineum/smtp-mailer-lite/internal/parser"
)

// Relay session states.
const (
	stateConnected = iota
	stateGreeted
	stateAuthOK
	stateMailFrom
	stateRcptTo
)

// idleTimeout closes a session that stops talking.
const idleTimeout = 10 * time.Second

// xoauth2Failure is the base64 JSON challenge Gmail sends for a rejected token.
const xoauth2Failure = "eyJzdGF0dXMiOiI0MDEiLCJzY2hlbWVzIjoiYmVhcmVyIiwic2NvcGUiOiJodHRwczovL21haWwuZ29vZ2xlLmNvbS8ifQ=="

type session struct {
	server *Server
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	state  int

	tlsActive bool

	mailFrom string
	rcptTo   []string
}

func newSession(s *Server, conn net.Conn) *session {
	_, implicit := conn.(*tls.Conn)
	return &session{
		server:    s,
		conn:      conn,
		reader:    bufio.NewReader(conn),
		writer:    bufio.NewWriter(conn),
		state:     stateConnected,
		tlsActive: implicit,
	}
}

func (s *session) handle() {
	defer s.conn.Close()

	if reply, ok := s.server.config.Replies["GREETING"]; ok {
		s.writeLine("%s", reply)
		if !strings.HasPrefix(reply, "220") {
			return
		}
	} else {
		s.writeLine("220 %s ESMTP smtptest", s.server.config.Hostname)
	}

	for {
		if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			return
		}

		line, err := s.readLine()
		if err != nil {
			if err != io.EOF {
				slog.Debug("relay read error", "error", err)
			}
			return
		}
		if line == "" {
			continue
		}

		s.server.recordCommand(line)
		cmd, arg := parseCommand(line)

		if s.server.config.Stall[cmd] {
			continue
		}
		if reply, ok := s.server.config.Replies[cmd]; ok {
			s.writeLine("%s", reply)
			if cmd == "QUIT" {
				return
			}
			continue
		}

		if s.handleCommand(cmd, arg) {
			return
		}
	}
}

// handleCommand processes one command and returns true when the session should end.
func (s *session) handleCommand(cmd, arg string) bool {
	switch cmd {
	case "EHLO", "HELO":
		s.handleEHLO(cmd, arg)
	case "STARTTLS":
		return s.handleSTARTTLS()
	case "AUTH":
		s.handleAUTH(arg)
	case "MAIL":
		s.handleMAIL(arg)
	case "RCPT":
		s.handleRCPT(arg)
	case "DATA":
		s.handleDATA()
	case "RSET":
		s.resetTransaction()
		s.writeLine("250 OK")
	case "NOOP":
		s.writeLine("250 OK")
	case "QUIT":
		s.writeLine("221 Bye")
		return true
	default:
		s.writeLine("500 Unrecognized command")
	}
	return false
}

func (s *session) handleEHLO(cmd, arg string) {
	if arg == "" {
		s.writeLine("501 Syntax: %s hostname", cmd)
		return
	}

	s.state = stateGreeted
	if cmd == "HELO" {
		s.writeLine("250 %s Hello %s", s.server.config.Hostname, arg)
		return
	}

	s.writeLine("250-%s Hello %s", s.server.config.Hostname, arg)
	if s.server.config.TLSConfig != nil && !s.tlsActive {
		s.writeLine("250-STARTTLS")
	}
	if s.server.auth.Enabled() {
		s.writeLine("250-AUTH %s", s.server.auth.Mechanisms())
	}
	s.writeLine("250 8BITMIME")
}

// handleSTARTTLS upgrades the connection; it returns true if the session must end.
func (s *session) handleSTARTTLS() bool {
	if s.server.config.TLSConfig == nil || s.tlsActive {
		s.writeLine("454 TLS not available")
		return false
	}

	s.writeLine("220 Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.server.config.TLSConfig)
	if err := tlsConn.Handshake(); err != nil {
		slog.Debug("relay TLS handshake failed", "error", err)
		return true
	}

	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
	s.state = stateConnected
	return false
}

func (s *session) handleAUTH(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if !s.server.auth.Enabled() {
		s.writeLine("503 AUTH not available")
		return
	}

	parts := strings.SplitN(arg, " ", 2)
	initial := ""
	if len(parts) > 1 {
		initial = parts[1]
	}

	switch strings.ToUpper(parts[0]) {
	case "PLAIN":
		s.handleAuthPlain(initial)
	case "LOGIN":
		s.handleAuthLogin()
	case "XOAUTH2":
		s.handleAuthXOAuth2(initial)
	default:
		s.writeLine("504 Unrecognized authentication type")
	}
}

func (s *session) handleAuthPlain(encoded string) {
	if encoded == "" {
		s.writeLine("334")
		line, err := s.readLine()
		if err != nil {
			return
		}
		encoded = line
	}
	if encoded == "*" {
		s.writeLine("501 Authentication cancelled")
		return
	}
	if err := s.server.auth.VerifyPlain(encoded); err != nil {
		s.writeLine("535 5.7.8 Authentication credentials invalid")
		return
	}
	s.state = stateAuthOK
	s.writeLine("235 2.7.0 Authentication successful")
}

func (s *session) handleAuthLogin() {
	s.writeLine("334 VXNlcm5hbWU6")
	user, err := s.readLine()
	if err != nil {
		return
	}
	s.server.recordCommand(user)
	if user == "*" {
		s.writeLine("501 Authentication cancelled")
		return
	}

	s.writeLine("334 UGFzc3dvcmQ6")
	pass, err := s.readLine()
	if err != nil {
		return
	}
	s.server.recordCommand(pass)
	if pass == "*" {
		s.writeLine("501 Authentication cancelled")
		return
	}

	if err := s.server.auth.VerifyLogin(user, pass); err != nil {
		s.writeLine("535 5.7.8 Authentication credentials invalid")
		return
	}
	s.state = stateAuthOK
	s.writeLine("235 2.7.0 Authentication successful")
}

// handleAuthXOAuth2 answers a bad token with a 334 JSON challenge, as Gmail
// does; the client is then expected to send anything to receive the 535.
func (s *session) handleAuthXOAuth2(encoded string) {
	if err := s.server.auth.VerifyXOAuth2(encoded); err != nil {
		s.writeLine("334 %s", xoauth2Failure)
		line, err := s.readLine()
		if err != nil {
			return
		}
		s.server.recordCommand(line)
		s.writeLine("535 5.7.8 Username and Password not accepted")
		return
	}
	s.state = stateAuthOK
	s.writeLine("235 2.7.0 Accepted")
}

func (s *session) handleMAIL(arg string) {
	if s.server.auth.Enabled() && s.state < stateAuthOK {
		s.writeLine("530 Authentication required")
		return
	}
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if !strings.HasPrefix(strings.ToUpper(arg), "FROM:") {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	addr := extractAddress(arg[5:])
	if addr == "" {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	s.mailFrom = addr
	s.rcptTo = nil
	s.state = stateMailFrom
	s.writeLine("250 OK")
}

func (s *session) handleRCPT(arg string) {
	if s.state < stateMailFrom {
		s.writeLine("503 Send MAIL FROM first")
		return
	}
	if !strings.HasPrefix(strings.ToUpper(arg), "TO:") {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	addr := extractAddress(arg[3:])
	if addr == "" {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	s.rcptTo = append(s.rcptTo, addr)
	s.state = stateRcptTo
	s.writeLine("250 OK")
}

func (s *session) handleDATA() {
	if s.state < stateRcptTo {
		s.writeLine("503 Send RCPT TO first")
		return
	}

	s.writeLine("354 Start mail input; end with <CRLF>.<CRLF>")

	var lines []string
	for {
		line, err := s.readLine()
		if err != nil {
			slog.Debug("relay error reading DATA", "error", err)
			return
		}
		if line == "." {
			break
		}
		if strings.HasPrefix(line, "..") {
			line = line[1:]
		}
		lines = append(lines, line)
	}

	data := strings.Join(lines, "\r\n")
	m := Message{
		From:       s.mailFrom,
		Recipients: s.rcptTo,
		Data:       data,
	}
	if parsed, err := parser.Parse([]byte(data)); err == nil {
		m.Parsed = parsed
	} else {
		slog.Debug("relay could not parse message", "error", err)
	}
	s.server.deliver(m)

	s.writeLine("250 OK message queued")
	s.resetTransaction()
}

func (s *session) resetTransaction() {
	s.mailFrom = ""
	s.rcptTo = nil
	if s.server.auth.Enabled() && s.state >= stateAuthOK {
		s.state = stateAuthOK
	} else if s.state >= stateGreeted {
		s.state = stateGreeted
	}
}

func (s *session) readLine() (string, error) {
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// writeLine writes a formatted line to the client, followed by \r\n.
func (s *session) writeLine(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if _, err := s.writer.WriteString(line + "\r\n"); err != nil {
		return
	}
	_ = s.writer.Flush()
}

// parseCommand splits an SMTP command line into the command verb and its argument.
func parseCommand(line string) (string, string) {
	parts := strings.SplitN(line, " ", 2)
	cmd := strings.ToUpper(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = parts[1]
	}
	return cmd, arg
}

// extractAddress extracts an email address from an SMTP parameter,
// handling both angle-bracket and bare formats.
func extractAddress(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return ""
		}
		return s[1:end]
	}
	return s
}
