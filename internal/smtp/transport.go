package smtp

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// maxLineLength bounds a single reply line (RFC 5321 §4.5.3.1.5 allows 512 octets plus CRLF).
const maxLineLength = 515

// Conn is a line-oriented connection to a mail relay.
type Conn interface {
	// WriteLine writes line followed by CRLF.
	WriteLine(line string) error
	// ReadLine returns the next line without its line ending.
	ReadLine() (string, error)
	// StartTLS upgrades the connection in place.
	StartTLS(config *tls.Config) error
	// SetDeadline bounds subsequent reads and writes.
	SetDeadline(t time.Time) error
	Close() error
}

// Dialer opens connections to a relay.
type Dialer interface {
	Dial(ctx context.Context, host string, port int, secure bool, timeout time.Duration) (Conn, error)
}

// NetDialer dials TCP, wrapping the socket in TLS when secure is set.
type NetDialer struct {
	// TLSConfig is used for implicit TLS. A nil config verifies the host name.
	TLSConfig *tls.Config
}

// Dial implements Dialer.
func (d NetDialer) Dial(ctx context.Context, host string, port int, secure bool, timeout time.Duration) (Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	nd := &net.Dialer{Timeout: timeout}

	if secure {
		td := &tls.Dialer{NetDialer: nd, Config: clientTLSConfig(d.TLSConfig, host)}
		conn, err := td.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return newNetConn(conn, host), nil
	}

	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return newNetConn(conn, host), nil
}

// netConn implements Conn over a net.Conn.
type netConn struct {
	conn   net.Conn
	host   string
	reader *bufio.Reader
	writer *bufio.Writer
}

func newNetConn(conn net.Conn, host string) *netConn {
	return &netConn{
		conn:   conn,
		host:   host,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
	}
}

func (c *netConn) WriteLine(line string) error {
	if _, err := c.writer.WriteString(line + "\r\n"); err != nil {
		return err
	}
	return c.writer.Flush()
}

func (c *netConn) ReadLine() (string, error) {
	var b strings.Builder
	for {
		frag, isPrefix, err := c.reader.ReadLine()
		if err != nil {
			return "", err
		}
		if b.Len()+len(frag) > maxLineLength {
			return "", fmt.Errorf("reply line longer than %d bytes", maxLineLength)
		}
		b.Write(frag)
		if !isPrefix {
			return b.String(), nil
		}
	}
}

func (c *netConn) StartTLS(config *tls.Config) error {
	tlsConn := tls.Client(c.conn, clientTLSConfig(config, c.host))
	if err := tlsConn.Handshake(); err != nil {
		return err
	}
	c.conn = tlsConn
	c.reader = bufio.NewReader(tlsConn)
	c.writer = bufio.NewWriter(tlsConn)
	return nil
}

func (c *netConn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

func (c *netConn) Close() error {
	return c.conn.Close()
}

// clientTLSConfig returns a copy of base with ServerName defaulted to host.
func clientTLSConfig(base *tls.Config, host string) *tls.Config {
	var cfg *tls.Config
	if base != nil {
		cfg = base.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	return cfg
}
