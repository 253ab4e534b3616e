package smtp

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConnection is returned when the transport cannot be opened.
	ErrConnection = errors.New("smtp: unable to connect to the SMTP server")

	// ErrTLS is returned when STARTTLS is rejected or the handshake fails.
	ErrTLS = errors.New("smtp: the server did not accept the TLS connection")

	// ErrTimeout is returned when a reply does not complete within the session timeout.
	ErrTimeout = errors.New("smtp: timeout")

	// ErrProtocol matches every *ProtocolError.
	ErrProtocol = errors.New("smtp: protocol error")
)

// ProtocolError reports a reply whose code was not one of the expected codes.
type ProtocolError struct {
	// Command is the line that was sent, or empty for the greeting.
	Command string
	// Expected lists the acceptable reply codes.
	Expected []string
	// Response is the full reply text as received, lines joined by CRLF.
	Response string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("SMTP Error: %s", e.Response)
}

// Is makes errors.Is(err, ErrProtocol) true for any *ProtocolError.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// Code returns the three-digit code of the final reply line, or "" if none was read.
func (e *ProtocolError) Code() string {
	lines := strings.Split(e.Response, "\r\n")
	last := lines[len(lines)-1]
	if len(last) < 3 {
		return last
	}
	return last[:3]
}
