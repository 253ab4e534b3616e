package message

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidFormat is returned for a body format other than text, html or both.
var ErrInvalidFormat = errors.New("invalid email format")

// Format selects which bodies a message carries.
type Format int

const (
	FormatText Format = iota
	FormatHTML
	FormatBoth
)

// ParseFormat maps "text", "html" or "both" (any case) to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text":
		return FormatText, nil
	case "html":
		return FormatHTML, nil
	case "both":
		return FormatBoth, nil
	}
	return FormatText, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
}

func (f Format) String() string {
	switch f {
	case FormatHTML:
		return "html"
	case FormatBoth:
		return "both"
	default:
		return "text"
	}
}

// HasText reports whether the format carries a text/plain body.
func (f Format) HasText() bool { return f == FormatText || f == FormatBoth }

// HasHTML reports whether the format carries a text/html body.
func (f Format) HasHTML() bool { return f == FormatHTML || f == FormatBoth }
