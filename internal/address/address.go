// Package address provides validated mailbox values and ordered recipient lists.
package address

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// ErrInvalid is returned when a mailbox fails validation.
var ErrInvalid = errors.New("invalid email address")

// Address is a validated mailbox with an optional display name.
// The zero value is not a valid Address; use New.
type Address struct {
	email string
	name  string
}

// New validates email and returns an Address carrying the optional name.
// The email must be a bare addr-spec (no display name, no angle brackets)
// and must not contain CR or LF.
func New(email, name string) (Address, error) {
	if err := Validate(email); err != nil {
		return Address{}, err
	}
	return Address{email: email, name: name}, nil
}

// Validate reports whether email is a syntactically valid mailbox.
func Validate(email string) error {
	if email == "" {
		return fmt.Errorf("%w: empty", ErrInvalid)
	}
	if strings.ContainsAny(email, "\r\n") {
		return fmt.Errorf("%w: %q contains a line break", ErrInvalid, email)
	}

	parsed, err := mail.ParseAddress(email)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalid, email, err)
	}
	// ParseAddress also accepts "Name <addr>"; only the bare form is allowed here.
	if parsed.Address != email || parsed.Name != "" {
		return fmt.Errorf("%w: %q is not a bare address", ErrInvalid, email)
	}
	return nil
}

// Email returns the mailbox.
func (a Address) Email() string { return a.email }

// Name returns the display name, or the empty string.
func (a Address) Name() string { return a.name }

// HasName reports whether a display name is set.
func (a Address) HasName() bool { return a.name != "" }

// Domain returns the part of the mailbox after the last '@'.
func (a Address) Domain() string {
	if i := strings.LastIndex(a.email, "@"); i >= 0 {
		return a.email[i+1:]
	}
	return ""
}

// IsZero reports whether a is the zero Address.
func (a Address) IsZero() bool { return a.email == "" }

// List is an ordered collection of addresses. Duplicates are kept.
type List struct {
	entries []Address
}

// Append validates email and adds it to the end of the list.
// On error the list is left unchanged.
func (l *List) Append(email, name string) error {
	addr, err := New(email, name)
	if err != nil {
		return err
	}
	l.entries = append(l.entries, addr)
	return nil
}

// Replace validates email, clears the list and stores it as the only entry.
// On error the list is left unchanged.
func (l *List) Replace(email, name string) error {
	addr, err := New(email, name)
	if err != nil {
		return err
	}
	l.entries = []Address{addr}
	return nil
}

// Len returns the number of entries.
func (l *List) Len() int { return len(l.entries) }

// Entries returns a copy of the entries in insertion order.
func (l *List) Entries() []Address {
	out := make([]Address, len(l.entries))
	copy(out, l.entries)
	return out
}

// Emails returns the bare mailboxes in insertion order.
func (l *List) Emails() []string {
	out := make([]string, 0, len(l.entries))
	for _, a := range l.entries {
		out = append(out, a.email)
	}
	return out
}

// Concat returns the mailboxes of all lists in order, duplicates included.
func Concat(lists ...*List) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l.Emails()...)
	}
	return out
}
