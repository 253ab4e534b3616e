package message

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingPrecondition is the parent of every "cannot render yet" error.
	ErrMissingPrecondition = errors.New("missing precondition")

	ErrMissingFrom     = fmt.Errorf("%w: from address not set", ErrMissingPrecondition)
	ErrMissingTo       = fmt.Errorf("%w: no to address", ErrMissingPrecondition)
	ErrMissingHTMLBody = fmt.Errorf("%w: html body not set", ErrMissingPrecondition)
	ErrMissingTextBody = fmt.Errorf("%w: text body not set", ErrMissingPrecondition)

	// ErrHeaderInjection is returned when a rendered header contains a line break.
	ErrHeaderInjection = errors.New("possible email header injection")
)
