package mailer

import (
	"errors"

	"github.com/shineum/smtp-mailer-lite/internal/account"
	"github.com/shineum/smtp-mailer-lite/internal/address"
	"github.com/shineum/smtp-mailer-lite/internal/attachment"
	"github.com/shineum/smtp-mailer-lite/internal/message"
	"github.com/shineum/smtp-mailer-lite/internal/mimeenc"
	"github.com/shineum/smtp-mailer-lite/internal/smtp"
)

// ErrConfiguration is returned when a message cannot be sent because no
// usable account or engine is configured.
var ErrConfiguration = errors.New("mailer: configuration error")

// Errors returned by the composer and its collaborators. Use errors.Is.
var (
	ErrInvalidAddress     = address.ErrInvalid
	ErrHeaderInjection    = message.ErrHeaderInjection
	ErrInvalidFormat      = message.ErrInvalidFormat
	ErrUnknownCharset     = mimeenc.ErrUnknownCharset
	ErrAttachmentNotFound = attachment.ErrNotFound
	ErrAccountNotFound    = account.ErrNotFound

	ErrMissingPrecondition = message.ErrMissingPrecondition
	ErrMissingFrom         = message.ErrMissingFrom
	ErrMissingTo           = message.ErrMissingTo
	ErrMissingHTMLBody     = message.ErrMissingHTMLBody
	ErrMissingTextBody     = message.ErrMissingTextBody

	ErrConnection = smtp.ErrConnection
	ErrTLS        = smtp.ErrTLS
	ErrTimeout    = smtp.ErrTimeout
	ErrProtocol   = smtp.ErrProtocol
)

// ProtocolError is an unexpected relay reply. Use errors.As to read the
// command, the expected codes and the raw response.
type ProtocolError = smtp.ProtocolError
