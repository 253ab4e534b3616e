// Package smtp implements the client side of an SMTP submission: connect,
// EHLO, optional STARTTLS, optional AUTH, then one MAIL/RCPT/DATA transaction.
package smtp

import (
	"errors"
	"fmt"

	"github.com/emersion/go-sasl"
)

// Authentication mechanism names.
const (
	MechLogin   = "LOGIN"
	MechPlain   = "PLAIN"
	MechXOAuth2 = "XOAUTH2"
)

var errUnexpectedChallenge = errors.New("unexpected server challenge")

// loginClient implements the LOGIN mechanism as a two-step challenge/response:
// the username answers the first 334, the password the second.
type loginClient struct {
	username string
	password string
	step     int
}

func newLoginClient(username, password string) sasl.Client {
	return &loginClient{username: username, password: password}
}

func (a *loginClient) Start() (string, []byte, error) {
	a.step = 0
	return MechLogin, nil, nil
}

func (a *loginClient) Next(_ []byte) ([]byte, error) {
	a.step++
	switch a.step {
	case 1:
		return []byte(a.username), nil
	case 2:
		return []byte(a.password), nil
	}
	return nil, errUnexpectedChallenge
}

func (a *loginClient) moreSteps() bool { return a.step < 2 }

// hasMoreSteps reports whether c expects another 334 challenge after its
// last response. Clients without steps finish on their first response.
func hasMoreSteps(c sasl.Client) bool {
	if s, ok := c.(interface{ moreSteps() bool }); ok {
		return s.moreSteps()
	}
	return false
}

// xoauth2Client sends the bearer token as the initial response.
// Any challenge means the server rejected the token.
type xoauth2Client struct {
	username string
	token    string
}

func newXOAuth2Client(username, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}

func (a *xoauth2Client) Start() (string, []byte, error) {
	ir := fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", a.username, a.token)
	return MechXOAuth2, []byte(ir), nil
}

func (a *xoauth2Client) Next(_ []byte) ([]byte, error) {
	return nil, errUnexpectedChallenge
}

// newPlainClient returns the RFC 4616 PLAIN mechanism with no authorization identity.
func newPlainClient(username, password string) sasl.Client {
	return sasl.NewPlainClient("", username, password)
}
