package smtptest

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Authenticator checks AUTH exchanges against configured credentials.
type Authenticator struct {
	username string
	password string
	token    string
}

// NewAuthenticator creates an Authenticator. With an empty username AUTH is disabled.
func NewAuthenticator(username, password, token string) *Authenticator {
	return &Authenticator{
		username: username,
		password: password,
		token:    token,
	}
}

// Enabled reports whether any credentials are configured.
func (a *Authenticator) Enabled() bool {
	return a.username != "" && (a.password != "" || a.token != "")
}

// Mechanisms returns the AUTH mechanisms to advertise.
func (a *Authenticator) Mechanisms() string {
	var mechs []string
	if a.password != "" {
		mechs = append(mechs, "PLAIN", "LOGIN")
	}
	if a.token != "" {
		mechs = append(mechs, "XOAUTH2")
	}
	return strings.Join(mechs, " ")
}

// VerifyPlain decodes and verifies an AUTH PLAIN response: base64(authzid\0user\0pass).
func (a *Authenticator) VerifyPlain(encoded string) error {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("invalid base64 encoding")
	}

	parts := strings.SplitN(string(decoded), "\x00", 3)
	if len(parts) != 3 {
		return fmt.Errorf("invalid AUTH PLAIN format")
	}
	if a.password == "" || parts[1] != a.username || parts[2] != a.password {
		return fmt.Errorf("authentication failed")
	}
	return nil
}

// VerifyLogin verifies base64 encoded AUTH LOGIN credentials.
func (a *Authenticator) VerifyLogin(encodedUser, encodedPass string) error {
	user, err := base64.StdEncoding.DecodeString(encodedUser)
	if err != nil {
		return fmt.Errorf("invalid base64 username")
	}
	pass, err := base64.StdEncoding.DecodeString(encodedPass)
	if err != nil {
		return fmt.Errorf("invalid base64 password")
	}
	if a.password == "" || string(user) != a.username || string(pass) != a.password {
		return fmt.Errorf("authentication failed")
	}
	return nil
}

// VerifyXOAuth2 verifies an XOAUTH2 initial response:
// base64("user=" user "\x01auth=Bearer " token "\x01\x01").
func (a *Authenticator) VerifyXOAuth2(encoded string) error {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("invalid base64 encoding")
	}

	var user, token string
	for _, field := range strings.Split(string(decoded), "\x01") {
		switch {
		case strings.HasPrefix(field, "user="):
			user = strings.TrimPrefix(field, "user=")
		case strings.HasPrefix(field, "auth=Bearer "):
			token = strings.TrimPrefix(field, "auth=Bearer ")
		}
	}
	if a.token == "" || user != a.username || token != a.token {
		return fmt.Errorf("authentication failed")
	}
	return nil
}
