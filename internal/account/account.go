// Package account describes the relay and credentials a composer sends
// through, and resolves named accounts from configuration or Redis.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/shineum/smtp-mailer-lite/internal/smtp"
	smtptls "github.com/shineum/smtp-mailer-lite/internal/tls"
)

// Delivery engines.
const (
	EngineSMTP   = "smtp"
	EngineTest   = "test"
	EngineSES    = "ses"
	EngineGraph  = "graph"
	EngineStdout = "stdout"
)

// Defaults applied to every account.
const (
	DefaultHost    = "localhost"
	DefaultPort    = 25
	DefaultTimeout = 30
	DefaultEngine  = EngineSMTP
)

var (
	// ErrNotFound is returned by a Registry when no account has the given name.
	ErrNotFound = errors.New("account not found")

	// ErrInvalid is returned by Validate.
	ErrInvalid = errors.New("invalid account")
)

// OAuth2 holds client credentials used to mint XOAUTH2 bearer tokens.
type OAuth2 struct {
	TokenURL     string   `yaml:"token_url" json:"token_url"`
	ClientID     string   `yaml:"client_id" json:"client_id"`
	ClientSecret string   `yaml:"client_secret" json:"client_secret"`
	Scopes       []string `yaml:"scopes" json:"scopes"`
}

// Account is a relay, its credentials and the addresses applied to every
// message sent with it. Username with Password authenticates with LOGIN (or
// PLAIN when Auth is "plain"); Username with Token or OAuth2 uses XOAUTH2.
type Account struct {
	Host     string  `yaml:"host" json:"host"`
	Port     int     `yaml:"port" json:"port"`
	Username string  `yaml:"username" json:"username"`
	Password string  `yaml:"password" json:"password"`
	Token    string  `yaml:"token" json:"token"`
	OAuth2   *OAuth2 `yaml:"oauth2" json:"oauth2"`
	Auth     string  `yaml:"auth" json:"auth"`

	TLS                bool   `yaml:"tls" json:"tls"`
	SSL                bool   `yaml:"ssl" json:"ssl"`
	CAFile             string `yaml:"ca_file" json:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`

	Domain  string `yaml:"domain" json:"domain"`
	Timeout int    `yaml:"timeout" json:"timeout"`
	Engine  string `yaml:"engine" json:"engine"`

	From    string   `yaml:"from" json:"from"`
	Sender  string   `yaml:"sender" json:"sender"`
	ReplyTo string   `yaml:"reply_to" json:"reply_to"`
	To      []string `yaml:"to" json:"to"`
	Cc      []string `yaml:"cc" json:"cc"`
	Bcc     []string `yaml:"bcc" json:"bcc"`
}

// ApplyDefaults fills unset connection fields.
func (a *Account) ApplyDefaults() {
	if a.Host == "" {
		a.Host = DefaultHost
	}
	if a.Port == 0 {
		a.Port = DefaultPort
	}
	if a.Timeout == 0 {
		a.Timeout = DefaultTimeout
	}
	if a.Engine == "" {
		a.Engine = DefaultEngine
	}
	a.Engine = strings.ToLower(a.Engine)
}

// Validate checks the fields that cannot be corrected by defaults.
func (a Account) Validate() error {
	switch a.Engine {
	case EngineSMTP, EngineTest, EngineSES, EngineGraph, EngineStdout, "":
	default:
		return fmt.Errorf("%w: unknown engine %q", ErrInvalid, a.Engine)
	}
	if a.Port < 0 || a.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, a.Port)
	}
	if a.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalid)
	}
	switch strings.ToLower(a.Auth) {
	case "", "login", "plain":
	default:
		return fmt.Errorf("%w: unknown auth mechanism %q", ErrInvalid, a.Auth)
	}
	if a.OAuth2 != nil && (a.OAuth2.TokenURL == "" || a.OAuth2.ClientID == "") {
		return fmt.Errorf("%w: oauth2 requires token_url and client_id", ErrInvalid)
	}
	return nil
}

// TimeoutDuration returns Timeout in seconds as a Duration.
func (a Account) TimeoutDuration() time.Duration {
	if a.Timeout <= 0 {
		return DefaultTimeout * time.Second
	}
	return time.Duration(a.Timeout) * time.Second
}

// TokenSource returns a client-credentials token source, or nil when the
// account has no OAuth2 block.
func (a Account) TokenSource(ctx context.Context) oauth2.TokenSource {
	if a.OAuth2 == nil {
		return nil
	}
	cc := &clientcredentials.Config{
		ClientID:     a.OAuth2.ClientID,
		ClientSecret: a.OAuth2.ClientSecret,
		TokenURL:     a.OAuth2.TokenURL,
		Scopes:       a.OAuth2.Scopes,
	}
	return cc.TokenSource(ctx)
}

// SMTPConfig converts the account into a session configuration.
func (a Account) SMTPConfig(ctx context.Context) (smtp.Config, error) {
	tlsCfg, err := smtptls.ClientConfig(smtptls.ClientOptions{
		CAFile:             a.CAFile,
		InsecureSkipVerify: a.InsecureSkipVerify,
	})
	if err != nil {
		return smtp.Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	mech := ""
	if strings.EqualFold(a.Auth, "plain") {
		mech = smtp.MechPlain
	}

	return smtp.Config{
		Host:        a.Host,
		Port:        a.Port,
		Username:    a.Username,
		Password:    a.Password,
		Token:       a.Token,
		TokenSource: a.TokenSource(ctx),
		Mechanism:   mech,
		TLS:         a.TLS,
		SSL:         a.SSL,
		TLSConfig:   tlsCfg,
		Domain:      a.Domain,
		Timeout:     a.TimeoutDuration(),
	}, nil
}
