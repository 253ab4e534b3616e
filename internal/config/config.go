// Package config provides YAML file configuration with environment-variable
// overrides for the mailer.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shineum/smtp-mailer-lite/internal/account"
)

// DefaultAccountName is used when default_account is not set.
const DefaultAccountName = "default"

// Config holds the complete application configuration.
type Config struct {
	Accounts       map[string]account.Account `yaml:"accounts"`
	DefaultAccount string                     `yaml:"default_account"`

	Redis   RedisConfig   `yaml:"redis"`
	S3      S3Config      `yaml:"s3"`
	SES     SESConfig     `yaml:"ses"`
	Graph   GraphConfig   `yaml:"graph"`
	Logging LoggingConfig `yaml:"logging"`
}

// RedisConfig points at an optional remote account registry.
type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// S3Config configures the source for s3://bucket/key attachments.
type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// SESConfig holds AWS SES configuration for the ses engine.
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKeyID      string `yaml:"access_key_id"`
	SecretAccessKey  string `yaml:"secret_access_key"`
	Sender           string `yaml:"sender"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// GraphConfig holds Microsoft Graph API configuration for the graph engine.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load builds configuration from defaults and environment variables only.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, cfg.Validate()
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.DefaultAccount == "" {
		cfg.DefaultAccount = DefaultAccountName
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, cfg.Validate()
}

// Validate checks every configured account and the log level.
func (c *Config) Validate() error {
	for _, name := range c.AccountNames() {
		a := c.Accounts[name]
		a.ApplyDefaults()
		if err := a.Validate(); err != nil {
			return fmt.Errorf("account %q: %w", name, err)
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	return nil
}

// AccountNames returns the configured account names in sorted order.
func (c *Config) AccountNames() []string {
	names := make([]string, 0, len(c.Accounts))
	for name := range c.Accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// SESConfigured returns true if a region is set. Credentials may come from
// the default AWS chain and the sender from the message.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != ""
}

// S3Configured returns true if s3:// attachments can be resolved.
func (c *Config) S3Configured() bool {
	return c.S3.Region != "" || c.S3.Endpoint != ""
}

func (c *Config) applyDefaults() {
	c.DefaultAccount = DefaultAccountName
	c.Redis.Prefix = account.DefaultRedisPrefix
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values. SMTP_* and
// MAIL_ENGINE apply to the default account, creating it if needed.
func (c *Config) applyEnvVars() {
	c.applyAccountEnv()

	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("REDIS_PREFIX"); v != "" {
		c.Redis.Prefix = v
	}

	if v := os.Getenv("S3_REGION"); v != "" {
		c.S3.Region = v
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		c.S3.Endpoint = v
	}
	if v, ok := envBool("S3_PATH_STYLE"); ok {
		c.S3.PathStyle = v
	}
	if v := os.Getenv("S3_ACCESS_KEY_ID"); v != "" {
		c.S3.AccessKeyID = v
	}
	if v := os.Getenv("S3_SECRET_ACCESS_KEY"); v != "" {
		c.S3.SecretAccessKey = v
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}
	if v := os.Getenv("SES_SENDER"); v != "" {
		c.SES.Sender = v
	}
	if v := os.Getenv("SES_CONFIGURATION_SET"); v != "" {
		c.SES.ConfigurationSet = v
	}

	if v := os.Getenv("GRAPH_TENANT_ID"); v != "" {
		c.Graph.TenantID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_ID"); v != "" {
		c.Graph.ClientID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_SECRET"); v != "" {
		c.Graph.ClientSecret = v
	}
	if v := os.Getenv("GRAPH_SENDER"); v != "" {
		c.Graph.Sender = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

func (c *Config) applyAccountEnv() {
	a, exists := c.Accounts[c.DefaultAccount]
	changed := false
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
			changed = true
		}
	}

	set(&a.Host, "SMTP_HOST")
	set(&a.Username, "SMTP_USERNAME")
	set(&a.Password, "SMTP_PASSWORD")
	set(&a.Token, "SMTP_TOKEN")
	set(&a.Domain, "SMTP_DOMAIN")
	set(&a.From, "SMTP_FROM")
	set(&a.Engine, "MAIL_ENGINE")

	// Unparseable numbers and booleans are ignored.
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			a.Port = port
			changed = true
		}
	}
	if v := os.Getenv("SMTP_TIMEOUT"); v != "" {
		if timeout, err := strconv.Atoi(v); err == nil {
			a.Timeout = timeout
			changed = true
		}
	}
	if v, ok := envBool("SMTP_TLS"); ok {
		a.TLS = v
		changed = true
	}
	if v, ok := envBool("SMTP_SSL"); ok {
		a.SSL = v
		changed = true
	}

	if !changed {
		return
	}
	if !exists {
		a.ApplyDefaults()
	}
	a.Engine = strings.ToLower(a.Engine)
	if c.Accounts == nil {
		c.Accounts = make(map[string]account.Account)
	}
	c.Accounts[c.DefaultAccount] = a
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}
