// Package ses implements a Provider that sends composed messages through
// AWS SES v2 as raw MIME.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/shineum/smtp-mailer-lite/internal/email"
)

// Config holds the configuration for creating a Provider.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Sender overrides the envelope sender when set.
	Sender string
	// ConfigurationSet is attached to every send when set.
	ConfigurationSet string
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Provider sends raw messages via the AWS SES v2 API.
type Provider struct {
	sender  string
	confSet string
	client  SendEmailAPI
}

// New creates a Provider with the given configuration.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Provider{
		sender:  cfg.Sender,
		confSet: cfg.ConfigurationSet,
		client:  sesv2.NewFromConfig(awsCfg),
	}, nil
}

// NewWithClient creates a Provider with a custom client, used for testing.
func NewWithClient(cfg Config, client SendEmailAPI) *Provider {
	return &Provider{
		sender:  cfg.Sender,
		confSet: cfg.ConfigurationSet,
		client:  client,
	}
}

// Send delivers msg as a raw message to every envelope recipient.
func (p *Provider) Send(ctx context.Context, env email.Envelope, msg *email.Message) error {
	if len(env.Recipients) == 0 {
		return errors.New("ses: no recipients")
	}

	from := env.From
	if p.sender != "" {
		from = p.sender
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: env.Recipients,
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{
				Data: msg.Bytes(),
			},
		},
	}
	if p.confSet != "" {
		input.ConfigurationSetName = aws.String(p.confSet)
	}

	out, err := p.client.SendEmail(ctx, input)
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			slog.Warn("SES API error",
				"code", apiErr.ErrorCode(),
				"message", apiErr.ErrorMessage(),
			)
			return fmt.Errorf("ses: %s: %w", apiErr.ErrorCode(), err)
		}
		return fmt.Errorf("ses: send failed: %w", err)
	}

	slog.Info("message delivered",
		"engine", p.Name(),
		"message_id", aws.ToString(out.MessageId),
		"recipients", len(env.Recipients),
	)
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "ses"
}
