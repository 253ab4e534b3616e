// Package graph implements a Provider that sends composed messages through
// the Microsoft Graph sendMail endpoint in MIME format.
package graph

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/shineum/smtp-mailer-lite/internal/email"
)

// defaultBaseURL is the Graph v1.0 endpoint.
const defaultBaseURL = "https://graph.microsoft.com/v1.0"

// Config holds the configuration for creating a Provider.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// Sender is the mailbox that sends; the envelope sender is used when empty.
	Sender string
}

// Provider sends MIME messages via the Microsoft Graph API using OAuth2
// client credentials authentication.
type Provider struct {
	sender     string
	baseURL    string
	httpClient *http.Client
}

// New creates a Provider for the given configuration.
func New(ctx context.Context, cfg Config) *Provider {
	return newWithOverrides(ctx, cfg, defaultBaseURL, tokenURLFor(cfg.TenantID), &http.Client{Timeout: 30 * time.Second})
}

// newWithOverrides creates a Provider with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(ctx context.Context, cfg Config, baseURL, tokenURL string, client *http.Client) *Provider {
	ts := newTokenSource(ctx, tokenURL, cfg.ClientID, cfg.ClientSecret, client)

	authed := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, client), ts)
	authed.Timeout = client.Timeout

	return &Provider{
		sender:     cfg.Sender,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: authed,
	}
}

// Send posts msg as base64 MIME to the sender's sendMail endpoint. Graph
// takes the recipients from the To, Cc and Bcc headers of the message.
func (g *Provider) Send(ctx context.Context, env email.Envelope, msg *email.Message) error {
	sender := g.sender
	if sender == "" {
		sender = env.From
	}
	if sender == "" {
		return errors.New("graph: no sender mailbox")
	}

	endpoint := g.baseURL + "/users/" + url.PathEscape(sender) + "/sendMail"
	body := base64.StdEncoding.EncodeToString(msg.Bytes())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return fmt.Errorf("graph: failed to get access token: %w", err)
		}
		return &sendError{
			message:   fmt.Sprintf("HTTP request failed: %v", err),
			transient: true,
		}
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		slog.Info("message delivered",
			"engine", g.Name(),
			"sender", sender,
			"recipients", len(env.Recipients),
		)
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)

	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(respBody, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		return classifyError(resp.StatusCode, graphErrResp.Error.Code, graphErrResp.Error.Message)
	}
	return classifyError(resp.StatusCode, "", string(respBody))
}

// Name returns the provider name.
func (g *Provider) Name() string {
	return "graph"
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// sendError is a failed sendMail call. Transient errors may succeed if the
// caller tries again later; nothing in this package retries.
type sendError struct {
	message    string
	code       string
	statusCode int
	transient  bool
}

func (e *sendError) Error() string {
	if e.code != "" {
		return fmt.Sprintf("Graph API error (HTTP %d, %s): %s", e.statusCode, e.code, e.message)
	}
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}

// Temporary reports whether the failure is worth retrying later.
func (e *sendError) Temporary() bool { return e.transient }

// classifyError categorizes an HTTP error response.
func classifyError(statusCode int, code, message string) *sendError {
	err := &sendError{
		message:    message,
		code:       code,
		statusCode: statusCode,
	}

	switch {
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusTooManyRequests,
		statusCode >= 500:
		err.transient = true
	}

	return err
}
