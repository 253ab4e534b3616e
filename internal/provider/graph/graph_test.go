package graph

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/smtp-mailer-lite/internal/email"
)

var (
	testMessage = email.NewMessage(
		"MIME-Version: 1.0\r\nSubject: Test Subject\r\nFrom: sender@example.com\r\nTo: alice@example.com\r\nBcc: hidden@example.com",
		"Hello, World!\r\n",
	)
	testEnvelope = email.Envelope{
		From:       "sender@example.com",
		Recipients: []string{"alice@example.com", "hidden@example.com"},
	}
)

// graphServer fakes the token endpoint and sendMail. sendFn writes the
// sendMail response; it defaults to 202 Accepted.
type graphServer struct {
	*httptest.Server
	tokenHits atomic.Int32
	sendHits  atomic.Int32
	lastPath  atomic.Value
	lastBody  atomic.Value
	sendFn    func(w http.ResponseWriter)
}

func newGraphServer(t *testing.T, sendFn func(w http.ResponseWriter)) *graphServer {
	t.Helper()
	gs := &graphServer{sendFn: sendFn}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		gs.tokenHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "graph-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/v1.0/users/", func(w http.ResponseWriter, r *http.Request) {
		gs.sendHits.Add(1)
		assert.Equal(t, "Bearer graph-token", r.Header.Get("Authorization"))
		assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		gs.lastPath.Store(r.URL.Path)
		gs.lastBody.Store(string(body))
		if gs.sendFn != nil {
			gs.sendFn(w)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	gs.Server = httptest.NewServer(mux)
	t.Cleanup(gs.Close)
	return gs
}

func (gs *graphServer) provider(cfg Config) *Provider {
	return newWithOverrides(context.Background(), cfg, gs.URL+"/v1.0", gs.URL+"/token", gs.Client())
}

func TestProvider_Name(t *testing.T) {
	t.Parallel()
	p := New(context.Background(), Config{TenantID: "tid"})
	require.Equal(t, "graph", p.Name())
}

func TestProvider_SendSuccess(t *testing.T) {
	t.Parallel()

	gs := newGraphServer(t, nil)
	p := gs.provider(Config{ClientID: "cid", ClientSecret: "secret", Sender: "mailbox@example.com"})

	require.NoError(t, p.Send(context.Background(), testEnvelope, testMessage))

	require.Equal(t, "/v1.0/users/mailbox@example.com/sendMail", gs.lastPath.Load())
	decoded, err := base64.StdEncoding.DecodeString(gs.lastBody.Load().(string))
	require.NoError(t, err, "body is not base64")
	require.Equal(t, testMessage.String(), string(decoded))
	require.Equal(t, int32(1), gs.tokenHits.Load())
}

func TestProvider_EnvelopeSenderFallback(t *testing.T) {
	t.Parallel()

	gs := newGraphServer(t, nil)
	p := gs.provider(Config{ClientID: "cid", ClientSecret: "secret"})

	require.NoError(t, p.Send(context.Background(), testEnvelope, testMessage))
	require.Equal(t, "/v1.0/users/sender@example.com/sendMail", gs.lastPath.Load())

	err := p.Send(context.Background(), email.Envelope{}, testMessage)
	require.Error(t, err, "a send without any sender must fail")
}

func TestProvider_PermanentError(t *testing.T) {
	t.Parallel()

	gs := newGraphServer(t, func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"ErrorMimeContentInvalid","message":"MIME content is invalid"}}`))
	})
	p := gs.provider(Config{Sender: "mailbox@example.com"})

	err := p.Send(context.Background(), testEnvelope, testMessage)

	var sendErr *sendError
	require.ErrorAs(t, err, &sendErr)
	require.False(t, sendErr.Temporary(), "400 should not be temporary")
	require.Equal(t, "ErrorMimeContentInvalid", sendErr.code)
	require.Equal(t, 400, sendErr.statusCode)
	require.Equal(t, int32(1), gs.sendHits.Load())
}

func TestProvider_ServerErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	gs := newGraphServer(t, func(w http.ResponseWriter) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})
	p := gs.provider(Config{Sender: "mailbox@example.com"})

	err := p.Send(context.Background(), testEnvelope, testMessage)

	var sendErr *sendError
	require.ErrorAs(t, err, &sendErr)
	require.True(t, sendErr.Temporary(), "503 should be temporary")
	require.Contains(t, sendErr.message, "unavailable")
	require.Equal(t, int32(1), gs.sendHits.Load())
}

func TestProvider_TokenFailure(t *testing.T) {
	t.Parallel()

	var sends atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
	})
	mux.HandleFunc("/v1.0/users/", func(w http.ResponseWriter, _ *http.Request) {
		sends.Add(1)
		w.WriteHeader(http.StatusAccepted)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := newWithOverrides(context.Background(), Config{Sender: "mailbox@example.com"}, srv.URL+"/v1.0", srv.URL+"/token", srv.Client())
	err := p.Send(context.Background(), testEnvelope, testMessage)
	require.ErrorContains(t, err, "access token")
	require.Zero(t, sends.Load())
}

func TestProvider_ContextCancellation(t *testing.T) {
	t.Parallel()

	gs := newGraphServer(t, func(w http.ResponseWriter) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusAccepted)
	})
	p := gs.provider(Config{Sender: "mailbox@example.com"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.Error(t, p.Send(ctx, testEnvelope, testMessage))
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, true},
		{http.StatusForbidden, false},
		{http.StatusNotFound, false},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		err := classifyError(tt.status, "", "msg")
		require.Equal(t, tt.transient, err.Temporary(), "status %d", tt.status)
	}
}

func TestSendError_Error(t *testing.T) {
	t.Parallel()

	err := &sendError{statusCode: 400, message: "bad request"}
	require.Equal(t, "Graph API error (HTTP 400): bad request", err.Error())

	err = &sendError{statusCode: 403, code: "ErrorAccessDenied", message: "denied"}
	require.Equal(t, "Graph API error (HTTP 403, ErrorAccessDenied): denied", err.Error())
}
