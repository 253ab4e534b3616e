package graph

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// tokenExpiryBuffer is the time before actual expiry when we consider a token expired.
// This prevents using a token that is about to expire during a request.
const tokenExpiryBuffer = 5 * time.Minute

// defaultScope requests every application permission granted to the client.
const defaultScope = "https://graph.microsoft.com/.default"

// tokenURLFor returns the Entra ID v2 token endpoint for a tenant.
func tokenURLFor(tenantID string) string {
	return "https://login.microsoftonline.com/" + tenantID + "/oauth2/v2.0/token"
}

// newTokenSource returns a cached client-credentials token source. Tokens
// are fetched with httpClient and renewed tokenExpiryBuffer before expiry.
func newTokenSource(ctx context.Context, tokenURL, clientID, clientSecret string, httpClient *http.Client) oauth2.TokenSource {
	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{defaultScope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	return oauth2.ReuseTokenSourceWithExpiry(nil, cc.TokenSource(ctx), tokenExpiryBuffer)
}
