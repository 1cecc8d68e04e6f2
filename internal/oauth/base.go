package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Options overrides provider defaults. Zero values keep the production endpoints.
// Tests point AuthURL/TokenURL/APIBaseURL at an httptest server.
type Options struct {
	HTTPClient *http.Client
	AuthURL    string
	TokenURL   string
	APIBaseURL string
	Scopes     []string
}

// baseProvider carries what every adapter shares: credentials, endpoints, the
// exchanger and the outbound HTTP client.
type baseProvider struct {
	name       ProviderName
	creds      Credentials
	endpoint   Endpoint
	apiBase    string
	scopes     []string
	httpClient *http.Client
	exchanger  *Exchanger
}

func newBaseProvider(name ProviderName, creds Credentials, ep Endpoint, apiBase string, scopes []string, opts Options) baseProvider {
	if opts.AuthURL != "" {
		ep.AuthURL = opts.AuthURL
	}
	if opts.TokenURL != "" {
		ep.TokenURL = opts.TokenURL
	}
	if opts.APIBaseURL != "" {
		apiBase = opts.APIBaseURL
	}
	if len(opts.Scopes) > 0 {
		scopes = opts.Scopes
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return baseProvider{
		name:       name,
		creds:      creds,
		endpoint:   ep,
		apiBase:    apiBase,
		scopes:     scopes,
		httpClient: client,
		exchanger:  NewExchanger(client),
	}
}

// Name returns the provider identifier.
func (b *baseProvider) Name() ProviderName { return b.name }

// oauth2Config returns a per-call config; RedirectURL varies per flow.
func (b *baseProvider) oauth2Config(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     b.creds.ClientID,
		ClientSecret: b.creds.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       b.scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   b.endpoint.AuthURL,
			TokenURL:  b.endpoint.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Exchange sends the code to the token endpoint in this provider's transport.
func (b *baseProvider) Exchange(ctx context.Context, code, redirectURI, codeVerifier string) (*Token, error) {
	return b.exchanger.Exchange(ctx, b.endpoint, ExchangeRequest{
		Credentials:  b.creds,
		Code:         code,
		RedirectURI:  redirectURI,
		CodeVerifier: codeVerifier,
	})
}

// bearerClient wraps the shared client so every request carries tok as a Bearer header.
func (b *baseProvider) bearerClient(ctx context.Context, tok *Token) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: tok.AccessToken,
		TokenType:   "Bearer",
	}))
}

// getJSON GETs url with client and decodes a JSON body into v.
func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building profile request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("profile request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading profile response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("profile request failed: status=%d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding profile response: %w", err)
	}
	return nil
}
