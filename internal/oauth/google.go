// google.go -- Google OAuth2 + OIDC provider implementation.
package oauth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	googleIssuer  = "https://accounts.google.com"
	googleAPIBase = "https://openidconnect.googleapis.com/v1"
)

// GoogleProvider implements Adapter for Google.
// Uses PKCE (S256) on every authorization request, a JSON-encoded token request, and
// the OIDC userinfo endpoint for the profile.
type GoogleProvider struct {
	baseProvider
	oidc *oidc.Provider
}

// NewGoogleProvider builds a GoogleProvider without a discovery round-trip: endpoints are
// fixed (or overridden through opts), so startup never depends on accounts.google.com.
func NewGoogleProvider(ctx context.Context, creds Credentials, opts Options) *GoogleProvider {
	ep := Endpoint{
		AuthURL:   google.Endpoint.AuthURL,
		TokenURL:  google.Endpoint.TokenURL,
		Transport: TransportJSON,
	}
	b := newBaseProvider(Google, creds, ep, googleAPIBase,
		[]string{oidc.ScopeOpenID, "email", "profile"}, opts)

	pc := &oidc.ProviderConfig{
		IssuerURL:   googleIssuer,
		AuthURL:     b.endpoint.AuthURL,
		TokenURL:    b.endpoint.TokenURL,
		UserInfoURL: b.apiBase + "/userinfo",
		Algorithms:  []string{oidc.RS256},
	}
	return &GoogleProvider{
		baseProvider: b,
		oidc:         pc.NewProvider(oidc.ClientContext(ctx, b.httpClient)),
	}
}

// SupportsPKCE returns true.
func (p *GoogleProvider) SupportsPKCE() bool { return true }

// AuthCodeURL builds the consent URL with offline access, forced consent and the S256 challenge.
func (p *GoogleProvider) AuthCodeURL(state, redirectURI, codeChallenge string) string {
	return p.oauth2Config(redirectURI).AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// FetchProfile calls the OIDC userinfo endpoint with the access token.
func (p *GoogleProvider) FetchProfile(ctx context.Context, tok *Token) (*ExternalIdentity, error) {
	info, err := p.oidc.UserInfo(oidc.ClientContext(ctx, p.httpClient), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: tok.AccessToken,
		TokenType:   "Bearer",
	}))
	if err != nil {
		return nil, fmt.Errorf("google userinfo: %w", err)
	}

	var c struct {
		GivenName   string `json:"given_name"`
		FamilyName  string `json:"family_name"`
		Picture     string `json:"picture"`
		PhoneNumber string `json:"phone_number"`
	}
	if err := info.Claims(&c); err != nil {
		return nil, fmt.Errorf("extracting userinfo claims: %w", err)
	}

	return &ExternalIdentity{
		ExternalID:    info.Subject,
		Email:         normalizeEmail(info.Email),
		EmailVerified: info.EmailVerified,
		FirstName:     c.GivenName,
		LastName:      c.FamilyName,
		ProfilePicURL: c.Picture,
		PhoneNumber:   c.PhoneNumber,
	}, nil
}
