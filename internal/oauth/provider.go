// provider.go -- OAuth provider adapter interface and shared types.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownProvider is returned by ParseProviderName for names outside the supported set.
var ErrUnknownProvider = errors.New("oauth: unknown provider")

// ErrProviderNotConfigured is returned by Registry.Lookup when a supported provider
// has no client credentials registered for this process.
var ErrProviderNotConfigured = errors.New("oauth: provider not configured")

// ErrIncompleteProfile is returned when a provider profile lacks a field that
// account resolution depends on (email, external id, first name).
var ErrIncompleteProfile = errors.New("oauth: incomplete provider profile")

// ProviderName identifies one member of the closed set of supported identity providers.
// Stored as-is in users.provider and provider_accounts.provider.
type ProviderName string

const (
	Google   ProviderName = "google"
	Facebook ProviderName = "facebook"
	LinkedIn ProviderName = "linkedin"
)

// SupportedProviders lists every provider this service has an adapter for.
var SupportedProviders = []ProviderName{Google, Facebook, LinkedIn}

// ParseProviderName normalizes s and checks it against SupportedProviders.
func ParseProviderName(s string) (ProviderName, error) {
	name := ProviderName(strings.ToLower(strings.TrimSpace(s)))
	for _, p := range SupportedProviders {
		if p == name {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

// EnvPrefix returns the env var prefix for this provider's credentials, e.g. "GOOGLE".
func (p ProviderName) EnvPrefix() string {
	return strings.ToUpper(string(p))
}

// Credentials is a provider client id/secret pair.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Validate reports which env var is missing. Never includes secret material.
func (c Credentials) Validate(p ProviderName) error {
	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("%s_CLIENT_ID is required", p.EnvPrefix())
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		return fmt.Errorf("%s_CLIENT_SECRET is required", p.EnvPrefix())
	}
	return nil
}

// Token is the provider token response, normalized across transports.
// AccessToken is opaque to this service; it is only forwarded to the provider's APIs
// and stored on the provider account row.
type Token struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	IDToken      string
	Scope        string
	ExpiresIn    int64
}

// ExternalIdentity is the normalized profile a provider returned for one flow.
// Constructed fresh per flow; never persisted as-is.
type ExternalIdentity struct {
	ExternalID    string `json:"external_id"`
	Email         string `json:"email"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name,omitempty"`
	ProfilePicURL string `json:"profile_pic_url,omitempty"`
	PhoneNumber   string `json:"phone_number,omitempty"`
	EmailVerified bool   `json:"email_verified"`
}

// Validate returns ErrIncompleteProfile naming the first missing required field.
// Whitespace-only values count as missing.
func (id *ExternalIdentity) Validate() error {
	switch {
	case id == nil:
		return fmt.Errorf("%w: empty profile", ErrIncompleteProfile)
	case strings.TrimSpace(id.Email) == "":
		return fmt.Errorf("%w: email", ErrIncompleteProfile)
	case strings.TrimSpace(id.ExternalID) == "":
		return fmt.Errorf("%w: external id", ErrIncompleteProfile)
	case strings.TrimSpace(id.FirstName) == "":
		return fmt.Errorf("%w: first name", ErrIncompleteProfile)
	}
	return nil
}

// normalizeEmail lower-cases and trims so lookups match the unique index on users.email.
func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Adapter is one identity provider.
// Implementations own every provider-specific detail: auth URL parameters, token
// transport encoding, and profile endpoint shape. Whether PKCE applies is a property
// of the adapter, not something callers decide.
type Adapter interface {
	// Name returns the provider identifier used in URLs and stored in the DB.
	Name() ProviderName

	// SupportsPKCE reports whether AuthCodeURL/Exchange use code_challenge/code_verifier.
	SupportsPKCE() bool

	// AuthCodeURL returns the consent page URL. codeChallenge is ignored when
	// SupportsPKCE is false.
	AuthCodeURL(state, redirectURI, codeChallenge string) string

	// Exchange trades an authorization code for a provider token.
	// redirectURI must be byte-for-byte the value passed to AuthCodeURL.
	Exchange(ctx context.Context, code, redirectURI, codeVerifier string) (*Token, error)

	// FetchProfile calls the provider's profile endpoint(s) with tok and normalizes the result.
	FetchProfile(ctx context.Context, tok *Token) (*ExternalIdentity, error)
}
