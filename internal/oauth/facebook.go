// facebook.go -- Facebook Login provider implementation.
package oauth

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/oauth2/facebook"
)

const facebookAPIBase = "https://graph.facebook.com/v19.0"

// FacebookProvider implements Adapter for Facebook.
// Facebook Login does not support PKCE; CSRF protection relies on state alone.
// The token endpoint takes its parameters in the query string of a GET.
type FacebookProvider struct {
	baseProvider
}

// NewFacebookProvider returns a FacebookProvider using the Graph API defaults unless overridden.
func NewFacebookProvider(creds Credentials, opts Options) *FacebookProvider {
	ep := Endpoint{
		AuthURL:   facebook.Endpoint.AuthURL,
		TokenURL:  facebookAPIBase + "/oauth/access_token",
		Transport: TransportQuery,
	}
	return &FacebookProvider{
		baseProvider: newBaseProvider(Facebook, creds, ep, facebookAPIBase,
			[]string{"email", "public_profile"}, opts),
	}
}

// SupportsPKCE returns false.
func (p *FacebookProvider) SupportsPKCE() bool { return false }

// AuthCodeURL builds the consent URL. codeChallenge is ignored.
func (p *FacebookProvider) AuthCodeURL(state, redirectURI, _ string) string {
	return p.oauth2Config(redirectURI).AuthCodeURL(state)
}

// FetchProfile reads /me from the Graph API.
// Graph only returns an email the user has confirmed, so a present email counts as verified.
func (p *FacebookProvider) FetchProfile(ctx context.Context, tok *Token) (*ExternalIdentity, error) {
	q := url.Values{"fields": {"id,email,first_name,last_name,picture.type(large)"}}
	var me struct {
		ID        string `json:"id"`
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Picture   struct {
			Data struct {
				URL          string `json:"url"`
				IsSilhouette bool   `json:"is_silhouette"`
			} `json:"data"`
		} `json:"picture"`
	}
	if err := getJSON(ctx, p.bearerClient(ctx, tok), p.apiBase+"/me?"+q.Encode(), &me); err != nil {
		return nil, fmt.Errorf("facebook profile: %w", err)
	}

	id := &ExternalIdentity{
		ExternalID:    me.ID,
		Email:         normalizeEmail(me.Email),
		EmailVerified: strings.TrimSpace(me.Email) != "",
		FirstName:     me.FirstName,
		LastName:      me.LastName,
	}
	// Default avatars are not worth storing over an empty field.
	if !me.Picture.Data.IsSilhouette {
		id.ProfilePicURL = me.Picture.Data.URL
	}
	return id, nil
}
