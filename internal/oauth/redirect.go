package oauth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidRedirectURI is returned by NormalizeRedirectURI for values that cannot be
// used as an OAuth redirect_uri.
var ErrInvalidRedirectURI = errors.New("oauth: invalid redirect uri")

// NormalizeRedirectURI applies the fixups done before a redirect_uri is sent to a provider.
// The same function runs at authorization time and at exchange time, so both requests
// carry identical bytes:
//   - surrounding whitespace trimmed
//   - missing scheme defaults to https
//   - scheme and host lower-cased
//   - fragment dropped
//
// The path is kept exactly as given; providers compare it byte for byte against
// the registered value.
func NormalizeRedirectURI(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRedirectURI)
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRedirectURI, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidRedirectURI, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidRedirectURI)
	}
	if u.User != nil {
		return "", fmt.Errorf("%w: userinfo not allowed", ErrInvalidRedirectURI)
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// RedirectOrigin returns scheme://host of an already-normalized redirect URI.
func RedirectOrigin(normalized string) string {
	u, err := url.Parse(normalized)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
