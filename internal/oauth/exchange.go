// exchange.go -- authorization-code-for-token exchange.
//
// Providers disagree on how the token request is encoded. Each Endpoint declares
// its Transport; the Exchanger sends the same parameter set in that encoding.
package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// maxResponseBytes caps provider response bodies read into memory.
const maxResponseBytes = 1 << 20

// Transport is the encoding a token endpoint expects.
type Transport int

const (
	// TransportForm is a POST with an application/x-www-form-urlencoded body (RFC 6749).
	TransportForm Transport = iota
	// TransportJSON is a POST with an application/json body.
	TransportJSON
	// TransportQuery is a GET with every parameter in the query string.
	TransportQuery
)

func (t Transport) String() string {
	switch t {
	case TransportForm:
		return "form"
	case TransportJSON:
		return "json"
	case TransportQuery:
		return "query"
	default:
		return "transport(" + strconv.Itoa(int(t)) + ")"
	}
}

// Endpoint is a provider's authorization and token endpoint pair.
type Endpoint struct {
	AuthURL   string
	TokenURL  string
	Transport Transport
}

// ExchangeRequest carries the parameters every token endpoint receives.
// CodeVerifier is sent only when non-empty.
type ExchangeRequest struct {
	Credentials
	Code         string
	RedirectURI  string
	CodeVerifier string
}

// ExchangeError is returned for any failed exchange.
// Status is the provider HTTP status, 0 for transport failures and timeouts.
// Retriable is true when the same code might still succeed (5xx, 429, network).
type ExchangeError struct {
	Status    int
	Retriable bool
	Err       error
}

func (e *ExchangeError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("token exchange failed: status=%d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("token exchange failed: %v", e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// IsRetriable reports whether err is an ExchangeError the caller may retry.
func IsRetriable(err error) bool {
	var ee *ExchangeError
	return errors.As(err, &ee) && ee.Retriable
}

func statusError(status int, err error) *ExchangeError {
	return &ExchangeError{
		Status:    status,
		Retriable: status >= 500 || status == http.StatusTooManyRequests,
		Err:       err,
	}
}

func transportError(err error) *ExchangeError {
	return &ExchangeError{Retriable: true, Err: err}
}

// Exchanger performs token exchanges over a shared http.Client.
type Exchanger struct {
	client *http.Client
}

// NewExchanger returns an Exchanger. A nil client gets a 10s-timeout default;
// callers still bound each exchange with their own context deadline.
func NewExchanger(client *http.Client) *Exchanger {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Exchanger{client: client}
}

// Exchange sends req to ep.TokenURL using ep.Transport.
func (e *Exchanger) Exchange(ctx context.Context, ep Endpoint, req ExchangeRequest) (*Token, error) {
	if strings.TrimSpace(ep.TokenURL) == "" {
		return nil, errors.New("token url missing")
	}
	var (
		tok *Token
		err error
	)
	switch ep.Transport {
	case TransportForm:
		tok, err = e.exchangeForm(ctx, ep, req)
	case TransportJSON:
		tok, err = e.exchangeJSON(ctx, ep, req)
	case TransportQuery:
		tok, err = e.exchangeQuery(ctx, ep, req)
	default:
		return nil, fmt.Errorf("unsupported token transport %s", ep.Transport)
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		return nil, statusError(http.StatusOK, errors.New("response missing access_token"))
	}
	return tok, nil
}

// exchangeForm delegates to x/oauth2, which already speaks the RFC 6749 form encoding.
func (e *Exchanger) exchangeForm(ctx context.Context, ep Endpoint, req ExchangeRequest) (*Token, error) {
	cfg := &oauth2.Config{
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		RedirectURL:  req.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   ep.AuthURL,
			TokenURL:  ep.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	var opts []oauth2.AuthCodeOption
	if req.CodeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(req.CodeVerifier))
	}

	t, err := cfg.Exchange(context.WithValue(ctx, oauth2.HTTPClient, e.client), req.Code, opts...)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			code := re.ErrorCode
			if code == "" {
				code = "provider rejected token request"
			}
			return nil, statusError(re.Response.StatusCode, errors.New(code))
		}
		if strings.Contains(err.Error(), "missing access_token") {
			return nil, statusError(http.StatusOK, errors.New("response missing access_token"))
		}
		return nil, transportError(err)
	}

	tok := &Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		IDToken:      stringValue(t.Extra("id_token")),
		Scope:        stringValue(t.Extra("scope")),
	}
	if !t.Expiry.IsZero() {
		tok.ExpiresIn = int64(time.Until(t.Expiry).Seconds())
	}
	return tok, nil
}

func (e *Exchanger) exchangeJSON(ctx context.Context, ep Endpoint, req ExchangeRequest) (*Token, error) {
	payload, err := json.Marshal(tokenParams(req))
	if err != nil {
		return nil, fmt.Errorf("encoding token request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.TokenURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	return e.do(httpReq)
}

func (e *Exchanger) exchangeQuery(ctx context.Context, ep Endpoint, req ExchangeRequest) (*Token, error) {
	u, err := url.Parse(ep.TokenURL)
	if err != nil {
		return nil, fmt.Errorf("parsing token url: %w", err)
	}
	q := u.Query()
	for k, v := range tokenParams(req) {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	return e.do(httpReq)
}

// do sends a hand-built token request and decodes the JSON token response.
func (e *Exchanger) do(req *http.Request) (*Token, error) {
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(fmt.Errorf("reading token response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, errors.New(providerErrorCode(body)))
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, statusError(resp.StatusCode, fmt.Errorf("decoding token response: %w", err))
	}
	return &Token{
		AccessToken:  stringValue(raw["access_token"]),
		RefreshToken: stringValue(raw["refresh_token"]),
		TokenType:    stringValue(raw["token_type"]),
		IDToken:      stringValue(raw["id_token"]),
		Scope:        stringValue(raw["scope"]),
		ExpiresIn:    int64Value(raw["expires_in"]),
	}, nil
}

// tokenParams is the parameter set shared by every transport.
func tokenParams(req ExchangeRequest) map[string]string {
	p := map[string]string{
		"grant_type":    "authorization_code",
		"code":          req.Code,
		"client_id":     req.ClientID,
		"client_secret": req.ClientSecret,
		"redirect_uri":  req.RedirectURI,
	}
	if req.CodeVerifier != "" {
		p["code_verifier"] = req.CodeVerifier
	}
	return p
}

// providerErrorCode extracts the RFC 6749 "error" field (or Graph's error.type) from an
// error body. Descriptions are dropped; they can echo request parameters.
func providerErrorCode(body []byte) string {
	var e struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err != nil || len(e.Error) == 0 {
		return "provider rejected token request"
	}
	var code string
	if err := json.Unmarshal(e.Error, &code); err == nil && code != "" {
		return code
	}
	var graph struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(e.Error, &graph); err == nil && graph.Type != "" {
		return graph.Type
	}
	return "provider rejected token request"
}

func stringValue(input any) string {
	switch v := input.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func int64Value(input any) int64 {
	switch v := input.(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
