// orchestrator.go -- Drives one federated sign-in from authorization URL to session.
//
// CompleteFlow runs the steps in a fixed order:
//
//	Received -> StateValidated -> TokenExchanged -> IdentityVerified
//	         -> AccountResolved -> SessionIssued -> Committed
//
// Any step may fail into Failed. State is deleted once the provider accepts the code,
// never before; a failed exchange leaves it in place for a bounded number of retries.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/MGallo-Code/janus/internal/oauth"
	"github.com/MGallo-Code/janus/internal/store"
)

// ProviderRegistry resolves a provider name to its configured adapter.
// Satisfied by *oauth.Registry.
type ProviderRegistry interface {
	// Lookup returns oauth.ErrProviderNotConfigured for providers without credentials.
	Lookup(name oauth.ProviderName) (oauth.Adapter, error)
}

// AccountResolver maps a verified identity to a local user. Satisfied by *AccountLinker.
type AccountResolver interface {
	Resolve(ctx context.Context, id *oauth.ExternalIdentity, provider oauth.ProviderName, role Role, tok *oauth.Token) (*Resolution, error)
}

// TokenIssuer mints the local session. Satisfied by *SessionIssuer.
type TokenIssuer interface {
	IssueTokens(u *store.User) (*Tokens, error)
}

const (
	defaultStateTTL            = 10 * time.Minute
	defaultExchangeTimeout     = 10 * time.Second
	defaultStoreTimeout        = 2 * time.Second
	defaultMaxExchangeAttempts = 3
)

// Options tunes an Orchestrator. Zero values take the defaults above.
type Options struct {
	// StateTTL bounds how long a flow may sit between BeginFlow and CompleteFlow.
	StateTTL time.Duration

	// ExchangeTimeout bounds each provider call (code exchange, profile fetch).
	ExchangeTimeout time.Duration

	// StoreTimeout bounds each state store call.
	StoreTimeout time.Duration

	// MaxExchangeAttempts is how many failed exchanges a state survives.
	MaxExchangeAttempts int

	// AllowedRedirectOrigins restricts redirect_uri at BeginFlow. Empty allows any.
	AllowedRedirectOrigins []string

	Now func() time.Time
}

// Orchestrator composes the state store, provider adapters, account linker and
// session issuer. Stateless between calls; safe for concurrent use.
type Orchestrator struct {
	providers ProviderRegistry
	states    StateStore
	accounts  AccountResolver
	sessions  TokenIssuer
	opts      Options
	allowed   map[string]struct{}
}

// NewOrchestrator wires the flow dependencies and applies option defaults.
func NewOrchestrator(providers ProviderRegistry, states StateStore, accounts AccountResolver, sessions TokenIssuer, opts Options) *Orchestrator {
	if opts.StateTTL <= 0 {
		opts.StateTTL = defaultStateTTL
	}
	if opts.ExchangeTimeout <= 0 {
		opts.ExchangeTimeout = defaultExchangeTimeout
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.MaxExchangeAttempts <= 0 {
		opts.MaxExchangeAttempts = defaultMaxExchangeAttempts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	allowed := make(map[string]struct{}, len(opts.AllowedRedirectOrigins))
	for _, o := range opts.AllowedRedirectOrigins {
		allowed[o] = struct{}{}
	}

	return &Orchestrator{
		providers: providers,
		states:    states,
		accounts:  accounts,
		sessions:  sessions,
		opts:      opts,
		allowed:   allowed,
	}
}

// BeginRequest starts a flow. Role is optional and defaults to DefaultRole.
type BeginRequest struct {
	Provider    string `json:"provider"`
	RedirectURI string `json:"redirect_uri"`
	Role        string `json:"role"`
}

// BeginResult carries the provider authorization URL on success.
type BeginResult struct {
	Outcome
	AuthURL string `json:"auth_url,omitempty"`
	State   string `json:"state,omitempty"`
}

// CompleteRequest is the callback the client relays after the provider redirect.
// RedirectURI must match the one given to BeginFlow.
type CompleteRequest struct {
	Provider    string `json:"provider"`
	Code        string `json:"code"`
	State       string `json:"state"`
	RedirectURI string `json:"redirect_uri"`
}

// UserView is the client-facing projection of a user.
type UserView struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	FirstName     string    `json:"first_name,omitempty"`
	LastName      string    `json:"last_name,omitempty"`
	ProfilePicURL string    `json:"profile_pic_url,omitempty"`
	PhoneNumber   string    `json:"phone_number,omitempty"`
	Role          string    `json:"role"`
	Permissions   []string  `json:"permissions"`
	Provider      string    `json:"provider"`
	IsVerified    bool      `json:"is_verified"`
}

// NewUserView projects u for responses. Nil-safe.
func NewUserView(u *store.User) *UserView {
	if u == nil {
		return nil
	}
	perms := u.Permissions
	if perms == nil {
		perms = []string{}
	}
	return &UserView{
		ID:            u.ID,
		Email:         u.Email,
		FirstName:     deref(u.FirstName),
		LastName:      deref(u.LastName),
		ProfilePicURL: deref(u.ProfilePicURL),
		PhoneNumber:   deref(u.PhoneNumber),
		Role:          u.Role,
		Permissions:   perms,
		Provider:      u.Provider,
		IsVerified:    u.IsVerified,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Result is the CompleteFlow outcome. On failure only Outcome is set.
type Result struct {
	Outcome
	Identity     *oauth.ExternalIdentity `json:"identity,omitempty"`
	Tokens       *Tokens                 `json:"tokens,omitempty"`
	User         *UserView               `json:"user,omitempty"`
	IsNewAccount bool                    `json:"is_new_account"`
	WasLinked    bool                    `json:"was_linked"`
}

// flowState names a CompleteFlow step for logs.
type flowState string

const (
	stateReceived         flowState = "Received"
	stateStateValidated   flowState = "StateValidated"
	stateTokenExchanged   flowState = "TokenExchanged"
	stateIdentityVerified flowState = "IdentityVerified"
	stateAccountResolved  flowState = "AccountResolved"
	stateSessionIssued    flowState = "SessionIssued"
	stateCommitted        flowState = "Committed"
	stateFailed           flowState = "Failed"
)

// flow tracks the current step so failures log where they happened.
type flow struct {
	ctx context.Context
	at  flowState
}

func (f *flow) advance(to flowState) {
	logDebug(f.ctx, "oauth flow step", "from", f.at, "to", to)
	f.at = to
}

func (f *flow) fail(fe *FlowError) {
	args := []any{"at", f.at, "code", fe.Code, "error", fe.Err}
	switch fe.Code {
	case CodeStoreUnavailable, CodeInternal, CodeConfigurationError:
		logError(f.ctx, "oauth flow failed", args...)
	default:
		logWarn(f.ctx, "oauth flow failed", args...)
	}
	f.at = stateFailed
}

// --- BeginFlow ---

// BeginFlow creates a state (and a PKCE verifier for providers that support it),
// persists them with StateTTL, and returns the provider authorization URL.
// Never returns an error; failures are reported through the Outcome.
func (o *Orchestrator) BeginFlow(ctx context.Context, req BeginRequest) BeginResult {
	ctx = withLogAttrs(ctx, "provider", req.Provider)
	res, fe := o.begin(ctx, req)
	if fe != nil {
		logWarn(ctx, "oauth begin failed", "code", fe.Code, "error", fe.Err)
		return BeginResult{Outcome: fe.Outcome()}
	}
	return *res
}

func (o *Orchestrator) begin(ctx context.Context, req BeginRequest) (*BeginResult, *FlowError) {
	name, err := oauth.ParseProviderName(req.Provider)
	if err != nil {
		return nil, flowErr(CodeBadRequest, msgUnknownProvider, err)
	}
	adapter, err := o.providers.Lookup(name)
	if err != nil {
		return nil, flowErr(CodeConfigurationError, msgNotConfigured, err)
	}
	role, err := ParseRole(req.Role)
	if err != nil {
		return nil, flowErr(CodeBadRequest, msgInvalidRole, err)
	}
	redirectURI, err := oauth.NormalizeRedirectURI(req.RedirectURI)
	if err != nil {
		return nil, flowErr(CodeBadRequest, msgInvalidRedirectURI, err)
	}
	if !o.redirectAllowed(redirectURI) {
		return nil, flowErr(CodeBadRequest, msgRedirectNotAllowed, errors.New("redirect origin not in allow list"))
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, flowErr(CodeInternal, msgInternal, err)
	}
	state := id.String()

	rec := &StateRecord{
		State:       state,
		Provider:    name,
		Role:        role,
		RedirectURI: redirectURI,
		IssuedAt:    o.opts.Now().UTC(),
	}
	b, err := encodeState(rec)
	if err != nil {
		return nil, flowErr(CodeInternal, msgInternal, err)
	}

	var pkce oauth.PKCE
	if adapter.SupportsPKCE() {
		if pkce, err = oauth.NewPKCE(); err != nil {
			return nil, flowErr(CodeInternal, msgInternal, err)
		}
	}

	sctx, cancel := o.storeCtx(ctx)
	defer cancel()
	if err := o.states.Put(sctx, stateKey(state), b, o.opts.StateTTL); err != nil {
		return nil, flowErr(CodeStoreUnavailable, msgStoreUnavailable, err)
	}
	if adapter.SupportsPKCE() {
		if err := o.states.Put(sctx, pkceKey(state), []byte(pkce.Verifier), o.opts.StateTTL); err != nil {
			o.discard(ctx, state)
			return nil, flowErr(CodeStoreUnavailable, msgStoreUnavailable, err)
		}
	}

	logInfo(ctx, "oauth flow started", "pkce", adapter.SupportsPKCE())
	return &BeginResult{
		Outcome: Outcome{Success: true, Message: msgAuthURLCreated},
		AuthURL: adapter.AuthCodeURL(state, redirectURI, pkce.Challenge),
		State:   state,
	}, nil
}

func (o *Orchestrator) redirectAllowed(redirectURI string) bool {
	if len(o.allowed) == 0 {
		return true
	}
	_, ok := o.allowed[oauth.RedirectOrigin(redirectURI)]
	return ok
}

// --- CompleteFlow ---

// CompleteFlow validates the callback, exchanges the code, verifies the identity,
// resolves the local account and issues a session.
// Never returns an error; failures are reported through the Outcome.
func (o *Orchestrator) CompleteFlow(ctx context.Context, req CompleteRequest) Result {
	ctx = withLogAttrs(ctx, "provider", req.Provider)
	f := &flow{ctx: ctx, at: stateReceived}

	res, fe := o.complete(ctx, f, req)
	if fe != nil {
		f.fail(fe)
		return Result{Outcome: fe.Outcome()}
	}
	f.advance(stateCommitted)
	logInfo(ctx, "oauth flow completed", "user_id", res.User.ID, "new_account", res.IsNewAccount, "linked", res.WasLinked)
	return *res
}

func (o *Orchestrator) complete(ctx context.Context, f *flow, req CompleteRequest) (*Result, *FlowError) {
	name, err := oauth.ParseProviderName(req.Provider)
	if err != nil {
		return nil, flowErr(CodeBadRequest, msgUnknownProvider, err)
	}
	if strings.TrimSpace(req.State) == "" {
		return nil, flowErr(CodeInvalidState, msgInvalidState, errors.New("missing state"))
	}
	if strings.TrimSpace(req.Code) == "" {
		return nil, flowErr(CodeBadRequest, msgMissingCode, errors.New("missing code"))
	}
	redirectURI, err := oauth.NormalizeRedirectURI(req.RedirectURI)
	if err != nil {
		return nil, flowErr(CodeBadRequest, msgInvalidRedirectURI, err)
	}

	rec, fe := o.validateState(ctx, name, req.State, redirectURI)
	if fe != nil {
		return nil, fe
	}
	f.advance(stateStateValidated)

	adapter, err := o.providers.Lookup(name)
	if err != nil {
		o.discard(ctx, rec.State)
		return nil, flowErr(CodeConfigurationError, msgNotConfigured, err)
	}

	tok, fe := o.exchange(ctx, adapter, rec, req.Code)
	if fe != nil {
		return nil, fe
	}

	// The provider accepted the code; the state is spent whatever happens next.
	sctx, cancel := o.cleanupCtx(ctx)
	err = o.states.Delete(sctx, stateKey(rec.State), pkceKey(rec.State))
	cancel()
	if err != nil {
		return nil, flowErr(CodeStoreUnavailable, msgStoreUnavailable, err)
	}
	f.advance(stateTokenExchanged)

	pctx, cancel := context.WithTimeout(ctx, o.opts.ExchangeTimeout)
	id, err := adapter.FetchProfile(pctx, tok)
	cancel()
	if err != nil {
		return nil, flowErr(CodeUnauthorized, msgProfileFailed, err)
	}
	if err := id.Validate(); err != nil {
		return nil, flowErr(CodeBadRequest, msgIncompleteProfile, err)
	}
	f.advance(stateIdentityVerified)

	res, err := o.accounts.Resolve(ctx, id, name, rec.Role, tok)
	if errors.Is(err, ErrAccountConflict) {
		return nil, flowErr(CodeAccountConflict, msgAccountConflict, err)
	}
	if err != nil {
		return nil, flowErr(CodeInternal, msgInternal, err)
	}
	f.advance(stateAccountResolved)

	tokens, err := o.sessions.IssueTokens(res.User)
	if err != nil {
		return nil, flowErr(CodeInternal, msgInternal, err)
	}
	f.advance(stateSessionIssued)

	msg := msgLoggedIn
	switch {
	case res.IsNew:
		msg = msgAccountCreated
	case res.WasLinked:
		msg = msgAccountLinked
	}
	return &Result{
		Outcome:      Outcome{Success: true, Message: msg},
		Identity:     id,
		Tokens:       tokens,
		User:         NewUserView(res.User),
		IsNewAccount: res.IsNew,
		WasLinked:    res.WasLinked,
	}, nil
}

// validateState loads the record for state and checks it against the callback.
// Any mismatch or expiry deletes the state so it cannot be probed again.
func (o *Orchestrator) validateState(ctx context.Context, name oauth.ProviderName, state, redirectURI string) (*StateRecord, *FlowError) {
	sctx, cancel := o.storeCtx(ctx)
	raw, err := o.states.Get(sctx, stateKey(state))
	cancel()
	if errors.Is(err, store.ErrCacheMiss) {
		return nil, flowErr(CodeInvalidState, msgInvalidState, errors.New("state not found"))
	}
	if err != nil {
		return nil, flowErr(CodeStoreUnavailable, msgStoreUnavailable, err)
	}

	rec, err := decodeState(raw)
	if err != nil || rec.State != state {
		o.discard(ctx, state)
		return nil, flowErr(CodeInvalidState, msgInvalidState, errors.New("state record corrupt"))
	}
	if rec.Provider != name {
		o.discard(ctx, state)
		return nil, flowErr(CodeProviderMismatch, msgProviderMismatch,
			errors.New("state issued for "+string(rec.Provider)))
	}
	// The store may lag its own TTL; age is checked against IssuedAt regardless.
	if o.opts.Now().Sub(rec.IssuedAt) > o.opts.StateTTL {
		o.discard(ctx, state)
		return nil, flowErr(CodeInvalidState, msgInvalidState, errors.New("state expired"))
	}
	if rec.RedirectURI != redirectURI {
		o.discard(ctx, state)
		return nil, flowErr(CodeInvalidState, msgInvalidState, errors.New("redirect_uri differs from begin"))
	}
	return rec, nil
}

// exchange takes the PKCE verifier (if any) and redeems code at the provider.
// Failures are recorded against the state via recordFailure. A non-retriable
// rejection from a PKCE provider discards the state at once: the verifier was
// consumed, so no later attempt could reach the provider.
func (o *Orchestrator) exchange(ctx context.Context, adapter oauth.Adapter, rec *StateRecord, code string) (*oauth.Token, *FlowError) {
	var verifier string
	if adapter.SupportsPKCE() {
		sctx, cancel := o.storeCtx(ctx)
		v, err := o.states.Take(sctx, pkceKey(rec.State))
		cancel()
		switch {
		case errors.Is(err, store.ErrCacheMiss):
			// Another callback holds it, or it was lost. Count the attempt either way.
			o.recordFailure(ctx, rec, "")
			return nil, flowErr(CodeUnauthorized, msgExchangeFailed, errors.New("pkce verifier missing"))
		case err != nil:
			return nil, flowErr(CodeStoreUnavailable, msgStoreUnavailable, err)
		}
		verifier = string(v)
	}

	ectx, cancel := context.WithTimeout(ctx, o.opts.ExchangeTimeout)
	defer cancel()
	tok, err := adapter.Exchange(ectx, code, rec.RedirectURI, verifier)
	if err != nil {
		switch {
		case oauth.IsRetriable(err):
			o.recordFailure(ctx, rec, verifier)
		case adapter.SupportsPKCE():
			o.discard(ctx, rec.State)
		default:
			o.recordFailure(ctx, rec, "")
		}
		return nil, flowErr(CodeUnauthorized, msgExchangeFailed, err)
	}
	return tok, nil
}

// recordFailure bumps the attempt counter, restoring verifier when non-empty.
// The state is dropped once attempts run out or its TTL has passed. Updates use
// Replace so a state deleted by a concurrent successful callback stays deleted.
func (o *Orchestrator) recordFailure(ctx context.Context, rec *StateRecord, verifier string) {
	ctx, cancel := o.cleanupCtx(ctx)
	defer cancel()

	rec.Attempts++
	remaining := rec.expiresAt(o.opts.StateTTL).Sub(o.opts.Now())
	if rec.Attempts >= o.opts.MaxExchangeAttempts || remaining <= 0 {
		logInfo(ctx, "oauth state discarded after failed exchanges", "attempts", rec.Attempts)
		if err := o.states.Delete(ctx, stateKey(rec.State), pkceKey(rec.State)); err != nil {
			logWarn(ctx, "oauth state cleanup failed", "error", err)
		}
		return
	}

	b, err := encodeState(rec)
	if err == nil {
		err = o.states.Replace(ctx, stateKey(rec.State), b, remaining)
	}
	if errors.Is(err, store.ErrCacheMiss) {
		return
	}
	if err != nil {
		logWarn(ctx, "recording exchange attempt failed", "error", err)
		return
	}
	if verifier == "" {
		return
	}
	if err := o.states.Put(ctx, pkceKey(rec.State), []byte(verifier), remaining); err != nil {
		logWarn(ctx, "restoring pkce verifier failed", "error", err)
	}
}

// discard best-effort deletes both keys for state.
func (o *Orchestrator) discard(ctx context.Context, state string) {
	ctx, cancel := o.cleanupCtx(ctx)
	defer cancel()
	if err := o.states.Delete(ctx, stateKey(state), pkceKey(state)); err != nil {
		logWarn(ctx, "oauth state cleanup failed", "error", err)
	}
}

func (o *Orchestrator) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.opts.StoreTimeout)
}

// cleanupCtx survives the caller's cancellation so a disconnecting client
// does not leave state behind.
func (o *Orchestrator) cleanupCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.opts.StoreTimeout)
}
