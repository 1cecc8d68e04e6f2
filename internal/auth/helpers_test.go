package auth

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/MGallo-Code/janus/internal/oauth"
	"github.com/MGallo-Code/janus/internal/store"
	"github.com/MGallo-Code/janus/internal/testutil"
)

// --- Shared helpers ---

const testRedirectURI = "https://app.example.com/oauth/callback"

// testClock is a settable clock shared by the orchestrator and session issuer.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// mockAdapter implements oauth.Adapter without any network calls.
// exchangeFn, when set, decides each Exchange; otherwise Exchange succeeds.
type mockAdapter struct {
	name       oauth.ProviderName
	pkce       bool
	exchangeFn func(code, verifier string) (*oauth.Token, error)
	profile    *oauth.ExternalIdentity
	profileErr error

	mu        sync.Mutex
	verifiers []string
	exchanges int
}

func (m *mockAdapter) Name() oauth.ProviderName { return m.name }
func (m *mockAdapter) SupportsPKCE() bool       { return m.pkce }

func (m *mockAdapter) AuthCodeURL(state, redirectURI, challenge string) string {
	q := url.Values{"state": {state}, "redirect_uri": {redirectURI}}
	if m.pkce {
		q.Set("code_challenge", challenge)
		q.Set("code_challenge_method", "S256")
	}
	return "https://idp.test/" + string(m.name) + "/auth?" + q.Encode()
}

func (m *mockAdapter) Exchange(_ context.Context, code, _, verifier string) (*oauth.Token, error) {
	m.mu.Lock()
	m.exchanges++
	m.verifiers = append(m.verifiers, verifier)
	m.mu.Unlock()
	if m.exchangeFn != nil {
		return m.exchangeFn(code, verifier)
	}
	return &oauth.Token{AccessToken: "provider-at-" + code, RefreshToken: "provider-rt", TokenType: "Bearer"}, nil
}

func (m *mockAdapter) FetchProfile(_ context.Context, _ *oauth.Token) (*oauth.ExternalIdentity, error) {
	if m.profileErr != nil {
		return nil, m.profileErr
	}
	c := *m.profile
	return &c, nil
}

func (m *mockAdapter) exchangeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exchanges
}

func (m *mockAdapter) lastVerifier() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.verifiers) == 0 {
		return ""
	}
	return m.verifiers[len(m.verifiers)-1]
}

func googleIdentity() *oauth.ExternalIdentity {
	return &oauth.ExternalIdentity{
		ExternalID:    "g-123",
		Email:         "a@x.com",
		FirstName:     "Ada",
		LastName:      "Lovelace",
		ProfilePicURL: "https://img.test/ada.png",
		EmailVerified: true,
	}
}

// flowFixture bundles an orchestrator with the fakes behind it.
type flowFixture struct {
	orch     *Orchestrator
	states   *testutil.MockStateStore
	users    *testutil.MockUserStore
	sessions *SessionIssuer
	clock    *testClock
}

func testSessionConfig(clock *testClock) SessionConfig {
	return SessionConfig{
		Issuer:        "janus-test",
		AccessSecret:  []byte("access-secret-access-secret-0123"),
		RefreshSecret: []byte("refresh-secret-refresh-secret-01"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Now:           clock.Now,
	}
}

// newFlowFixture wires an orchestrator over in-memory stores and the given adapters.
func newFlowFixture(t *testing.T, opts Options, adapters ...oauth.Adapter) *flowFixture {
	t.Helper()
	clock := newTestClock()
	sessions, err := NewSessionIssuer(testSessionConfig(clock))
	if err != nil {
		t.Fatalf("NewSessionIssuer: %v", err)
	}
	states := testutil.NewMockStateStore()
	users := testutil.NewMockUserStore()
	if opts.Now == nil {
		opts.Now = clock.Now
	}
	return &flowFixture{
		orch:     NewOrchestrator(oauth.NewRegistry(adapters...), states, NewAccountLinker(users), sessions, opts),
		states:   states,
		users:    users,
		sessions: sessions,
		clock:    clock,
	}
}

// begin runs BeginFlow and fails the test unless it succeeds.
func (f *flowFixture) begin(t *testing.T, provider string) BeginResult {
	t.Helper()
	res := f.orch.BeginFlow(context.Background(), BeginRequest{Provider: provider, RedirectURI: testRedirectURI})
	if !res.Success {
		t.Fatalf("BeginFlow(%s) failed: %s %s", provider, res.Code, res.Message)
	}
	return res
}

func (f *flowFixture) complete(provider, code, state string) Result {
	return f.orch.CompleteFlow(context.Background(), CompleteRequest{
		Provider:    provider,
		Code:        code,
		State:       state,
		RedirectURI: testRedirectURI,
	})
}

// stateRecord decodes the stored record for state, failing if absent.
func (f *flowFixture) stateRecord(t *testing.T, state string) *StateRecord {
	t.Helper()
	raw := f.states.Value(stateKey(state))
	if raw == nil {
		t.Fatalf("state %s not stored", state)
	}
	rec, err := decodeState(raw)
	if err != nil {
		t.Fatalf("decodeState: %v", err)
	}
	return rec
}

func assertFailure(t *testing.T, out Outcome, code Code) {
	t.Helper()
	if out.Success {
		t.Fatalf("expected failure %s, got success (%s)", code, out.Message)
	}
	if out.Code != code {
		t.Errorf("code: expected %s, got %s (%s)", code, out.Code, out.Message)
	}
	if out.Message == "" {
		t.Error("failure message should not be empty")
	}
}

func strPtr(s string) *string { return &s }

func passwordUser(email string) *store.User {
	return &store.User{
		Email:       email,
		FirstName:   strPtr("Existing"),
		Role:        string(RoleLandlord),
		Permissions: PermissionsForRole(RoleLandlord),
		Provider:    store.PasswordProvider,
		IsActive:    true,
	}
}
