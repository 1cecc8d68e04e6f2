package auth

// wiring_test.go
//
// Catches bugs where components hand data to each other incorrectly.
//
// Runs the real Google adapter against an httptest identity provider, behind the
// real handlers and a chi router, with in-memory stores:
//
//   - State:    BeginOAuth (state + challenge in auth_url) -> OAuthCallback (state lookup)
//   - PKCE:     verifier stored at begin -> code_verifier at the token endpoint
//   - Tokens:   OAuthCallback (access token) -> RequireAuth -> Me
//   - Refresh:  OAuthCallback (refresh token) -> Refresh -> RequireAuth
//   - Retry:    provider outage -> same state succeeds once the provider recovers
//

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"

	"github.com/MGallo-Code/janus/internal/oauth"
	"github.com/MGallo-Code/janus/internal/testutil"
)

// --- Seam test helpers ---

// googleIdP is a stand-in for Google's token and userinfo endpoints.
type googleIdP struct {
	srv *httptest.Server

	mu           sync.Mutex
	tokenReq     map[string]string
	userinfoAuth string
	tokenStatus  int // non-zero forces the token endpoint to fail with this status
}

func newGoogleIdP(t *testing.T) *googleIdP {
	t.Helper()
	idp := &googleIdP{}
	mux := http.NewServeMux()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		idp.mu.Lock()
		idp.tokenReq = body
		status := idp.tokenStatus
		idp.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Header.Get("Content-Type") != "application/json":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_request"}`))
		case status != 0:
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"temporarily_unavailable","error_description":"try later"}`))
		case body["code"] != "authcode123" || body["code_verifier"] == "":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
		default:
			w.Write([]byte(`{"access_token":"ya29.test","refresh_token":"1//rt","token_type":"Bearer","expires_in":3599}`))
		}
	})

	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		idp.mu.Lock()
		idp.userinfoAuth = r.Header.Get("Authorization")
		idp.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer ya29.test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sub":"g-123","email":"A@X.com","email_verified":true,` +
			`"given_name":"Ada","family_name":"Lovelace","picture":"https://img.test/ada.png"}`))
	})

	idp.srv = httptest.NewServer(mux)
	t.Cleanup(idp.srv.Close)
	return idp
}

func (idp *googleIdP) setTokenStatus(status int) {
	idp.mu.Lock()
	idp.tokenStatus = status
	idp.mu.Unlock()
}

// wiredApp is the router plus the fakes behind it.
type wiredApp struct {
	router http.Handler
	idp    *googleIdP
	states *testutil.MockStateStore
	users  *testutil.MockUserStore
}

func newWiredApp(t *testing.T) *wiredApp {
	t.Helper()
	ctx := context.Background()
	idp := newGoogleIdP(t)

	google, err := oauth.NewAdapter(ctx, oauth.Google, oauth.Credentials{ClientID: "cid", ClientSecret: "csecret"}, oauth.Options{
		HTTPClient: idp.srv.Client(),
		AuthURL:    idp.srv.URL + "/auth",
		TokenURL:   idp.srv.URL + "/token",
		APIBaseURL: idp.srv.URL,
	})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}

	clock := newTestClock()
	sessions, _ := NewSessionIssuer(testSessionConfig(clock))
	states := testutil.NewMockStateStore()
	users := testutil.NewMockUserStore()
	orch := NewOrchestrator(oauth.NewRegistry(google), states, NewAccountLinker(users), sessions, Options{Now: clock.Now})

	h := &AuthHandler{Flow: orch, Sessions: sessions, Users: users}
	r := chi.NewRouter()
	r.Use(RequestAttrs)
	r.Route("/oauth/{provider}", func(r chi.Router) {
		r.Post("/begin", h.BeginOAuth)
		r.Get("/start", h.StartOAuth)
		r.Post("/callback", h.OAuthCallback)
	})
	r.Post("/auth/refresh", h.Refresh)
	r.With(RequireAuth(sessions)).Get("/auth/me", h.Me)

	return &wiredApp{router: r, idp: idp, states: states, users: users}
}

func (a *wiredApp) do(t *testing.T, method, path, body, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if bearer != "" {
		r.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, r)
	return w
}

// beginGoogle runs POST /oauth/google/begin and returns the state and parsed auth URL.
func (a *wiredApp) beginGoogle(t *testing.T) (string, *url.URL) {
	t.Helper()
	w := a.do(t, http.MethodPost, "/oauth/google/begin", `{"redirect_uri":"`+testRedirectURI+`"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("begin: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		AuthURL string `json:"auth_url"`
		State   string `json:"state"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	u, err := url.Parse(body.AuthURL)
	if err != nil {
		t.Fatalf("auth url: %v", err)
	}
	return body.State, u
}

func (a *wiredApp) callback(t *testing.T, state string) *httptest.ResponseRecorder {
	t.Helper()
	return a.do(t, http.MethodPost, "/oauth/google/callback",
		`{"code":"authcode123","state":"`+state+`","redirect_uri":"`+testRedirectURI+`"}`, "")
}

type callbackBody struct {
	Success      bool   `json:"success"`
	Code         string `json:"code"`
	Message      string `json:"message"`
	IsNewAccount bool   `json:"is_new_account"`
	Tokens       Tokens `json:"tokens"`
	User         struct {
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
	} `json:"user"`
}

// --- Google flow end to end ---

func TestWiring_GoogleFlow(t *testing.T) {
	app := newWiredApp(t)

	state, authURL := app.beginGoogle(t)
	q := authURL.Query()

	if !strings.HasPrefix(authURL.String(), app.idp.srv.URL+"/auth?") {
		t.Errorf("auth url should point at the provider: %s", authURL)
	}
	if id, err := uuid.FromString(q.Get("state")); err != nil || id.Version() != uuid.V4 || q.Get("state") != state {
		t.Errorf("state param: got %q", q.Get("state"))
	}
	if len(q.Get("code_challenge")) != 43 || q.Get("code_challenge_method") != "S256" {
		t.Errorf("pkce params: %q %q", q.Get("code_challenge"), q.Get("code_challenge_method"))
	}
	if q.Get("client_id") != "cid" || q.Get("redirect_uri") != testRedirectURI || q.Get("response_type") != "code" {
		t.Errorf("client params: %v", q)
	}
	if q.Get("access_type") != "offline" || q.Get("prompt") != "consent" {
		t.Errorf("google params: %v", q)
	}
	if q.Has("client_secret") {
		t.Error("client secret must never appear in the auth url")
	}

	w := app.callback(t, state)
	if w.Code != http.StatusOK {
		t.Fatalf("callback: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res callbackBody
	json.NewDecoder(w.Body).Decode(&res)
	if !res.Success || !res.IsNewAccount || res.User.Email != "a@x.com" || res.User.FirstName != "Ada" {
		t.Errorf("callback body: %+v", res)
	}

	app.idp.mu.Lock()
	tokenReq, userinfoAuth := app.idp.tokenReq, app.idp.userinfoAuth
	app.idp.mu.Unlock()
	if oauth.ChallengeS256(tokenReq["code_verifier"]) != q.Get("code_challenge") {
		t.Error("code_verifier sent to the provider does not match the challenge")
	}
	if tokenReq["redirect_uri"] != testRedirectURI || tokenReq["grant_type"] != "authorization_code" {
		t.Errorf("token request: %v", tokenReq)
	}
	if userinfoAuth != "Bearer ya29.test" {
		t.Errorf("userinfo auth: got %q", userinfoAuth)
	}

	t.Run("access token authenticates /auth/me", func(t *testing.T) {
		w := app.do(t, http.MethodGet, "/auth/me", "", res.Tokens.AccessToken)
		if w.Code != http.StatusOK {
			t.Fatalf("me: expected 200, got %d", w.Code)
		}
		var me struct {
			Email string `json:"email"`
			Role  string `json:"role"`
		}
		json.NewDecoder(w.Body).Decode(&me)
		if me.Email != "a@x.com" || me.Role != "RENTER" {
			t.Errorf("me: %+v", me)
		}
	})

	t.Run("refresh token yields a working access token", func(t *testing.T) {
		w := app.do(t, http.MethodPost, "/auth/refresh", `{"refresh_token":"`+res.Tokens.RefreshToken+`"}`, "")
		if w.Code != http.StatusOK {
			t.Fatalf("refresh: expected 200, got %d", w.Code)
		}
		var body struct {
			Tokens Tokens `json:"tokens"`
		}
		json.NewDecoder(w.Body).Decode(&body)
		if w := app.do(t, http.MethodGet, "/auth/me", "", body.Tokens.AccessToken); w.Code != http.StatusOK {
			t.Errorf("me with refreshed token: expected 200, got %d", w.Code)
		}
	})

	t.Run("replayed callback is rejected", func(t *testing.T) {
		w := app.callback(t, state)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("replay: expected 400, got %d", w.Code)
		}
		var body callbackBody
		json.NewDecoder(w.Body).Decode(&body)
		if body.Code != string(CodeInvalidState) {
			t.Errorf("replay code: got %s", body.Code)
		}
	})

	t.Run("start redirects to the provider", func(t *testing.T) {
		w := app.do(t, http.MethodGet, "/oauth/google/start?redirect_uri="+url.QueryEscape(testRedirectURI), "", "")
		if w.Code != http.StatusFound || !strings.HasPrefix(w.Header().Get("Location"), app.idp.srv.URL+"/auth?") {
			t.Errorf("start: status=%d location=%q", w.Code, w.Header().Get("Location"))
		}
	})
}

func TestWiring_ProviderOutageThenRecovery(t *testing.T) {
	app := newWiredApp(t)
	state, _ := app.beginGoogle(t)

	app.idp.setTokenStatus(http.StatusServiceUnavailable)
	w := app.callback(t, state)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("outage: expected 401, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "try later") {
		t.Error("provider error description leaked to the client")
	}

	app.idp.setTokenStatus(0)
	w = app.callback(t, state)
	if w.Code != http.StatusOK {
		t.Fatalf("after recovery: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if app.users.UserCount() != 1 {
		t.Errorf("expected 1 user, got %d", app.users.UserCount())
	}
}
