// handler.go -- HTTP handlers for the /oauth/* and /auth/* endpoints.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/MGallo-Code/janus/internal/store"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

// FlowRunner runs federated sign-in flows. Satisfied by *Orchestrator.
type FlowRunner interface {
	BeginFlow(ctx context.Context, req BeginRequest) BeginResult
	CompleteFlow(ctx context.Context, req CompleteRequest) Result
}

// SessionTokens issues and verifies session tokens. Satisfied by *SessionIssuer.
type SessionTokens interface {
	IssueTokens(u *store.User) (*Tokens, error)
	ParseRefreshToken(token string) (*RefreshClaims, error)
}

// UserReader loads users by id. Satisfied by *store.PostgresStore.
type UserReader interface {
	// GetUserByID returns pgx.ErrNoRows if the user does not exist.
	GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error)
}

// AuthHandler holds dependencies for the HTTP handlers.
type AuthHandler struct {
	Flow     FlowRunner
	Sessions SessionTokens
	Users    UserReader
	PS       HealthChecker
	RS       HealthChecker
}

// decodeJSON reads a bounded JSON body into v. Writes 400 and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logWarn(r.Context(), "failed to decode request body", "error", err)
		BadRequest(w, "error decoding request body")
		return false
	}
	return true
}

// BeginOAuth handles POST /oauth/{provider}/begin {redirect_uri, role}.
// Returns 200 with {auth_url, state}; errors carry the flow code.
func (h *AuthHandler) BeginOAuth(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RedirectURI string `json:"redirect_uri"`
		Role        string `json:"role"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}

	res := h.Flow.BeginFlow(r.Context(), BeginRequest{
		Provider:    chi.URLParam(r, "provider"),
		RedirectURI: in.RedirectURI,
		Role:        in.Role,
	})
	writeOutcome(w, res.Code, res)
}

// StartOAuth handles GET /oauth/{provider}/start?redirect_uri=&role=.
// Redirects the browser to the provider consent page; errors are JSON.
func (h *AuthHandler) StartOAuth(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res := h.Flow.BeginFlow(r.Context(), BeginRequest{
		Provider:    chi.URLParam(r, "provider"),
		RedirectURI: q.Get("redirect_uri"),
		Role:        q.Get("role"),
	})
	if !res.Success {
		writeOutcome(w, res.Code, res)
		return
	}
	http.Redirect(w, r, res.AuthURL, http.StatusFound)
}

// OAuthCallback handles POST /oauth/{provider}/callback {code, state, redirect_uri}.
// The client relays the provider's redirect parameters here.
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Code        string `json:"code"`
		State       string `json:"state"`
		RedirectURI string `json:"redirect_uri"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}

	res := h.Flow.CompleteFlow(r.Context(), CompleteRequest{
		Provider:    chi.URLParam(r, "provider"),
		Code:        in.Code,
		State:       in.State,
		RedirectURI: in.RedirectURI,
	})
	writeOutcome(w, res.Code, res)
}

// Refresh handles POST /auth/refresh {refresh_token}.
// Issues a new token pair for an active user; 401 for any invalid token or user.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.RefreshToken == "" {
		BadRequest(w, "refresh_token is required")
		return
	}

	claims, err := h.Sessions.ParseRefreshToken(in.RefreshToken)
	if err != nil {
		logWarn(r.Context(), "refresh failed", "reason", "invalid_refresh_token", "error", err)
		Unauthorized(w, "unauthorized")
		return
	}
	userID, err := uuid.FromString(claims.Subject)
	if err != nil {
		logWarn(r.Context(), "refresh failed", "reason", "bad_subject")
		Unauthorized(w, "unauthorized")
		return
	}

	user, err := h.Users.GetUserByID(r.Context(), userID)
	if errors.Is(err, pgx.ErrNoRows) {
		logWarn(r.Context(), "refresh failed", "reason", "user_not_found", "user_id", userID)
		Unauthorized(w, "unauthorized")
		return
	}
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	if !user.IsActive {
		logWarn(r.Context(), "refresh failed", "reason", "user_inactive", "user_id", userID)
		Unauthorized(w, "unauthorized")
		return
	}

	tokens, err := h.Sessions.IssueTokens(user)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	logInfo(r.Context(), "session refreshed", "user_id", userID)
	writeJSON(w, http.StatusOK, struct {
		Outcome
		Tokens *Tokens `json:"tokens"`
	}{Outcome{Success: true, Message: "session refreshed"}, tokens})
}

// Me handles GET /auth/me behind RequireAuth. Returns the caller's access claims.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		InternalServerError(w, r, errors.New("me: RequireAuth did not run"))
		return
	}
	writeJSON(w, http.StatusOK, struct {
		UserID      string   `json:"user_id"`
		Email       string   `json:"email"`
		Role        string   `json:"role"`
		Permissions []string `json:"permissions"`
	}{claims.UserID, claims.Email, claims.Role, claims.Permissions})
}
