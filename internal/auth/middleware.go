// middleware.go -- Bearer access token authentication.
package auth

import (
	"context"
	"net/http"
	"strings"
)

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const claimsKey contextKey = "access_claims"

// AccessVerifier verifies access tokens. Satisfied by *SessionIssuer.
type AccessVerifier interface {
	ParseAccessToken(token string) (*AccessClaims, error)
}

// ClaimsFromContext retrieves the verified access claims.
// Returns nil and false if RequireAuth hasn't run.
func ClaimsFromContext(ctx context.Context) (*AccessClaims, bool) {
	c, ok := ctx.Value(claimsKey).(*AccessClaims)
	return c, ok
}

// RequireAuth validates the Authorization: Bearer access token and injects its claims
// into the request context. Returns 401 on any failure.
func RequireAuth(tokens AccessVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				logWarn(r.Context(), "require auth failed", "reason", "missing_bearer_token")
				Unauthorized(w, "unauthorized")
				return
			}
			claims, err := tokens.ParseAccessToken(raw)
			if err != nil {
				logWarn(r.Context(), "require auth failed", "reason", "invalid_access_token", "error", err)
				Unauthorized(w, "unauthorized")
				return
			}
			ctx := withLogAttrs(r.Context(), "user_id", claims.UserID)
			ctx = context.WithValue(ctx, claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
// The scheme is case-insensitive.
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
