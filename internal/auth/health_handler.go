// health_handler.go -- Health check handler for GET /health.
package auth

import (
	"context"
	"net/http"
)

// HealthChecker pings a backing store. Satisfied by *store.PostgresStore and
// *store.RedisStateStore.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// CheckHealth handles GET /health. Pings Postgres and Redis, returns per-dependency status.
// Returns 200 if both are healthy, 503 if either is down.
func (h *AuthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	postgresStatus := "ok"
	redisStatus := "ok"

	if err := h.PS.CheckHealth(r.Context()); err != nil {
		logError(r.Context(), "postgres health check failed", "error", err)
		postgresStatus = "error"
	}
	if err := h.RS.CheckHealth(r.Context()); err != nil {
		logError(r.Context(), "redis health check failed", "error", err)
		redisStatus = "error"
	}

	status := http.StatusOK
	if postgresStatus == "error" || redisStatus == "error" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, struct {
		Postgres string `json:"postgres"`
		Redis    string `json:"redis"`
	}{postgresStatus, redisStatus})
}
