package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MGallo-Code/janus/internal/auth"
	"github.com/MGallo-Code/janus/internal/config"
	"github.com/MGallo-Code/janus/internal/oauth"
	"github.com/MGallo-Code/janus/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

func main() {
	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes (ps, rdb) always execute before os.Exit.
	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	// Create postgres store (users, provider accounts)
	ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to set up postgres store: %w", err)
	}
	// Close at end of run func
	defer ps.Close()

	// Run database migrations
	migrationsFS, err := fs.Sub(migrationsDir, "migrations")
	if err != nil {
		return fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	if err := ps.Migrate(ctx, migrationsFS); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Shared Redis client; holds oauth state and pkce verifiers.
	rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to set up redis client: %w", err)
	}
	defer rdb.Close()
	states := store.NewRedisStateStore(rdb)

	// One adapter per provider with credentials
	registry, err := buildRegistry(ctx, cfg)
	if err != nil {
		return err
	}

	// Signs access/refresh tokens handed out after a completed flow
	sessions, err := auth.NewSessionIssuer(auth.SessionConfig{
		Issuer:        cfg.JWTIssuer,
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to set up session issuer: %w", err)
	}

	// Orchestrator ties state, providers, linking and sessions together
	flow := auth.NewOrchestrator(registry, states, auth.NewAccountLinker(ps), sessions, auth.Options{
		StateTTL:               cfg.StateTTL,
		ExchangeTimeout:        cfg.ExchangeTimeout,
		MaxExchangeAttempts:    cfg.MaxExchangeAttempts,
		AllowedRedirectOrigins: cfg.AllowedRedirectOrigins,
	})

	// Create AuthHandler
	h := auth.AuthHandler{Flow: flow, Sessions: sessions, Users: ps, PS: ps, RS: states}

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{
		Handler:           buildRouter(&h, sessions),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine; run() continues past this.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("janus listening", "addr", ln.Addr().String(), "providers", registry.Names())
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	// Wait for server error or shutdown signal from ctx.
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown
	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// Stops accepting connections, then waits for in-flight requests up to the timeout.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// buildRegistry constructs an adapter for every provider with credentials.
// No configured provider is allowed; each flow then reports CONFIGURATION_ERROR.
func buildRegistry(ctx context.Context, cfg *config.Config) (*oauth.Registry, error) {
	client := &http.Client{Timeout: cfg.ExchangeTimeout}
	var adapters []oauth.Adapter
	for _, name := range oauth.SupportedProviders {
		creds, ok := cfg.Providers[name]
		if !ok {
			continue
		}
		a, err := oauth.NewAdapter(ctx, name, creds, oauth.Options{HTTPClient: client})
		if err != nil {
			return nil, fmt.Errorf("failed to set up %s provider: %w", name, err)
		}
		adapters = append(adapters, a)
	}
	if len(adapters) == 0 {
		slog.Warn("no oauth providers configured")
	}
	return oauth.NewRegistry(adapters...), nil
}

// buildRouter wires all routes and middleware.
// Called from run() and from smoke tests.
func buildRouter(h *auth.AuthHandler, tokens auth.AccessVerifier) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	// Reads the request id and real IP set above.
	r.Use(auth.RequestAttrs)

	r.Get("/health", h.CheckHealth)

	r.Route("/oauth/{provider}", func(r chi.Router) {
		r.Post("/begin", h.BeginOAuth)
		r.Get("/start", h.StartOAuth)
		r.Post("/callback", h.OAuthCallback)
	})

	r.Post("/auth/refresh", h.Refresh)

	// Authentication required routes
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens))
		r.Get("/auth/me", h.Me)
	})

	return r
}
