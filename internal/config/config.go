// config.go

// Environment variable loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/MGallo-Code/janus/internal/oauth"
)

// minSecretBytes is the shortest accepted HS256 signing secret.
const minSecretBytes = 32

// Config holds all env configuration vars for Janus.
type Config struct {
	DatabaseURL string
	RedisURL    string
	Port        string
	LogLevel    slog.Level

	// Session token signing. Access and refresh secrets must differ.
	JWTIssuer        string
	JWTAccessSecret  []byte
	JWTRefreshSecret []byte
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration

	// OAuth flow policy.
	StateTTL               time.Duration
	ExchangeTimeout        time.Duration
	MaxExchangeAttempts    int
	AllowedRedirectOrigins []string

	// Providers holds credentials for every provider with both vars set.
	// Providers with neither var set are simply absent.
	Providers map[oauth.ProviderName]oauth.Credentials
}

// rawEnv is the env surface; LoadConfig validates it into Config.
type rawEnv struct {
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	Port        string `env:"PORT" envDefault:"7865"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	JWTIssuer        string        `env:"JWT_ISSUER" envDefault:"janus"`
	JWTAccessSecret  string        `env:"JWT_ACCESS_SECRET"`
	JWTRefreshSecret string        `env:"JWT_REFRESH_SECRET"`
	AccessTokenTTL   time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL  time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`

	StateTTL               time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m"`
	ExchangeTimeout        time.Duration `env:"OAUTH_EXCHANGE_TIMEOUT" envDefault:"10s"`
	MaxExchangeAttempts    int           `env:"OAUTH_MAX_EXCHANGE_ATTEMPTS" envDefault:"3"`
	AllowedRedirectOrigins []string      `env:"ALLOWED_REDIRECT_ORIGINS" envSeparator:","`

	GoogleClientID       string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret   string `env:"GOOGLE_CLIENT_SECRET"`
	FacebookClientID     string `env:"FACEBOOK_CLIENT_ID"`
	FacebookClientSecret string `env:"FACEBOOK_CLIENT_SECRET"`
	LinkedInClientID     string `env:"LINKEDIN_CLIENT_ID"`
	LinkedInClientSecret string `env:"LINKEDIN_CLIENT_SECRET"`
}

// LoadConfig reads environment variables and returns a validated Config.
// Errors name the offending variable, never its value.
func LoadConfig() (*Config, error) {
	var raw rawEnv
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if strings.TrimSpace(raw.DatabaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if strings.TrimSpace(raw.RedisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	cfg := &Config{
		DatabaseURL:         raw.DatabaseURL,
		RedisURL:            raw.RedisURL,
		Port:                raw.Port,
		LogLevel:            parseLevel(raw.LogLevel),
		JWTIssuer:           raw.JWTIssuer,
		JWTAccessSecret:     []byte(raw.JWTAccessSecret),
		JWTRefreshSecret:    []byte(raw.JWTRefreshSecret),
		AccessTokenTTL:      raw.AccessTokenTTL,
		RefreshTokenTTL:     raw.RefreshTokenTTL,
		StateTTL:            raw.StateTTL,
		ExchangeTimeout:     raw.ExchangeTimeout,
		MaxExchangeAttempts: raw.MaxExchangeAttempts,
	}
	if cfg.Port == "" {
		cfg.Port = "7865"
	}

	if err := validateSecrets(cfg.JWTAccessSecret, cfg.JWTRefreshSecret); err != nil {
		return nil, err
	}

	// Checked in declaration order so the first bad variable is always the one named.
	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{"ACCESS_TOKEN_TTL", cfg.AccessTokenTTL},
		{"REFRESH_TOKEN_TTL", cfg.RefreshTokenTTL},
		{"OAUTH_STATE_TTL", cfg.StateTTL},
		{"OAUTH_EXCHANGE_TIMEOUT", cfg.ExchangeTimeout},
	} {
		if d.val <= 0 {
			return nil, fmt.Errorf("%s must be positive", d.name)
		}
	}
	if cfg.RefreshTokenTTL <= cfg.AccessTokenTTL {
		return nil, fmt.Errorf("REFRESH_TOKEN_TTL must be longer than ACCESS_TOKEN_TTL")
	}
	if cfg.MaxExchangeAttempts < 1 {
		return nil, fmt.Errorf("OAUTH_MAX_EXCHANGE_ATTEMPTS must be at least 1")
	}

	origins, err := parseOrigins(raw.AllowedRedirectOrigins)
	if err != nil {
		return nil, err
	}
	cfg.AllowedRedirectOrigins = origins

	providers, err := buildProviders(raw)
	if err != nil {
		return nil, err
	}
	cfg.Providers = providers

	return cfg, nil
}

// parseLevel maps LOG_LEVEL to slog, defaulting to info.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func validateSecrets(access, refresh []byte) error {
	if len(access) == 0 {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if len(refresh) == 0 {
		return fmt.Errorf("JWT_REFRESH_SECRET is required")
	}
	if len(access) < minSecretBytes {
		return fmt.Errorf("JWT_ACCESS_SECRET must be at least %d bytes", minSecretBytes)
	}
	if len(refresh) < minSecretBytes {
		return fmt.Errorf("JWT_REFRESH_SECRET must be at least %d bytes", minSecretBytes)
	}
	if string(access) == string(refresh) {
		return fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	return nil
}

// parseOrigins normalizes each allow-list entry to scheme://host.
func parseOrigins(values []string) ([]string, error) {
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		norm, err := oauth.NormalizeRedirectURI(v)
		if err != nil {
			return nil, fmt.Errorf("ALLOWED_REDIRECT_ORIGINS: %w", err)
		}
		out = append(out, oauth.RedirectOrigin(norm))
	}
	return out, nil
}

// buildProviders collects credentials per provider. A provider with neither var set is
// skipped; one with only half of the pair is an error naming the missing var.
func buildProviders(raw rawEnv) (map[oauth.ProviderName]oauth.Credentials, error) {
	pairs := map[oauth.ProviderName]oauth.Credentials{
		oauth.Google:   {ClientID: raw.GoogleClientID, ClientSecret: raw.GoogleClientSecret},
		oauth.Facebook: {ClientID: raw.FacebookClientID, ClientSecret: raw.FacebookClientSecret},
		oauth.LinkedIn: {ClientID: raw.LinkedInClientID, ClientSecret: raw.LinkedInClientSecret},
	}

	providers := make(map[oauth.ProviderName]oauth.Credentials)
	for _, name := range oauth.SupportedProviders {
		creds := pairs[name]
		creds.ClientID = strings.TrimSpace(creds.ClientID)
		creds.ClientSecret = strings.TrimSpace(creds.ClientSecret)
		if creds.ClientID == "" && creds.ClientSecret == "" {
			continue
		}
		if err := creds.Validate(name); err != nil {
			return nil, err
		}
		providers[name] = creds
	}
	return providers, nil
}
