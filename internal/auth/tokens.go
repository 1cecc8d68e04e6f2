// tokens.go -- Session token issuing and verification.
//
// Access and refresh tokens are HS256 JWTs signed with distinct secrets, so a refresh
// token never verifies as an access token and vice versa.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/MGallo-Code/janus/internal/store"
)

// ErrInvalidToken is returned by ParseAccessToken/ParseRefreshToken for any token that
// fails signature, algorithm, issuer or expiry checks.
var ErrInvalidToken = errors.New("invalid token")

// SessionConfig configures a SessionIssuer.
type SessionConfig struct {
	Issuer        string
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Now           func() time.Time
}

// Tokens is the local session pair returned to the client.
// ExpiresAt is the access token's exp claim.
type Tokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// AccessClaims is the access token payload.
type AccessClaims struct {
	UserID      string   `json:"userId"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// RefreshClaims is the refresh token payload.
type RefreshClaims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// SessionIssuer mints and verifies session tokens. Safe for concurrent use.
type SessionIssuer struct {
	cfg SessionConfig
}

// NewSessionIssuer validates cfg and returns an issuer.
func NewSessionIssuer(cfg SessionConfig) (*SessionIssuer, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("session issuer: access and refresh secrets are required")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("session issuer: access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("session issuer: token ttls must be positive")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SessionIssuer{cfg: cfg}, nil
}

// IssueTokens signs a new access/refresh pair for u.
func (s *SessionIssuer) IssueTokens(u *store.User) (*Tokens, error) {
	now := s.cfg.Now()
	sub := u.ID.String()

	access := AccessClaims{
		UserID:      sub,
		Email:       u.Email,
		Role:        u.Role,
		Permissions: u.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTTL)),
		},
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, access).SignedString(s.cfg.AccessSecret)
	if err != nil {
		return nil, fmt.Errorf("signing access token: %w", err)
	}

	jti, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("generating refresh token id: %w", err)
	}
	refresh := RefreshClaims{
		UserID: sub,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   sub,
			ID:        jti.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.RefreshTTL)),
		},
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refresh).SignedString(s.cfg.RefreshSecret)
	if err != nil {
		return nil, fmt.Errorf("signing refresh token: %w", err)
	}

	// Read expiry back from the signed token so callers see exactly what clients will.
	claims, err := s.ParseAccessToken(accessToken)
	if err != nil {
		return nil, fmt.Errorf("reading back access token: %w", err)
	}

	return &Tokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

// ParseAccessToken verifies an access token and returns its claims.
func (s *SessionIssuer) ParseAccessToken(token string) (*AccessClaims, error) {
	var claims AccessClaims
	if err := s.parse(token, &claims, s.cfg.AccessSecret); err != nil {
		return nil, err
	}
	return &claims, nil
}

// ParseRefreshToken verifies a refresh token and returns its claims.
func (s *SessionIssuer) ParseRefreshToken(token string) (*RefreshClaims, error) {
	var claims RefreshClaims
	if err := s.parse(token, &claims, s.cfg.RefreshSecret); err != nil {
		return nil, err
	}
	return &claims, nil
}

func (s *SessionIssuer) parse(token string, claims jwt.Claims, secret []byte) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.cfg.Now),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return nil
}
