// models.go -- Shared domain types for the store package.
// Used by both Postgres (durable store) and Redis (flow state).
package store

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ErrCacheMiss is returned by RedisStateStore reads when the key is absent or expired.
// Callers use errors.Is to distinguish a true miss from a Redis infrastructure failure.
var ErrCacheMiss = errors.New("cache miss")

// ErrDuplicate is returned when an insert hits a unique constraint
// (users.email or provider_accounts (provider, provider_id)).
var ErrDuplicate = errors.New("duplicate key")

// PasswordProvider is the users.provider value for accounts created with a password.
// Such accounts are upgraded to their first federated provider on link.
const PasswordProvider = "password"

// User represents a row in the users table.
// Nullable columns are pointers; nil means SQL NULL.
type User struct {
	ID            uuid.UUID
	Email         string
	FirstName     *string
	LastName      *string
	ProfilePicURL *string
	PhoneNumber   *string
	Role          string
	Permissions   []string
	Provider      string
	IsVerified    bool
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ProviderAccount represents a row in the provider_accounts table.
// AccessToken is the provider's token, stored opaque; RefreshToken is nil when the
// provider did not issue one.
type ProviderAccount struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Provider     string
	ProviderID   string
	AccessToken  string
	RefreshToken *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
