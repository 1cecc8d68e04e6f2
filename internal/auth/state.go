// state.go -- OAuth flow state persisted between BeginFlow and CompleteFlow.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MGallo-Code/janus/internal/oauth"
)

// StateStore is the shared TTL key/value store holding in-flight flows.
// Satisfied by *store.RedisStateStore.
// Absent keys return store.ErrCacheMiss; any other error is treated as an outage.
type StateStore interface {
	// Put writes value under key, expiring after ttl.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Replace overwrites key only if it still exists; store.ErrCacheMiss otherwise.
	Replace(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get reads key without consuming it.
	Get(ctx context.Context, key string) ([]byte, error)

	// Take reads and deletes key atomically.
	Take(ctx context.Context, key string) ([]byte, error)

	// Delete removes keys; missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

// StateRecord is one in-flight authorization attempt.
// RedirectURI is the normalized value sent to the provider at BeginFlow; the exchange
// reuses it verbatim. Attempts counts failed exchanges against this state.
type StateRecord struct {
	State       string             `json:"state"`
	Provider    oauth.ProviderName `json:"provider"`
	Role        Role               `json:"role"`
	RedirectURI string             `json:"redirect_uri"`
	IssuedAt    time.Time          `json:"issued_at"`
	Attempts    int                `json:"attempts"`
}

func stateKey(state string) string { return "oauth:state:" + state }

func pkceKey(state string) string { return "oauth:pkce:" + state }

func encodeState(rec *StateRecord) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding state record: %w", err)
	}
	return b, nil
}

func decodeState(b []byte) (*StateRecord, error) {
	var rec StateRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decoding state record: %w", err)
	}
	return &rec, nil
}

// expiresAt is when the record's original TTL runs out.
func (r *StateRecord) expiresAt(ttl time.Duration) time.Time {
	return r.IssuedAt.Add(ttl)
}
