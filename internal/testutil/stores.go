// stores.go
//
// Shared in-memory implementations of auth.UserStore and auth.StateStore.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/MGallo-Code/janus/internal/store"
)

// MockUserStore implements auth.UserStore for tests.
//
// Always stateful...users and provider accounts live in maps, like a real store, and
// the same uniqueness rules apply (email, (provider, provider_id)) with store.ErrDuplicate.
// Reads return copies so callers only change stored rows through write methods.
// Use *Err fields to inject errors for specific operations.
type MockUserStore struct {
	// Error injection...zero value means no error
	GetUserByEmailErr     error
	GetUserByIDErr        error
	GetProviderAccountErr error
	CreateErr             error
	LinkErr               error
	UpdateTokenErr        error
	UpdateProfileErr      error

	// BeforeCreate, if set, runs at the start of CreateUserWithProviderAccount
	// (outside the lock). Tests use it to simulate a concurrent sign-in.
	BeforeCreate func()

	// Call counters
	CreateCalls        int
	LinkCalls          int
	UpdateTokenCalls   int
	UpdateProfileCalls int

	users    map[uuid.UUID]*store.User
	accounts map[uuid.UUID]*store.ProviderAccount

	mu sync.Mutex
}

// NewMockUserStore returns an empty MockUserStore.
func NewMockUserStore() *MockUserStore {
	return &MockUserStore{
		users:    make(map[uuid.UUID]*store.User),
		accounts: make(map[uuid.UUID]*store.ProviderAccount),
	}
}

// AddUser seeds u, assigning an id if it has none. Returns the stored copy's id.
func (m *MockUserStore) AddUser(u *store.User) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.Must(uuid.NewV7())
	}
	m.users[u.ID] = copyUser(u)
	return u.ID
}

// AddProviderAccount seeds pa, assigning an id if it has none.
func (m *MockUserStore) AddProviderAccount(pa *store.ProviderAccount) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pa.ID == uuid.Nil {
		pa.ID = uuid.Must(uuid.NewV7())
	}
	c := *pa
	m.accounts[pa.ID] = &c
	return pa.ID
}

// User returns a copy of the stored user, or nil.
func (m *MockUserStore) User(id uuid.UUID) *store.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	return copyUser(u)
}

// UserCount returns the number of stored users.
func (m *MockUserStore) UserCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

// ProviderAccounts returns copies of the links owned by userID, ordered by provider.
func (m *MockUserStore) ProviderAccounts(userID uuid.UUID) []store.ProviderAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.ProviderAccount
	for _, pa := range m.accounts {
		if pa.UserID == userID {
			out = append(out, *pa)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

func (m *MockUserStore) GetUserByEmail(_ context.Context, email string) (*store.User, error) {
	if m.GetUserByEmailErr != nil {
		return nil, m.GetUserByEmailErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *MockUserStore) GetUserByID(_ context.Context, id uuid.UUID) (*store.User, error) {
	if m.GetUserByIDErr != nil {
		return nil, m.GetUserByIDErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return copyUser(u), nil
}

func (m *MockUserStore) GetProviderAccount(_ context.Context, provider, providerID string) (*store.ProviderAccount, error) {
	if m.GetProviderAccountErr != nil {
		return nil, m.GetProviderAccountErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if pa := m.findAccount(provider, providerID); pa != nil {
		c := *pa
		return &c, nil
	}
	return nil, pgx.ErrNoRows
}

func (m *MockUserStore) CreateUserWithProviderAccount(_ context.Context, u *store.User, pa *store.ProviderAccount) error {
	if m.BeforeCreate != nil {
		m.BeforeCreate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if m.emailTaken(u.Email) || m.findAccount(pa.Provider, pa.ProviderID) != nil {
		return store.ErrDuplicate
	}

	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	pa.CreatedAt, pa.UpdatedAt = now, now
	m.users[u.ID] = copyUser(u)
	c := *pa
	m.accounts[pa.ID] = &c
	return nil
}

func (m *MockUserStore) LinkProviderAccount(_ context.Context, u *store.User, pa *store.ProviderAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LinkCalls++
	if m.LinkErr != nil {
		return m.LinkErr
	}
	if m.findAccount(pa.Provider, pa.ProviderID) != nil {
		return store.ErrDuplicate
	}
	if _, ok := m.users[u.ID]; !ok {
		return pgx.ErrNoRows
	}

	now := time.Now()
	pa.CreatedAt, pa.UpdatedAt = now, now
	u.UpdatedAt = now
	c := *pa
	m.accounts[pa.ID] = &c
	m.users[u.ID] = copyUser(u)
	return nil
}

func (m *MockUserStore) UpdateProviderToken(_ context.Context, accountID uuid.UUID, accessToken string, refreshToken *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateTokenCalls++
	if m.UpdateTokenErr != nil {
		return m.UpdateTokenErr
	}
	pa, ok := m.accounts[accountID]
	if !ok {
		return pgx.ErrNoRows
	}
	pa.AccessToken = accessToken
	if refreshToken != nil {
		r := *refreshToken
		pa.RefreshToken = &r
	}
	pa.UpdatedAt = time.Now()
	return nil
}

func (m *MockUserStore) UpdateUserProfile(_ context.Context, u *store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateProfileCalls++
	if m.UpdateProfileErr != nil {
		return m.UpdateProfileErr
	}
	if _, ok := m.users[u.ID]; !ok {
		return pgx.ErrNoRows
	}
	u.UpdatedAt = time.Now()
	m.users[u.ID] = copyUser(u)
	return nil
}

func (m *MockUserStore) emailTaken(email string) bool {
	for _, u := range m.users {
		if u.Email == email {
			return true
		}
	}
	return false
}

func (m *MockUserStore) findAccount(provider, providerID string) *store.ProviderAccount {
	for _, pa := range m.accounts {
		if pa.Provider == provider && pa.ProviderID == providerID {
			return pa
		}
	}
	return nil
}

func copyUser(u *store.User) *store.User {
	c := *u
	c.Permissions = append([]string(nil), u.Permissions...)
	return &c
}

// stateEntry is one MockStateStore value with the ttl it was written with.
type stateEntry struct {
	value []byte
	ttl   time.Duration
}

// MockStateStore implements auth.StateStore for tests.
//
// Keys never expire on their own, so tests can check that expiry is enforced by the
// caller rather than by the store. Every call is appended to Ops as "<op> <key>".
type MockStateStore struct {
	// Error injection...zero value means no error
	PutErr     error
	ReplaceErr error
	GetErr     error
	TakeErr    error
	DeleteErr  error

	Ops []string

	entries map[string]stateEntry
	mu      sync.Mutex
}

// NewMockStateStore returns an empty MockStateStore.
func NewMockStateStore() *MockStateStore {
	return &MockStateStore{entries: make(map[string]stateEntry)}
}

func (m *MockStateStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ops = append(m.Ops, "put "+key)
	if m.PutErr != nil {
		return m.PutErr
	}
	m.entries[key] = stateEntry{value: append([]byte(nil), value...), ttl: ttl}
	return nil
}

func (m *MockStateStore) Replace(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ops = append(m.Ops, "replace "+key)
	if m.ReplaceErr != nil {
		return m.ReplaceErr
	}
	if _, ok := m.entries[key]; !ok {
		return store.ErrCacheMiss
	}
	m.entries[key] = stateEntry{value: append([]byte(nil), value...), ttl: ttl}
	return nil
}

func (m *MockStateStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ops = append(m.Ops, "get "+key)
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	e, ok := m.entries[key]
	if !ok {
		return nil, store.ErrCacheMiss
	}
	return append([]byte(nil), e.value...), nil
}

func (m *MockStateStore) Take(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ops = append(m.Ops, "take "+key)
	if m.TakeErr != nil {
		return nil, m.TakeErr
	}
	e, ok := m.entries[key]
	if !ok {
		return nil, store.ErrCacheMiss
	}
	delete(m.entries, key)
	return e.value, nil
}

func (m *MockStateStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		m.Ops = append(m.Ops, "delete "+k)
	}
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

// Has reports whether key is present.
func (m *MockStateStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok
}

// Value returns the stored bytes for key, or nil.
func (m *MockStateStore) Value(key string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.entries[key].value...)
}

// TTL returns the ttl key was last written with, or 0.
func (m *MockStateStore) TTL(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[key].ttl
}

// Len returns the number of stored keys.
func (m *MockStateStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
