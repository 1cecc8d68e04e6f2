// linker.go -- Resolves a provider identity to a local user.
//
// Policy, in order:
//  1. look up the user by email
//  2. no user: create one plus its provider link
//  3. user without a link for this identity: add the link, maybe upgrade the primary provider
//  4. user already linked: refresh the stored provider token
//
// Profile fields merge existing-value-wins in every branch.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/MGallo-Code/janus/internal/oauth"
	"github.com/MGallo-Code/janus/internal/store"
)

// UserStore defines the user/provider-account operations AccountLinker needs.
// Satisfied by *store.PostgresStore.
type UserStore interface {
	// GetUserByEmail returns pgx.ErrNoRows if no user has the email.
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)

	// GetUserByID returns pgx.ErrNoRows if the user does not exist.
	GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error)

	// GetProviderAccount returns pgx.ErrNoRows if the identity was never linked.
	GetProviderAccount(ctx context.Context, provider, providerID string) (*store.ProviderAccount, error)

	// CreateUserWithProviderAccount inserts both rows atomically; store.ErrDuplicate on conflict.
	CreateUserWithProviderAccount(ctx context.Context, u *store.User, pa *store.ProviderAccount) error

	// LinkProviderAccount inserts the link and writes the user atomically; store.ErrDuplicate on conflict.
	LinkProviderAccount(ctx context.Context, u *store.User, pa *store.ProviderAccount) error

	// UpdateProviderToken replaces the provider tokens on an existing link.
	UpdateProviderToken(ctx context.Context, accountID uuid.UUID, accessToken string, refreshToken *string) error

	// UpdateUserProfile writes profile, provider and is_verified.
	UpdateUserProfile(ctx context.Context, u *store.User) error
}

// Resolution is the outcome of AccountLinker.Resolve.
// At most one of IsNew and WasLinked is true; neither means a plain login.
type Resolution struct {
	User      *store.User
	IsNew     bool
	WasLinked bool
}

// AccountLinker applies the create/link/upgrade policy against a UserStore.
type AccountLinker struct {
	users UserStore
}

// NewAccountLinker returns an AccountLinker over users.
func NewAccountLinker(users UserStore) *AccountLinker {
	return &AccountLinker{users: users}
}

// Resolve maps id to a local user, creating or linking as needed, and stores tok on the link.
// Returns ErrAccountConflict when the account cannot be signed into.
// A concurrent sign-in racing on the same email or identity is retried once.
func (l *AccountLinker) Resolve(ctx context.Context, id *oauth.ExternalIdentity, provider oauth.ProviderName, role Role, tok *oauth.Token) (*Resolution, error) {
	res, err := l.resolve(ctx, id, provider, role, tok)
	if errors.Is(err, store.ErrDuplicate) {
		logDebug(ctx, "account resolution raced, retrying")
		res, err = l.resolve(ctx, id, provider, role, tok)
	}
	return res, err
}

func (l *AccountLinker) resolve(ctx context.Context, id *oauth.ExternalIdentity, provider oauth.ProviderName, role Role, tok *oauth.Token) (*Resolution, error) {
	user, err := l.users.GetUserByEmail(ctx, id.Email)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("looking up user by email: %w", err)
	}

	link, err := l.users.GetProviderAccount(ctx, string(provider), id.ExternalID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("looking up provider account: %w", err)
	}

	switch {
	case user == nil && link == nil:
		return l.createUser(ctx, id, provider, role, tok)

	case user == nil:
		// Email changed at the provider since the identity was linked; the link owner signs in.
		owner, err := l.users.GetUserByID(ctx, link.UserID)
		if err != nil {
			return nil, fmt.Errorf("looking up provider account owner: %w", err)
		}
		return l.login(ctx, owner, link, id, tok)

	case link == nil:
		return l.linkUser(ctx, user, id, provider, tok)

	case link.UserID != user.ID:
		return nil, fmt.Errorf("%w: %s identity linked to another user", ErrAccountConflict, provider)

	default:
		return l.login(ctx, user, link, id, tok)
	}
}

func (l *AccountLinker) createUser(ctx context.Context, id *oauth.ExternalIdentity, provider oauth.ProviderName, role Role, tok *oauth.Token) (*Resolution, error) {
	userID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating user id: %w", err)
	}
	accountID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating provider account id: %w", err)
	}
	if role == "" {
		role = DefaultRole
	}

	u := &store.User{
		ID:          userID,
		Email:       id.Email,
		Role:        string(role),
		Permissions: PermissionsForRole(role),
		Provider:    string(provider),
		IsVerified:  id.EmailVerified,
		IsActive:    true,
	}
	MergeProfile(u, id)

	pa := &store.ProviderAccount{
		ID:           accountID,
		UserID:       userID,
		Provider:     string(provider),
		ProviderID:   id.ExternalID,
		AccessToken:  tok.AccessToken,
		RefreshToken: strOrNil(tok.RefreshToken),
	}
	if err := l.users.CreateUserWithProviderAccount(ctx, u, pa); err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	logInfo(ctx, "oauth account created", "user_id", u.ID)
	return &Resolution{User: u, IsNew: true}, nil
}

func (l *AccountLinker) linkUser(ctx context.Context, u *store.User, id *oauth.ExternalIdentity, provider oauth.ProviderName, tok *oauth.Token) (*Resolution, error) {
	if !u.IsActive {
		return nil, fmt.Errorf("%w: user deactivated", ErrAccountConflict)
	}
	accountID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating provider account id: %w", err)
	}

	MergeProfile(u, id)
	if UpgradePrimaryProvider(u, provider) {
		logInfo(ctx, "primary provider upgraded", "user_id", u.ID)
	}

	pa := &store.ProviderAccount{
		ID:           accountID,
		UserID:       u.ID,
		Provider:     string(provider),
		ProviderID:   id.ExternalID,
		AccessToken:  tok.AccessToken,
		RefreshToken: strOrNil(tok.RefreshToken),
	}
	if err := l.users.LinkProviderAccount(ctx, u, pa); err != nil {
		return nil, fmt.Errorf("linking provider account: %w", err)
	}

	logInfo(ctx, "provider linked to existing account", "user_id", u.ID)
	return &Resolution{User: u, WasLinked: true}, nil
}

func (l *AccountLinker) login(ctx context.Context, u *store.User, link *store.ProviderAccount, id *oauth.ExternalIdentity, tok *oauth.Token) (*Resolution, error) {
	if !u.IsActive {
		return nil, fmt.Errorf("%w: user deactivated", ErrAccountConflict)
	}
	if err := l.users.UpdateProviderToken(ctx, link.ID, tok.AccessToken, strOrNil(tok.RefreshToken)); err != nil {
		return nil, fmt.Errorf("refreshing provider token: %w", err)
	}
	if MergeProfile(u, id) {
		if err := l.users.UpdateUserProfile(ctx, u); err != nil {
			return nil, fmt.Errorf("updating profile: %w", err)
		}
	}
	return &Resolution{User: u}, nil
}

// MergeProfile fills empty profile fields on u from id. A non-empty local value is
// never overwritten. Reports whether anything changed.
func MergeProfile(u *store.User, id *oauth.ExternalIdentity) bool {
	changed := fillEmpty(&u.FirstName, id.FirstName)
	changed = fillEmpty(&u.LastName, id.LastName) || changed
	changed = fillEmpty(&u.ProfilePicURL, id.ProfilePicURL) || changed
	changed = fillEmpty(&u.PhoneNumber, id.PhoneNumber) || changed
	return changed
}

func fillEmpty(dst **string, v string) bool {
	if *dst != nil && strings.TrimSpace(**dst) != "" {
		return false
	}
	p := strOrNil(v)
	if p == nil {
		return false
	}
	*dst = p
	return true
}

// UpgradePrimaryProvider moves a password-created account onto provider and marks it
// verified, the first time that account signs in through a federated provider.
// Accounts whose primary provider is already federated keep it.
// Reports whether u changed.
func UpgradePrimaryProvider(u *store.User, provider oauth.ProviderName) bool {
	if u.Provider != store.PasswordProvider {
		return false
	}
	u.Provider = string(provider)
	u.IsVerified = true
	return true
}

// strOrNil returns nil for empty/whitespace strings, else a pointer to s.
// Used to map optional profile fields to nullable DB columns.
func strOrNil(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
