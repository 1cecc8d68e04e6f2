// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup and queries.
// Creates a connection pool at startup, shared across all handlers.
// All queries use parameterized statements (no string concatenation).
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// userColumns is the select list scanned by scanUser, in order.
const userColumns = `id, email, first_name, last_name, profile_pic_url, phone_number,
	role, permissions, provider, is_verified, is_active, created_at, updated_at`

// PostgresStore is the durable store for users and their provider links.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool, pings it, and returns a ready-to-use store.
// Call once at startup from main.go...the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool and releases all resources.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CheckHealth pings the pool. Used by the /health handler.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// mapErr turns a unique violation into ErrDuplicate (constraint name kept for logs).
// Everything else is returned unchanged so callers can still match pgx.ErrNoRows.
func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.ProfilePicURL, &u.PhoneNumber,
		&u.Role, &u.Permissions, &u.Provider, &u.IsVerified, &u.IsActive, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func scanProviderAccount(row pgx.Row) (*ProviderAccount, error) {
	var pa ProviderAccount
	err := row.Scan(
		&pa.ID, &pa.UserID, &pa.Provider, &pa.ProviderID,
		&pa.AccessToken, &pa.RefreshToken, &pa.CreatedAt, &pa.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &pa, nil
}

// GetUserByEmail fetches a user by (already normalized) email.
// Returns pgx.ErrNoRows if not found.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = $1", email))
}

// GetUserByID fetches a user by primary key.
// Returns pgx.ErrNoRows if not found.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

// GetProviderAccount fetches the link for one (provider, provider_id) pair.
// Returns pgx.ErrNoRows if the identity has never been linked.
func (s *PostgresStore) GetProviderAccount(ctx context.Context, provider, providerID string) (*ProviderAccount, error) {
	return scanProviderAccount(s.pool.QueryRow(ctx, `
		SELECT id, user_id, provider, provider_id, access_token, refresh_token, created_at, updated_at
		FROM provider_accounts
		WHERE provider = $1 AND provider_id = $2
	`, provider, providerID))
}

// CreateUserWithProviderAccount inserts a new user and its first provider link in one
// transaction. The caller generates both UUIDs. CreatedAt/UpdatedAt are filled from the DB.
// Returns ErrDuplicate when the email or the provider identity already exists.
func (s *PostgresStore) CreateUserWithProviderAccount(ctx context.Context, u *User, pa *ProviderAccount) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	// No-op after Commit.
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO users (id, email, first_name, last_name, profile_pic_url, phone_number,
			role, permissions, provider, is_verified, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, u.ID, u.Email, u.FirstName, u.LastName, u.ProfilePicURL, u.PhoneNumber,
		u.Role, u.Permissions, u.Provider, u.IsVerified, u.IsActive,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting user: %w", mapErr(err))
	}

	if err := insertProviderAccount(ctx, tx, pa); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing user creation: %w", err)
	}
	return nil
}

// LinkProviderAccount adds a provider link to an existing user and writes the user's
// profile, provider and verification fields in the same transaction.
// Returns ErrDuplicate if the provider identity was linked concurrently.
func (s *PostgresStore) LinkProviderAccount(ctx context.Context, u *User, pa *ProviderAccount) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertProviderAccount(ctx, tx, pa); err != nil {
		return err
	}
	if err := updateUser(ctx, tx, u); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing provider link: %w", err)
	}
	return nil
}

// UpdateProviderToken replaces the stored provider tokens on an existing link.
// Returns pgx.ErrNoRows if the link no longer exists.
func (s *PostgresStore) UpdateProviderToken(ctx context.Context, accountID uuid.UUID, accessToken string, refreshToken *string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE provider_accounts
		SET access_token = $2,
			refresh_token = COALESCE($3, refresh_token),
			updated_at = now()
		WHERE id = $1
	`, accountID, accessToken, refreshToken)
	if err != nil {
		return fmt.Errorf("updating provider token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// UpdateUserProfile writes the merged profile, provider and is_verified fields.
// Returns pgx.ErrNoRows if the user does not exist.
func (s *PostgresStore) UpdateUserProfile(ctx context.Context, u *User) error {
	return updateUser(ctx, s.pool, u)
}

// execQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type execQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertProviderAccount(ctx context.Context, q execQuerier, pa *ProviderAccount) error {
	err := q.QueryRow(ctx, `
		INSERT INTO provider_accounts (id, user_id, provider, provider_id, access_token, refresh_token)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, pa.ID, pa.UserID, pa.Provider, pa.ProviderID, pa.AccessToken, pa.RefreshToken,
	).Scan(&pa.CreatedAt, &pa.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting provider account: %w", mapErr(err))
	}
	return nil
}

func updateUser(ctx context.Context, q execQuerier, u *User) error {
	err := q.QueryRow(ctx, `
		UPDATE users
		SET first_name = $2,
			last_name = $3,
			profile_pic_url = $4,
			phone_number = $5,
			provider = $6,
			is_verified = $7,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, u.ID, u.FirstName, u.LastName, u.ProfilePicURL, u.PhoneNumber, u.Provider, u.IsVerified,
	).Scan(&u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	return nil
}
