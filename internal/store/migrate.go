package store

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
)

// migrateLockID is the pg_advisory_xact_lock key held while a migration runs,
// so replicas starting together apply each file once.
const migrateLockID int64 = 0x6a616e7573

// Migrate applies all pending SQL migrations from the given filesystem.
// Each migration runs in its own transaction; if any statement fails,
// that migration is rolled back entirely. Already-applied migrations are skipped.
func (s *PostgresStore) Migrate(ctx context.Context, migrationsFS fs.FS) error {
	// Create tracking table if it doesn't exist
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	// Read migration files, apply in filename order
	entries, err := fs.Glob(migrationsFS, "*.sql")
	if err != nil {
		return fmt.Errorf("reading migration files: %w", err)
	}
	sort.Strings(entries)

	for _, filename := range entries {
		if err := s.applyMigration(ctx, migrationsFS, filename); err != nil {
			return err
		}
	}
	return nil
}

// applyMigration runs one file under the advisory lock, re-checking schema_migrations
// after the lock is held.
func (s *PostgresStore) applyMigration(ctx context.Context, migrationsFS fs.FS, filename string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction for %s: %w", filename, err)
	}
	// No-op once committed
	defer tx.Rollback(ctx)

	// Serialize with other replicas running migrations

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("locking for %s: %w", filename, err)
	}

	// Skip if already applied
	var exists bool
	err = tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)",
		filename,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking migration %s: %w", filename, err)
	}
	if exists {
		slog.Debug("migration already applied, skipping", "version", filename)
		return nil
	}

	// Read and execute migration SQL
	sql, err := fs.ReadFile(migrationsFS, filename)
	if err != nil {
		return fmt.Errorf("reading migration %s: %w", filename, err)
	}
	if _, err := tx.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("executing migration %s: %w", filename, err)
	}
	// Record migration as applied
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", filename); err != nil {
		return fmt.Errorf("recording migration %s: %w", filename, err)
	}

	// Commit transaction
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing migration %s: %w", filename, err)
	}
	slog.Info("migration applied", "version", filename)
	return nil
}
