package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchema creates the table used by [PostgresStore].
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS questauth_credentials (
	profile    TEXT        NOT NULL,
	slot       TEXT        NOT NULL,
	value      TEXT        NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (profile, slot)
)`

// PostgresStore keeps slots in the questauth_credentials table, one row per
// (profile, slot).
type PostgresStore struct {
	pool    *pgxpool.Pool
	profile string
}

// NewPostgresStore returns a store bound to one profile.
func NewPostgresStore(pool *pgxpool.Pool, profile string) *PostgresStore {
	return &PostgresStore{pool: pool, profile: strings.TrimSpace(profile)}
}

// Migrate creates the backing table when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `
		SELECT value FROM questauth_credentials
		WHERE profile = $1 AND slot = $2
	`, s.profile, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO questauth_credentials (profile, slot, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (profile, slot)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, s.profile, key, value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Clear(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM questauth_credentials
		WHERE profile = $1 AND slot = $2
	`, s.profile, key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}
