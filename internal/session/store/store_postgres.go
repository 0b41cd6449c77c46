package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"brewlog/internal/session/models"
	"brewlog/pkg/platform/sentinel"
)

// DefaultProfile is the row key used when a device keeps a single session.
const DefaultProfile = "default"

// Schema creates the token table. Both slots live in one row so an upsert
// replaces the pair atomically.
const Schema = `
CREATE TABLE IF NOT EXISTS session_tokens (
	profile       TEXT PRIMARY KEY,
	auth_token    TEXT NOT NULL,
	refresh_token TEXT NOT NULL DEFAULT '',
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore persists the token pair in PostgreSQL.
type PostgresStore struct {
	pool    *pgxpool.Pool
	profile string
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithProfile selects the row holding this process's pair.
func WithProfile(profile string) PostgresOption {
	return func(s *PostgresStore) {
		if profile != "" {
			s.profile = profile
		}
	}
}

// NewPostgres constructs a PostgreSQL-backed token store.
func NewPostgres(pool *pgxpool.Pool, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{pool: pool, profile: DefaultProfile}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Migrate creates the token table if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create session_tokens: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (*models.TokenPair, error) {
	var pair models.TokenPair
	err := s.pool.QueryRow(ctx,
		`SELECT auth_token, refresh_token FROM session_tokens WHERE profile = $1`,
		s.profile,
	).Scan(&pair.AccessToken, &pair.RefreshToken)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("token pair not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load token pair: %w", err)
	}
	return &pair, nil
}

func (s *PostgresStore) Save(ctx context.Context, access, refresh string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_tokens (profile, auth_token, refresh_token, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (profile) DO UPDATE
		SET auth_token = EXCLUDED.auth_token,
		    refresh_token = EXCLUDED.refresh_token,
		    updated_at = EXCLUDED.updated_at`,
		s.profile, access, refresh,
	)
	if err != nil {
		return fmt.Errorf("save token pair: %w", err)
	}
	return nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM session_tokens WHERE profile = $1`, s.profile); err != nil {
		return fmt.Errorf("clear token pair: %w", err)
	}
	return nil
}
