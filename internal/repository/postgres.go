package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kavindya12/soa-microservices-platform/internal/domain/oauth"
)

// Compile-time interface assertions.
var (
	_ GrantStore       = (*PostgresGrantStore)(nil)
	_ AccessTokenStore = (*PostgresTokenStore)(nil)
)

var schemaSQL = []string{`
CREATE TABLE IF NOT EXISTS oauth_grants (
	code         TEXT PRIMARY KEY,
	client_id    TEXT NOT NULL,
	redirect_uri TEXT NOT NULL,
	scopes       TEXT[] NOT NULL,
	expires_at   TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, `
CREATE TABLE IF NOT EXISTS oauth_access_tokens (
	token      TEXT PRIMARY KEY,
	client_id  TEXT NOT NULL,
	scopes     TEXT[] NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`}

// EnsureSchema creates the grant and token tables when missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaSQL {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure oauth schema: %w", err)
		}
	}
	return nil
}

// PostgresGrantStore implements GrantStore.
type PostgresGrantStore struct {
	db *pgxpool.Pool
}

func NewPostgresGrantStore(pool *pgxpool.Pool) *PostgresGrantStore {
	return &PostgresGrantStore{db: pool}
}

const insertGrantSQL = `INSERT INTO oauth_grants (code, client_id, redirect_uri, scopes, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

func (s *PostgresGrantStore) SaveGrant(ctx context.Context, grant oauth.AuthorizationGrant) error {
	if _, err := s.db.Exec(ctx, insertGrantSQL,
		grant.Code,
		grant.ClientID,
		grant.RedirectURI,
		grant.Scopes,
		grant.ExpiresAt,
		grant.CreatedAt,
	); err != nil {
		return fmt.Errorf("save grant: %w", err)
	}
	return nil
}

// DELETE ... RETURNING makes redemption single-use across replicas.
const takeGrantSQL = `DELETE FROM oauth_grants WHERE code = $1
RETURNING code, client_id, redirect_uri, scopes, expires_at, created_at`

func (s *PostgresGrantStore) TakeGrant(ctx context.Context, code string) (oauth.AuthorizationGrant, error) {
	var grant oauth.AuthorizationGrant
	err := s.db.QueryRow(ctx, takeGrantSQL, code).Scan(
		&grant.Code,
		&grant.ClientID,
		&grant.RedirectURI,
		&grant.Scopes,
		&grant.ExpiresAt,
		&grant.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return oauth.AuthorizationGrant{}, oauth.ErrGrantNotFound
	}
	if err != nil {
		return oauth.AuthorizationGrant{}, fmt.Errorf("take grant: %w", err)
	}
	return grant, nil
}

func (s *PostgresGrantStore) PurgeExpiredGrants(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM oauth_grants WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge grants: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// PostgresTokenStore implements AccessTokenStore.
type PostgresTokenStore struct {
	db *pgxpool.Pool
}

func NewPostgresTokenStore(pool *pgxpool.Pool) *PostgresTokenStore {
	return &PostgresTokenStore{db: pool}
}

const insertTokenSQL = `INSERT INTO oauth_access_tokens (token, client_id, scopes, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5)`

func (s *PostgresTokenStore) SaveToken(ctx context.Context, token oauth.AccessToken) error {
	if _, err := s.db.Exec(ctx, insertTokenSQL,
		token.Token,
		token.ClientID,
		token.Scopes,
		token.ExpiresAt,
		token.CreatedAt,
	); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

const getTokenSQL = `SELECT token, client_id, scopes, expires_at, created_at
FROM oauth_access_tokens
WHERE token = $1`

func (s *PostgresTokenStore) LookupToken(ctx context.Context, token string, now time.Time) (oauth.AccessToken, error) {
	var stored oauth.AccessToken
	err := s.db.QueryRow(ctx, getTokenSQL, token).Scan(
		&stored.Token,
		&stored.ClientID,
		&stored.Scopes,
		&stored.ExpiresAt,
		&stored.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return oauth.AccessToken{}, oauth.ErrTokenNotFound
	}
	if err != nil {
		return oauth.AccessToken{}, fmt.Errorf("lookup token: %w", err)
	}
	if stored.Expired(now) {
		if _, err := s.db.Exec(ctx, `DELETE FROM oauth_access_tokens WHERE token = $1`, token); err != nil {
			return oauth.AccessToken{}, fmt.Errorf("purge expired token: %w", err)
		}
		return oauth.AccessToken{}, oauth.ErrTokenNotFound
	}
	return stored, nil
}

func (s *PostgresTokenStore) PurgeExpiredTokens(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM oauth_access_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge tokens: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
