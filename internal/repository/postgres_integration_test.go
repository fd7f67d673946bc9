//go:build integration

package repository_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/kavindya12/soa-microservices-platform/internal/domain/oauth"
	"github.com/kavindya12/soa-microservices-platform/internal/repository"
)

func setupDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Fatal("DATABASE_URL must be set for integration tests")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, repository.EnsureSchema(ctx, pool))
	return pool
}

func TestPostgresGrantStoreSingleUse(t *testing.T) {
	pool := setupDB(t)
	store := repository.NewPostgresGrantStore(pool)
	ctx := context.Background()

	code := uuid.NewString()
	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, store.SaveGrant(ctx, oauth.AuthorizationGrant{
		Code:        code,
		ClientID:    "orders-service-client",
		RedirectURI: "http://localhost:3000/auth/callback",
		Scopes:      []string{"read", "write"},
		ExpiresAt:   now.Add(10 * time.Minute),
		CreatedAt:   now,
	}))

	grant, err := store.TakeGrant(ctx, code)
	require.NoError(t, err)
	require.Equal(t, []string{"read", "write"}, grant.Scopes)

	_, err = store.TakeGrant(ctx, code)
	require.ErrorIs(t, err, oauth.ErrGrantNotFound)
}

func TestPostgresTokenStorePurgesExpired(t *testing.T) {
	pool := setupDB(t)
	store := repository.NewPostgresTokenStore(pool)
	ctx := context.Background()

	token := uuid.NewString()
	now := time.Now().UTC()
	require.NoError(t, store.SaveToken(ctx, oauth.AccessToken{
		Token:     token,
		ClientID:  "orders-service-client",
		Scopes:    []string{"read"},
		ExpiresAt: now.Add(-time.Minute),
		CreatedAt: now.Add(-time.Hour),
	}))

	_, err := store.LookupToken(ctx, token, now)
	require.ErrorIs(t, err, oauth.ErrTokenNotFound)

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM oauth_access_tokens WHERE token = $1`, token).Scan(&count))
	require.Zero(t, count)
}
