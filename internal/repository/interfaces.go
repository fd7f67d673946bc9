package repository

import (
	"context"
	"time"

	"github.com/kavindya12/soa-microservices-platform/internal/domain/oauth"
)

// ClientRegistry exposes the statically registered OAuth clients.
type ClientRegistry interface {
	GetClient(ctx context.Context, clientID string) (oauth.Client, error)
	ListClientIDs(ctx context.Context) []string
}

// GrantStore persists single-use authorization codes.
type GrantStore interface {
	SaveGrant(ctx context.Context, grant oauth.AuthorizationGrant) error
	// TakeGrant removes and returns the grant in one step. Expired grants are returned too
	// so the caller can reject them; either way the code is gone afterwards.
	TakeGrant(ctx context.Context, code string) (oauth.AuthorizationGrant, error)
	PurgeExpiredGrants(ctx context.Context, now time.Time) (int, error)
}

// AccessTokenStore persists opaque access tokens.
type AccessTokenStore interface {
	SaveToken(ctx context.Context, token oauth.AccessToken) error
	// LookupToken returns oauth.ErrTokenNotFound for unknown tokens and purges expired ones.
	LookupToken(ctx context.Context, token string, now time.Time) (oauth.AccessToken, error)
	PurgeExpiredTokens(ctx context.Context, now time.Time) (int, error)
}
