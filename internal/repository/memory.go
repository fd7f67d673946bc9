package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kavindya12/soa-microservices-platform/internal/config"
	"github.com/kavindya12/soa-microservices-platform/internal/domain/oauth"
	"github.com/kavindya12/soa-microservices-platform/internal/password"
)

// Compile-time interface assertions.
var (
	_ ClientRegistry   = (*StaticClientRegistry)(nil)
	_ GrantStore       = (*MemoryGrantStore)(nil)
	_ AccessTokenStore = (*MemoryTokenStore)(nil)
)

// StaticClientRegistry is an immutable registry built at startup.
type StaticClientRegistry struct {
	clients map[string]oauth.Client
	ids     []string
}

// NewStaticClientRegistry hashes plaintext secrets and indexes clients by id.
func NewStaticClientRegistry(clients []config.ClientConfig, hasher *password.Hasher) (*StaticClientRegistry, error) {
	r := &StaticClientRegistry{clients: make(map[string]oauth.Client, len(clients))}
	for _, c := range clients {
		if _, dup := r.clients[c.ID]; dup {
			return nil, fmt.Errorf("client %q registered twice", c.ID)
		}
		hash := c.SecretHash
		if hash == "" {
			var err error
			hash, err = hasher.Hash(c.Secret)
			if err != nil {
				return nil, fmt.Errorf("hash secret for %q: %w", c.ID, err)
			}
		} else if !password.IsHash(hash) {
			return nil, fmt.Errorf("client %q: %w", c.ID, password.ErrInvalidHash)
		}
		r.clients[c.ID] = oauth.Client{
			ID:           c.ID,
			SecretHash:   hash,
			RedirectURIs: append([]string{}, c.RedirectURIs...),
			Scopes:       append([]string{}, c.Scopes...),
		}
		r.ids = append(r.ids, c.ID)
	}
	sort.Strings(r.ids)
	return r, nil
}

func (r *StaticClientRegistry) GetClient(ctx context.Context, clientID string) (oauth.Client, error) {
	c, ok := r.clients[clientID]
	if !ok {
		return oauth.Client{}, fmt.Errorf("client %q: %w", clientID, oauth.ErrClientNotFound)
	}
	return c, nil
}

func (r *StaticClientRegistry) ListClientIDs(ctx context.Context) []string {
	return append([]string{}, r.ids...)
}

// MemoryGrantStore keeps authorization codes in process memory.
type MemoryGrantStore struct {
	mu     sync.Mutex
	grants map[string]oauth.AuthorizationGrant
}

func NewMemoryGrantStore() *MemoryGrantStore {
	return &MemoryGrantStore{grants: make(map[string]oauth.AuthorizationGrant)}
}

func (s *MemoryGrantStore) SaveGrant(ctx context.Context, grant oauth.AuthorizationGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[grant.Code] = grant
	return nil
}

func (s *MemoryGrantStore) TakeGrant(ctx context.Context, code string) (oauth.AuthorizationGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grant, ok := s.grants[code]
	if !ok {
		return oauth.AuthorizationGrant{}, oauth.ErrGrantNotFound
	}
	delete(s.grants, code)
	return grant, nil
}

func (s *MemoryGrantStore) PurgeExpiredGrants(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for code, grant := range s.grants {
		if grant.Expired(now) {
			delete(s.grants, code)
			purged++
		}
	}
	return purged, nil
}

// Len reports the number of stored grants.
func (s *MemoryGrantStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.grants)
}

// MemoryTokenStore keeps opaque access tokens in process memory.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]oauth.AccessToken
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]oauth.AccessToken)}
}

func (s *MemoryTokenStore) SaveToken(ctx context.Context, token oauth.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.Token] = token
	return nil
}

func (s *MemoryTokenStore) LookupToken(ctx context.Context, token string, now time.Time) (oauth.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.tokens[token]
	if !ok {
		return oauth.AccessToken{}, oauth.ErrTokenNotFound
	}
	if stored.Expired(now) {
		delete(s.tokens, token)
		return oauth.AccessToken{}, oauth.ErrTokenNotFound
	}
	return stored, nil
}

func (s *MemoryTokenStore) PurgeExpiredTokens(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for key, token := range s.tokens {
		if token.Expired(now) {
			delete(s.tokens, key)
			purged++
		}
	}
	return purged, nil
}

// Len reports the number of stored tokens.
func (s *MemoryTokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}
