package oauth

import (
	"strings"
	"time"
)

// Client is a statically registered OAuth client. SecretHash holds an argon2id hash.
type Client struct {
	ID           string
	SecretHash   string
	RedirectURIs []string
	Scopes       []string
}

// AllowsRedirect reports whether uri exactly matches a registered redirect URI.
func (c Client) AllowsRedirect(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// AllowsScopes reports whether every requested scope is permitted for the client.
func (c Client) AllowsScopes(requested []string) bool {
	for _, s := range requested {
		found := false
		for _, allowed := range c.Scopes {
			if allowed == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// AuthorizationGrant is a short-lived, single-use authorization code.
type AuthorizationGrant struct {
	Code        string
	ClientID    string
	RedirectURI string
	Scopes      []string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Expired reports whether the grant is no longer redeemable at now.
func (g AuthorizationGrant) Expired(now time.Time) bool {
	return !now.Before(g.ExpiresAt)
}

// AccessToken is an opaque bearer token issued by the token endpoint.
type AccessToken struct {
	Token     string
	ClientID  string
	Scopes    []string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the token is no longer valid at now.
func (t AccessToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// TokenResponse is returned by the token endpoint.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
	JWTToken    string `json:"jwt_token"`
}

// Introspection describes an access token's current state.
type Introspection struct {
	Active    bool   `json:"active"`
	ClientID  string `json:"client_id,omitempty"`
	Subject   string `json:"sub,omitempty"`
	Scope     string `json:"scope,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
}

// SplitScope splits a space separated scope string.
func SplitScope(scope string) []string {
	return strings.Fields(scope)
}

// JoinScope joins scopes into the space separated wire form.
func JoinScope(scopes []string) string {
	return strings.Join(scopes, " ")
}
