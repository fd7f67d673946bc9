package jwt

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
)

// Generator is responsible for signing and validating JWTs.
type Generator struct {
	keys   *KeyManager
	issuer string
	ttl    time.Duration
	ids    *snowflake.Node
	now    func() time.Time
}

// NewGenerator constructs a JWT generator.
func NewGenerator(manager *KeyManager, issuer string, ttl time.Duration, ids *snowflake.Node) *Generator {
	return &Generator{keys: manager, issuer: issuer, ttl: ttl, ids: ids, now: time.Now}
}

// Claims represent the custom JWT payload.
type Claims struct {
	Scope string `json:"scope"`
	Email string `json:"email"`
	Type  string `json:"type"`
}

// TTL returns the lifetime of issued tokens.
func (g *Generator) TTL() time.Duration {
	return g.ttl
}

// Sign produces a signed JWT for subject.
func (g *Generator) Sign(ctx context.Context, subject string, claims Claims) (string, error) {
	key := g.keys.SigningKey()

	signer, err := gojose.NewSigner(gojose.SigningKey{Algorithm: gojose.SignatureAlgorithm(key.Algorithm), Key: key.Secret}, (&gojose.SignerOptions{}).WithType("JWT").WithHeader("kid", key.KID))
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	now := g.now().UTC()
	stdClaims := gojwt.Claims{
		ID:        g.ids.Generate().String(),
		Subject:   subject,
		Issuer:    g.issuer,
		IssuedAt:  gojwt.NewNumericDate(now),
		Expiry:    gojwt.NewNumericDate(now.Add(g.ttl)),
		NotBefore: gojwt.NewNumericDate(now),
	}

	token, err := gojwt.Signed(signer).Claims(stdClaims).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize jwt: %w", err)
	}

	return token, nil
}

// Verify checks signature, algorithm and validity window and returns the claims.
func (g *Generator) Verify(ctx context.Context, token string) (*gojwt.Claims, *Claims, error) {
	allowedAlgorithms := []gojose.SignatureAlgorithm{gojose.HS256}
	parsed, err := gojwt.ParseSigned(token, allowedAlgorithms)
	if err != nil {
		return nil, nil, fmt.Errorf("parse token: %w", err)
	}

	var kid string
	if len(parsed.Headers) > 0 {
		kid = parsed.Headers[0].KeyID
	}
	key, err := g.keys.VerificationKey(kid)
	if err != nil {
		return nil, nil, fmt.Errorf("select key: %w", err)
	}

	var std gojwt.Claims
	var custom Claims
	if err := parsed.Claims(key.Secret, &std, &custom); err != nil {
		return nil, nil, fmt.Errorf("verify token: %w", err)
	}

	if err := std.ValidateWithLeeway(gojwt.Expected{Issuer: g.issuer, Time: g.now()}, 0); err != nil {
		return nil, nil, fmt.Errorf("validate claims: %w", err)
	}

	return &std, &custom, nil
}
