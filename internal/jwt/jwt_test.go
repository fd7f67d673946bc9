package jwt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
)

const (
	testSecret    = "0123456789abcdef0123456789abcdef"
	otherSecret   = "fedcba9876543210fedcba9876543210"
	retiredSecret = "retired-retired-retired-retired-"
)

func newTestGenerator(t *testing.T, kid, secret string, previous map[string]string) *Generator {
	t.Helper()
	manager, err := NewKeyManager(kid, []byte(secret), previous)
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewGenerator(manager, "orchestrator-service", time.Hour, node)
}

func TestGeneratorRoundTrip(t *testing.T) {
	generator := newTestGenerator(t, "primary", testSecret, nil)

	token, err := generator.Sign(context.Background(), "orders-service-client", Claims{Scope: "read write", Email: "orders@internal", Type: "client"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	std, custom, err := generator.Verify(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "orders-service-client", std.Subject)
	require.Equal(t, "orchestrator-service", std.Issuer)
	require.NotEmpty(t, std.ID)
	require.Equal(t, "read write", custom.Scope)
	require.Equal(t, "client", custom.Type)
}

func TestVerifyRejectsDifferentKey(t *testing.T) {
	signer := newTestGenerator(t, "primary", otherSecret, nil)
	verifier := newTestGenerator(t, "primary", testSecret, nil)

	token, err := signer.Sign(context.Background(), "svc", Claims{Scope: "read", Type: "service"})
	require.NoError(t, err)

	_, _, err = verifier.Verify(context.Background(), token)
	require.Error(t, err)
}

func TestVerifyRejectsTamperedScope(t *testing.T) {
	generator := newTestGenerator(t, "primary", testSecret, nil)

	token, err := generator.Sign(context.Background(), "svc", Claims{Scope: "read", Type: "service"})
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)

	var claims map[string]any
	require.NoError(t, json.Unmarshal(payload, &claims))
	claims["scope"] = "read write admin"
	tampered, err := json.Marshal(claims)
	require.NoError(t, err)
	parts[1] = base64.RawURLEncoding.EncodeToString(tampered)

	_, _, err = generator.Verify(context.Background(), strings.Join(parts, "."))
	require.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	generator := newTestGenerator(t, "primary", testSecret, nil)
	issued := time.Now().Add(-2 * time.Hour)
	generator.now = func() time.Time { return issued }

	token, err := generator.Sign(context.Background(), "svc", Claims{Scope: "read"})
	require.NoError(t, err)

	generator.now = time.Now
	_, _, err = generator.Verify(context.Background(), token)
	require.Error(t, err)
}

func TestVerifyAcceptsPreviousKeyAfterRotation(t *testing.T) {
	old := newTestGenerator(t, "2024", retiredSecret, nil)
	token, err := old.Sign(context.Background(), "svc", Claims{Scope: "read"})
	require.NoError(t, err)

	rotated := newTestGenerator(t, "2025", testSecret, map[string]string{"2024": retiredSecret})
	_, custom, err := rotated.Verify(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "read", custom.Scope)

	dropped := newTestGenerator(t, "2025", testSecret, nil)
	_, _, err = dropped.Verify(context.Background(), token)
	require.ErrorIs(t, err, ErrUnknownKey)
}

func TestNewKeyManagerRejectsCollidingKid(t *testing.T) {
	_, err := NewKeyManager("primary", []byte(testSecret), map[string]string{"primary": otherSecret})
	require.Error(t, err)
}
