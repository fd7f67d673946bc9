package password_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kavindya12/soa-microservices-platform/internal/password"
)

var fastParams = password.Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

func TestHashVerify(t *testing.T) {
	h := password.NewHasher(fastParams)

	encoded, err := h.Hash("orders-service-secret")
	require.NoError(t, err)
	require.True(t, password.IsHash(encoded))

	ok, err := h.Verify("orders-service-secret", encoded)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.Verify("wrong", encoded)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	h := password.NewHasher(fastParams)

	_, err := h.Verify("secret", "plain-text")
	require.ErrorIs(t, err, password.ErrInvalidHash)
	require.False(t, password.IsHash("$argon2id$v=19$m=x$salt$sum"))
}
