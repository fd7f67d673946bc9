package jwt

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-jose/go-jose/v4"
)

// ErrUnknownKey is returned when a token names a key id outside the verification set.
var ErrUnknownKey = errors.New("jwt: unknown key id")

// SigningKey is a symmetric key identified by kid.
type SigningKey struct {
	KID       string
	Secret    []byte
	Algorithm string
}

// KeyManager holds the active signing key and the keys still accepted for verification.
type KeyManager struct {
	active SigningKey
	set    jose.JSONWebKeySet
}

// NewKeyManager builds a KeyManager from the active key and previously active keys (kid -> secret).
func NewKeyManager(activeKID string, activeSecret []byte, previous map[string]string) (*KeyManager, error) {
	if activeKID == "" {
		return nil, fmt.Errorf("active key id is required")
	}
	if len(activeSecret) == 0 {
		return nil, fmt.Errorf("active key secret is required")
	}

	active := SigningKey{KID: activeKID, Secret: activeSecret, Algorithm: string(jose.HS256)}
	m := &KeyManager{active: active}
	m.set.Keys = append(m.set.Keys, m.JSONWebKey(active))

	kids := make([]string, 0, len(previous))
	for kid := range previous {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	for _, kid := range kids {
		if kid == activeKID {
			return nil, fmt.Errorf("previous key %q collides with the active key id", kid)
		}
		m.set.Keys = append(m.set.Keys, m.JSONWebKey(SigningKey{
			KID:       kid,
			Secret:    []byte(previous[kid]),
			Algorithm: string(jose.HS256),
		}))
	}
	return m, nil
}

// SigningKey returns the key new tokens are signed with.
func (m *KeyManager) SigningKey() SigningKey {
	return m.active
}

// VerificationKey selects the key for kid. An empty kid resolves to the active key.
func (m *KeyManager) VerificationKey(kid string) (SigningKey, error) {
	if kid == "" {
		return m.active, nil
	}
	keys := m.set.Key(kid)
	if len(keys) == 0 {
		return SigningKey{}, fmt.Errorf("kid %q: %w", kid, ErrUnknownKey)
	}
	secret, ok := keys[0].Key.([]byte)
	if !ok {
		return SigningKey{}, fmt.Errorf("kid %q: %w", kid, ErrUnknownKey)
	}
	return SigningKey{KID: kid, Secret: secret, Algorithm: keys[0].Algorithm}, nil
}

// KeyIDs lists every key id accepted for verification, active first.
func (m *KeyManager) KeyIDs() []string {
	out := make([]string, 0, len(m.set.Keys))
	for _, k := range m.set.Keys {
		out = append(out, k.KeyID)
	}
	return out
}

// JSONWebKey converts the key to jose.JSONWebKey.
func (m *KeyManager) JSONWebKey(key SigningKey) jose.JSONWebKey {
	return jose.JSONWebKey{
		KeyID:     key.KID,
		Use:       "sig",
		Algorithm: key.Algorithm,
		Key:       key.Secret,
	}
}
