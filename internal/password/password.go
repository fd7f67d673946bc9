package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrInvalidHash is returned when an encoded hash cannot be parsed.
var ErrInvalidHash = errors.New("password: invalid hash")

// Params are the argon2id cost parameters.
type Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
	SaltLen int
}

// DefaultParams are used for client secrets loaded at startup.
var DefaultParams = Params{Time: 3, Memory: 64 * 1024, Threads: 2, KeyLen: 32, SaltLen: 16}

// Hasher hashes and verifies shared secrets with argon2id.
type Hasher struct {
	params Params
}

// NewHasher returns a Hasher using p.
func NewHasher(p Params) *Hasher {
	return &Hasher{params: p}
}

// Hash returns an argon2id hash string including parameters and salt.
func (h *Hasher) Hash(secret string) (string, error) {
	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	sum := argon2.IDKey([]byte(secret), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// Verify checks secret against the encoded hash in constant time.
func (h *Hasher) Verify(secret, encoded string) (bool, error) {
	d, err := decode(encoded)
	if err != nil {
		return false, err
	}
	actual := argon2.IDKey([]byte(secret), d.salt, d.params.Time, d.params.Memory, d.params.Threads, uint32(len(d.sum)))
	return subtle.ConstantTimeCompare(actual, d.sum) == 1, nil
}

// IsHash reports whether value looks like an encoded argon2id hash.
func IsHash(value string) bool {
	_, err := decode(value)
	return err == nil
}

type decoded struct {
	params Params
	salt   []byte
	sum    []byte
}

func decode(encoded string) (decoded, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return decoded{}, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return decoded{}, ErrInvalidHash
	}

	var d decoded
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &d.params.Memory, &d.params.Time, &d.params.Threads); err != nil {
		return decoded{}, ErrInvalidHash
	}

	var err error
	if d.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return decoded{}, ErrInvalidHash
	}
	if d.sum, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(d.sum) == 0 {
		return decoded{}, ErrInvalidHash
	}
	return d, nil
}
