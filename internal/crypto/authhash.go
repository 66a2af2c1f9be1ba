// Package crypto hashes client authentication hashes for storage on the server.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

// Params are the Argon2id cost parameters for server-side hashing.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultParams: 3 passes over 64 MiB.
var DefaultParams = Params{Time: 3, Memory: 64 * 1024, Threads: 1}

const (
	keyLen  uint32 = 32
	SaltLen        = 16
)

// Hasher hashes the client's master password authentication hash before it is stored.
type Hasher struct{ p Params }

// NewHasher constructs a Hasher.
func NewHasher(p Params) *Hasher { return &Hasher{p: p} }

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// Hash hashes authHash under a fresh salt.
func (h *Hasher) Hash(authHash string) (hash, salt []byte, err error) {
	salt, err = RandBytes(SaltLen)
	if err != nil {
		return nil, nil, err
	}
	return h.hash(authHash, salt), salt, nil
}

// Verify reports whether authHash matches expected under salt.
func (h *Hasher) Verify(authHash string, salt, expected []byte) bool {
	return subtle.ConstantTimeCompare(h.hash(authHash, salt), expected) == 1
}

func (h *Hasher) hash(authHash string, salt []byte) []byte {
	return argon2.IDKey([]byte(authHash), salt, h.p.Time, h.p.Memory, h.p.Threads, keyLen)
}
