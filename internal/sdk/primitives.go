// Package sdk is the client-side crypto SDK: key derivation, master-key hashing,
// user-key wrapping, encrypted strings and PIN-protected key envelopes.
package sdk

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	"github.com/and161185/gk-unlock/internal/model"
)

// KeyLen is the length of every symmetric key handled by the SDK.
const KeyLen = 32

// encStringPrefix tags XChaCha20-Poly1305 EncStrings.
const encStringPrefix = "7."

// HashPurpose selects how many PBKDF2 rounds HashMasterKey applies.
type HashPurpose int

const (
	// HashServerAuthorization produces the hash sent to the server.
	HashServerAuthorization HashPurpose = 1
	// HashLocalAuthorization produces the hash kept on disk for offline unlock checks.
	HashLocalAuthorization HashPurpose = 2
)

// Rand returns n cryptographically secure random bytes.
func Rand(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// DeriveMasterKey derives the master key from password and salt with the given KDF.
// Argon2id receives SHA-256(salt) so that short salts (usernames) are accepted.
func DeriveMasterKey(password, salt string, kdf model.KdfConfig) (model.MasterKey, error) {
	if err := kdf.Validate(); err != nil {
		return nil, err
	}
	if salt == "" {
		return nil, errors.New("empty salt")
	}
	switch kdf.Type {
	case model.KdfTypePBKDF2SHA256:
		return pbkdf2.Key([]byte(password), []byte(salt), kdf.Iterations, KeyLen, sha256.New), nil
	case model.KdfTypeArgon2id:
		s := sha256.Sum256([]byte(salt))
		return argon2.IDKey([]byte(password), s[:], uint32(kdf.Iterations), uint32(kdf.Memory)*1024, uint8(kdf.Parallelism), KeyLen), nil
	}
	return nil, fmt.Errorf("unsupported kdf %s", kdf.Type)
}

// HashMasterKey returns base64(PBKDF2-SHA256(masterKey, password, purpose rounds)).
func HashMasterKey(masterKey model.MasterKey, password string, purpose HashPurpose) (string, error) {
	if len(masterKey) != KeyLen {
		return "", errors.New("bad master key length")
	}
	if purpose != HashServerAuthorization && purpose != HashLocalAuthorization {
		return "", fmt.Errorf("unknown hash purpose %d", int(purpose))
	}
	h := pbkdf2.Key(masterKey, []byte(password), int(purpose), KeyLen, sha256.New)
	return base64.StdEncoding.EncodeToString(h), nil
}

// StretchKey expands a master key into an encryption key via HKDF-SHA256.
func StretchKey(masterKey model.MasterKey) ([]byte, error) {
	r := hkdf.Expand(sha256.New, masterKey, []byte("enc"))
	key := make([]byte, KeyLen)
	_, err := r.Read(key)
	return key, err
}

// EncryptString seals plaintext with key using XChaCha20-Poly1305 and a random nonce.
func EncryptString(key, plaintext []byte) (model.EncString, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	nonce, err := Rand(chacha20poly1305.NonceSizeX)
	if err != nil {
		return "", err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plaintext, nil)...)
	return model.EncString(encStringPrefix + base64.StdEncoding.EncodeToString(out)), nil
}

// DecryptString opens an EncString produced by EncryptString.
func DecryptString(key []byte, s model.EncString) ([]byte, error) {
	raw, ok := strings.CutPrefix(string(s), encStringPrefix)
	if !ok {
		return nil, errors.New("unsupported enc string type")
	}
	blob, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode enc string: %w", err)
	}
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("enc string too short")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:], nil)
}

// WrapUserKey encrypts the user key under the stretched master key.
func WrapUserKey(masterKey model.MasterKey, userKey model.UserKey) (model.EncString, error) {
	kek, err := StretchKey(masterKey)
	if err != nil {
		return "", err
	}
	return EncryptString(kek, userKey)
}

// UnwrapUserKey reverses WrapUserKey.
func UnwrapUserKey(masterKey model.MasterKey, wrapped model.EncString) (model.UserKey, error) {
	kek, err := StretchKey(masterKey)
	if err != nil {
		return nil, err
	}
	k, err := DecryptString(kek, wrapped)
	if err != nil {
		return nil, err
	}
	return model.UserKey(k), nil
}
