package sdk

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/and161185/gk-unlock/internal/errs"
	"github.com/and161185/gk-unlock/internal/model"
)

// PIN envelope Argon2id parameters.
const (
	envelopeVersion        = 1
	envelopeSaltLen        = 16
	envelopeTime    uint32 = 3
	envelopeMemory  uint32 = 64 * 1024
	envelopeThreads uint8  = 1
)

var envelopeAAD = []byte("gk-pin-envelope-v1")

type envelope struct {
	Version int    `json:"v"`
	Salt    []byte `json:"s"`
	Time    uint32 `json:"t"`
	Memory  uint32 `json:"m"`
	Threads uint8  `json:"p"`
	Sealed  []byte `json:"c"`
}

// SealEnvelope protects key with a key derived from pin.
func SealEnvelope(key []byte, pin string) (model.PasswordProtectedKeyEnvelope, error) {
	if pin == "" {
		return "", fmt.Errorf("%w: empty pin", errs.ErrInvalidArgument)
	}
	salt, err := Rand(envelopeSaltLen)
	if err != nil {
		return "", err
	}
	env := envelope{Version: envelopeVersion, Salt: salt, Time: envelopeTime, Memory: envelopeMemory, Threads: envelopeThreads}
	aead, err := chacha20poly1305.NewX(env.kek(pin))
	if err != nil {
		return "", err
	}
	nonce, err := Rand(chacha20poly1305.NonceSizeX)
	if err != nil {
		return "", err
	}
	env.Sealed = append(nonce, aead.Seal(nil, nonce, key, envelopeAAD)...)
	b, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return model.PasswordProtectedKeyEnvelope(base64.RawURLEncoding.EncodeToString(b)), nil
}

// OpenEnvelope recovers the key sealed by SealEnvelope. A PIN that does not open the
// envelope yields errs.ErrWrongPin.
func OpenEnvelope(e model.PasswordProtectedKeyEnvelope, pin string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(string(e))
	if err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version %d", env.Version)
	}
	if len(env.Sealed) < chacha20poly1305.NonceSizeX || env.Threads == 0 || env.Memory == 0 || env.Time == 0 {
		return nil, errors.New("malformed envelope")
	}
	aead, err := chacha20poly1305.NewX(env.kek(pin))
	if err != nil {
		return nil, err
	}
	nonce := env.Sealed[:chacha20poly1305.NonceSizeX]
	key, err := aead.Open(nil, nonce, env.Sealed[chacha20poly1305.NonceSizeX:], envelopeAAD)
	if err != nil {
		return nil, errs.ErrWrongPin
	}
	return key, nil
}

func (e envelope) kek(pin string) []byte {
	return argon2.IDKey([]byte(pin), e.Salt, e.Time, e.Memory, e.Threads, KeyLen)
}
