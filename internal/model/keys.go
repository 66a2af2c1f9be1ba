package model

import (
	"fmt"
	"strings"

	"github.com/and161185/gk-unlock/internal/errs"
)

// EncString is an opaque encrypted string produced by the SDK.
type EncString string

// PasswordProtectedKeyEnvelope is an opaque container holding a user key sealed under
// a PIN-derived key.
type PasswordProtectedKeyEnvelope string

// UserKey is the symmetric key protecting the user's vault. Only ever held in memory.
type UserKey []byte

// MasterKey is derived from the master password with the user's KDF.
type MasterKey []byte

// MasterPasswordAuthenticationData proves knowledge of the master password to the server.
type MasterPasswordAuthenticationData struct {
	Kdf                              KdfConfig `json:"kdf"`
	Salt                             string    `json:"salt"`
	MasterPasswordAuthenticationHash string    `json:"masterPasswordAuthenticationHash"`
}

// MasterPasswordUnlockData lets the client recover the user key from the master password.
type MasterPasswordUnlockData struct {
	Kdf                     KdfConfig `json:"kdf"`
	Salt                    string    `json:"salt"`
	MasterKeyWrappedUserKey EncString `json:"masterKeyWrappedUserKey"`
}

// UpdateKdfResult is the SDK bundle for a KDF rotation.
type UpdateKdfResult struct {
	AuthenticationData    MasterPasswordAuthenticationData
	UnlockData            MasterPasswordUnlockData
	OldAuthenticationData MasterPasswordAuthenticationData
}

// EnrollPinResult is what the SDK returns when a PIN is configured.
type EnrollPinResult struct {
	Envelope            PasswordProtectedKeyEnvelope
	UserKeyEncryptedPin EncString
}

// PinLockType describes where the PIN envelope lives. It is derived, never stored.
type PinLockType int

const (
	PinLockTypeDisabled PinLockType = iota
	PinLockTypeEphemeral
	PinLockTypePersistent
)

func (t PinLockType) String() string {
	switch t {
	case PinLockTypeDisabled:
		return "DISABLED"
	case PinLockTypeEphemeral:
		return "EPHEMERAL"
	case PinLockTypePersistent:
		return "PERSISTENT"
	default:
		return fmt.Sprintf("PinLockType(%d)", int(t))
	}
}

// HasSlot reports whether the lock type maps to an envelope slot.
func (t PinLockType) HasSlot() bool {
	return t == PinLockTypeEphemeral || t == PinLockTypePersistent
}

// ParsePinLockType accepts the String form, case-insensitively.
func ParsePinLockType(s string) (PinLockType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DISABLED":
		return PinLockTypeDisabled, nil
	case "EPHEMERAL":
		return PinLockTypeEphemeral, nil
	case "PERSISTENT":
		return PinLockTypePersistent, nil
	}
	return 0, fmt.Errorf("%w: %q", errs.ErrUnsupportedLockType, s)
}

// LockStatus is the lifecycle state of a user's key material on this client.
type LockStatus int

const (
	LockStatusLoggedOut LockStatus = iota
	LockStatusLocked
	LockStatusUnlocked
)

func (s LockStatus) String() string {
	switch s {
	case LockStatusLoggedOut:
		return "logged out"
	case LockStatusLocked:
		return "locked"
	case LockStatusUnlocked:
		return "unlocked"
	default:
		return fmt.Sprintf("LockStatus(%d)", int(s))
	}
}
