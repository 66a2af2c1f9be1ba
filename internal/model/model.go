// Package model defines domain entities used by services, repositories and transports.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Tokens collects issued access/refresh tokens (refresh optional).
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // access token expiry (for diagnostics)
}

// User represents an account stored on the server. The master password never reaches it;
// only a hash of the client's authentication hash is kept.
type User struct {
	ID             uuid.UUID // PK
	Username       string    // unique
	Salt           string    // KDF salt shared by authentication and unlock data
	Kdf            KdfConfig // current KDF parameters
	PwdHash        []byte    // Argon2id(authentication hash, SaltAuth)
	SaltAuth       []byte    // per-user server-side hashing salt
	WrappedUserKey EncString // master-key-wrapped user key (unlock data)
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// KdfUpdate is the server-side change applied by a successful KDF rotation.
type KdfUpdate struct {
	Kdf            KdfConfig
	PwdHash        []byte
	SaltAuth       []byte
	WrappedUserKey EncString
}

// Prelogin is what an anonymous client learns before deriving its master key.
type Prelogin struct {
	Kdf  KdfConfig
	Salt string
}

// RegisterRequest carries client-produced key material for a new account.
type RegisterRequest struct {
	Username       string
	Authentication MasterPasswordAuthenticationData
	Unlock         MasterPasswordUnlockData
}

// LoginResult is the server's answer to a successful login.
type LoginResult struct {
	Tokens Tokens
	UserID uuid.UUID
	Unlock MasterPasswordUnlockData
}

// KdfRequest asks the server to rotate KDF parameters. It carries the new material
// and is authorised by the hash derived with the old parameters.
type KdfRequest struct {
	OldAuthenticationHash string
	Authentication        MasterPasswordAuthenticationData
	Unlock                MasterPasswordUnlockData
}

// NewKdfRequest builds the wire request from an SDK update bundle.
func NewKdfRequest(r UpdateKdfResult) KdfRequest {
	return KdfRequest{
		OldAuthenticationHash: r.OldAuthenticationData.MasterPasswordAuthenticationHash,
		Authentication:        r.AuthenticationData,
		Unlock:                r.UnlockData,
	}
}
