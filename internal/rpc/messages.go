package rpc

import (
	"time"

	"github.com/and161185/gk-unlock/internal/model"
)

// Messages are shared by the gRPC and REST transports.

type PreloginRequest struct {
	Username string `json:"username"`
}

type PreloginResponse struct {
	Kdf  model.KdfConfig `json:"kdf"`
	Salt string          `json:"salt"`
}

type RegisterRequest struct {
	Username       string                                 `json:"username"`
	Authentication model.MasterPasswordAuthenticationData `json:"authentication"`
	Unlock         model.MasterPasswordUnlockData         `json:"unlock"`
}

type RegisterResponse struct {
	UserID string `json:"userId"`
}

type LoginRequest struct {
	Username string `json:"username"`
	// MasterPasswordHash is the server authorization hash, never the password.
	MasterPasswordHash string `json:"masterPasswordHash"`
}

type LoginResponse struct {
	AccessToken string                         `json:"accessToken"`
	ExpiresAt   time.Time                      `json:"expiresAt"`
	UserID      string                         `json:"userId"`
	Unlock      model.MasterPasswordUnlockData `json:"unlock"`
}

type KdfRequest struct {
	OldMasterPasswordHash string                                 `json:"oldMasterPasswordHash"`
	Authentication        model.MasterPasswordAuthenticationData `json:"authenticationData"`
	Unlock                model.MasterPasswordUnlockData         `json:"unlockData"`
}

type Empty struct{}

// ErrorResponse is the REST error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
