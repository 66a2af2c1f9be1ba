// Package keys is the client key-management core: PIN lock state, master-password
// unlock data, the lock/logout lifecycle and KDF rotation. All cryptography is
// delegated to a CryptoClient; all persistence goes through state.Provider.
package keys

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/gk-unlock/internal/model"
	"github.com/and161185/gk-unlock/internal/sdk"
	"github.com/and161185/gk-unlock/internal/state"
)

// CryptoClient is the crypto SDK surface the key-management services use.
type CryptoClient interface {
	DeriveMasterKey(password, salt string, kdf model.KdfConfig) (model.MasterKey, error)
	HashMasterKey(masterKey model.MasterKey, password string, purpose sdk.HashPurpose) (string, error)
	UnwrapUserKey(masterKey model.MasterKey, wrapped model.EncString) (model.UserKey, error)

	InitializeUserCrypto(userID uuid.UUID, uc sdk.UserCrypto) error
	ClearUserCrypto(userID uuid.UUID)
	UserKey(userID uuid.UUID) (model.UserKey, error)
	SetKdf(userID uuid.UUID, kdf model.KdfConfig, salt string) error

	MakeRegistration(password, salt string, kdf model.KdfConfig) (sdk.Registration, error)
	MakeUpdateKdf(userID uuid.UUID, password string, kdf model.KdfConfig) (model.UpdateKdfResult, error)

	EnrollPin(userID uuid.UUID, pin string) (model.EnrollPinResult, error)
	EnrollPinWithEncryptedPin(userID uuid.UUID, encPin model.EncString) (model.EnrollPinResult, error)
	DecryptPin(userID uuid.UUID, encPin model.EncString) (string, error)
	UnlockWithPinEnvelope(pin string, env model.PasswordProtectedKeyEnvelope) (model.UserKey, error)
}

var _ CryptoClient = (*sdk.Client)(nil)

// KdfAPI submits KDF rotations to the account server.
type KdfAPI interface {
	PostKdf(ctx context.Context, req model.KdfRequest) error
}

// AccountsAPI is the remote account surface used by the client.
type AccountsAPI interface {
	KdfAPI
	Prelogin(ctx context.Context, username string) (model.Prelogin, error)
	Register(ctx context.Context, req model.RegisterRequest) (uuid.UUID, error)
	Login(ctx context.Context, username, authHash string) (model.LoginResult, error)
}

const (
	pinNamespace     = "pinUnlock"
	masterNamespace  = "masterPassword"
	accountNamespace = "account"
)

var (
	logoutOnly    = []state.ClearEvent{state.ClearOnLogout}
	lockAndLogout = []state.ClearEvent{state.ClearOnLock, state.ClearOnLogout}
)

// PIN state. The ephemeral envelope lives in memory and so does not survive a restart.
var (
	PinKeyEncryptedUserKeyPersistent = state.KeyDefinition{Namespace: pinNamespace, Key: "pinKeyEncryptedUserKeyPersistent", Location: state.Disk, ClearOn: logoutOnly}
	PinKeyEncryptedUserKeyEphemeral  = state.KeyDefinition{Namespace: pinNamespace, Key: "pinKeyEncryptedUserKeyEphemeral", Location: state.Memory, ClearOn: logoutOnly}
	UserKeyEncryptedPinKey           = state.KeyDefinition{Namespace: pinNamespace, Key: "userKeyEncryptedPin", Location: state.Disk, ClearOn: logoutOnly}
)

// Master password state.
var (
	MasterKeyKey     = state.KeyDefinition{Namespace: masterNamespace, Key: "masterKey", Location: state.Memory, ClearOn: lockAndLogout}
	MasterKeyHashKey = state.KeyDefinition{Namespace: masterNamespace, Key: "masterKeyHash", Location: state.Disk, ClearOn: logoutOnly}
	KdfConfigKey     = state.KeyDefinition{Namespace: masterNamespace, Key: "kdfConfig", Location: state.Disk, ClearOn: logoutOnly}
	UnlockDataKey    = state.KeyDefinition{Namespace: masterNamespace, Key: "unlockData", Location: state.Disk, ClearOn: logoutOnly}
)

// Account state. ActiveUserKey is global (read with uuid.Nil).
var (
	TokensKey     = state.KeyDefinition{Namespace: accountNamespace, Key: "tokens", Location: state.Disk, ClearOn: logoutOnly}
	ActiveUserKey = state.KeyDefinition{Namespace: accountNamespace, Key: "activeUser", Location: state.Disk}
)

// RegisterState makes every key of this package known to the provider's lifecycle
// clears. Constructors call it; calling it more than once is harmless.
func RegisterState(p *state.Provider) {
	p.Register(
		PinKeyEncryptedUserKeyPersistent, PinKeyEncryptedUserKeyEphemeral, UserKeyEncryptedPinKey,
		MasterKeyKey, MasterKeyHashKey, KdfConfigKey, UnlockDataKey,
		TokensKey, ActiveUserKey,
	)
}
