package sdk

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/gk-unlock/internal/errs"
	"github.com/and161185/gk-unlock/internal/model"
)

// UserCrypto is the per-user crypto state the SDK needs once a user is unlocked.
type UserCrypto struct {
	UserKey model.UserKey
	Kdf     model.KdfConfig
	Salt    string
}

// Registration is the key material produced for a new account.
type Registration struct {
	UserKey        model.UserKey
	MasterKey      model.MasterKey
	Authentication model.MasterPasswordAuthenticationData
	Unlock         model.MasterPasswordUnlockData
}

// Client holds unlocked user crypto state in memory and exposes the SDK operations
// that need it. It is safe for concurrent use.
type Client struct {
	mu    sync.RWMutex
	users map[uuid.UUID]UserCrypto
}

// NewClient returns an SDK client with no initialised users.
func NewClient() *Client {
	return &Client{users: map[uuid.UUID]UserCrypto{}}
}

// InitializeUserCrypto makes the user's key available to subsequent operations.
func (c *Client) InitializeUserCrypto(userID uuid.UUID, uc UserCrypto) error {
	if userID == uuid.Nil {
		return fmt.Errorf("%w: empty userID", errs.ErrInvalidArgument)
	}
	if len(uc.UserKey) != KeyLen {
		return errors.New("bad user key length")
	}
	if err := uc.Kdf.Validate(); err != nil {
		return err
	}
	uc.UserKey = append(model.UserKey(nil), uc.UserKey...)
	c.mu.Lock()
	c.users[userID] = uc
	c.mu.Unlock()
	return nil
}

// ClearUserCrypto drops the user's key from memory.
func (c *Client) ClearUserCrypto(userID uuid.UUID) {
	c.mu.Lock()
	if uc, ok := c.users[userID]; ok {
		clear(uc.UserKey)
		delete(c.users, userID)
	}
	c.mu.Unlock()
}

// UserKey returns a copy of the unlocked user key or errs.ErrLocked.
func (c *Client) UserKey(userID uuid.UUID) (model.UserKey, error) {
	uc, err := c.state(userID)
	if err != nil {
		return nil, err
	}
	return append(model.UserKey(nil), uc.UserKey...), nil
}

// SetKdf records new KDF parameters for an unlocked user.
func (c *Client) SetKdf(userID uuid.UUID, kdf model.KdfConfig, salt string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	uc, ok := c.users[userID]
	if !ok {
		return errs.ErrLocked
	}
	uc.Kdf, uc.Salt = kdf, salt
	c.users[userID] = uc
	return nil
}

func (c *Client) state(userID uuid.UUID) (UserCrypto, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	uc, ok := c.users[userID]
	if !ok {
		return UserCrypto{}, errs.ErrLocked
	}
	return uc, nil
}

// DeriveMasterKey see the package-level function.
func (c *Client) DeriveMasterKey(password, salt string, kdf model.KdfConfig) (model.MasterKey, error) {
	return DeriveMasterKey(password, salt, kdf)
}

// HashMasterKey see the package-level function.
func (c *Client) HashMasterKey(masterKey model.MasterKey, password string, purpose HashPurpose) (string, error) {
	return HashMasterKey(masterKey, password, purpose)
}

// UnwrapUserKey see the package-level function.
func (c *Client) UnwrapUserKey(masterKey model.MasterKey, wrapped model.EncString) (model.UserKey, error) {
	return UnwrapUserKey(masterKey, wrapped)
}

// MakeRegistration generates a fresh user key and the authentication/unlock data for it.
func (c *Client) MakeRegistration(password, salt string, kdf model.KdfConfig) (Registration, error) {
	userKey, err := Rand(KeyLen)
	if err != nil {
		return Registration{}, err
	}
	auth, unlock, mk, err := makeMasterPasswordData(userKey, password, salt, kdf)
	if err != nil {
		return Registration{}, err
	}
	return Registration{UserKey: userKey, MasterKey: mk, Authentication: auth, Unlock: unlock}, nil
}

// MakeUpdateKdf produces new authentication and unlock data for kdf plus the current
// authentication data that authorises the change. The user must be unlocked.
func (c *Client) MakeUpdateKdf(userID uuid.UUID, password string, kdf model.KdfConfig) (model.UpdateKdfResult, error) {
	uc, err := c.state(userID)
	if err != nil {
		return model.UpdateKdfResult{}, err
	}
	oldMK, err := DeriveMasterKey(password, uc.Salt, uc.Kdf)
	if err != nil {
		return model.UpdateKdfResult{}, fmt.Errorf("derive current master key: %w", err)
	}
	oldHash, err := HashMasterKey(oldMK, password, HashServerAuthorization)
	if err != nil {
		return model.UpdateKdfResult{}, err
	}
	auth, unlock, _, err := makeMasterPasswordData(uc.UserKey, password, uc.Salt, kdf)
	if err != nil {
		return model.UpdateKdfResult{}, err
	}
	return model.UpdateKdfResult{
		AuthenticationData: auth,
		UnlockData:         unlock,
		OldAuthenticationData: model.MasterPasswordAuthenticationData{
			Kdf:                              uc.Kdf,
			Salt:                             uc.Salt,
			MasterPasswordAuthenticationHash: oldHash,
		},
	}, nil
}

// EnrollPin seals the user key under pin and encrypts the pin under the user key.
func (c *Client) EnrollPin(userID uuid.UUID, pin string) (model.EnrollPinResult, error) {
	uc, err := c.state(userID)
	if err != nil {
		return model.EnrollPinResult{}, err
	}
	env, err := SealEnvelope(uc.UserKey, pin)
	if err != nil {
		return model.EnrollPinResult{}, err
	}
	encPin, err := EncryptString(uc.UserKey, []byte(pin))
	if err != nil {
		return model.EnrollPinResult{}, err
	}
	return model.EnrollPinResult{Envelope: env, UserKeyEncryptedPin: encPin}, nil
}

// EnrollPinWithEncryptedPin re-creates an envelope from a previously stored encrypted pin.
func (c *Client) EnrollPinWithEncryptedPin(userID uuid.UUID, encPin model.EncString) (model.EnrollPinResult, error) {
	pin, err := c.DecryptPin(userID, encPin)
	if err != nil {
		return model.EnrollPinResult{}, err
	}
	uc, err := c.state(userID)
	if err != nil {
		return model.EnrollPinResult{}, err
	}
	env, err := SealEnvelope(uc.UserKey, pin)
	if err != nil {
		return model.EnrollPinResult{}, err
	}
	return model.EnrollPinResult{Envelope: env, UserKeyEncryptedPin: encPin}, nil
}

// DecryptPin opens the user-key-encrypted pin.
func (c *Client) DecryptPin(userID uuid.UUID, encPin model.EncString) (string, error) {
	uc, err := c.state(userID)
	if err != nil {
		return "", err
	}
	pin, err := DecryptString(uc.UserKey, encPin)
	if err != nil {
		return "", fmt.Errorf("decrypt pin: %w", err)
	}
	return string(pin), nil
}

// UnlockWithPinEnvelope opens env with pin and returns the user key.
func (c *Client) UnlockWithPinEnvelope(pin string, env model.PasswordProtectedKeyEnvelope) (model.UserKey, error) {
	key, err := OpenEnvelope(env, pin)
	if err != nil {
		return nil, err
	}
	if len(key) != KeyLen {
		return nil, errors.New("bad user key length in envelope")
	}
	return model.UserKey(key), nil
}

func makeMasterPasswordData(userKey model.UserKey, password, salt string, kdf model.KdfConfig) (model.MasterPasswordAuthenticationData, model.MasterPasswordUnlockData, model.MasterKey, error) {
	mk, err := DeriveMasterKey(password, salt, kdf)
	if err != nil {
		return model.MasterPasswordAuthenticationData{}, model.MasterPasswordUnlockData{}, nil, err
	}
	hash, err := HashMasterKey(mk, password, HashServerAuthorization)
	if err != nil {
		return model.MasterPasswordAuthenticationData{}, model.MasterPasswordUnlockData{}, nil, err
	}
	wrapped, err := WrapUserKey(mk, userKey)
	if err != nil {
		return model.MasterPasswordAuthenticationData{}, model.MasterPasswordUnlockData{}, nil, err
	}
	return model.MasterPasswordAuthenticationData{Kdf: kdf, Salt: salt, MasterPasswordAuthenticationHash: hash},
		model.MasterPasswordUnlockData{Kdf: kdf, Salt: salt, MasterKeyWrappedUserKey: wrapped},
		mk, nil
}
