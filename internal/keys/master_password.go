package keys

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/gk-unlock/internal/errs"
	"github.com/and161185/gk-unlock/internal/model"
	"github.com/and161185/gk-unlock/internal/sdk"
	"github.com/and161185/gk-unlock/internal/state"
)

// MasterPasswordState is everything a master-password change persists together.
type MasterPasswordState struct {
	MasterKey     model.MasterKey
	MasterKeyHash string
	Kdf           model.KdfConfig
	Unlock        model.MasterPasswordUnlockData
}

// MasterPasswordService keeps the local master-password material of a user.
type MasterPasswordService interface {
	SetMasterKey(ctx context.Context, userID uuid.UUID, mk model.MasterKey) error
	// MasterKey returns nil when the key is not in memory.
	MasterKey(ctx context.Context, userID uuid.UUID) (model.MasterKey, error)
	ClearMasterKey(ctx context.Context, userID uuid.UUID) error
	SetMasterKeyHash(ctx context.Context, userID uuid.UUID, hash string) error
	// MasterKeyHash returns "" when no hash is stored.
	MasterKeyHash(ctx context.Context, userID uuid.UUID) (string, error)
	SetKdfConfig(ctx context.Context, userID uuid.UUID, kdf model.KdfConfig) error
	KdfConfig(ctx context.Context, userID uuid.UUID) (*model.KdfConfig, error)
	SetUnlockData(ctx context.Context, userID uuid.UUID, data model.MasterPasswordUnlockData) error
	UnlockData(ctx context.Context, userID uuid.UUID) (*model.MasterPasswordUnlockData, error)
	// SetState writes key, hash, kdf and unlock data as one change.
	SetState(ctx context.Context, userID uuid.UUID, st MasterPasswordState) error
	// VerifyLocal checks password against the stored local authorization hash and
	// returns the derived master key on success.
	VerifyLocal(ctx context.Context, userID uuid.UUID, password string) (model.MasterKey, bool, error)
}

type MasterPasswordServiceImpl struct {
	state  *state.Provider
	crypto CryptoClient
	log    *zap.Logger
}

// NewMasterPasswordService constructs MasterPasswordService.
func NewMasterPasswordService(p *state.Provider, crypto CryptoClient, log *zap.Logger) *MasterPasswordServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	RegisterState(p)
	return &MasterPasswordServiceImpl{state: p, crypto: crypto, log: log}
}

func (s *MasterPasswordServiceImpl) SetMasterKey(ctx context.Context, userID uuid.UUID, mk model.MasterKey) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if len(mk) == 0 {
		return fmt.Errorf("%w: master key is required", errs.ErrInvalidArgument)
	}
	return state.Set(ctx, s.state, userID, MasterKeyKey, mk)
}

func (s *MasterPasswordServiceImpl) MasterKey(ctx context.Context, userID uuid.UUID) (model.MasterKey, error) {
	mk, _, err := state.Get[model.MasterKey](ctx, s.state, userID, MasterKeyKey)
	return mk, err
}

func (s *MasterPasswordServiceImpl) ClearMasterKey(ctx context.Context, userID uuid.UUID) error {
	return s.state.Clear(ctx, userID, MasterKeyKey)
}

func (s *MasterPasswordServiceImpl) SetMasterKeyHash(ctx context.Context, userID uuid.UUID, hash string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	return state.Set(ctx, s.state, userID, MasterKeyHashKey, hash)
}

func (s *MasterPasswordServiceImpl) MasterKeyHash(ctx context.Context, userID uuid.UUID) (string, error) {
	h, _, err := state.Get[string](ctx, s.state, userID, MasterKeyHashKey)
	return h, err
}

func (s *MasterPasswordServiceImpl) SetKdfConfig(ctx context.Context, userID uuid.UUID, kdf model.KdfConfig) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if err := kdf.Validate(); err != nil {
		return err
	}
	return state.Set(ctx, s.state, userID, KdfConfigKey, kdf)
}

func (s *MasterPasswordServiceImpl) KdfConfig(ctx context.Context, userID uuid.UUID) (*model.KdfConfig, error) {
	v, ok, err := state.Get[model.KdfConfig](ctx, s.state, userID, KdfConfigKey)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

func (s *MasterPasswordServiceImpl) SetUnlockData(ctx context.Context, userID uuid.UUID, data model.MasterPasswordUnlockData) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	return state.Set(ctx, s.state, userID, UnlockDataKey, data)
}

func (s *MasterPasswordServiceImpl) UnlockData(ctx context.Context, userID uuid.UUID) (*model.MasterPasswordUnlockData, error) {
	v, ok, err := state.Get[model.MasterPasswordUnlockData](ctx, s.state, userID, UnlockDataKey)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

func (s *MasterPasswordServiceImpl) SetState(ctx context.Context, userID uuid.UUID, st MasterPasswordState) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if len(st.MasterKey) == 0 || st.MasterKeyHash == "" {
		return fmt.Errorf("%w: master key and hash are required", errs.ErrInvalidArgument)
	}
	entries := make([]state.Entry, 0, 4)
	for _, kv := range []struct {
		def state.KeyDefinition
		v   any
	}{
		{MasterKeyKey, st.MasterKey},
		{MasterKeyHashKey, st.MasterKeyHash},
		{KdfConfigKey, st.Kdf},
		{UnlockDataKey, st.Unlock},
	} {
		e, err := state.NewEntry(kv.def, kv.v)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}
	return s.state.Update(ctx, userID, entries...)
}

func (s *MasterPasswordServiceImpl) VerifyLocal(ctx context.Context, userID uuid.UUID, password string) (model.MasterKey, bool, error) {
	if err := requireUser(userID); err != nil {
		return nil, false, err
	}
	if password == "" {
		return nil, false, fmt.Errorf("%w: master password is required", errs.ErrInvalidArgument)
	}
	unlock, err := s.UnlockData(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	stored, err := s.MasterKeyHash(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if unlock == nil || stored == "" {
		return nil, false, fmt.Errorf("no master password data for user: %w", errs.ErrNotFound)
	}
	mk, err := s.crypto.DeriveMasterKey(password, unlock.Salt, unlock.Kdf)
	if err != nil {
		return nil, false, err
	}
	hash, err := s.crypto.HashMasterKey(mk, password, sdk.HashLocalAuthorization)
	if err != nil {
		return nil, false, err
	}
	if subtle.ConstantTimeCompare([]byte(hash), []byte(stored)) != 1 {
		s.log.Info("local master password check failed", zap.String("user", userID.String()))
		return nil, false, nil
	}
	return mk, true, nil
}
