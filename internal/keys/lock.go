package keys

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/gk-unlock/internal/errs"
	"github.com/and161185/gk-unlock/internal/model"
	"github.com/and161185/gk-unlock/internal/observable"
	"github.com/and161185/gk-unlock/internal/sdk"
	"github.com/and161185/gk-unlock/internal/state"
)

// LockService drives the lock/unlock/logout lifecycle of a user.
type LockService interface {
	UnlockWithMasterPassword(ctx context.Context, userID uuid.UUID, password string) error
	UnlockWithPin(ctx context.Context, userID uuid.UUID, pin string) error
	Lock(ctx context.Context, userID uuid.UUID) error
	Logout(ctx context.Context, userID uuid.UUID) error
	Status(ctx context.Context, userID uuid.UUID) (model.LockStatus, error)
	WatchStatus(ctx context.Context, userID uuid.UUID) (<-chan model.LockStatus, error)
}

type LockServiceImpl struct {
	state  *state.Provider
	crypto CryptoClient
	master MasterPasswordService
	pin    PinService
	log    *zap.Logger

	mu     sync.Mutex
	status map[uuid.UUID]*observable.Subject[model.LockStatus]
}

// NewLockService constructs LockService.
func NewLockService(p *state.Provider, crypto CryptoClient, master MasterPasswordService, pin PinService, log *zap.Logger) *LockServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	RegisterState(p)
	return &LockServiceImpl{
		state:  p,
		crypto: crypto,
		master: master,
		pin:    pin,
		log:    log,
		status: map[uuid.UUID]*observable.Subject[model.LockStatus]{},
	}
}

func (s *LockServiceImpl) UnlockWithMasterPassword(ctx context.Context, userID uuid.UUID, password string) error {
	mk, ok, err := s.master.VerifyLocal(ctx, userID, password)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrWrongPassword
	}
	unlock, err := s.master.UnlockData(ctx, userID)
	if err != nil {
		return err
	}
	if unlock == nil {
		return fmt.Errorf("unlock data: %w", errs.ErrNotFound)
	}
	userKey, err := s.crypto.UnwrapUserKey(mk, unlock.MasterKeyWrappedUserKey)
	if err != nil {
		return fmt.Errorf("unwrap user key: %w", err)
	}
	return s.unlocked(ctx, userID, mk, userKey, *unlock)
}

// unlocked installs the user key, keeps the master key in memory and restores the
// ephemeral PIN envelope.
func (s *LockServiceImpl) unlocked(ctx context.Context, userID uuid.UUID, mk model.MasterKey, userKey model.UserKey, unlock model.MasterPasswordUnlockData) error {
	if err := s.crypto.InitializeUserCrypto(userID, sdk.UserCrypto{UserKey: userKey, Kdf: unlock.Kdf, Salt: unlock.Salt}); err != nil {
		return fmt.Errorf("initialize user crypto: %w", err)
	}
	if err := s.master.SetMasterKey(ctx, userID, mk); err != nil {
		s.crypto.ClearUserCrypto(userID)
		return err
	}
	if err := s.pin.UserUnlocked(ctx, userID); err != nil {
		s.log.Warn("restore ephemeral pin failed", zap.String("user", userID.String()), zap.Error(err))
	}
	s.publish(userID, model.LockStatusUnlocked)
	s.log.Info("unlocked", zap.String("user", userID.String()), zap.String("method", "master_password"))
	return nil
}

func (s *LockServiceImpl) UnlockWithPin(ctx context.Context, userID uuid.UUID, pin string) error {
	unlock, err := s.master.UnlockData(ctx, userID)
	if err != nil {
		return err
	}
	if unlock == nil {
		return fmt.Errorf("unlock data: %w", errs.ErrNotFound)
	}
	userKey, err := s.pin.UnlockWithPin(ctx, userID, pin)
	if err != nil {
		return err
	}
	if err := s.crypto.InitializeUserCrypto(userID, sdk.UserCrypto{UserKey: userKey, Kdf: unlock.Kdf, Salt: unlock.Salt}); err != nil {
		return fmt.Errorf("initialize user crypto: %w", err)
	}
	s.publish(userID, model.LockStatusUnlocked)
	s.log.Info("unlocked", zap.String("user", userID.String()), zap.String("method", "pin"))
	return nil
}

// Lock drops key material held for the session. The ephemeral PIN envelope survives.
func (s *LockServiceImpl) Lock(ctx context.Context, userID uuid.UUID) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	s.crypto.ClearUserCrypto(userID)
	if err := s.state.ClearOn(ctx, userID, state.ClearOnLock); err != nil {
		return fmt.Errorf("clear on lock: %w", err)
	}
	s.publish(userID, model.LockStatusLocked)
	s.log.Info("locked", zap.String("user", userID.String()))
	return nil
}

func (s *LockServiceImpl) Logout(ctx context.Context, userID uuid.UUID) error {
	if err := s.Lock(ctx, userID); err != nil {
		return err
	}
	if err := s.state.ClearOn(ctx, userID, state.ClearOnLogout); err != nil {
		return fmt.Errorf("clear on logout: %w", err)
	}
	s.publish(userID, model.LockStatusLoggedOut)
	s.log.Info("logged out", zap.String("user", userID.String()))
	return nil
}

func (s *LockServiceImpl) Status(ctx context.Context, userID uuid.UUID) (model.LockStatus, error) {
	if err := requireUser(userID); err != nil {
		return model.LockStatusLoggedOut, err
	}
	if _, err := s.crypto.UserKey(userID); err == nil {
		return model.LockStatusUnlocked, nil
	} else if !errors.Is(err, errs.ErrLocked) {
		return model.LockStatusLoggedOut, err
	}
	unlock, err := s.master.UnlockData(ctx, userID)
	if err != nil {
		return model.LockStatusLoggedOut, err
	}
	if unlock == nil {
		return model.LockStatusLoggedOut, nil
	}
	return model.LockStatusLocked, nil
}

func (s *LockServiceImpl) WatchStatus(ctx context.Context, userID uuid.UUID) (<-chan model.LockStatus, error) {
	st, err := s.Status(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	subj, ok := s.status[userID]
	if !ok {
		subj = observable.NewSubject[model.LockStatus]()
		s.status[userID] = subj
	}
	if _, has := subj.Value(); !has {
		subj.Next(st)
	}
	s.mu.Unlock()
	return subj.Subscribe(ctx), nil
}

func (s *LockServiceImpl) publish(userID uuid.UUID, st model.LockStatus) {
	s.mu.Lock()
	subj, ok := s.status[userID]
	if !ok {
		subj = observable.NewSubject[model.LockStatus]()
		s.status[userID] = subj
	}
	s.mu.Unlock()
	subj.Next(st)
}
