package keys

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/gk-unlock/internal/errs"
	"github.com/and161185/gk-unlock/internal/model"
	"github.com/and161185/gk-unlock/internal/sdk"
)

// ChangeKdfService rotates a user's KDF parameters.
type ChangeKdfService interface {
	// UpdateUserKdfParams re-derives authentication and unlock data with kdf, has the
	// server accept them against the current authentication hash, and only then
	// replaces the local master key and hash.
	UpdateUserKdfParams(ctx context.Context, masterPassword string, kdf *model.KdfConfig, userID uuid.UUID) error
}

type ChangeKdfServiceImpl struct {
	api    KdfAPI
	crypto CryptoClient
	master MasterPasswordService
	log    *zap.Logger
}

// NewChangeKdfService constructs ChangeKdfService.
func NewChangeKdfService(api KdfAPI, crypto CryptoClient, master MasterPasswordService, log *zap.Logger) *ChangeKdfServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChangeKdfServiceImpl{api: api, crypto: crypto, master: master, log: log}
}

func (s *ChangeKdfServiceImpl) UpdateUserKdfParams(ctx context.Context, masterPassword string, kdf *model.KdfConfig, userID uuid.UUID) error {
	if masterPassword == "" {
		return fmt.Errorf("%w: master password is required", errs.ErrInvalidArgument)
	}
	if kdf == nil {
		return fmt.Errorf("%w: kdf is required", errs.ErrInvalidArgument)
	}
	if userID == uuid.Nil {
		return fmt.Errorf("%w: userID is required", errs.ErrInvalidArgument)
	}
	if err := kdf.Validate(); err != nil {
		return err
	}

	res, err := s.crypto.MakeUpdateKdf(userID, masterPassword, *kdf)
	if err != nil {
		return fmt.Errorf("make kdf update: %w", err)
	}
	if err := s.api.PostKdf(ctx, model.NewKdfRequest(res)); err != nil {
		return fmt.Errorf("post kdf: %w", err)
	}

	// Server accepted the new parameters; local state follows.
	unlock := res.UnlockData
	mk, err := s.crypto.DeriveMasterKey(masterPassword, unlock.Salt, unlock.Kdf)
	if err != nil {
		return fmt.Errorf("derive master key: %w", err)
	}
	hash, err := s.crypto.HashMasterKey(mk, masterPassword, sdk.HashLocalAuthorization)
	if err != nil {
		return fmt.Errorf("hash master key: %w", err)
	}
	if err := s.master.SetState(ctx, userID, MasterPasswordState{
		MasterKey:     mk,
		MasterKeyHash: hash,
		Kdf:           unlock.Kdf,
		Unlock:        unlock,
	}); err != nil {
		return fmt.Errorf("store master password state: %w", err)
	}
	if err := s.crypto.SetKdf(userID, unlock.Kdf, unlock.Salt); err != nil {
		return err
	}
	s.log.Info("kdf rotated",
		zap.String("user", userID.String()),
		zap.Stringer("kdf_type", unlock.Kdf.Type),
		zap.Int("iterations", unlock.Kdf.Iterations),
	)
	return nil
}
