package keys

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/gk-unlock/internal/errs"
	"github.com/and161185/gk-unlock/internal/model"
)

// PinService configures PIN unlock and unlocks with a PIN.
type PinService interface {
	// SetPin enrolls pin for an unlocked user in the lockType slot and empties the other slot.
	SetPin(ctx context.Context, userID uuid.UUID, pin string, lockType model.PinLockType) error
	// UnsetPin removes all PIN state.
	UnsetPin(ctx context.Context, userID uuid.UUID) error
	IsPinSet(ctx context.Context, userID uuid.UUID) (bool, error)
	// IsPinDecryptionAvailable reports whether an envelope is present to unlock with.
	IsPinDecryptionAvailable(ctx context.Context, userID uuid.UUID) (bool, error)
	// UnlockWithPin opens the active envelope and returns the user key.
	UnlockWithPin(ctx context.Context, userID uuid.UUID, pin string) (model.UserKey, error)
	// UserUnlocked restores the ephemeral envelope after a master-password unlock.
	UserUnlocked(ctx context.Context, userID uuid.UUID) error
	// GetPin decrypts the stored PIN with the unlocked user key.
	GetPin(ctx context.Context, userID uuid.UUID) (string, error)
}

type PinServiceImpl struct {
	pins   PinStateService
	crypto CryptoClient
	log    *zap.Logger
}

// NewPinService constructs PinService.
func NewPinService(pins PinStateService, crypto CryptoClient, log *zap.Logger) *PinServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &PinServiceImpl{pins: pins, crypto: crypto, log: log}
}

func (s *PinServiceImpl) SetPin(ctx context.Context, userID uuid.UUID, pin string, lockType model.PinLockType) error {
	if !lockType.HasSlot() {
		return fmt.Errorf("%w: %s", errs.ErrUnsupportedLockType, lockType)
	}
	if err := requireUser(userID); err != nil {
		return err
	}
	if pin == "" {
		return fmt.Errorf("%w: pin is required", errs.ErrInvalidArgument)
	}
	res, err := s.crypto.EnrollPin(userID, pin)
	if err != nil {
		return fmt.Errorf("enroll pin: %w", err)
	}
	if err := s.pins.SetPinState(ctx, userID, res.Envelope, res.UserKeyEncryptedPin, lockType); err != nil {
		return err
	}
	other := model.PinLockTypeEphemeral
	if lockType == model.PinLockTypeEphemeral {
		other = model.PinLockTypePersistent
	}
	if err := s.pins.ClearPinSlot(ctx, userID, other); err != nil {
		return fmt.Errorf("clear %s pin slot: %w", other, err)
	}
	s.log.Info("pin set", zap.String("user", userID.String()), zap.Stringer("lock_type", lockType))
	return nil
}

func (s *PinServiceImpl) UnsetPin(ctx context.Context, userID uuid.UUID) error {
	return s.pins.ClearPinState(ctx, userID)
}

func (s *PinServiceImpl) IsPinSet(ctx context.Context, userID uuid.UUID) (bool, error) {
	enc, err := s.pins.UserKeyEncryptedPin(ctx, userID)
	if err != nil {
		return false, err
	}
	return enc != nil, nil
}

func (s *PinServiceImpl) IsPinDecryptionAvailable(ctx context.Context, userID uuid.UUID) (bool, error) {
	lt, err := s.pins.PinLockType(ctx, userID)
	if err != nil {
		return false, err
	}
	switch lt {
	case model.PinLockTypePersistent:
		return true, nil
	case model.PinLockTypeEphemeral:
		env, err := s.pins.PinProtectedUserKeyEnvelope(ctx, userID, lt)
		if err != nil {
			return false, err
		}
		return env != nil, nil
	default:
		return false, nil
	}
}

func (s *PinServiceImpl) UnlockWithPin(ctx context.Context, userID uuid.UUID, pin string) (model.UserKey, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if pin == "" {
		return nil, fmt.Errorf("%w: pin is required", errs.ErrInvalidArgument)
	}
	lt, err := s.pins.PinLockType(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !lt.HasSlot() {
		return nil, errs.ErrPinUnavailable
	}
	env, err := s.pins.PinProtectedUserKeyEnvelope(ctx, userID, lt)
	if err != nil {
		return nil, err
	}
	if env == nil {
		return nil, errs.ErrPinUnavailable
	}
	key, err := s.crypto.UnlockWithPinEnvelope(pin, *env)
	if err != nil {
		if errors.Is(err, errs.ErrWrongPin) {
			s.log.Info("pin unlock failed", zap.String("user", userID.String()))
			return nil, err
		}
		return nil, fmt.Errorf("open pin envelope: %w", err)
	}
	return key, nil
}

func (s *PinServiceImpl) UserUnlocked(ctx context.Context, userID uuid.UUID) error {
	lt, err := s.pins.PinLockType(ctx, userID)
	if err != nil {
		return err
	}
	if lt != model.PinLockTypeEphemeral {
		return nil
	}
	env, err := s.pins.PinProtectedUserKeyEnvelope(ctx, userID, lt)
	if err != nil || env != nil {
		return err
	}
	encPin, err := s.pins.UserKeyEncryptedPin(ctx, userID)
	if err != nil || encPin == nil {
		return err
	}
	res, err := s.crypto.EnrollPinWithEncryptedPin(userID, *encPin)
	if err != nil {
		return fmt.Errorf("re-enroll ephemeral pin: %w", err)
	}
	if err := s.pins.SetPinState(ctx, userID, res.Envelope, res.UserKeyEncryptedPin, model.PinLockTypeEphemeral); err != nil {
		return err
	}
	s.log.Debug("ephemeral pin envelope restored", zap.String("user", userID.String()))
	return nil
}

func (s *PinServiceImpl) GetPin(ctx context.Context, userID uuid.UUID) (string, error) {
	encPin, err := s.pins.UserKeyEncryptedPin(ctx, userID)
	if err != nil {
		return "", err
	}
	if encPin == nil {
		return "", fmt.Errorf("pin: %w", errs.ErrNotFound)
	}
	return s.crypto.DecryptPin(userID, *encPin)
}
