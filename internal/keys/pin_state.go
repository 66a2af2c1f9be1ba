package keys

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/gk-unlock/internal/errs"
	"github.com/and161185/gk-unlock/internal/model"
	"github.com/and161185/gk-unlock/internal/state"
)

// PinStateService owns the three PIN records of a user: the user-key-encrypted PIN
// and the ephemeral and persistent PIN-protected user key envelopes.
type PinStateService interface {
	// PinLockType resolves the current lock type from the stored records.
	PinLockType(ctx context.Context, userID uuid.UUID) (model.PinLockType, error)
	// WatchPinLockType streams the lock type. The current value is delivered first.
	WatchPinLockType(ctx context.Context, userID uuid.UUID) (<-chan model.PinLockType, error)
	// UserKeyEncryptedPin returns the encrypted PIN or nil.
	UserKeyEncryptedPin(ctx context.Context, userID uuid.UUID) (*model.EncString, error)
	// WatchUserKeyEncryptedPin streams the encrypted PIN; "" means none.
	WatchUserKeyEncryptedPin(ctx context.Context, userID uuid.UUID) (<-chan model.EncString, error)
	// PinProtectedUserKeyEnvelope returns the envelope in the given slot or nil.
	PinProtectedUserKeyEnvelope(ctx context.Context, userID uuid.UUID, lockType model.PinLockType) (*model.PasswordProtectedKeyEnvelope, error)
	// SetPinState writes the encrypted PIN and the envelope into the lockType slot.
	SetPinState(ctx context.Context, userID uuid.UUID, envelope model.PasswordProtectedKeyEnvelope, encPin model.EncString, lockType model.PinLockType) error
	// ClearPinSlot removes the envelope in one slot only.
	ClearPinSlot(ctx context.Context, userID uuid.UUID, lockType model.PinLockType) error
	// ClearPinState removes all three records as one change.
	ClearPinState(ctx context.Context, userID uuid.UUID) error
	// ClearEphemeralPinState removes only the ephemeral envelope.
	ClearEphemeralPinState(ctx context.Context, userID uuid.UUID) error
}

type PinStateServiceImpl struct {
	state *state.Provider
	log   *zap.Logger
}

// NewPinStateService constructs PinStateService over the state provider.
func NewPinStateService(p *state.Provider, log *zap.Logger) *PinStateServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	RegisterState(p)
	return &PinStateServiceImpl{state: p, log: log}
}

func slotKey(lockType model.PinLockType) (state.KeyDefinition, error) {
	switch lockType {
	case model.PinLockTypePersistent:
		return PinKeyEncryptedUserKeyPersistent, nil
	case model.PinLockTypeEphemeral:
		return PinKeyEncryptedUserKeyEphemeral, nil
	default:
		return state.KeyDefinition{}, fmt.Errorf("%w: %s", errs.ErrUnsupportedLockType, lockType)
	}
}

func requireUser(userID uuid.UUID) error {
	if userID == uuid.Nil {
		return fmt.Errorf("%w: userID is required", errs.ErrInvalidArgument)
	}
	return nil
}

// PinLockType: persistent envelope, then ephemeral envelope, then encrypted PIN.
// An encrypted PIN without an envelope means the PIN was set up for ephemeral use and
// the envelope was dropped when the session ended.
func (s *PinStateServiceImpl) PinLockType(ctx context.Context, userID uuid.UUID) (model.PinLockType, error) {
	if err := requireUser(userID); err != nil {
		return model.PinLockTypeDisabled, err
	}
	vals, err := s.state.GetMany(ctx, userID, PinKeyEncryptedUserKeyPersistent, PinKeyEncryptedUserKeyEphemeral, UserKeyEncryptedPinKey)
	if err != nil {
		return model.PinLockTypeDisabled, err
	}
	switch {
	case vals[0] != nil:
		return model.PinLockTypePersistent, nil
	case vals[1] != nil, vals[2] != nil:
		return model.PinLockTypeEphemeral, nil
	default:
		return model.PinLockTypeDisabled, nil
	}
}

func (s *PinStateServiceImpl) WatchPinLockType(ctx context.Context, userID uuid.UUID) (<-chan model.PinLockType, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	changes := s.state.Changes(ctx, userID, PinKeyEncryptedUserKeyPersistent, PinKeyEncryptedUserKeyEphemeral, UserKeyEncryptedPinKey)
	return state.Derive(ctx, changes, func(ctx context.Context) (model.PinLockType, error) {
		return s.PinLockType(ctx, userID)
	}, s.log)
}

func (s *PinStateServiceImpl) UserKeyEncryptedPin(ctx context.Context, userID uuid.UUID) (*model.EncString, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	v, ok, err := state.Get[model.EncString](ctx, s.state, userID, UserKeyEncryptedPinKey)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

func (s *PinStateServiceImpl) WatchUserKeyEncryptedPin(ctx context.Context, userID uuid.UUID) (<-chan model.EncString, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	changes := s.state.Changes(ctx, userID, UserKeyEncryptedPinKey)
	return state.Derive(ctx, changes, func(ctx context.Context) (model.EncString, error) {
		v, _, err := state.Get[model.EncString](ctx, s.state, userID, UserKeyEncryptedPinKey)
		return v, err
	}, s.log)
}

func (s *PinStateServiceImpl) PinProtectedUserKeyEnvelope(ctx context.Context, userID uuid.UUID, lockType model.PinLockType) (*model.PasswordProtectedKeyEnvelope, error) {
	def, err := slotKey(lockType)
	if err != nil {
		return nil, err
	}
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	v, ok, err := state.Get[model.PasswordProtectedKeyEnvelope](ctx, s.state, userID, def)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

// SetPinState does not touch the other slot. If both slots end up filled the
// persistent one wins when resolving the lock type.
func (s *PinStateServiceImpl) SetPinState(ctx context.Context, userID uuid.UUID, envelope model.PasswordProtectedKeyEnvelope, encPin model.EncString, lockType model.PinLockType) error {
	def, err := slotKey(lockType)
	if err != nil {
		return err
	}
	if err := requireUser(userID); err != nil {
		return err
	}
	if envelope == "" || encPin == "" {
		return fmt.Errorf("%w: envelope and encrypted pin are required", errs.ErrInvalidArgument)
	}
	envEntry, err := state.NewEntry(def, envelope)
	if err != nil {
		return err
	}
	pinEntry, err := state.NewEntry(UserKeyEncryptedPinKey, encPin)
	if err != nil {
		return err
	}
	if err := s.state.Update(ctx, userID, pinEntry, envEntry); err != nil {
		return fmt.Errorf("store pin state: %w", err)
	}
	s.log.Debug("pin state set", zap.String("user", userID.String()), zap.Stringer("lock_type", lockType))
	return nil
}

func (s *PinStateServiceImpl) ClearPinSlot(ctx context.Context, userID uuid.UUID, lockType model.PinLockType) error {
	def, err := slotKey(lockType)
	if err != nil {
		return err
	}
	if err := requireUser(userID); err != nil {
		return err
	}
	return s.state.Clear(ctx, userID, def)
}

func (s *PinStateServiceImpl) ClearPinState(ctx context.Context, userID uuid.UUID) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if err := s.state.Clear(ctx, userID, UserKeyEncryptedPinKey, PinKeyEncryptedUserKeyEphemeral, PinKeyEncryptedUserKeyPersistent); err != nil {
		return fmt.Errorf("clear pin state: %w", err)
	}
	s.log.Debug("pin state cleared", zap.String("user", userID.String()))
	return nil
}

func (s *PinStateServiceImpl) ClearEphemeralPinState(ctx context.Context, userID uuid.UUID) error {
	return s.ClearPinSlot(ctx, userID, model.PinLockTypeEphemeral)
}
