package keys

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/gk-unlock/internal/errs"
	"github.com/and161185/gk-unlock/internal/model"
)

func TestSetPin_SlotsAreExclusive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	id, _ := e.seedUser(t, "pw")

	if err := e.pin.SetPin(ctx, id, "1234", model.PinLockTypePersistent); err != nil {
		t.Fatalf("SetPin persistent: %v", err)
	}
	if err := e.pin.SetPin(ctx, id, "1234", model.PinLockTypeEphemeral); err != nil {
		t.Fatalf("SetPin ephemeral: %v", err)
	}
	if got := lockType(t, e, id); got != model.PinLockTypeEphemeral {
		t.Fatalf("lock type: %s", got)
	}
	if per, _ := e.pins.PinProtectedUserKeyEnvelope(ctx, id, model.PinLockTypePersistent); per != nil {
		t.Fatalf("persistent slot not cleared")
	}
	if ok, _ := e.pin.IsPinSet(ctx, id); !ok {
		t.Fatalf("IsPinSet false")
	}
	if pin, err := e.pin.GetPin(ctx, id); err != nil || pin != "1234" {
		t.Fatalf("GetPin: %q %v", pin, err)
	}
}

func TestSetPin_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	id, _ := e.seedUser(t, "pw")

	if err := e.pin.SetPin(ctx, id, "1234", model.PinLockTypeDisabled); !errors.Is(err, errs.ErrUnsupportedLockType) {
		t.Fatalf("disabled: %v", err)
	}
	if err := e.pin.SetPin(ctx, id, "", model.PinLockTypePersistent); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("empty pin: %v", err)
	}
	locked := uuid.Must(uuid.NewV4())
	if err := e.pin.SetPin(ctx, locked, "1234", model.PinLockTypePersistent); !errors.Is(err, errs.ErrLocked) {
		t.Fatalf("locked user: %v", err)
	}
}

func TestUnlockWithPin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	id, reg := e.seedUser(t, "pw")

	if _, err := e.pin.UnlockWithPin(ctx, id, "1234"); !errors.Is(err, errs.ErrPinUnavailable) {
		t.Fatalf("no pin: %v", err)
	}
	if err := e.pin.SetPin(ctx, id, "1234", model.PinLockTypePersistent); err != nil {
		t.Fatalf("SetPin: %v", err)
	}
	key, err := e.pin.UnlockWithPin(ctx, id, "1234")
	if err != nil || !bytes.Equal(key, reg.UserKey) {
		t.Fatalf("UnlockWithPin: %v", err)
	}
	if _, err := e.pin.UnlockWithPin(ctx, id, "0000"); !errors.Is(err, errs.ErrWrongPin) {
		t.Fatalf("wrong pin: %v", err)
	}
}

func TestEphemeralPin_RestartAndRestore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	id, _ := e.seedUser(t, "pw")
	if err := e.pin.SetPin(ctx, id, "1234", model.PinLockTypeEphemeral); err != nil {
		t.Fatalf("SetPin: %v", err)
	}
	if ok, _ := e.pin.IsPinDecryptionAvailable(ctx, id); !ok {
		t.Fatalf("decryption should be available")
	}

	// New process: the memory tier is gone, the encrypted PIN is not.
	e2 := e.restart(t)
	if got := lockType(t, e2, id); got != model.PinLockTypeEphemeral {
		t.Fatalf("lock type after restart: %s", got)
	}
	if ok, _ := e2.pin.IsPinDecryptionAvailable(ctx, id); ok {
		t.Fatalf("ephemeral envelope survived restart")
	}
	if err := e2.lock.UnlockWithPin(ctx, id, "1234"); !errors.Is(err, errs.ErrPinUnavailable) {
		t.Fatalf("pin unlock after restart: %v", err)
	}

	// Master password unlock re-creates the envelope.
	if err := e2.lock.UnlockWithMasterPassword(ctx, id, "pw"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if ok, _ := e2.pin.IsPinDecryptionAvailable(ctx, id); !ok {
		t.Fatalf("ephemeral envelope not restored")
	}
	if err := e2.lock.Lock(ctx, id); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := e2.lock.UnlockWithPin(ctx, id, "1234"); err != nil {
		t.Fatalf("pin unlock after restore: %v", err)
	}
}

func TestPersistentPin_SurvivesRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	id, _ := e.seedUser(t, "pw")
	if err := e.pin.SetPin(ctx, id, "1234", model.PinLockTypePersistent); err != nil {
		t.Fatalf("SetPin: %v", err)
	}
	e2 := e.restart(t)
	if err := e2.lock.UnlockWithPin(ctx, id, "1234"); err != nil {
		t.Fatalf("UnlockWithPin: %v", err)
	}
	if st, _ := e2.lock.Status(ctx, id); st != model.LockStatusUnlocked {
		t.Fatalf("status: %s", st)
	}
}

func TestUnsetPin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	id, _ := e.seedUser(t, "pw")
	_ = e.pin.SetPin(ctx, id, "1234", model.PinLockTypePersistent)
	if err := e.pin.UnsetPin(ctx, id); err != nil {
		t.Fatalf("UnsetPin: %v", err)
	}
	if ok, _ := e.pin.IsPinSet(ctx, id); ok {
		t.Fatalf("pin still set")
	}
	if _, err := e.pin.GetPin(ctx, id); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("GetPin: %v", err)
	}
}
