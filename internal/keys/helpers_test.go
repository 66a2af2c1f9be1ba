package keys

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/gk-unlock/internal/errs"
	"github.com/and161185/gk-unlock/internal/model"
	"github.com/and161185/gk-unlock/internal/sdk"
	"github.com/and161185/gk-unlock/internal/state"
	"github.com/and161185/gk-unlock/internal/state/memstore"
)

var (
	fastKdf  = model.KdfConfig{Type: model.KdfTypeArgon2id, Iterations: 2, Memory: 16, Parallelism: 1}
	fastKdf2 = model.KdfConfig{Type: model.KdfTypeArgon2id, Iterations: 3, Memory: 16, Parallelism: 1}
)

type env struct {
	state  *state.Provider
	disk   *memstore.Store
	crypto *sdk.Client
	pins   *PinStateServiceImpl
	master *MasterPasswordServiceImpl
	pin    *PinServiceImpl
	lock   *LockServiceImpl
	tokens *TokenStore
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := zaptest.NewLogger(t)
	disk := memstore.New()
	p := state.NewProvider(memstore.New(), disk, log)
	c := sdk.NewClient()
	pins := NewPinStateService(p, log)
	master := NewMasterPasswordService(p, c, log)
	pin := NewPinService(pins, c, log)
	return &env{
		state:  p,
		disk:   disk,
		crypto: c,
		pins:   pins,
		master: master,
		pin:    pin,
		lock:   NewLockService(p, c, master, pin, log),
		tokens: NewTokenStore(p),
	}
}

// restart simulates a new process over the same disk tier.
func (e *env) restart(t *testing.T) *env {
	t.Helper()
	log := zaptest.NewLogger(t)
	p := state.NewProvider(memstore.New(), e.disk, log)
	c := sdk.NewClient()
	pins := NewPinStateService(p, log)
	master := NewMasterPasswordService(p, c, log)
	pin := NewPinService(pins, c, log)
	return &env{
		state:  p,
		disk:   e.disk,
		crypto: c,
		pins:   pins,
		master: master,
		pin:    pin,
		lock:   NewLockService(p, c, master, pin, log),
		tokens: NewTokenStore(p),
	}
}

// seedUser stores master-password state for a fresh user and unlocks them.
func (e *env) seedUser(t *testing.T, password string) (uuid.UUID, sdk.Registration) {
	t.Helper()
	ctx := context.Background()
	reg, err := e.crypto.MakeRegistration(password, "alice", fastKdf)
	if err != nil {
		t.Fatalf("MakeRegistration: %v", err)
	}
	id := uuid.Must(uuid.NewV4())
	local, err := e.crypto.HashMasterKey(reg.MasterKey, password, sdk.HashLocalAuthorization)
	if err != nil {
		t.Fatalf("HashMasterKey: %v", err)
	}
	if err := e.master.SetState(ctx, id, MasterPasswordState{
		MasterKey: reg.MasterKey, MasterKeyHash: local, Kdf: fastKdf, Unlock: reg.Unlock,
	}); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if err := e.lock.UnlockWithMasterPassword(ctx, id, password); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	return id, reg
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for value")
	}
	var zero T
	return zero
}

// fakeServer is an in-memory account server with the same authorisation rules as
// the real one.
type fakeServer struct {
	mu       sync.Mutex
	users    map[string]*fakeAccount
	kdfCalls int
	kdfErr   error
}

type fakeAccount struct {
	id     uuid.UUID
	auth   model.MasterPasswordAuthenticationData
	unlock model.MasterPasswordUnlockData
}

var _ AccountsAPI = (*fakeServer)(nil)

func newFakeServer() *fakeServer { return &fakeServer{users: map[string]*fakeAccount{}} }

func (f *fakeServer) Prelogin(_ context.Context, username string) (model.Prelogin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.users[SaltFor(username)]; ok {
		return model.Prelogin{Kdf: a.auth.Kdf, Salt: a.auth.Salt}, nil
	}
	return model.Prelogin{Kdf: model.DefaultKdfConfig(), Salt: SaltFor(username)}, nil
}

func (f *fakeServer) Register(_ context.Context, req model.RegisterRequest) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := SaltFor(req.Username)
	if _, ok := f.users[name]; ok {
		return uuid.Nil, errs.ErrAlreadyExists
	}
	id := uuid.Must(uuid.NewV4())
	f.users[name] = &fakeAccount{id: id, auth: req.Authentication, unlock: req.Unlock}
	return id, nil
}

func (f *fakeServer) Login(_ context.Context, username, authHash string) (model.LoginResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.users[SaltFor(username)]
	if !ok || a.auth.MasterPasswordAuthenticationHash != authHash {
		return model.LoginResult{}, errs.ErrUnauthorized
	}
	return model.LoginResult{
		Tokens: model.Tokens{AccessToken: "token-" + a.id.String(), ExpiresAt: time.Now().Add(time.Hour)},
		UserID: a.id,
		Unlock: a.unlock,
	}, nil
}

func (f *fakeServer) PostKdf(_ context.Context, req model.KdfRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kdfCalls++
	if f.kdfErr != nil {
		return f.kdfErr
	}
	for _, a := range f.users {
		if a.auth.MasterPasswordAuthenticationHash == req.OldAuthenticationHash {
			a.auth, a.unlock = req.Authentication, req.Unlock
			return nil
		}
	}
	return errs.ErrUnauthorized
}

func (f *fakeServer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kdfCalls
}
