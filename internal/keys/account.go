package keys

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/gk-unlock/internal/errs"
	"github.com/and161185/gk-unlock/internal/model"
	"github.com/and161185/gk-unlock/internal/sdk"
	"github.com/and161185/gk-unlock/internal/state"
)

// TokenStore keeps access tokens and the active user id.
type TokenStore struct {
	state *state.Provider
}

// NewTokenStore constructs a TokenStore.
func NewTokenStore(p *state.Provider) *TokenStore {
	RegisterState(p)
	return &TokenStore{state: p}
}

// ActiveUser returns the logged-in user or errs.ErrNotFound.
func (t *TokenStore) ActiveUser(ctx context.Context) (uuid.UUID, error) {
	id, ok, err := state.Get[uuid.UUID](ctx, t.state, uuid.Nil, ActiveUserKey)
	if err != nil {
		return uuid.Nil, err
	}
	if !ok || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("active user: %w", errs.ErrNotFound)
	}
	return id, nil
}

// AccessToken returns the stored access token of userID.
func (t *TokenStore) AccessToken(ctx context.Context, userID uuid.UUID) (string, error) {
	tok, ok, err := state.Get[model.Tokens](ctx, t.state, userID, TokensKey)
	if err != nil {
		return "", err
	}
	if !ok || tok.AccessToken == "" {
		return "", errs.ErrUnauthorized
	}
	return tok.AccessToken, nil
}

// Token returns the access token of the active user. It satisfies api.TokenSource.
func (t *TokenStore) Token(ctx context.Context) (string, error) {
	id, err := t.ActiveUser(ctx)
	if err != nil {
		return "", errs.ErrUnauthorized
	}
	return t.AccessToken(ctx, id)
}

// AccountService registers and logs in against the account server.
type AccountService interface {
	Register(ctx context.Context, username, password string, kdf model.KdfConfig) (uuid.UUID, error)
	Login(ctx context.Context, username, password string) (uuid.UUID, error)
	Logout(ctx context.Context) error
	ActiveUser(ctx context.Context) (uuid.UUID, error)
}

type AccountServiceImpl struct {
	api    AccountsAPI
	crypto CryptoClient
	master MasterPasswordService
	lock   *LockServiceImpl
	tokens *TokenStore
	state  *state.Provider
	log    *zap.Logger
}

// NewAccountService constructs AccountService.
func NewAccountService(p *state.Provider, api AccountsAPI, crypto CryptoClient, master MasterPasswordService, lock *LockServiceImpl, tokens *TokenStore, log *zap.Logger) *AccountServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	RegisterState(p)
	return &AccountServiceImpl{api: api, crypto: crypto, master: master, lock: lock, tokens: tokens, state: p, log: log}
}

// SaltFor is the KDF salt of an account: its normalised username.
func SaltFor(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (s *AccountServiceImpl) Register(ctx context.Context, username, password string, kdf model.KdfConfig) (uuid.UUID, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return uuid.Nil, fmt.Errorf("%w: username and password are required", errs.ErrInvalidArgument)
	}
	reg, err := s.crypto.MakeRegistration(password, SaltFor(username), kdf)
	if err != nil {
		return uuid.Nil, err
	}
	clear(reg.UserKey)
	id, err := s.api.Register(ctx, model.RegisterRequest{
		Username:       username,
		Authentication: reg.Authentication,
		Unlock:         reg.Unlock,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("register: %w", err)
	}
	s.log.Info("registered", zap.String("user", id.String()))
	return id, nil
}

func (s *AccountServiceImpl) Login(ctx context.Context, username, password string) (uuid.UUID, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return uuid.Nil, fmt.Errorf("%w: username and password are required", errs.ErrInvalidArgument)
	}
	pre, err := s.api.Prelogin(ctx, username)
	if err != nil {
		return uuid.Nil, fmt.Errorf("prelogin: %w", err)
	}
	mk, err := s.crypto.DeriveMasterKey(password, pre.Salt, pre.Kdf)
	if err != nil {
		return uuid.Nil, err
	}
	serverHash, err := s.crypto.HashMasterKey(mk, password, sdk.HashServerAuthorization)
	if err != nil {
		return uuid.Nil, err
	}
	res, err := s.api.Login(ctx, username, serverHash)
	if err != nil {
		return uuid.Nil, fmt.Errorf("login: %w", err)
	}
	userKey, err := s.crypto.UnwrapUserKey(mk, res.Unlock.MasterKeyWrappedUserKey)
	if err != nil {
		return uuid.Nil, fmt.Errorf("unwrap user key: %w", err)
	}
	localHash, err := s.crypto.HashMasterKey(mk, password, sdk.HashLocalAuthorization)
	if err != nil {
		return uuid.Nil, err
	}

	// Switching accounts logs the previous one out.
	if prev, err := s.tokens.ActiveUser(ctx); err == nil && prev != res.UserID {
		if err := s.lock.Logout(ctx, prev); err != nil {
			s.log.Warn("logout previous user failed", zap.String("user", prev.String()), zap.Error(err))
		}
	}

	if err := s.master.SetState(ctx, res.UserID, MasterPasswordState{
		MasterKey:     mk,
		MasterKeyHash: localHash,
		Kdf:           res.Unlock.Kdf,
		Unlock:        res.Unlock,
	}); err != nil {
		return uuid.Nil, err
	}
	if err := state.Set(ctx, s.state, res.UserID, TokensKey, res.Tokens); err != nil {
		return uuid.Nil, err
	}
	if err := state.Set(ctx, s.state, uuid.Nil, ActiveUserKey, res.UserID); err != nil {
		return uuid.Nil, err
	}
	if err := s.lock.unlocked(ctx, res.UserID, mk, userKey, res.Unlock); err != nil {
		return uuid.Nil, err
	}
	s.log.Info("logged in", zap.String("user", res.UserID.String()))
	return res.UserID, nil
}

func (s *AccountServiceImpl) Logout(ctx context.Context) error {
	id, err := s.tokens.ActiveUser(ctx)
	if err != nil {
		return err
	}
	if err := s.lock.Logout(ctx, id); err != nil {
		return err
	}
	return s.state.Clear(ctx, uuid.Nil, ActiveUserKey)
}

func (s *AccountServiceImpl) ActiveUser(ctx context.Context) (uuid.UUID, error) {
	return s.tokens.ActiveUser(ctx)
}
