// Package service contains the account server's application services.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/gk-unlock/internal/auth"
	pkgcrypto "github.com/and161185/gk-unlock/internal/crypto"
	"github.com/and161185/gk-unlock/internal/errs"
	"github.com/and161185/gk-unlock/internal/limiter"
	"github.com/and161185/gk-unlock/internal/model"
	"github.com/and161185/gk-unlock/internal/repository"
)

// AccountService defines the account server operations.
type AccountService interface {
	// Prelogin returns the KDF parameters and salt for username. Unknown users get
	// defaults so the answer does not reveal whether an account exists.
	Prelogin(ctx context.Context, username string) (model.Prelogin, error)
	// Register creates an account from client-produced key material.
	Register(ctx context.Context, req model.RegisterRequest) (uuid.UUID, error)
	// LoginWithIP applies rate limiting and checks the authentication hash.
	LoginWithIP(ctx context.Context, username, authHash, ip string) (model.LoginResult, error)
	// UpdateKdf rotates KDF parameters, authorised by the current authentication hash.
	UpdateKdf(ctx context.Context, userID uuid.UUID, req model.KdfRequest, ip string) error
}

type AccountServiceImpl struct {
	users  repository.UserRepository
	tokens *auth.Tokens
	hasher *pkgcrypto.Hasher
	lim    limiter.Limiter
	log    *zap.Logger
}

// NewAccountService constructs AccountService with required dependencies.
func NewAccountService(users repository.UserRepository, tokens *auth.Tokens, hasher *pkgcrypto.Hasher, lim limiter.Limiter, log *zap.Logger) *AccountServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountServiceImpl{users: users, tokens: tokens, hasher: hasher, lim: lim, log: log}
}

// NormalizeUsername is the canonical form usernames are stored and salted with.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (s *AccountServiceImpl) Prelogin(ctx context.Context, username string) (model.Prelogin, error) {
	name := NormalizeUsername(username)
	if name == "" {
		return model.Prelogin{}, invalid("username")
	}
	u, err := s.users.GetByUsername(ctx, name)
	if errors.Is(err, errs.ErrNotFound) {
		return model.Prelogin{Kdf: model.DefaultKdfConfig(), Salt: name}, nil
	}
	if err != nil {
		return model.Prelogin{}, err
	}
	return model.Prelogin{Kdf: u.Kdf, Salt: u.Salt}, nil
}

func invalid(what string) error {
	return fmt.Errorf("validation: %s: %w", what, errs.ErrInvalidArgument)
}

// validateKeyData checks the two halves of a master-password bundle agree.
func validateKeyData(a model.MasterPasswordAuthenticationData, u model.MasterPasswordUnlockData) error {
	if err := a.Kdf.Validate(); err != nil {
		return fmt.Errorf("validation: %w", err)
	}
	if a.Kdf != u.Kdf {
		return invalid("authentication and unlock kdf differ")
	}
	if a.Salt == "" || a.Salt != u.Salt {
		return invalid("authentication and unlock salt differ")
	}
	if a.MasterPasswordAuthenticationHash == "" {
		return invalid("authentication hash")
	}
	if u.MasterKeyWrappedUserKey == "" {
		return invalid("wrapped user key")
	}
	return nil
}

func (s *AccountServiceImpl) Register(ctx context.Context, req model.RegisterRequest) (uuid.UUID, error) {
	name := NormalizeUsername(req.Username)
	if name == "" {
		return uuid.Nil, invalid("username")
	}
	if err := validateKeyData(req.Authentication, req.Unlock); err != nil {
		return uuid.Nil, err
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	pwdHash, saltAuth, err := s.hasher.Hash(req.Authentication.MasterPasswordAuthenticationHash)
	if err != nil {
		return uuid.Nil, err
	}
	u := &model.User{
		ID:             uid,
		Username:       name,
		Salt:           req.Unlock.Salt,
		Kdf:            req.Unlock.Kdf,
		PwdHash:        pwdHash,
		SaltAuth:       saltAuth,
		WrappedUserKey: req.Unlock.MasterKeyWrappedUserKey,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return uuid.Nil, err
	}
	s.log.Info("account registered", zap.String("user", uid.String()), zap.Stringer("kdf_type", u.Kdf.Type))
	return uid, nil
}

// LoginWithIP authenticates with rate limiting by (username, ip).
func (s *AccountServiceImpl) LoginWithIP(ctx context.Context, username, authHash, ip string) (model.LoginResult, error) {
	name := NormalizeUsername(username)
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, limiter.ScopeLogin, name, ipHash)
	if err != nil {
		return model.LoginResult{}, err
	}
	if !allowed {
		return model.LoginResult{}, errs.ErrRateLimited
	}

	u, err := s.users.GetByUsername(ctx, name)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.LoginResult{}, fmt.Errorf("load user: %w", err)
	}
	if err != nil || !s.hasher.Verify(authHash, u.SaltAuth, u.PwdHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, limiter.ScopeLogin, name, ipHash); ferr == nil && blocked {
			return model.LoginResult{}, errs.ErrRateLimited
		}
		// unknown user and wrong hash look the same
		return model.LoginResult{}, errs.ErrUnauthorized
	}

	_ = s.lim.Success(ctx, limiter.ScopeLogin, name, ipHash)

	access, exp, err := s.tokens.Issue(u.ID)
	if err != nil {
		return model.LoginResult{}, err
	}
	return model.LoginResult{
		Tokens: model.Tokens{AccessToken: access, ExpiresAt: exp},
		UserID: u.ID,
		Unlock: model.MasterPasswordUnlockData{Kdf: u.Kdf, Salt: u.Salt, MasterKeyWrappedUserKey: u.WrappedUserKey},
	}, nil
}

// UpdateKdf never touches the stored account unless req.OldAuthenticationHash matches
// the current one. The write itself is guarded on the stored hash, so two racing
// rotations cannot both win.
func (s *AccountServiceImpl) UpdateKdf(ctx context.Context, userID uuid.UUID, req model.KdfRequest, ip string) error {
	if userID == uuid.Nil {
		return invalid("userID")
	}
	if req.OldAuthenticationHash == "" {
		return invalid("old authentication hash")
	}
	if err := validateKeyData(req.Authentication, req.Unlock); err != nil {
		return err
	}

	subject := userID.String()
	ipHash := limiter.HashIP(ip)
	allowed, _, err := s.lim.Allow(ctx, limiter.ScopeKdf, subject, ipHash)
	if err != nil {
		return err
	}
	if !allowed {
		return errs.ErrRateLimited
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if req.Unlock.Salt != u.Salt {
		return invalid("salt cannot change")
	}
	if !s.hasher.Verify(req.OldAuthenticationHash, u.SaltAuth, u.PwdHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, limiter.ScopeKdf, subject, ipHash); ferr == nil && blocked {
			return errs.ErrRateLimited
		}
		s.log.Info("kdf update rejected", zap.String("user", subject))
		return errs.ErrUnauthorized
	}
	_ = s.lim.Success(ctx, limiter.ScopeKdf, subject, ipHash)

	pwdHash, saltAuth, err := s.hasher.Hash(req.Authentication.MasterPasswordAuthenticationHash)
	if err != nil {
		return err
	}
	if err := s.users.UpdateKdf(ctx, userID, u.PwdHash, model.KdfUpdate{
		Kdf:            req.Unlock.Kdf,
		PwdHash:        pwdHash,
		SaltAuth:       saltAuth,
		WrappedUserKey: req.Unlock.MasterKeyWrappedUserKey,
	}); err != nil {
		return err
	}
	s.log.Info("kdf updated",
		zap.String("user", subject),
		zap.Stringer("kdf_type", req.Unlock.Kdf.Type),
		zap.Int("iterations", req.Unlock.Kdf.Iterations),
	)
	return nil
}
