// Package convert maps domain models to and from rpc wire messages.
package convert

import (
	"fmt"

	u "github.com/gofrs/uuid/v5"

	"github.com/and161185/gk-unlock/internal/errs"
	"github.com/and161185/gk-unlock/internal/model"
	"github.com/and161185/gk-unlock/internal/rpc"
)

// --- Prelogin ---

// ToWirePrelogin wraps prelogin data.
func ToWirePrelogin(p model.Prelogin) *rpc.PreloginResponse {
	return &rpc.PreloginResponse{Kdf: p.Kdf, Salt: p.Salt}
}

// FromWirePrelogin unwraps prelogin data.
func FromWirePrelogin(p *rpc.PreloginResponse) model.Prelogin {
	if p == nil {
		return model.Prelogin{}
	}
	return model.Prelogin{Kdf: p.Kdf, Salt: p.Salt}
}

// --- Register ---

// ToWireRegister converts a registration request.
func ToWireRegister(r model.RegisterRequest) *rpc.RegisterRequest {
	return &rpc.RegisterRequest{Username: r.Username, Authentication: r.Authentication, Unlock: r.Unlock}
}

// FromWireRegister converts a registration request.
func FromWireRegister(r *rpc.RegisterRequest) (model.RegisterRequest, error) {
	if r == nil {
		return model.RegisterRequest{}, fmt.Errorf("%w: nil RegisterRequest", errs.ErrInvalidArgument)
	}
	return model.RegisterRequest{Username: r.Username, Authentication: r.Authentication, Unlock: r.Unlock}, nil
}

// FromWireUserID parses a user id sent by the server.
func FromWireUserID(s string) (u.UUID, error) {
	id, err := u.FromString(s)
	if err != nil {
		return u.Nil, fmt.Errorf("bad user id %q: %w", s, err)
	}
	return id, nil
}

// --- Login ---

// ToWireLogin converts a successful login.
func ToWireLogin(r model.LoginResult) *rpc.LoginResponse {
	return &rpc.LoginResponse{
		AccessToken: r.Tokens.AccessToken,
		ExpiresAt:   r.Tokens.ExpiresAt.UTC(),
		UserID:      r.UserID.String(),
		Unlock:      r.Unlock,
	}
}

// FromWireLogin converts a login response.
func FromWireLogin(r *rpc.LoginResponse) (model.LoginResult, error) {
	if r == nil {
		return model.LoginResult{}, fmt.Errorf("nil LoginResponse")
	}
	id, err := FromWireUserID(r.UserID)
	if err != nil {
		return model.LoginResult{}, err
	}
	if r.AccessToken == "" {
		return model.LoginResult{}, fmt.Errorf("login response without access token")
	}
	return model.LoginResult{
		Tokens: model.Tokens{AccessToken: r.AccessToken, ExpiresAt: r.ExpiresAt},
		UserID: id,
		Unlock: r.Unlock,
	}, nil
}

// --- KDF ---

// ToWireKdf converts a KDF rotation request.
func ToWireKdf(r model.KdfRequest) *rpc.KdfRequest {
	return &rpc.KdfRequest{
		OldMasterPasswordHash: r.OldAuthenticationHash,
		Authentication:        r.Authentication,
		Unlock:                r.Unlock,
	}
}

// FromWireKdf converts a KDF rotation request.
func FromWireKdf(r *rpc.KdfRequest) (model.KdfRequest, error) {
	if r == nil {
		return model.KdfRequest{}, fmt.Errorf("%w: nil KdfRequest", errs.ErrInvalidArgument)
	}
	return model.KdfRequest{
		OldAuthenticationHash: r.OldMasterPasswordHash,
		Authentication:        r.Authentication,
		Unlock:                r.Unlock,
	}, nil
}
