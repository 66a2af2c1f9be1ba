// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/gk-unlock/internal/model"
)

// UserRepository provides access to accounts and their key material.
type UserRepository interface {
	// Create inserts a new user.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByUsername loads a user by username.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// UpdateKdf applies a KDF rotation only if the stored hash still equals oldPwdHash.
	UpdateKdf(ctx context.Context, id uuid.UUID, oldPwdHash []byte, upd model.KdfUpdate) error
}
