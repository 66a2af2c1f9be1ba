package model

import (
	"fmt"

	"github.com/and161185/gk-unlock/internal/errs"
)

// KdfType selects the key-derivation function.
type KdfType int

const (
	KdfTypePBKDF2SHA256 KdfType = 0
	KdfTypeArgon2id     KdfType = 1
)

func (t KdfType) String() string {
	switch t {
	case KdfTypePBKDF2SHA256:
		return "PBKDF2_SHA256"
	case KdfTypeArgon2id:
		return "Argon2id"
	default:
		return fmt.Sprintf("KdfType(%d)", int(t))
	}
}

// Accepted parameter ranges.
const (
	PBKDF2MinIterations = 600_000
	PBKDF2MaxIterations = 2_000_000

	Argon2MinIterations  = 2
	Argon2MaxIterations  = 10
	Argon2MinMemoryMiB   = 16
	Argon2MaxMemoryMiB   = 1024
	Argon2MinParallelism = 1
	Argon2MaxParallelism = 16
)

// KdfConfig is the full set of KDF parameters. Memory is in MiB and, like Parallelism,
// is only meaningful for Argon2id.
type KdfConfig struct {
	Type        KdfType `json:"kdfType"`
	Iterations  int     `json:"kdfIterations"`
	Memory      int     `json:"kdfMemory,omitempty"`
	Parallelism int     `json:"kdfParallelism,omitempty"`
}

// DefaultKdfConfig is used for new accounts and for prelogin of unknown users.
func DefaultKdfConfig() KdfConfig {
	return KdfConfig{Type: KdfTypePBKDF2SHA256, Iterations: PBKDF2MinIterations}
}

// Validate checks the parameters against the accepted ranges.
func (k KdfConfig) Validate() error {
	switch k.Type {
	case KdfTypePBKDF2SHA256:
		if k.Iterations < PBKDF2MinIterations || k.Iterations > PBKDF2MaxIterations {
			return fmt.Errorf("%w: pbkdf2 iterations %d out of range", errs.ErrInvalidArgument, k.Iterations)
		}
		if k.Memory != 0 || k.Parallelism != 0 {
			return fmt.Errorf("%w: pbkdf2 takes no memory/parallelism", errs.ErrInvalidArgument)
		}
	case KdfTypeArgon2id:
		if k.Iterations < Argon2MinIterations || k.Iterations > Argon2MaxIterations {
			return fmt.Errorf("%w: argon2 iterations %d out of range", errs.ErrInvalidArgument, k.Iterations)
		}
		if k.Memory < Argon2MinMemoryMiB || k.Memory > Argon2MaxMemoryMiB {
			return fmt.Errorf("%w: argon2 memory %d MiB out of range", errs.ErrInvalidArgument, k.Memory)
		}
		if k.Parallelism < Argon2MinParallelism || k.Parallelism > Argon2MaxParallelism {
			return fmt.Errorf("%w: argon2 parallelism %d out of range", errs.ErrInvalidArgument, k.Parallelism)
		}
	default:
		return fmt.Errorf("%w: unknown kdf type %d", errs.ErrInvalidArgument, int(k.Type))
	}
	return nil
}
