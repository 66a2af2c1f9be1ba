// Package limiter throttles password-proof attempts (logins and KDF rotations).
package limiter

import (
	"context"
	"crypto/sha256"
	"time"
)

// Scope separates counters of different operations.
type Scope string

const (
	ScopeLogin Scope = "login"
	ScopeKdf   Scope = "kdf"
)

// Limiter controls attempts and temporary lockouts per (scope, subject, ip).
type Limiter interface {
	// Allow reports whether an attempt is currently allowed and, if not, for how long.
	Allow(ctx context.Context, scope Scope, subject string, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful attempt.
	Success(ctx context.Context, scope Scope, subject string, ipHash []byte) error
	// Failure records a failed attempt and reports whether it triggered a block.
	Failure(ctx context.Context, scope Scope, subject string, ipHash []byte) (bool, time.Duration, error)
}

// Policy is the sliding-window lockout configuration shared by implementations.
type Policy struct {
	Window   time.Duration
	MaxFails int
	BlockFor time.Duration
}

// DefaultPolicy blocks for 15 minutes after 5 failures within 15 minutes.
func DefaultPolicy() Policy {
	return Policy{Window: 15 * time.Minute, MaxFails: 5, BlockFor: 15 * time.Minute}
}

// HashIP returns a stable hash for an IP string to avoid storing raw addresses.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}
