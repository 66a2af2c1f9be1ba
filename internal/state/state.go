// Package state is the per-user key-value state layer: key definitions bound to a
// storage tier, clear-on-lock/logout lifecycles and change notification.
package state

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
)

// Location is the storage tier a key lives in.
type Location int

const (
	// Memory is process-local and dies with the process.
	Memory Location = iota
	// Disk survives restarts.
	Disk
)

func (l Location) String() string {
	switch l {
	case Memory:
		return "memory"
	case Disk:
		return "disk"
	default:
		return fmt.Sprintf("Location(%d)", int(l))
	}
}

// ClearEvent is a lifecycle event on which keys are dropped.
type ClearEvent string

const (
	ClearOnLock   ClearEvent = "lock"
	ClearOnLogout ClearEvent = "logout"
)

// KeyDefinition names one piece of state and where it is kept.
type KeyDefinition struct {
	Namespace string
	Key       string
	Location  Location
	ClearOn   []ClearEvent
}

// clearsOn reports whether the key is dropped on ev.
func (d KeyDefinition) clearsOn(ev ClearEvent) bool {
	for _, e := range d.ClearOn {
		if e == ev {
			return true
		}
	}
	return false
}

// StorageKey is the flat key in the backing store. uuid.Nil addresses global state.
func (d KeyDefinition) StorageKey(userID uuid.UUID) string {
	if userID == uuid.Nil {
		return "global_" + d.Namespace + "_" + d.Key
	}
	return "user_" + userID.String() + "_" + d.Namespace + "_" + d.Key
}

// Store is one storage tier. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the stored value and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key.
	Set(ctx context.Context, key string, value []byte) error
	// SetMany stores all values or none of them.
	SetMany(ctx context.Context, values map[string][]byte) error
	// Delete removes all keys in one operation; missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
}
