package auth

import (
	"context"

	"github.com/gofrs/uuid/v5"
)

type userKey struct{}

// WithUser returns ctx carrying the authenticated user id. Transports set it after
// the bearer token verified.
func WithUser(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userKey{}, id)
}

// UserFrom returns the user id set by WithUser. uuid.Nil never counts as
// authenticated.
func UserFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userKey{}).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}
