package auth

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"
)

func TestUserContext(t *testing.T) {
	t.Parallel()

	if _, ok := UserFrom(context.Background()); ok {
		t.Fatal("empty ctx must not carry a user")
	}

	want := uuid.Must(uuid.NewV4())
	got, ok := UserFrom(WithUser(context.Background(), want))
	if !ok || got != want {
		t.Fatalf("got %s %v, want %s", got, ok, want)
	}

	if _, ok := UserFrom(WithUser(context.Background(), uuid.Nil)); ok {
		t.Fatal("nil id must not authenticate")
	}

	// a string under an unrelated key is invisible
	type otherKey string
	ctx := context.WithValue(context.Background(), otherKey("user"), want.String())
	if _, ok := UserFrom(ctx); ok {
		t.Fatal("foreign value must not be picked up")
	}
}
