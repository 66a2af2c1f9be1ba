// Package api holds what the REST and gRPC account clients share.
package api

import (
	"context"
	"fmt"
)

// TokenSource yields the bearer token for authenticated calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken always returns tok.
func StaticToken(tok string) TokenSource {
	return TokenFunc(func(context.Context) (string, error) { return tok, nil })
}

// RemoteError is a failure reported by the server. Kind is the matching sentinel
// from errs, or nil when the server's answer has no local equivalent.
type RemoteError struct {
	Op      string
	Kind    error
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: server: %s", e.Op, e.Message)
}

func (e *RemoteError) Unwrap() error { return e.Kind }
