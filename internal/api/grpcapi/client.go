// Package grpcapi is the gRPC client for the account server.
package grpcapi

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/gofrs/uuid/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/and161185/gk-unlock/internal/api"
	"github.com/and161185/gk-unlock/internal/convert"
	"github.com/and161185/gk-unlock/internal/errs"
	"github.com/and161185/gk-unlock/internal/keys"
	"github.com/and161185/gk-unlock/internal/model"
	"github.com/and161185/gk-unlock/internal/rpc"
)

// Client calls the gRPC transport.
type Client struct {
	rpc    *rpc.AccountsClient
	tokens api.TokenSource
}

var _ keys.AccountsAPI = (*Client)(nil)

// New wraps an established connection.
func New(cc grpc.ClientConnInterface, tokens api.TokenSource) *Client {
	return &Client{rpc: rpc.NewAccountsClient(cc), tokens: tokens}
}

// TLSOptions selects transport security for Dial.
type TLSOptions struct {
	Plaintext  bool   // no TLS at all, for local development
	CAFile     string // empty means system roots
	SkipVerify bool
}

func transportCreds(o TLSOptions) (credentials.TransportCredentials, error) {
	switch {
	case o.Plaintext:
		return insecure.NewCredentials(), nil
	case o.SkipVerify:
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil //nolint:gosec // opt-in for self-signed dev certs
	case o.CAFile == "":
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(o.CAFile)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

// Dial connects to addr. The caller closes the returned connection.
func Dial(addr string, o TLSOptions) (*grpc.ClientConn, error) {
	creds, err := transportCreds(o)
	if err != nil {
		return nil, err
	}
	return grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
}

func (c *Client) Prelogin(ctx context.Context, username string) (model.Prelogin, error) {
	out, err := c.rpc.Prelogin(ctx, &rpc.PreloginRequest{Username: username})
	if err != nil {
		return model.Prelogin{}, remoteError("prelogin", err)
	}
	return convert.FromWirePrelogin(out), nil
}

func (c *Client) Register(ctx context.Context, req model.RegisterRequest) (uuid.UUID, error) {
	out, err := c.rpc.Register(ctx, convert.ToWireRegister(req))
	if err != nil {
		return uuid.Nil, remoteError("register", err)
	}
	return convert.FromWireUserID(out.UserID)
}

func (c *Client) Login(ctx context.Context, username, authHash string) (model.LoginResult, error) {
	out, err := c.rpc.Login(ctx, &rpc.LoginRequest{Username: username, MasterPasswordHash: authHash})
	if err != nil {
		return model.LoginResult{}, remoteError("login", err)
	}
	return convert.FromWireLogin(out)
}

func (c *Client) PostKdf(ctx context.Context, req model.KdfRequest) error {
	if c.tokens == nil {
		return fmt.Errorf("kdf: %w: no token source", errs.ErrUnauthorized)
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("kdf: token: %w", err)
	}
	_, err = c.rpc.PostKdf(ctx, convert.ToWireKdf(req), grpc.PerRPCCredentials(bearerCreds{token: tok}))
	if err != nil {
		return remoteError("kdf", err)
	}
	return nil
}

type bearerCreds struct{ token string }

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}

// RequireTransportSecurity is false so plaintext development servers still work.
func (b bearerCreds) RequireTransportSecurity() bool { return false }

func remoteError(op string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	var kind error
	switch st.Code() {
	case codes.InvalidArgument:
		kind = errs.ErrInvalidArgument
	case codes.Unauthenticated:
		kind = errs.ErrUnauthorized
	case codes.ResourceExhausted:
		kind = errs.ErrRateLimited
	case codes.AlreadyExists:
		kind = errs.ErrAlreadyExists
	case codes.FailedPrecondition:
		kind = errs.ErrVersionConflict
	case codes.NotFound:
		kind = errs.ErrNotFound
	case codes.Canceled:
		kind = context.Canceled
	case codes.DeadlineExceeded:
		kind = context.DeadlineExceeded
	}
	return &api.RemoteError{Op: op, Kind: kind, Message: st.Message()}
}
