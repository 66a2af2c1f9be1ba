// Package grpcserver exposes the account API over gRPC.
package grpcserver

import (
	"context"
	"errors"
	"net"

	"github.com/gofrs/uuid/v5"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/gk-unlock/internal/auth"
	"github.com/and161185/gk-unlock/internal/convert"
	"github.com/and161185/gk-unlock/internal/errs"
	"github.com/and161185/gk-unlock/internal/rpc"
	"github.com/and161185/gk-unlock/internal/service"
)

// Server wires the account service into gRPC handlers.
type Server struct {
	accounts service.AccountService
	tokens   *auth.Tokens
}

var _ rpc.AccountsServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(accounts service.AccountService, tokens *auth.Tokens) *Server {
	return &Server{accounts: accounts, tokens: tokens}
}

// Prelogin returns KDF parameters and salt for a username.
func (s *Server) Prelogin(ctx context.Context, req *rpc.PreloginRequest) (*rpc.PreloginResponse, error) {
	if req.Username == "" {
		return nil, status.Error(codes.InvalidArgument, "empty username")
	}
	p, err := s.accounts.Prelogin(ctx, req.Username)
	if err != nil {
		return nil, statusFrom("prelogin", err)
	}
	return convert.ToWirePrelogin(p), nil
}

// Register creates a new user account.
func (s *Server) Register(ctx context.Context, req *rpc.RegisterRequest) (*rpc.RegisterResponse, error) {
	if req.Username == "" || req.Authentication.MasterPasswordAuthenticationHash == "" {
		return nil, status.Error(codes.InvalidArgument, "empty username/hash")
	}
	r, err := convert.FromWireRegister(req)
	if err != nil {
		return nil, statusFrom("register", err)
	}
	userID, err := s.accounts.Register(ctx, r)
	if err != nil {
		return nil, statusFrom("register", err)
	}
	return &rpc.RegisterResponse{UserID: userID.String()}, nil
}

// remoteIP is the peer host without the port, so the limiter keys on the address
// rather than on one connection.
func remoteIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// Login authenticates a user and returns a token plus the unlock data.
func (s *Server) Login(ctx context.Context, req *rpc.LoginRequest) (*rpc.LoginResponse, error) {
	res, err := s.accounts.LoginWithIP(ctx, req.Username, req.MasterPasswordHash, remoteIP(ctx))
	if err != nil {
		return nil, statusFrom("login", err)
	}
	return convert.ToWireLogin(res), nil
}

// PostKdf rotates the caller's KDF parameters.
func (s *Server) PostKdf(ctx context.Context, req *rpc.KdfRequest) (*rpc.Empty, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	r, err := convert.FromWireKdf(req)
	if err != nil {
		return nil, statusFrom("kdf", err)
	}
	if err := s.accounts.UpdateKdf(ctx, userID, r, remoteIP(ctx)); err != nil {
		return nil, statusFrom("kdf", err)
	}
	return &rpc.Empty{}, nil
}

// userIDFromCtx prefers the id set by AuthUnary and falls back to the bearer
// token in the incoming metadata.
func (s *Server) userIDFromCtx(ctx context.Context) (uuid.UUID, error) {
	if id, ok := auth.UserFrom(ctx); ok {
		return id, nil
	}
	if s.tokens == nil {
		return uuid.Nil, errs.ErrUnauthorized
	}
	tok, err := bearerTokenFromMD(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	return s.tokens.Parse(tok)
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		if t, err := auth.BearerToken(v); err == nil {
			return t, nil
		}
	}
	return "", errors.New("no bearer token")
}

// statusFrom maps service sentinels onto gRPC codes. Unknown errors are not echoed
// back to the client.
func statusFrom(op string, err error) error {
	switch {
	case errors.Is(err, errs.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "bad credentials")
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	case errors.Is(err, errs.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, "already exists")
	case errors.Is(err, errs.ErrVersionConflict):
		return status.Error(codes.FailedPrecondition, "version conflict")
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, op+": canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, op+": deadline exceeded")
	default:
		return status.Error(codes.Internal, op+": internal error")
	}
}

// ProtectedMethods need a valid bearer token.
var ProtectedMethods = map[string]bool{
	rpc.MethodPostKdf: true,
}
