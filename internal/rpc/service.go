package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "gkunlock.v1.Accounts"

// Full method names.
const (
	MethodPrelogin = "/" + ServiceName + "/Prelogin"
	MethodRegister = "/" + ServiceName + "/Register"
	MethodLogin    = "/" + ServiceName + "/Login"
	MethodPostKdf  = "/" + ServiceName + "/PostKdf"
)

// AccountsServer is implemented by the account server.
type AccountsServer interface {
	Prelogin(context.Context, *PreloginRequest) (*PreloginResponse, error)
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	PostKdf(context.Context, *KdfRequest) (*Empty, error)
}

// RegisterAccountsServer registers srv on s.
func RegisterAccountsServer(s grpc.ServiceRegistrar, srv AccountsServer) {
	s.RegisterService(&AccountsServiceDesc, srv)
}

func unary[Req any, Resp any](method string, call func(AccountsServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AccountsServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AccountsServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// AccountsServiceDesc describes the Accounts service for grpc.Server.
var AccountsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AccountsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Prelogin", Handler: unary(MethodPrelogin, AccountsServer.Prelogin)},
		{MethodName: "Register", Handler: unary(MethodRegister, AccountsServer.Register)},
		{MethodName: "Login", Handler: unary(MethodLogin, AccountsServer.Login)},
		{MethodName: "PostKdf", Handler: unary(MethodPostKdf, AccountsServer.PostKdf)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gkunlock/v1/accounts",
}

// AccountsClient calls the Accounts service with the JSON codec.
type AccountsClient struct {
	cc grpc.ClientConnInterface
}

// NewAccountsClient wraps a client connection.
func NewAccountsClient(cc grpc.ClientConnInterface) *AccountsClient {
	return &AccountsClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(Codec)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AccountsClient) Prelogin(ctx context.Context, in *PreloginRequest, opts ...grpc.CallOption) (*PreloginResponse, error) {
	return invoke[PreloginResponse](ctx, c.cc, MethodPrelogin, in, opts)
}

func (c *AccountsClient) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	return invoke[RegisterResponse](ctx, c.cc, MethodRegister, in, opts)
}

func (c *AccountsClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	return invoke[LoginResponse](ctx, c.cc, MethodLogin, in, opts)
}

func (c *AccountsClient) PostKdf(ctx context.Context, in *KdfRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, MethodPostKdf, in, opts)
}
