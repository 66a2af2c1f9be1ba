package grpcapi

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/gk-unlock/internal/api"
	"github.com/and161185/gk-unlock/internal/auth"
	"github.com/and161185/gk-unlock/internal/errs"
	"github.com/and161185/gk-unlock/internal/model"
	"github.com/and161185/gk-unlock/internal/rpc"
	grpcserver "github.com/and161185/gk-unlock/internal/server/grpc"
)

type fakeAccounts struct {
	id       uuid.UUID
	loginErr error
	kdfFor   uuid.UUID
}

func (f *fakeAccounts) Prelogin(_ context.Context, username string) (model.Prelogin, error) {
	return model.Prelogin{Kdf: model.DefaultKdfConfig(), Salt: username}, nil
}

func (f *fakeAccounts) Register(context.Context, model.RegisterRequest) (uuid.UUID, error) {
	return f.id, nil
}

func (f *fakeAccounts) LoginWithIP(context.Context, string, string, string) (model.LoginResult, error) {
	if f.loginErr != nil {
		return model.LoginResult{}, f.loginErr
	}
	return model.LoginResult{
		Tokens: model.Tokens{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Minute)},
		UserID: f.id,
	}, nil
}

func (f *fakeAccounts) UpdateKdf(_ context.Context, userID uuid.UUID, _ model.KdfRequest, _ string) error {
	f.kdfFor = userID
	return nil
}

func startServer(t *testing.T, a *fakeAccounts) (*grpc.ClientConn, *auth.Tokens) {
	t.Helper()
	tokens := auth.NewTokens([]byte("secret"), time.Minute)
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcserver.AuthUnary(tokens, grpcserver.ProtectedMethods)))
	rpc.RegisterAccountsServer(gs, grpcserver.New(a, tokens))
	go func() { _ = gs.Serve(lis) }()
	//nolint:staticcheck // DialContext is supported through 1.x; migrate when grpc.NewClient is stable
	cc, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close(); gs.Stop(); _ = lis.Close() })
	return cc, tokens
}

func TestClient_RoundTrip(t *testing.T) {
	a := &fakeAccounts{id: uuid.Must(uuid.NewV4())}
	cc, tokens := startServer(t, a)
	tok, _, err := tokens.Issue(a.id)
	require.NoError(t, err)
	c := New(cc, api.StaticToken(tok))
	ctx := context.Background()

	p, err := c.Prelogin(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "alice", p.Salt)

	id, err := c.Register(ctx, model.RegisterRequest{
		Username:       "alice",
		Authentication: model.MasterPasswordAuthenticationData{MasterPasswordAuthenticationHash: "h"},
	})
	require.NoError(t, err)
	require.Equal(t, a.id, id)

	res, err := c.Login(ctx, "alice", "h")
	require.NoError(t, err)
	require.Equal(t, a.id, res.UserID)

	require.NoError(t, c.PostKdf(ctx, model.KdfRequest{OldAuthenticationHash: "old"}))
	require.Equal(t, a.id, a.kdfFor)
}

func TestClient_MapsStatusCodes(t *testing.T) {
	a := &fakeAccounts{id: uuid.Must(uuid.NewV4()), loginErr: errs.ErrUnauthorized}
	cc, _ := startServer(t, a)
	c := New(cc, api.StaticToken("garbage"))
	ctx := context.Background()

	_, err := c.Login(ctx, "alice", "h")
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	err = c.PostKdf(ctx, model.KdfRequest{})
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	require.Equal(t, uuid.Nil, a.kdfFor)

	_, err = c.Prelogin(ctx, "")
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestClient_NoTokenSource(t *testing.T) {
	cc, _ := startServer(t, &fakeAccounts{})
	err := New(cc, nil).PostKdf(context.Background(), model.KdfRequest{})
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func Test_remoteError(t *testing.T) {
	err := remoteError("op", status.Error(codes.FailedPrecondition, "version conflict"))
	require.ErrorIs(t, err, errs.ErrVersionConflict)

	err = remoteError("op", status.Error(codes.Internal, "boom"))
	var re *api.RemoteError
	require.True(t, errors.As(err, &re))
	require.Nil(t, re.Kind)

	plain := errors.New("dial failed")
	require.ErrorIs(t, remoteError("op", plain), plain)
}

func Test_transportCreds(t *testing.T) {
	c, err := transportCreds(TLSOptions{Plaintext: true})
	require.NoError(t, err)
	require.Equal(t, "insecure", c.Info().SecurityProtocol)

	c, err = transportCreds(TLSOptions{})
	require.NoError(t, err)
	require.Equal(t, "tls", c.Info().SecurityProtocol)

	_, err = transportCreds(TLSOptions{CAFile: filepath.Join(t.TempDir(), "missing.pem")})
	require.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not pem"), 0o600))
	_, err = transportCreds(TLSOptions{CAFile: bad})
	require.Error(t, err)
}
