package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/gk-unlock/internal/api"
	"github.com/and161185/gk-unlock/internal/api/grpcapi"
	"github.com/and161185/gk-unlock/internal/api/httpapi"
	"github.com/and161185/gk-unlock/internal/config"
	"github.com/and161185/gk-unlock/internal/keys"
	"github.com/and161185/gk-unlock/internal/sdk"
	"github.com/and161185/gk-unlock/internal/state"
	"github.com/and161185/gk-unlock/internal/state/filestore"
	"github.com/and161185/gk-unlock/internal/state/memstore"
	"github.com/and161185/gk-unlock/internal/state/redisstore"
)

// app is one client process: a fresh memory tier over the configured disk tier and
// the key services on top of it.
type app struct {
	log      *zap.Logger
	tokens   *keys.TokenStore
	accounts *keys.AccountServiceImpl
	lock     *keys.LockServiceImpl
	pins     *keys.PinServiceImpl
	pinState *keys.PinStateServiceImpl
	master   *keys.MasterPasswordServiceImpl
	kdf      *keys.ChangeKdfServiceImpl

	in  *bufio.Reader
	out io.Writer
	// readSecret reads without echo when stdin is a terminal.
	readSecret func(prompt string) (string, error)

	close func()
}

// apiFactory builds the remote client once the token source exists.
type apiFactory func(tokens api.TokenSource) (keys.AccountsAPI, func(), error)

func newApp(disk state.Store, mkAPI apiFactory, log *zap.Logger, in io.Reader, out io.Writer) (*app, error) {
	if log == nil {
		log = zap.NewNop()
	}
	p := state.NewProvider(memstore.New(), disk, log.Named("state"))
	crypto := sdk.NewClient()
	tokens := keys.NewTokenStore(p)

	remote, closeAPI, err := mkAPI(tokens)
	if err != nil {
		return nil, err
	}

	pinState := keys.NewPinStateService(p, log)
	master := keys.NewMasterPasswordService(p, crypto, log)
	pins := keys.NewPinService(pinState, crypto, log)
	lock := keys.NewLockService(p, crypto, master, pins, log)

	a := &app{
		log:      log,
		tokens:   tokens,
		accounts: keys.NewAccountService(p, remote, crypto, master, lock, tokens, log),
		lock:     lock,
		pins:     pins,
		pinState: pinState,
		master:   master,
		kdf:      keys.NewChangeKdfService(remote, crypto, master, log),
		in:       bufio.NewReader(in),
		out:      out,
		close:    closeAPI,
	}
	a.readSecret = func(prompt string) (string, error) { return readSecret(a.in, a.out, prompt) }
	return a, nil
}

// openApp wires the configured disk tier and transport.
func openApp(ctx context.Context, cfg config.Client, log *zap.Logger, in io.Reader, out io.Writer) (*app, error) {
	disk, closeDisk, err := openDisk(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a, err := newApp(disk, remoteFactory(cfg), log, in, out)
	if err != nil {
		closeDisk()
		return nil, err
	}
	closeAPI := a.close
	a.close = func() { closeAPI(); closeDisk() }
	return a, nil
}

func openDisk(ctx context.Context, cfg config.Client) (state.Store, func(), error) {
	switch cfg.StateBackend {
	case config.StateRedis:
		rdb, err := redisstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return redisstore.New(rdb, "gk:state:"), func() { _ = rdb.Close() }, nil
	default:
		fs, err := filestore.Open(cfg.StatePath())
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	}
}

func remoteFactory(cfg config.Client) apiFactory {
	return func(tokens api.TokenSource) (keys.AccountsAPI, func(), error) {
		if cfg.Transport == config.TransportHTTP {
			hc, err := httpapi.NewHTTPClient(cfg.CAFile, cfg.SkipVerify)
			if err != nil {
				return nil, nil, err
			}
			return httpapi.New(baseURL(cfg), hc, tokens), func() {}, nil
		}
		cc, err := grpcapi.Dial(cfg.Server, grpcapi.TLSOptions{
			Plaintext:  cfg.Plaintext,
			CAFile:     cfg.CAFile,
			SkipVerify: cfg.SkipVerify,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("dial %s: %w", cfg.Server, err)
		}
		return grpcapi.New(cc, tokens), func() { _ = cc.Close() }, nil
	}
}

// baseURL adds a scheme to a bare host:port.
func baseURL(cfg config.Client) string {
	if strings.Contains(cfg.Server, "://") {
		return cfg.Server
	}
	if cfg.Plaintext {
		return "http://" + cfg.Server
	}
	return "https://" + cfg.Server
}
