// Command gk-server starts the account server (gRPC and REST).
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/and161185/gk-unlock/internal/auth"
	"github.com/and161185/gk-unlock/internal/config"
	pkgcrypto "github.com/and161185/gk-unlock/internal/crypto"
	"github.com/and161185/gk-unlock/internal/limiter"
	"github.com/and161185/gk-unlock/internal/logging"
	"github.com/and161185/gk-unlock/internal/migrate"
	"github.com/and161185/gk-unlock/internal/repository/postgres"
	"github.com/and161185/gk-unlock/internal/rpc"
	grpcserver "github.com/and161185/gk-unlock/internal/server/grpc"
	restserver "github.com/and161185/gk-unlock/internal/server/rest"
	"github.com/and161185/gk-unlock/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownGrace = 5 * time.Second

// main parses configuration, runs migrations, and serves until SIGINT/SIGTERM.
func main() {
	cfg, err := config.LoadServer(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.GRPCAddr),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("limiter", cfg.Limiter),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Server, logger *zap.Logger) error {
	if err := migrate.Up(ctx, cfg.DSN, logger); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}

	db, pool, err := postgres.New(ctx, cfg.DSN, int32(cfg.MaxConns))
	if err != nil {
		return err
	}
	defer db.Close()

	lim, closeLim, err := newLimiter(ctx, cfg, pool)
	if err != nil {
		return err
	}
	defer closeLim()

	tokens := auth.NewTokens([]byte(cfg.JWTKey), cfg.AccessTTL)
	accounts := service.NewAccountService(
		postgres.NewUserRepo(db),
		tokens,
		pkgcrypto.NewHasher(pkgcrypto.DefaultParams),
		lim,
		logger.Named("accounts"),
	)

	// gRPC server with interceptors
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LoggingUnary(logger),
			grpcserver.AuthUnary(tokens, grpcserver.ProtectedMethods),
		),
	}
	if !cfg.Plaintext {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return fmt.Errorf("load TLS cert/key: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("serving without TLS")
	}
	gs := grpc.NewServer(opts...)
	rpc.RegisterAccountsServer(gs, grpcserver.New(accounts, tokens))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr), zap.Bool("tls", !cfg.Plaintext))
		errCh <- gs.Serve(lis)
	}()

	var hsrv *http.Server
	if cfg.HTTPAddr != "" {
		hsrv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           restserver.New(accounts, tokens, logger.Named("http")).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.Bool("tls", !cfg.Plaintext))
			var err error
			if cfg.Plaintext {
				err = hsrv.ListenAndServe()
			} else {
				err = hsrv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
			}
			if !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	// Wait for stop
	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	hs.Shutdown()
	if hsrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		_ = hsrv.Shutdown(sctx)
		cancel()
	}
	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		gs.Stop()
	}
	return serveErr
}

func newLimiter(ctx context.Context, cfg config.Server, pool *pgxpool.Pool) (limiter.Limiter, func(), error) {
	policy := limiter.Policy{Window: cfg.LimitWindow, MaxFails: cfg.LimitMaxFails, BlockFor: cfg.LimitBlockFor}
	if cfg.Limiter != config.LimiterRedis {
		return limiter.NewPG(pool, policy), func() {}, nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return limiter.NewRedis(rdb, "gk:limit:", policy), func() { _ = rdb.Close() }, nil
}
