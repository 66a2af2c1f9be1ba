// Package restserver exposes the account API as JSON over HTTP.
package restserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/and161185/gk-unlock/internal/auth"
	"github.com/and161185/gk-unlock/internal/convert"
	"github.com/and161185/gk-unlock/internal/errs"
	"github.com/and161185/gk-unlock/internal/rpc"
	"github.com/and161185/gk-unlock/internal/service"
)

const maxBody = 64 << 10

// Server serves the account API over HTTP.
type Server struct {
	accounts service.AccountService
	tokens   *auth.Tokens
	log      *zap.Logger
}

// New constructs a REST server with injected services.
func New(accounts service.AccountService, tokens *auth.Tokens, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{accounts: accounts, tokens: tokens, log: log}
}

// Router returns the mux with all routes and middleware attached.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.recoverMW, s.loggingMW)
	r.HandleFunc(rpc.PathHealth, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.HandleFunc(rpc.PathPrelogin, s.prelogin).Methods(http.MethodPost)
	r.HandleFunc(rpc.PathRegister, s.register).Methods(http.MethodPost)
	r.HandleFunc(rpc.PathLogin, s.login).Methods(http.MethodPost)
	r.Handle(rpc.PathKdf, s.requireAuth(http.HandlerFunc(s.kdf))).Methods(http.MethodPost)
	return r
}

func (s *Server) prelogin(w http.ResponseWriter, r *http.Request) {
	var req rpc.PreloginRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := s.accounts.Prelogin(r.Context(), req.Username)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToWirePrelogin(p))
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req rpc.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	in, err := convert.FromWireRegister(&req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := s.accounts.Register(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rpc.RegisterResponse{UserID: id.String()})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req rpc.LoginRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.accounts.LoginWithIP(r.Context(), req.Username, req.MasterPasswordHash, clientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToWireLogin(res))
}

// requireAuth verifies the bearer token and puts the user on the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, err := auth.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		userID, err := s.tokens.Parse(tok)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), userID)))
	})
}

func (s *Server) kdf(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserFrom(r.Context())
	if !ok {
		s.fail(w, r, errs.ErrUnauthorized)
		return
	}
	var req rpc.KdfRequest
	if !decode(w, r, &req) {
		return
	}
	in, err := convert.FromWireKdf(&req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.accounts.UpdateKdf(r.Context(), userID, in, clientIP(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// clientIP is the TCP peer. Forwarding headers are not trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, rpc.ErrorResponse{Error: "bad request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps service sentinels onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, errs.ErrVersionConflict):
		return http.StatusPreconditionFailed
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusFor(err)
	msg := http.StatusText(code)
	if code == http.StatusBadRequest {
		msg = err.Error()
	}
	if code == http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, code, rpc.ErrorResponse{Error: msg})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMW(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)
		// metadata only, never payloads
		s.log.Info("http",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("code", sw.code),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", r.RemoteAddr),
		)
	})
}

func (s *Server) recoverMW(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic",
					zap.Any("reason", rec),
					zap.ByteString("stack", debug.Stack()),
					zap.String("path", r.URL.Path),
				)
				writeJSON(w, http.StatusInternalServerError, rpc.ErrorResponse{Error: "internal"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
