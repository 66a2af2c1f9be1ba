// Package httpapi is the REST client for the account server.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/gk-unlock/internal/api"
	"github.com/and161185/gk-unlock/internal/convert"
	"github.com/and161185/gk-unlock/internal/errs"
	"github.com/and161185/gk-unlock/internal/keys"
	"github.com/and161185/gk-unlock/internal/model"
	"github.com/and161185/gk-unlock/internal/rpc"
)

// Client calls the REST transport.
type Client struct {
	base   string
	hc     *http.Client
	tokens api.TokenSource
}

var _ keys.AccountsAPI = (*Client)(nil)

// New returns a client for baseURL. hc may be nil.
func New(baseURL string, hc *http.Client, tokens api.TokenSource) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), hc: hc, tokens: tokens}
}

func (c *Client) Prelogin(ctx context.Context, username string) (model.Prelogin, error) {
	var out rpc.PreloginResponse
	if err := c.do(ctx, "prelogin", rpc.PathPrelogin, false, rpc.PreloginRequest{Username: username}, &out); err != nil {
		return model.Prelogin{}, err
	}
	return convert.FromWirePrelogin(&out), nil
}

func (c *Client) Register(ctx context.Context, req model.RegisterRequest) (uuid.UUID, error) {
	var out rpc.RegisterResponse
	if err := c.do(ctx, "register", rpc.PathRegister, false, convert.ToWireRegister(req), &out); err != nil {
		return uuid.Nil, err
	}
	return convert.FromWireUserID(out.UserID)
}

func (c *Client) Login(ctx context.Context, username, authHash string) (model.LoginResult, error) {
	var out rpc.LoginResponse
	in := rpc.LoginRequest{Username: username, MasterPasswordHash: authHash}
	if err := c.do(ctx, "login", rpc.PathLogin, false, in, &out); err != nil {
		return model.LoginResult{}, err
	}
	return convert.FromWireLogin(&out)
}

func (c *Client) PostKdf(ctx context.Context, req model.KdfRequest) error {
	return c.do(ctx, "kdf", rpc.PathKdf, true, convert.ToWireKdf(req), nil)
}

func (c *Client) do(ctx context.Context, op, path string, authed bool, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authed {
		if c.tokens == nil {
			return fmt.Errorf("%s: %w: no token source", op, errs.ErrUnauthorized)
		}
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("%s: token: %w", op, err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return remoteError(op, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}

func remoteError(op string, resp *http.Response) error {
	var er rpc.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4<<10)).Decode(&er)
	msg := er.Error
	if msg == "" {
		msg = resp.Status
	}
	return &api.RemoteError{Op: op, Kind: kindFor(resp.StatusCode), Message: msg}
}

func kindFor(code int) error {
	switch code {
	case http.StatusBadRequest:
		return errs.ErrInvalidArgument
	case http.StatusUnauthorized:
		return errs.ErrUnauthorized
	case http.StatusTooManyRequests:
		return errs.ErrRateLimited
	case http.StatusConflict:
		return errs.ErrAlreadyExists
	case http.StatusPreconditionFailed:
		return errs.ErrVersionConflict
	case http.StatusNotFound:
		return errs.ErrNotFound
	default:
		return nil
	}
}
