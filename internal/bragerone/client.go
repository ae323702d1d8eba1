package bragerone

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/BragerSync/internal/command"
	"github.com/KevinKickass/BragerSync/internal/params"
	"github.com/KevinKickass/BragerSync/internal/state"
	"go.uber.org/zap"
)

const maxErrorBody = 256

type Config struct {
	APIURL         string
	WSURL          string
	Email          string
	Password       string
	Modules        []string
	RequestTimeout time.Duration
}

// Client talks to the BragerOne cloud: login, full-state prime, commands
// and the delta socket.
type Client struct {
	cfg    Config
	http   *http.Client
	tokens TokenStore
	book   AddressBook
	seq    *Sequencer
	logger *zap.Logger

	authMu sync.Mutex
	now    func() time.Time
}

func NewClient(cfg Config, tokens TokenStore, book AddressBook, logger *zap.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if tokens == nil {
		tokens = NewMemoryTokenStore()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		tokens: tokens,
		book:   book,
		seq:    &Sequencer{},
		logger: logger,
		now:    time.Now,
	}
}

// Login authenticates with the configured credentials and stores the token.
func (c *Client) Login(ctx context.Context) (*Token, error) {
	body := map[string]string{"email": c.cfg.Email, "password": c.cfg.Password}

	resp, err := c.send(ctx, http.MethodPost, "/v1/auth/user", body, "")
	if err != nil {
		return nil, &TransportError{Op: "login", Err: err, Timeout: errors.Is(err, context.DeadlineExceeded)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &TransportError{Op: "login", StatusCode: resp.StatusCode, Err: ErrUnauthorized}
	}
	if resp.StatusCode/100 != 2 {
		return nil, statusError("login", resp)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, &TransportError{Op: "login", Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	token, err := lr.token()
	if err != nil {
		return nil, &TransportError{Op: "login", Err: err}
	}

	if err := c.tokens.SaveToken(ctx, c.cfg.Email, token); err != nil {
		c.logger.Warn("Failed to persist backend token", zap.Error(err))
	}

	c.logger.Info("Logged in to BragerOne",
		zap.String("account", c.cfg.Email),
		zap.Time("expires_at", token.ExpiresAt))

	return token, nil
}

// accessToken returns a valid token, logging in when the stored one is
// missing or about to expire.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	token, err := c.tokens.LoadToken(ctx, c.cfg.Email)
	if err != nil && !errors.Is(err, ErrTokenNotFound) {
		c.logger.Warn("Failed to load stored token", zap.Error(err))
	}
	if token.Valid(c.now()) {
		return token.AccessToken, nil
	}

	token, err = c.Login(ctx)
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

func (c *Client) invalidateToken(ctx context.Context) {
	if err := c.tokens.DeleteToken(ctx, c.cfg.Email); err != nil {
		c.logger.Warn("Failed to drop rejected token", zap.Error(err))
	}
}

// Snapshot fetches the full parameter state of the configured modules.
func (c *Client) Snapshot(ctx context.Context) ([]state.Update, error) {
	body := map[string]any{"modules": c.cfg.Modules}

	data, err := c.authorized(ctx, "prime", http.MethodPost, "/v1/modules/parameters", body)
	if err != nil {
		return nil, err
	}

	rev := c.seq.Next()
	updates, unresolved, err := decodeSnapshot(data, c.book, rev)
	if err != nil {
		return nil, &TransportError{Op: "prime", Err: err}
	}

	c.logger.Info("Snapshot received",
		zap.Int("values", len(updates)),
		zap.Int("unresolved", unresolved),
		zap.Int64("revision", rev))

	return updates, nil
}

type directWriteBody struct {
	DevID     string `json:"devid"`
	Pool      string `json:"pool"`
	Parameter string `json:"parameter"`
	Value     any    `json:"value"`
}

type rawCommandBody struct {
	DevID   string `json:"devid"`
	Command string `json:"command"`
	Value   any    `json:"value"`
}

// Submit sends a resolved command. A 2xx response means the backend
// accepted it; the resulting value arrives later as a delta.
func (c *Client) Submit(ctx context.Context, cmd command.OutboundCommand) error {
	var body any
	switch cmd.Route {
	case params.RouteDirectWrite:
		body = directWriteBody{DevID: cmd.Module, Pool: cmd.Pool, Parameter: cmd.Parameter, Value: cmd.Value}
	case params.RouteRawCommand:
		body = rawCommandBody{DevID: cmd.Module, Command: cmd.Command, Value: cmd.Value}
	default:
		return &TransportError{Op: "submit command", Err: fmt.Errorf("unsupported route %s", cmd.Route)}
	}

	if _, err := c.authorized(ctx, "submit command", http.MethodPost, "/v1/modules/command", body); err != nil {
		return err
	}

	c.logger.Debug("Command accepted",
		zap.String("command_id", cmd.ID.String()),
		zap.Stringer("command", cmd))
	return nil
}

// authorized performs an authenticated request and returns the body of a
// 2xx response. A 401 drops the token and retries once with a fresh login.
func (c *Client) authorized(ctx context.Context, op, method, path string, body any) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		token, err := c.accessToken(ctx)
		if err != nil {
			return nil, AsTransportError(op, err)
		}

		resp, err := c.send(ctx, method, path, body, token)
		if err != nil {
			return nil, AsTransportError(op, err)
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			resp.Body.Close()
			c.logger.Info("Backend token rejected, logging in again", zap.String("op", op))
			c.invalidateToken(ctx)
			continue
		}
		if resp.StatusCode/100 != 2 {
			err := statusError(op, resp)
			resp.Body.Close()
			return nil, err
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, AsTransportError(op, err)
		}
		return data, nil
	}
}

func (c *Client) send(ctx context.Context, method, path string, body any, token string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.http.Do(req)
}

func statusError(op string, resp *http.Response) *TransportError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &TransportError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(data)),
	}
}
