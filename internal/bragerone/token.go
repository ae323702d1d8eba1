package bragerone

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// refreshMargin is how long before expiry a token is treated as expired.
const refreshMargin = 60 * time.Second

var ErrTokenNotFound = errors.New("token not found")

// Token is a backend session credential.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	ObjectIDs    []int64   `json:"objects,omitempty"`
}

// Valid reports whether the token can be used at now. Tokens without a
// known expiry are trusted until the backend rejects them.
func (t *Token) Valid(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(refreshMargin).Before(t.ExpiresAt)
}

// TokenStore persists backend tokens between restarts, keyed by account.
type TokenStore interface {
	LoadToken(ctx context.Context, account string) (*Token, error)
	SaveToken(ctx context.Context, account string, token *Token) error
	DeleteToken(ctx context.Context, account string) error
}

type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]Token)}
}

func (m *MemoryTokenStore) LoadToken(ctx context.Context, account string) (*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[account]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return &t, nil
}

func (m *MemoryTokenStore) SaveToken(ctx context.Context, account string, token *Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[account] = *token
	return nil
}

func (m *MemoryTokenStore) DeleteToken(ctx context.Context, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, account)
	return nil
}

// loginResponse is the body of POST /v1/auth/user.
type loginResponse struct {
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
	Type         string          `json:"type"`
	ExpiresAt    json.RawMessage `json:"expiresAt"`
	Objects      []int64         `json:"objects"`
}

func (r loginResponse) token() (*Token, error) {
	if r.AccessToken == "" {
		return nil, errors.New("login response without access token")
	}
	t := &Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.Type,
		ObjectIDs:    r.Objects,
	}
	if t.TokenType == "" {
		t.TokenType = "Bearer"
	}
	if exp, ok := parseExpiry(r.ExpiresAt); ok {
		t.ExpiresAt = exp
	} else if exp, ok := jwtExpiry(r.AccessToken); ok {
		t.ExpiresAt = exp
	}
	return t, nil
}

// parseExpiry accepts an RFC 3339 string or unix seconds.
func parseExpiry(raw json.RawMessage) (time.Time, bool) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return time.Time{}, false
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, true
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0), true
	}
	return time.Time{}, false
}

// jwtExpiry reads the exp claim without verifying the signature; the
// backend remains the authority on validity.
func jwtExpiry(access string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
