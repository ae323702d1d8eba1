package auth

import (
	"net/http"
	"strings"
	"sync"

	"github.com/KevinKickass/BragerSync/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// KeyAuth guards the local API with a single bearer key. Argon2 is slow on
// purpose, so keys that verified once are remembered by fingerprint.
type KeyAuth struct {
	hash   string
	hasher *KeyHasher
	logger *zap.Logger

	mu       sync.RWMutex
	verified map[string]struct{}
}

// NewKeyAuth returns nil when hash is empty, which leaves the API open.
func NewKeyAuth(hash string, logger *zap.Logger) *KeyAuth {
	if hash == "" {
		return nil
	}
	return &KeyAuth{
		hash:     hash,
		hasher:   NewKeyHasher(),
		logger:   logger,
		verified: make(map[string]struct{}),
	}
}

// Check reports whether key matches the configured hash.
func (a *KeyAuth) Check(key string) bool {
	if a == nil {
		return true
	}
	if key == "" {
		return false
	}

	fp := fingerprint(key)
	a.mu.RLock()
	_, ok := a.verified[fp]
	a.mu.RUnlock()
	if ok {
		return true
	}

	ok, err := a.hasher.Verify(key, a.hash)
	if err != nil {
		a.logger.Error("API key hash is unusable", zap.Error(err))
		return false
	}
	if ok {
		a.mu.Lock()
		a.verified[fp] = struct{}{}
		a.mu.Unlock()
	}
	return ok
}

// Middleware enforces "Authorization: Bearer <key>". A nil KeyAuth lets
// every request through.
func (a *KeyAuth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a == nil {
			c.Next()
			return
		}

		key, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			// browsers cannot set headers on websocket upgrades
			key = c.Query("token")
		}

		if !a.Check(key) {
			a.logger.Warn("Rejected API request",
				zap.String("path", c.FullPath()),
				zap.String("client_ip", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse(types.CodeUnauthorized, "invalid or missing API key", nil))
			return
		}

		c.Next()
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
