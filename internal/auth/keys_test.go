package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func cheapHasher() *KeyHasher {
	return &KeyHasher{memory: 1024, iterations: 1, parallelism: 1, saltLength: 8, keyLength: 16}
}

func TestGenerateAndVerify(t *testing.T) {
	h := cheapHasher()

	key, hash, err := h.GenerateKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, keyPrefix))
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))

	ok, err := h.Verify(key, hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify(key+"x", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.Verify(key, "plain")
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	_, ok = BearerToken("Basic abc")
	assert.False(t, ok)
	_, ok = BearerToken("Bearer ")
	assert.False(t, ok)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	key, hash, err := cheapHasher().GenerateKey()
	require.NoError(t, err)

	keyAuth := NewKeyAuth(hash, zap.NewNop())
	router := gin.New()
	router.GET("/x", keyAuth.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	do := func(header, query string) int {
		req := httptest.NewRequest(http.MethodGet, "/x"+query, nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, do("", ""))
	assert.Equal(t, http.StatusUnauthorized, do("Bearer wrong", ""))
	assert.Equal(t, http.StatusNoContent, do("Bearer "+key, ""))
	assert.Equal(t, http.StatusNoContent, do("", "?token="+key))
	assert.Len(t, keyAuth.verified, 1)
}

func TestNilKeyAuthIsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var keyAuth *KeyAuth = NewKeyAuth("", zap.NewNop())
	assert.Nil(t, keyAuth)
	assert.True(t, keyAuth.Check(""))

	router := gin.New()
	router.GET("/x", keyAuth.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
