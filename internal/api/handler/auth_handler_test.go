package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"credit-engine/internal/api/handler"
	"credit-engine/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authTestConfig() config.Config {
	var cfg config.Config
	cfg.Server.Auth.JWTSecret = "test-secret"
	return cfg
}

func TestGenerateBearerToken(t *testing.T) {
	t.Run("issues a signed token", func(t *testing.T) {
		h := handler.NewAuthHandler(authTestConfig(), testLoggerHandler())

		req := httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewReader([]byte(`{"username":"ops"}`)))
		rec := httptest.NewRecorder()

		h.GenerateBearerToken(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.True(t, strings.HasPrefix(resp["token"], "Bearer "))

		raw := strings.TrimPrefix(resp["token"], "Bearer ")
		parsed, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
			return []byte("test-secret"), nil
		})
		require.NoError(t, err)
		assert.True(t, parsed.Valid)

		claims, ok := parsed.Claims.(jwt.MapClaims)
		require.True(t, ok)
		assert.Equal(t, "ops", claims["username"])
	})

	t.Run("missing username", func(t *testing.T) {
		h := handler.NewAuthHandler(authTestConfig(), testLoggerHandler())

		req := httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewReader([]byte(`{}`)))
		rec := httptest.NewRecorder()

		h.GenerateBearerToken(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		h := handler.NewAuthHandler(authTestConfig(), testLoggerHandler())

		req := httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewReader([]byte(`{`)))
		rec := httptest.NewRecorder()

		h.GenerateBearerToken(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
