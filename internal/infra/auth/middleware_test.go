package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/pixel-gateway/internal/domain"
)

type stubValidator struct {
	claims *domain.CustomClaims
	err    error
}

func (s stubValidator) VerifyToken(string) (*domain.CustomClaims, error) {
	return s.claims, s.err
}

// TestMiddlewarePropagatesIdentity: личность и скоупы оператора доступны
// хендлеру через типизированные ключи контекста.
func TestMiddlewarePropagatesIdentity(t *testing.T) {
	mw := NewMiddleware(stubValidator{claims: &domain.CustomClaims{
		UserID: "op-1",
		Scopes: map[string]bool{"admin": true},
	}}, zap.NewNop())

	var gotID string
	var gotScopes map[string]bool
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = UserIDFromContext(r.Context())
		gotScopes = ScopesFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/geo", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "op-1", gotID)
	assert.True(t, gotScopes["admin"])
}

// TestMiddlewareRejectsBadToken: без валидного токена — 401, хендлер не вызывается.
func TestMiddlewareRejectsBadToken(t *testing.T) {
	mw := NewMiddleware(stubValidator{err: errors.New("invalid token")}, zap.NewNop())

	called := false
	h := mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	for _, header := range []string{"", "Bearer garbage"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/geo", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	assert.False(t, called)
}

// TestIdentityAbsentWithoutMiddleware: пустой контекст дает нулевые значения
func TestIdentityAbsentWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, UserIDFromContext(req.Context()))
	assert.Nil(t, ScopesFromContext(req.Context()))
}
