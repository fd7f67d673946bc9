package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kavindya12/soa-microservices-platform/internal/domain"
	"github.com/kavindya12/soa-microservices-platform/internal/http/middleware"
)

type fakeVerifier struct {
	principals map[string]*domain.Principal
}

func (f *fakeVerifier) Verify(ctx context.Context, token string) (*domain.Principal, error) {
	p, ok := f.principals[token]
	if !ok {
		return nil, errors.New("invalid")
	}
	return p, nil
}

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	auth := &middleware.Auth{Verifier: &fakeVerifier{principals: map[string]*domain.Principal{
		"reader": {Subject: "svc-a", Scopes: []string{"read"}, Type: domain.PrincipalService},
		"admin":  {Subject: "ops", Scopes: []string{"admin"}, Type: domain.PrincipalUser},
	}}}

	r := gin.New()
	r.Use(middleware.RequestLogger(zap.NewNop()))
	r.GET("/write", auth.Authenticate, middleware.RequireScope("write"), func(c *gin.Context) {
		principal, ok := middleware.GetPrincipal(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, principal.Subject)
	})
	return r
}

func TestAuthenticateRejectsMissingOrInvalidToken(t *testing.T) {
	r := newAuthRouter()

	for _, header := range []string{"", "Basic abc", "Bearer ", "Bearer unknown"} {
		req := httptest.NewRequest(http.MethodGet, "/write", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "missing_or_invalid_token", body["error"])
	}
}

func TestRequireScopeRejectsInsufficientScope(t *testing.T) {
	r := newAuthRouter()
	req := httptest.NewRequest(http.MethodGet, "/write", nil)
	req.Header.Set("Authorization", "Bearer reader")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "insufficient_scope", body["error"])
}

func TestRequireScopeAcceptsAdmin(t *testing.T) {
	r := newAuthRouter()
	req := httptest.NewRequest(http.MethodGet, "/write", nil)
	req.Header.Set("Authorization", "bearer admin")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ops", rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
