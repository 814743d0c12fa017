package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-commerce-sync/internal/config"
	"ms-commerce-sync/internal/logger"
)

func TestSharedSecretMiddleware(t *testing.T) {
	mw, err := Middleware(config.AdminConfig{JWTSecret: "test-secret"}, logger.NewSilent())
	require.NoError(t, err)

	var gotSubject string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = Subject(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	token, err := IssueSharedSecretToken("ops@example.com", "test-secret", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/audits", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops@example.com", gotSubject)
}

func TestSharedSecretMiddlewareRejections(t *testing.T) {
	mw, err := Middleware(config.AdminConfig{JWTSecret: "test-secret"}, logger.NewSilent())
	require.NoError(t, err)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// No header.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/audits", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Wrong secret.
	token, err := IssueSharedSecretToken("ops@example.com", "other-secret", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/audits", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Expired token.
	token, err = IssueSharedSecretToken("ops@example.com", "test-secret", -time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/audits", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRequiresConfiguration(t *testing.T) {
	_, err := Middleware(config.AdminConfig{}, logger.NewSilent())
	assert.Error(t, err)
}
