package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ezywork/internal/config"
)

func preflight(t *testing.T, mw func(http.Handler) http.Handler, origin string) *httptest.ResponseRecorder {
	t.Helper()
	require.NotNil(t, mw)
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodOptions, "/problems/1/accept", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCORSDisabledWithoutOrigins(t *testing.T) {
	assert.Nil(t, CORS(config.Config{}))
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	mw := CORS(config.Config{
		CORSAllowedOrigins:   []string{"https://app.ezywork.test"},
		CORSAllowCredentials: true,
	})

	rec := preflight(t, mw, "https://app.ezywork.test")
	assert.Equal(t, "https://app.ezywork.test", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = preflight(t, mw, "https://evil.test")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcardDropsCredentials(t *testing.T) {
	mw := CORS(config.Config{
		CORSAllowedOrigins:   []string{"*"},
		CORSAllowCredentials: true,
	})

	rec := preflight(t, mw, "https://anywhere.test")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}
