package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestNewRouterDoesNotPanic guards against gin's wildcard-name conflict
// panic (two routes under the same path prefix registering different
// wildcard names for the same segment) by actually building the route tree
// and serving a request through it.
func TestNewRouterDoesNotPanic(t *testing.T) {
	require.NotPanics(t, func() {
		router := NewRouter(&Deps{Pools: &healthOnlyPools{}, Clock: func() int64 { return 0 }}, Config{Environment: "test"})
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	})
}

func TestHealthReportsUnhealthyOnPoolError(t *testing.T) {
	router := NewRouter(&Deps{Pools: &healthOnlyPools{err: errBoom}, Clock: func() int64 { return 0 }}, Config{Environment: "test"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAuthMiddlewareRejectsMissingBearerToken(t *testing.T) {
	router := NewRouter(&Deps{Pools: &healthOnlyPools{}, Clock: func() int64 { return 0 }}, Config{Environment: "test", AuthToken: "secret"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	req.Header.Set("X-Org-Id", "org-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTenantMiddlewareRequiresOrgHeader(t *testing.T) {
	router := NewRouter(&Deps{Pools: &healthOnlyPools{}, Clock: func() int64 { return 0 }}, Config{Environment: "test", AuthToken: "secret"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}
