package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rental-admin-sync/middleware/coordination/infra"
)

func TestRouter_TouchThenFetch(t *testing.T) {
	srv := httptest.NewServer(newRouter(newResources(), infra.NewStore(1000, 1000), zap.NewNop()))
	defer srv.Close()

	f, err := infra.NewHTTPFetcher(srv.Client(), srv.URL)
	require.NoError(t, err)

	ts, err := f.FetchTimestamp(context.Background(), "order-1")
	require.NoError(t, err)
	assert.True(t, ts.LastModified.IsZero(), "unknown resource reports null")

	before := time.Now().Add(-time.Second)
	resp, err := srv.Client().Post(srv.URL+"/api/resources/order-1/touch?by=Alice", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ts, err = f.FetchTimestamp(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", ts.ModifiedBy)
	assert.True(t, ts.LastModified.After(before))
}

func TestRouter_RateLimitRejectsWith429(t *testing.T) {
	h := newRouter(newResources(), infra.NewStore(0.02, 1), zap.NewNop())

	r1 := httptest.NewRequest(http.MethodGet, "/api/resources/x/last-modified", nil)
	r1.RemoteAddr = "10.0.0.1:1234"
	w1 := httptest.NewRecorder()
	h.ServeHTTP(w1, r1)
	assert.Equal(t, http.StatusOK, w1.Code)

	r2 := httptest.NewRequest(http.MethodGet, "/api/resources/x/last-modified", nil)
	r2.RemoteAddr = "10.0.0.1:1234"
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, r2)
	assert.Equal(t, http.StatusTooManyRequests, w2.Code)
	assert.Equal(t, "1", w2.Header().Get("Retry-After"))
}
