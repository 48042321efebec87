package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestline/backoffice/pkg/contextkeys"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	limiter := NewRateLimiter(testRedis(t), &RateLimitConfig{
		RequestsPerWindow: 3,
		WindowDuration:    time.Minute,
	}, "test")

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(context.Background(), "org:org-1")
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err := limiter.Allow(context.Background(), "org:org-1")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	limiter := NewRateLimiter(testRedis(t), &RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Minute,
	}, "test")

	allowed, _ := limiter.Allow(context.Background(), "org:org-1")
	assert.True(t, allowed)
	allowed, _ = limiter.Allow(context.Background(), "org:org-1")
	assert.False(t, allowed)

	allowed, _ = limiter.Allow(context.Background(), "org:org-2")
	assert.True(t, allowed)
}

// A Redis outage must not take the API down: requests are allowed.
func TestRateLimiter_FailOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	limiter := NewRateLimiter(client, nil, "test")

	allowed, err := limiter.Allow(context.Background(), "org:org-1")
	assert.Error(t, err)
	assert.True(t, allowed)
}

func TestRateLimiter_Remaining(t *testing.T) {
	limiter := NewRateLimiter(testRedis(t), &RateLimitConfig{
		RequestsPerWindow: 5,
		WindowDuration:    time.Minute,
	}, "test")

	remaining, err := limiter.Remaining(context.Background(), "org:org-1")
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)

	limiter.Allow(context.Background(), "org:org-1")
	limiter.Allow(context.Background(), "org:org-1")

	remaining, err = limiter.Remaining(context.Background(), "org:org-1")
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)
}

func TestOrgRateLimit_BlocksOverLimit(t *testing.T) {
	limiter := NewRateLimiter(testRedis(t), &RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Minute,
	}, "test")

	handler := OrgRateLimit(limiter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func() int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(contextkeys.WithOrgID(req.Context(), "org-1"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do())
	assert.Equal(t, http.StatusTooManyRequests, do())
}

// Through the full router stack the limiter must key on the route's org
// without anything injecting it: org-1 exhausting its window gets 429
// while org-2 is untouched.
func TestOrgRateLimit_EnforcesThroughRouterStack(t *testing.T) {
	limiter := NewRateLimiter(testRedis(t), &RateLimitConfig{
		RequestsPerWindow: 2,
		WindowDuration:    time.Minute,
	}, "test")

	router := mux.NewRouter()
	router.Use(RequestContext(nil))
	router.Use(OrgRateLimit(limiter, nil))
	router.HandleFunc("/api/v1/orgs/{orgId}/records", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	do := func(orgID string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/orgs/"+orgID+"/records", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("org-1"))
	assert.Equal(t, http.StatusOK, do("org-1"))
	assert.Equal(t, http.StatusTooManyRequests, do("org-1"))
	assert.Equal(t, http.StatusOK, do("org-2"))
}

func TestOrgRateLimit_SkipsWithoutOrg(t *testing.T) {
	limiter := NewRateLimiter(testRedis(t), &RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Minute,
	}, "test")

	handler := OrgRateLimit(limiter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
