package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatpulse/internal/infrastructure/cache"
	"threatpulse/pkg/logger"
)

func TestLocalLimiter_RefillsOverWindow(t *testing.T) {
	l, err := NewLocalLimiter(10)
	require.NoError(t, err)
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		d, err := l.Allow(context.Background(), "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, _ := l.Allow(context.Background(), "k", 3, time.Minute)
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)
	assert.True(t, d.Reset.After(now))

	// a separate key has its own bucket
	d, _ = l.Allow(context.Background(), "other", 3, time.Minute)
	assert.True(t, d.Allowed)

	now = now.Add(20 * time.Second)
	d, _ = l.Allow(context.Background(), "k", 3, time.Minute)
	assert.True(t, d.Allowed)
}

func TestLocalLimiter_EvictsOldestCaller(t *testing.T) {
	l, err := NewLocalLimiter(1)
	require.NoError(t, err)

	d, _ := l.Allow(context.Background(), "a", 1, time.Minute)
	require.True(t, d.Allowed)
	_, _ = l.Allow(context.Background(), "b", 1, time.Minute)

	// "a" was evicted and starts over with a full bucket
	d, _ = l.Allow(context.Background(), "a", 1, time.Minute)
	assert.True(t, d.Allowed)
}

func TestRedisLimiter_SharesCounters(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rc := cache.NewFromClient(client, "test:", logger.NewNop())

	a := NewRedisLimiter(rc)
	b := NewRedisLimiter(rc)

	d, err := a.Allow(context.Background(), "k", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	d, err = b.Allow(context.Background(), "k", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	d, err = a.Allow(context.Background(), "k", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, int, time.Duration) (Decision, error) {
	return Decision{}, errors.New("redis down")
}

func TestRateLimit_Middleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	serve := func(h http.Handler, method string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/", nil)
		req.RemoteAddr = "203.0.113.9:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("rejects over limit", func(t *testing.T) {
		l, err := NewLocalLimiter(10)
		require.NoError(t, err)
		h := RateLimit(l, "lists", 1, logger.NewNop())(ok)

		rec := serve(h, http.MethodPost)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

		rec = serve(h, http.MethodPost)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())

		// preflight is never counted
		rec = serve(h, http.MethodOptions)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("fails open", func(t *testing.T) {
		h := RateLimit(brokenLimiter{}, "lists", 1, logger.NewNop())(ok)
		for i := 0; i < 3; i++ {
			assert.Equal(t, http.StatusNoContent, serve(h, http.MethodPost).Code)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		h := RateLimit(nil, "lists", 1, logger.NewNop())(ok)
		for i := 0; i < 3; i++ {
			assert.Equal(t, http.StatusNoContent, serve(h, http.MethodPost).Code)
		}
	})
}

func TestClientID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:1234"
	assert.Equal(t, "ip:198.51.100.7", ClientID(req))

	req.RemoteAddr = "198.51.100.7"
	assert.Equal(t, "ip:198.51.100.7", ClientID(req))
}
