package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func requestFrom(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/checkout", nil)
	req.RemoteAddr = ip + ":5555"
	return req
}

func TestMemoryLimiterBlocksAfterBurst(t *testing.T) {
	l := NewMemoryLimiter(3, 100)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	h := RateLimit(l)(okHandler)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, requestFrom("10.0.0.1"))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, requestFrom("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, requestFrom("10.0.0.2"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMemoryLimiterEvictsIdleAndCaps(t *testing.T) {
	l := NewMemoryLimiter(10, 5)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	for i := 0; i < 20; i++ {
		_, err := l.Allow(context.Background(), fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		now = now.Add(time.Second)
	}
	assert.LessOrEqual(t, l.Len(), 5)

	now = now.Add(time.Hour)
	_, err := l.Allow(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, 1, l.Len())
}

func TestRedisLimiterFixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	l := NewRedisLimiter(client, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "10.0.0.9")
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := l.Allow(ctx, "10.0.0.9")
	require.NoError(t, err)
	assert.False(t, ok)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Greater(t, mr.TTL(keys[0]), time.Duration(0))
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis unavailable")
}

func TestRateLimitFailsOpen(t *testing.T) {
	rec := httptest.NewRecorder()
	RateLimit(brokenLimiter{})(okHandler).ServeHTTP(rec, requestFrom("10.0.0.3"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAdminToken(t *testing.T) {
	h := RequireAdminToken("s3cret")(okHandler)

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{name: "header", header: AdminTokenHeader, value: "s3cret", want: http.StatusOK},
		{name: "bearer", header: "Authorization", value: "Bearer s3cret", want: http.StatusOK},
		{name: "wrong", header: AdminTokenHeader, value: "nope", want: http.StatusUnauthorized},
		{name: "missing", want: http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/admin/jobs/stats", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestRequireAdminTokenUnconfigured(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/admin/jobs/stats", nil)
	req.Header.Set(AdminTokenHeader, "")
	rec := httptest.NewRecorder()
	RequireAdminToken("")(okHandler).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
