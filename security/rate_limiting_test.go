package security

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/pocketbase/pocketbase/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newEvent(method, target, userAgent string) (*core.RequestEvent, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "10.0.0.7:51234"
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	rec := httptest.NewRecorder()

	e := &core.RequestEvent{}
	e.Request = req
	e.Response = rec
	return e, rec
}

func TestRateLimiter_Allow(t *testing.T) {
	db, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(db, 2, time.Minute, zap.NewNop())
	ctx := context.Background()

	key := "ratelimit:poll:user:u1"
	for i, setsWindow := range []bool{true, false, false} {
		mock.ExpectTxPipeline()
		mock.ExpectIncr(key).SetVal(int64(i + 1))
		mock.ExpectExpireNX(key, time.Minute).SetVal(setsWindow)
		mock.ExpectTxPipelineExec()
	}

	for _, want := range []bool{true, true, false} {
		ok, err := limiter.Allow(ctx, "poll:user:u1")
		require.NoError(t, err)
		assert.Equal(t, want, ok)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	db, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(db, 1, time.Minute, zap.NewNop())

	mock.ExpectTxPipeline()
	mock.ExpectIncr("ratelimit:poll:ip:10.0.0.7").SetErr(errors.New("connection refused"))

	e, rec := newEvent(http.MethodGet, "/api/v1/payments/p1/status", "")
	err := limiter.Middleware("poll")(e)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter_MiddlewareRejectsOverLimit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(db, 5, 30*time.Second, zap.NewNop())

	mock.ExpectTxPipeline()
	mock.ExpectIncr("ratelimit:poll:ip:10.0.0.7").SetVal(6)
	mock.ExpectExpireNX("ratelimit:poll:ip:10.0.0.7", 30*time.Second).SetVal(false)
	mock.ExpectTxPipelineExec()

	e, rec := newEvent(http.MethodGet, "/api/v1/payments/p1/status", "")
	err := limiter.Middleware("poll")(e)

	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "Too many requests")
}

func TestAntiBot(t *testing.T) {
	tests := []struct {
		ua   string
		want int
	}{
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)", http.StatusOK},
		{"Googlebot/2.1", http.StatusForbidden},
		{"some-Scraper/1.0", http.StatusForbidden},
		{"", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.ua, func(t *testing.T) {
			e, rec := newEvent(http.MethodPost, "/api/v1/events/e1/purchase", tt.ua)
			require.NoError(t, AntiBot(e))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
