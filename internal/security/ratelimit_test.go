package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func newTestLimiter(t *testing.T, config RateLimitConfig) (*RateLimiter, *fakeClock) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	rl := NewRateLimiter(config, logger)
	rl.now = clock.now
	return rl, clock
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl, _ := newTestLimiter(t, RateLimitConfig{Enabled: false, RequestsPerMinute: 1})

	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow("k").Allowed)
	}
}

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	rl, clock := newTestLimiter(t, RateLimitConfig{Enabled: true, RequestsPerMinute: 60, BurstSize: 3})

	for i := 0; i < 3; i++ {
		d := rl.Allow("client")
		assert.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 2-i, d.Remaining)
	}

	denied := rl.Allow("client")
	assert.False(t, denied.Allowed)
	assert.InDelta(t, time.Second.Seconds(), denied.RetryAfter.Seconds(), 0.01)

	assert.True(t, rl.Allow("other").Allowed, "keys are independent")

	clock.t = clock.t.Add(time.Second)
	assert.True(t, rl.Allow("client").Allowed)
	assert.False(t, rl.Allow("client").Allowed)
}

func TestRateLimiter_IdleBucketsSwept(t *testing.T) {
	rl, clock := newTestLimiter(t, RateLimitConfig{Enabled: true, RequestsPerMinute: 60, BurstSize: 1, IdleTTL: time.Minute})

	rl.Allow("a")
	rl.Allow("b")
	assert.Len(t, rl.buckets, 2)

	clock.t = clock.t.Add(2 * time.Minute)
	rl.Allow("c")
	assert.Len(t, rl.buckets, 1)
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl, _ := newTestLimiter(t, RateLimitConfig{Enabled: true, RequestsPerMinute: 60, BurstSize: 1})
	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/generate", nil)
	req.RemoteAddr = "192.0.2.1:4000"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate_limit_error")
}
