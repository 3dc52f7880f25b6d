package security

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimitConfig bounds how often one client may trigger generation
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size"`
	IdleTTL           time.Duration `yaml:"idle_ttl"`
}

// Decision is the result of one rate limit check
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter keeps a token bucket per client key
type RateLimiter struct {
	config  RateLimitConfig
	logger  *logrus.Logger
	now     func() time.Time
	buckets map[string]*tokenBucket
	mutex   sync.Mutex
}

type tokenBucket struct {
	tokens   float64
	lastSeen time.Time
}

// NewRateLimiter creates a limiter. Idle buckets are swept lazily on Allow.
func NewRateLimiter(config RateLimitConfig, logger *logrus.Logger) *RateLimiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 60
	}
	if config.BurstSize <= 0 {
		config.BurstSize = config.RequestsPerMinute
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = 10 * time.Minute
	}
	return &RateLimiter{
		config:  config,
		logger:  logger,
		now:     time.Now,
		buckets: make(map[string]*tokenBucket),
	}
}

// Allow consumes one token for key
func (rl *RateLimiter) Allow(key string) Decision {
	if !rl.config.Enabled {
		return Decision{Allowed: true, Remaining: rl.config.BurstSize}
	}

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	rl.sweep(now)

	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = &tokenBucket{tokens: float64(rl.config.BurstSize), lastSeen: now}
		rl.buckets[key] = bucket
	}

	perSecond := float64(rl.config.RequestsPerMinute) / 60
	bucket.tokens += now.Sub(bucket.lastSeen).Seconds() * perSecond
	if burst := float64(rl.config.BurstSize); bucket.tokens > burst {
		bucket.tokens = burst
	}
	bucket.lastSeen = now

	if bucket.tokens >= 1 {
		bucket.tokens--
		return Decision{Allowed: true, Remaining: int(bucket.tokens)}
	}

	retryAfter := time.Duration((1 - bucket.tokens) / perSecond * float64(time.Second))
	rl.logger.WithFields(logrus.Fields{
		"key":         maskKey(key),
		"retry_after": retryAfter,
	}).Warn("Rate limit exceeded")

	return Decision{Allowed: false, RetryAfter: retryAfter}
}

func (rl *RateLimiter) sweep(now time.Time) {
	for key, bucket := range rl.buckets {
		if now.Sub(bucket.lastSeen) > rl.config.IdleTTL {
			delete(rl.buckets, key)
		}
	}
}

// Middleware applies the limiter per client IP
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := rl.Allow("ip:" + ClientIP(r))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.config.BurstSize))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

			if !decision.Allowed {
				seconds := int(decision.RetryAfter.Seconds())
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				writeError(w, http.StatusTooManyRequests, "rate_limit_error", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
