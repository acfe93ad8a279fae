package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"threatpulse/internal/infrastructure/cache"
	"threatpulse/internal/metrics"
	"threatpulse/pkg/logger"
)

const defaultTrackedCallers = 10000

// Decision is the outcome of one rate-limit check
type Decision struct {
	Allowed   bool
	Remaining int64
	Reset     time.Time
}

// Limiter counts hits for a key against limit per window
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// RedisLimiter shares fixed-window counters across instances through Redis
type RedisLimiter struct {
	cache *cache.RedisCache
}

// NewRedisLimiter creates a RedisLimiter
func NewRedisLimiter(c *cache.RedisCache) *RedisLimiter {
	return &RedisLimiter{cache: c}
}

// Allow implements Limiter
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	allowed, remaining, reset, err := l.cache.CheckRateLimit(ctx, key, int64(limit), window)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: allowed, Remaining: remaining, Reset: reset}, nil
}

// LocalLimiter keeps a token bucket per key in a bounded LRU, so a flood
// of distinct callers evicts the oldest buckets instead of growing memory
type LocalLimiter struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	now      func() time.Time
}

// NewLocalLimiter creates a LocalLimiter tracking at most maxCallers keys
func NewLocalLimiter(maxCallers int) (*LocalLimiter, error) {
	if maxCallers <= 0 {
		maxCallers = defaultTrackedCallers
	}
	c, err := lru.New[string, *rate.Limiter](maxCallers)
	if err != nil {
		return nil, fmt.Errorf("create limiter cache: %w", err)
	}
	return &LocalLimiter{limiters: c, now: time.Now}, nil
}

// Allow implements Limiter. The bucket holds limit tokens and refills
// one every window/limit.
func (l *LocalLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true}, nil
	}
	every := window / time.Duration(limit)
	bucketKey := fmt.Sprintf("%s|%d|%s", key, limit, window)

	l.mu.Lock()
	lim, ok := l.limiters.Get(bucketKey)
	if !ok {
		lim = rate.NewLimiter(rate.Every(every), limit)
		l.limiters.Add(bucketKey, lim)
	}
	l.mu.Unlock()

	now := l.now()
	allowed := lim.AllowN(now, 1)
	tokens := lim.TokensAt(now)

	d := Decision{
		Allowed:   allowed,
		Remaining: int64(math.Max(0, math.Floor(tokens))),
		Reset:     now,
	}
	if tokens < 1 {
		d.Reset = now.Add(time.Duration((1 - tokens) * float64(every)))
	}
	return d, nil
}

// RateLimit limits requests per caller within scope to perMinute. Limiter
// errors fail open.
func RateLimit(l Limiter, scope string, perMinute int, log *logger.Logger) func(next http.Handler) http.Handler {
	log = log.WithComponent("ratelimit")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || l == nil || perMinute <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			caller := ClientID(r)
			d, err := l.Allow(r.Context(), scope+":"+caller, perMinute, time.Minute)
			if err != nil {
				log.Warn().Err(err).Str("scope", scope).Msg("rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(perMinute))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))

			if !d.Allowed {
				metrics.RateLimited.WithLabelValues(scope).Inc()
				retry := int64(math.Ceil(time.Until(d.Reset).Seconds()))
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientID identifies the caller by address. RealIP runs earlier in the
// chain, so RemoteAddr already reflects forwarding headers.
func ClientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
