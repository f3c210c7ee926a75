package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/crmbridge/pkg/logger"
	"github.com/huangang/crmbridge/pkg/response"
	"golang.org/x/time/rate"
)

const (
	sweepInterval = 3 * time.Minute
	bucketIdle    = 5 * time.Minute
)

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(c *gin.Context) string

// ClientIP charges each client address separately.
func ClientIP(c *gin.Context) string { return c.ClientIP() }

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a token bucket per key. Idle buckets are swept until Stop.
type RateLimiter struct {
	name    string
	limit   rate.Limit
	burst   int
	key     KeyFunc
	mu      sync.Mutex
	buckets map[string]*bucket
	done    chan struct{}
	once    sync.Once
}

// NewRateLimiter allows rps requests per second per client IP, with bursts up
// to burst. name tags rejection logs.
func NewRateLimiter(name string, rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		name:    name,
		limit:   rate.Limit(rps),
		burst:   burst,
		key:     ClientIP,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// WithKey replaces the per-IP bucketing.
func (rl *RateLimiter) WithKey(key KeyFunc) *RateLimiter {
	rl.key = key
	return rl
}

func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.done) })
}

// reserve takes one token for key, or reports how long until one is free.
func (rl *RateLimiter) reserve(key string) (bool, time.Duration) {
	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	now := time.Now()
	b.lastSeen = now
	rl.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for key, b := range rl.buckets {
				if time.Since(b.lastSeen) > bucketIdle {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Middleware rejects over-limit requests with 429 RATE_LIMITED and a
// Retry-After header in whole seconds.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rl.key(c)
		if ok, wait := rl.reserve(key); !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			logger.Warn().Str("limiter", rl.name).Str("key", key).Str("path", c.Request.URL.Path).Msg("rate limited")
			response.Abort(c, response.New(http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, please try again later"))
			return
		}
		c.Next()
	}
}
