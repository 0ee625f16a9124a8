package middleware

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gogotex/docstore/pkg/metrics"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long a caller's bucket survives without requests.
const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	lim  *rate.Limiter
	seen atomic.Int64 // unix nanos of the last request
}

// limiterSet lazily creates one token bucket per caller key and drops
// buckets idle for longer than idle.
type limiterSet struct {
	rps       float64
	burst     int
	idle      time.Duration
	now       func() time.Time
	m         sync.Map // map[string]*limiterEntry
	lastSweep atomic.Int64
}

func newLimiterSet(rps float64, burst int) *limiterSet {
	return &limiterSet{rps: rps, burst: burst, idle: limiterIdleTTL, now: time.Now}
}

func (s *limiterSet) get(key string) *rate.Limiter {
	now := s.now()
	s.sweep(now)
	v, ok := s.m.Load(key)
	if !ok {
		v, _ = s.m.LoadOrStore(key, &limiterEntry{lim: rate.NewLimiter(rate.Limit(s.rps), s.burst)})
	}
	e := v.(*limiterEntry)
	e.seen.Store(now.UnixNano())
	return e.lim
}

// sweep runs at most once per idle period.
func (s *limiterSet) sweep(now time.Time) {
	last := s.lastSweep.Load()
	if now.UnixNano()-last < int64(s.idle) || !s.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	cutoff := now.Add(-s.idle).UnixNano()
	s.m.Range(func(k, v any) bool {
		if v.(*limiterEntry).seen.Load() < cutoff {
			s.m.Delete(k)
		}
		return true
	})
}

// RateLimitMiddleware enforces an in-process token bucket per caller
// (see clientKey). rps is the refill rate, burst the bucket size.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	set := newLimiterSet(rps, burst)
	return func(c *gin.Context) {
		if !set.get(clientKey(c)).Allow() {
			c.Header("Retry-After", "1")
			metrics.RateLimitRejected.WithLabelValues("memory").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		metrics.RateLimitAllowed.WithLabelValues("memory").Inc()
		c.Next()
	}
}
