package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LoggingMiddleware logs one line per request.
func LoggingMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Infow("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"idempotency_key", c.GetHeader(idempotencyHeader))
	}
}

// limiterIdle is how long a client's bucket survives without traffic.
const limiterIdle = 3 * time.Minute

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// limiterSet keeps one token bucket per client and evicts idle ones at
// most once per limiterIdle.
type limiterSet struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	now     func() time.Time
	swept   time.Time
	clients map[string]*visitor
}

func newLimiterSet(rps, burst int) *limiterSet {
	return &limiterSet{
		rps:     rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
		clients: make(map[string]*visitor),
	}
}

func (s *limiterSet) get(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if now.Sub(s.swept) >= limiterIdle {
		for k, v := range s.clients {
			if now.Sub(v.seen) >= limiterIdle {
				delete(s.clients, k)
			}
		}
		s.swept = now
	}
	v, ok := s.clients[ip]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(s.rps, s.burst)}
		s.clients[ip] = v
	}
	v.seen = now
	return v.lim
}

func (s *limiterSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// RateLimitMiddleware keeps one token bucket per client IP. rps <= 0
// disables it.
func RateLimitMiddleware(rps, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = rps
	}
	return rateLimit(newLimiterSet(rps, burst))
}

func rateLimit(set *limiterSet) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !set.get(c.ClientIP()).AllowN(set.now(), 1) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
