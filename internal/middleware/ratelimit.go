package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/dugout-developers/catchmate-server/pkg/errors"
	"github.com/dugout-developers/catchmate-server/pkg/response"
)

const (
	limiterSweepInterval = time.Minute
	limiterIdleAfter     = 3 * time.Minute
)

// clientLimiter pairs a token bucket with its last use, so idle entries can
// be evicted.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiterPool hands out one token bucket per client key. Idle entries are
// swept inline on the request path, so the pool owns no goroutine and nothing
// leaks when the router is discarded.
type ipLimiterPool struct {
	perSecond float64
	burst     int
	now       func() time.Time

	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastSweep time.Time
}

func newIPLimiterPool(perSecond float64, burst int) *ipLimiterPool {
	return &ipLimiterPool{
		perSecond: perSecond,
		burst:     burst,
		now:       time.Now,
		clients:   make(map[string]*clientLimiter),
	}
}

func (p *ipLimiterPool) allow(key string) bool {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if now.Sub(p.lastSweep) >= limiterSweepInterval {
		cutoff := now.Add(-limiterIdleAfter)
		for k, entry := range p.clients {
			if entry.lastSeen.Before(cutoff) {
				delete(p.clients, k)
			}
		}
		p.lastSweep = now
	}

	entry, ok := p.clients[key]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(p.perSecond), p.burst)}
		p.clients[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

// RateLimit returns a middleware that throttles requests per client IP using
// a token bucket. This is an in-memory limiter suitable for single-instance
// deployments and tests.
func RateLimit(perSecond float64, burst int) gin.HandlerFunc {
	pool := newIPLimiterPool(perSecond, burst)

	return func(c *gin.Context) {
		if perSecond <= 0 || burst <= 0 {
			c.Next()
			return
		}

		if !pool.allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			response.Error(c, errors.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}
