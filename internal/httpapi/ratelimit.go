package httpapi

import (
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// tenantLimiter hands out one token bucket per tenant. Buckets left idle
// long enough to have refilled are dropped, so the map only holds tenants
// seen recently.
type tenantLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idle      time.Duration
	now       func() time.Time
	lastPrune time.Time
	buckets   map[string]*tenantBucket
}

type tenantBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newTenantLimiter(perSecond float64, burst int) *tenantLimiter {
	if burst < 1 {
		burst = 1
	}
	refill := math.Min(float64(burst)/perSecond, (24 * time.Hour).Seconds())
	idle := time.Duration(refill * float64(time.Second))
	if idle < time.Minute {
		idle = time.Minute
	}
	l := &tenantLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idle:    idle,
		now:     time.Now,
		buckets: make(map[string]*tenantBucket),
	}
	l.lastPrune = l.now()
	return l
}

func (l *tenantLimiter) allow(tenant string) bool {
	now := l.now()
	l.mu.Lock()
	if now.Sub(l.lastPrune) >= l.idle {
		l.prune(now)
	}
	b, ok := l.buckets[tenant]
	if !ok {
		b = &tenantBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[tenant] = b
	}
	b.seen = now
	l.mu.Unlock()
	return b.lim.AllowN(now, 1)
}

// prune drops buckets unused for l.idle. Must hold l.mu.
func (l *tenantLimiter) prune(now time.Time) {
	for tenant, b := range l.buckets {
		if now.Sub(b.seen) >= l.idle {
			delete(l.buckets, tenant)
		}
	}
	l.lastPrune = now
}

// rateLimit answers 429 once a tenant exhausts its bucket. It runs after
// requireAuth so the tenant is known.
func rateLimit(l *tenantLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil {
			c.Next()
			return
		}
		if !l.allow(principal(c).TenantID) {
			c.Header("Retry-After", "1")
			abortWithError(c, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		c.Next()
	}
}
