package api

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// maxTrackedClients bounds the limiter table. When full, the least recently
// seen client is evicted.
const maxTrackedClients = 10000

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen uint64
}

type clientLimiters struct {
	mu      sync.Mutex
	rps     int
	max     int
	seq     uint64
	entries map[string]*clientLimiter
}

func newClientLimiters(rps, max int) *clientLimiters {
	return &clientLimiters{
		rps:     rps,
		max:     max,
		entries: make(map[string]*clientLimiter),
	}
}

func (cl *clientLimiters) get(key string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	cl.seq++
	if e, ok := cl.entries[key]; ok {
		e.lastSeen = cl.seq
		return e.limiter
	}

	if len(cl.entries) >= cl.max {
		cl.evictOldest()
	}
	e := &clientLimiter{
		limiter:  rate.NewLimiter(rate.Limit(cl.rps), cl.rps),
		lastSeen: cl.seq,
	}
	cl.entries[key] = e
	return e.limiter
}

func (cl *clientLimiters) evictOldest() {
	var (
		oldestKey string
		oldest    uint64
		found     bool
	)
	for k, e := range cl.entries {
		if !found || e.lastSeen < oldest {
			oldestKey, oldest, found = k, e.lastSeen, true
		}
	}
	if found {
		delete(cl.entries, oldestKey)
	}
}

// RateLimitMiddleware allows each client IP rps requests per second with a
// burst of rps. The client IP comes from gin, so it only reflects forwarding
// headers sent by trusted proxies (see NewEngine).
func RateLimitMiddleware(rps int) gin.HandlerFunc {
	limiters := newClientLimiters(rps, maxTrackedClients)

	return func(c *gin.Context) {
		if !limiters.get(c.ClientIP()).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
