// Package limiter throttles HTTP entry points by global rate, per-client rate
// and number of requests in flight.
package limiter

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"coderelay/internal/metrics"
)

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type RateLimiter struct {
	globalLimiter *rate.Limiter
	ipRate        rate.Limit
	ipBurst       int
	maxConcurrent int64
	metrics       *metrics.Collector

	mu          sync.Mutex
	perIP       map[string]*ipEntry
	currentConc int64
}

// NewRateLimiter creates a limiter. A non-positive value disables the
// corresponding check.
func NewRateLimiter(globalRPS, perIPRPS float64, perIPBurst, maxConcurrent int, m *metrics.Collector) *RateLimiter {
	rl := &RateLimiter{
		ipRate:        rate.Limit(perIPRPS),
		ipBurst:       perIPBurst,
		maxConcurrent: int64(maxConcurrent),
		metrics:       m,
		perIP:         make(map[string]*ipEntry),
	}
	if globalRPS > 0 {
		burst := int(globalRPS) * 2
		if burst < 1 {
			burst = 1
		}
		rl.globalLimiter = rate.NewLimiter(rate.Limit(globalRPS), burst)
	}
	if rl.ipBurst < 1 {
		rl.ipBurst = 1
	}
	return rl
}

func (rl *RateLimiter) ipLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	e, ok := rl.perIP[ip]
	if !ok {
		e = &ipEntry{limiter: rate.NewLimiter(rl.ipRate, rl.ipBurst)}
		rl.perIP[ip] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

// AllowRate applies the global and per-client rate checks only.
func (rl *RateLimiter) AllowRate(ip string) bool {
	if rl.globalLimiter != nil && !rl.globalLimiter.Allow() {
		rl.metrics.RateLimited()
		return false
	}
	if rl.ipRate > 0 && !rl.ipLimiter(ip).Allow() {
		rl.metrics.RateLimited()
		return false
	}
	return true
}

// Allow applies the rate checks and reserves a concurrency slot. Callers that
// get true must call Done.
func (rl *RateLimiter) Allow(ip string) bool {
	if !rl.AllowRate(ip) {
		return false
	}
	if rl.maxConcurrent <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.currentConc >= rl.maxConcurrent {
		rl.metrics.RateLimited()
		return false
	}
	rl.currentConc++
	return true
}

func (rl *RateLimiter) Done() {
	if rl.maxConcurrent <= 0 {
		return
	}
	rl.mu.Lock()
	if rl.currentConc > 0 {
		rl.currentConc--
	}
	rl.mu.Unlock()
}

// Middleware guards short-lived handlers with rate and concurrency checks.
func (rl *RateLimiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(ClientIP(r)) {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		defer rl.Done()
		next(w, r)
	}
}

// RateMiddleware guards long-lived handlers, such as WebSocket upgrades,
// with the rate checks only.
func (rl *RateLimiter) RateMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowRate(ClientIP(r)) {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// StartCleanup drops per-client limiters idle for longer than interval until
// ctx is cancelled.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.prune(time.Now().Add(-interval))
			}
		}
	}()
}

func (rl *RateLimiter) prune(cutoff time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for ip, e := range rl.perIP {
		if e.lastSeen.Before(cutoff) {
			delete(rl.perIP, ip)
			n++
		}
	}
	return n
}

// ClientIP returns the first X-Forwarded-For hop or the remote host.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
