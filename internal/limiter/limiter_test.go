package limiter

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"coderelay/internal/metrics"
)

func TestAllow_PerIPBurst(t *testing.T) {
	rl := NewRateLimiter(0, 1, 2, 0, nil)

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	// Other clients have their own bucket.
	assert.True(t, rl.Allow("10.0.0.2"))
}

func TestAllow_Concurrency(t *testing.T) {
	m := metrics.NewCollector()
	rl := NewRateLimiter(0, 0, 0, 1, m)

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("b"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitHits))

	rl.Done()
	assert.True(t, rl.Allow("b"))
}

func TestMiddleware_Rejects(t *testing.T) {
	rl := NewRateLimiter(0, 1, 1, 0, nil)
	h := rl.Middleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/execute", nil)
	req.RemoteAddr = "192.0.2.1:5555"

	w := httptest.NewRecorder()
	h(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	h(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestPrune(t *testing.T) {
	rl := NewRateLimiter(0, 1, 1, 0, nil)
	rl.Allow("a")
	assert.Equal(t, 0, rl.prune(time.Now().Add(-time.Minute)))
	assert.Equal(t, 1, rl.prune(time.Now().Add(time.Minute)))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.7:1234"
	assert.Equal(t, "198.51.100.7", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ClientIP(r))
}
