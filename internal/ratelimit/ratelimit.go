// Package ratelimit provides a default, optional admission-filter
// collaborator that sits in front of the core pipeline rather than inside
// it. Grounded on
// _examples/pageza-alchemorsel-enterprise's
// internal/infrastructure/http/middleware/middleware.go's RateLimit
// (`rate.NewLimiter(...).Allow()` → 429), generalized from one process-wide
// limiter to one limiter per remote IP so a single abusive client cannot
// exhaust the budget of every other client.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Iselk/kvarn/pkg/kerr"
)

// Limiter rate-limits by remote IP using a token bucket per address,
// evicting idle buckets on a cleanup interval so long-running servers
// don't accumulate one bucket per IP ever seen.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rps      rate.Limit
	burst    int
	idleTTL  time.Duration
	stopOnce sync.Once
	stop     chan struct{}
}

type bucket struct {
	limiter *rate.Limiter
	lastHit time.Time
}

// New builds a Limiter admitting rps requests/sec per IP, with the given
// burst, evicting IP buckets unused for idleTTL on each cleanupInterval
// tick.
func New(rps float64, burst int, idleTTL, cleanupInterval time.Duration) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		stop:    make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go l.cleanupLoop(cleanupInterval)
	}
	return l
}

// Allow reports whether req from addr may proceed. A nil error means
// admitted; a non-nil error is always *kerr.Error{Kind: kerr.RateLimited}.
func (l *Limiter) Allow(addr net.Addr) error {
	ip := hostOf(addr)
	l.mu.Lock()
	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[ip] = b
	}
	b.lastHit = time.Now()
	allowed := b.limiter.Allow()
	l.mu.Unlock()

	if !allowed {
		return kerr.New(kerr.RateLimited, "rate limit exceeded for "+ip)
	}
	return nil
}

// Handler wraps an http.Handler, rejecting with 429 before it runs, for
// callers that prefer the classic middleware shape instead of calling
// Allow directly from the pipeline.
func (l *Limiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := l.Allow(tcpAddr(r.RemoteAddr)); err != nil {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stop ends the cleanup goroutine.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) evictIdle() {
	cutoff := time.Now().Add(-l.idleTTL)
	l.mu.Lock()
	for ip, b := range l.buckets {
		if b.lastHit.Before(cutoff) {
			delete(l.buckets, ip)
		}
	}
	l.mu.Unlock()
}

func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

type strAddr string

func (s strAddr) Network() string { return "tcp" }
func (s strAddr) String() string  { return string(s) }

func tcpAddr(s string) net.Addr { return strAddr(s) }
