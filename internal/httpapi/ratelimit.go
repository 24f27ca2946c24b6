package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"qrfood/order-service/internal/queue"
)

const maxBuckets = 10000

type RateLimitConfig struct {
	IPPerMinute     int
	IPBurst         int
	TicketPerMinute int
	TicketBurst     int
	// TrustProxy makes the limiter key on X-Forwarded-For. Enable it only
	// behind a proxy that overwrites the header.
	TrustProxy bool
}

// RateLimiter throttles per client IP and, on public ticket lookups, per
// queue number so one queue slot cannot be guessed at from many addresses or
// with many different digests.
type RateLimiter struct {
	ipLimiter     *tokenLimiter
	ticketLimiter *tokenLimiter
	trustProxy    bool
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		ipLimiter:     newTokenLimiter(cfg.IPPerMinute, cfg.IPBurst),
		ticketLimiter: newTokenLimiter(cfg.TicketPerMinute, cfg.TicketBurst),
		trustProxy:    cfg.TrustProxy,
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, l.trustProxy)
		if ip != "" && !l.ipLimiter.allow(ip) {
			writeError(w, requestIDFromRequest(r), http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}

		if key := ticketKey(r); key != "" && !l.ticketLimiter.allow(key) {
			writeError(w, requestIDFromRequest(r), http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

type tokenLimiter struct {
	mu     sync.Mutex
	rate   float64
	burst  float64
	bucket map[string]*bucket
	now    func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newTokenLimiter(perMinute, burst int) *tokenLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 20
	}
	return &tokenLimiter{
		rate:   float64(perMinute) / 60.0,
		burst:  float64(burst),
		bucket: make(map[string]*bucket),
		now:    time.Now,
	}
}

func (l *tokenLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.bucket[key]
	if !ok {
		if len(l.bucket) >= maxBuckets {
			l.prune(now)
		}
		l.bucket[key] = &bucket{tokens: l.burst - 1, last: now}
		return true
	}
	elapsed := now.Sub(b.last).Seconds()
	b.tokens = minFloat(l.burst, b.tokens+elapsed*l.rate)
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens -= 1
	return true
}

// prune drops buckets that have refilled completely; they carry no state.
func (l *tokenLimiter) prune(now time.Time) {
	full := time.Duration(l.burst / l.rate * float64(time.Second))
	for key, b := range l.bucket {
		if now.Sub(b.last) >= full {
			delete(l.bucket, key)
		}
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// clientIP takes the last X-Forwarded-For hop, the one the trusted proxy
// appended, and otherwise the socket peer.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			parts := strings.Split(forwarded, ",")
			if last := strings.TrimSpace(parts[len(parts)-1]); last != "" {
				return last
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ticketPath returns the raw ticket segment of a public lookup path.
func ticketPath(r *http.Request) string {
	if !strings.HasPrefix(r.URL.Path, "/api/queue/") {
		return ""
	}
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/queue/"), "/")
	switch raw {
	case "", "display", "reset-counter":
		return ""
	}
	return raw
}

// ticketKey buckets lookups by queue number, whatever digest is sent.
func ticketKey(r *http.Request) string {
	parsed, ok := queue.ParseTicket(ticketPath(r))
	if !ok {
		return ""
	}
	return fmt.Sprintf("queue:%d", parsed.QueueNumber)
}
