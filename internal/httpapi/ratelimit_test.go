package httpapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenLimiterBurstAndRefill(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := newTokenLimiter(60, 3)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !limiter.allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if limiter.allow("10.0.0.1") {
		t.Fatalf("expected burst to be exhausted")
	}
	if !limiter.allow("10.0.0.2") {
		t.Fatalf("other keys must not share a bucket")
	}

	now = now.Add(time.Second)
	if !limiter.allow("10.0.0.1") {
		t.Fatalf("expected one token after a second")
	}
	if limiter.allow("10.0.0.1") {
		t.Fatalf("expected only one refilled token")
	}
}

func TestTokenLimiterPrunesRefilledBuckets(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := newTokenLimiter(60, 2)
	limiter.now = func() time.Time { return now }

	limiter.bucket["stale"] = &bucket{tokens: 0, last: now.Add(-time.Minute)}
	limiter.bucket["fresh"] = &bucket{tokens: 0, last: now}
	limiter.prune(now)

	if _, ok := limiter.bucket["stale"]; ok {
		t.Fatalf("expected refilled bucket to be pruned")
	}
	if _, ok := limiter.bucket["fresh"]; !ok {
		t.Fatalf("expected draining bucket to be kept")
	}
}

func TestRateLimiterPerTicket(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 600, IPBurst: 100, TicketPerMinute: 1, TicketBurst: 2, TrustProxy: true})
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		req := httptest.NewRequest(http.MethodGet, "/api/queue/Q001-abcdef12", nil)
		req.Header.Set("X-Forwarded-For", ip)
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		codes = append(codes, resp.Code)
		if i < 2 && resp.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, resp.Code)
		}
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected third lookup of the same ticket to be limited, got %v", codes)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/queue/display", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("display must not use the ticket bucket, got %d", resp.Code)
	}
}

func TestRateLimiterKeysOnQueueNumber(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 6000, IPBurst: 1000, TicketPerMinute: 1, TicketBurst: 1})
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	passed := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/queue/Q007-%08x", i), nil)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code == http.StatusOK {
			passed++
		}
	}
	if passed != 1 {
		t.Fatalf("expected one digest guess to pass, got %d", passed)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/queue/Q7-00000000", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected unpadded label to share the bucket, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/queue/Q008-00000000", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected another queue number to have its own bucket, got %d", resp.Code)
	}
}

func TestRateLimiterIgnoresForwardedForByDefault(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 1, IPBurst: 2})
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "192.0.2.10:5000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		codes = append(codes, resp.Code)
	}
	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, codes)
		}
	}
}

func TestTicketKey(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/queue/Q001-abcdef12", "queue:1"},
		{"/api/queue/Q001-abcdef12/", "queue:1"},
		{"/api/queue/Q1-00000000", "queue:1"},
		{"/api/queue/Q001-nothex!!", ""},
		{"/api/queue/display", ""},
		{"/api/queue/reset-counter", ""},
		{"/api/queue/", ""},
		{"/api/orders/queue", ""},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if got := ticketKey(req); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.path, tc.want, got)
		}
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "192.168.1.5:4242"
	if got := clientIP(req, true); got != "192.168.1.5" {
		t.Fatalf("expected remote host, got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientIP(req, false); got != "192.168.1.5" {
		t.Fatalf("expected forwarded header to be ignored, got %q", got)
	}
	if got := clientIP(req, true); got != "10.0.0.1" {
		t.Fatalf("expected the proxy-appended address, got %q", got)
	}
}
