package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 1}, false, nil)
	fixed := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return fixed }
	handler := limiter.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}

	fixed = fixed.Add(time.Second)
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected bucket to refill after a second, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesClients(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 1}, false, nil)
	handler := limiter.Middleware(okHandler())

	first := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	first.RemoteAddr = "10.0.0.1:1000"
	second := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	second.RemoteAddr = "10.0.0.2:1000"

	for _, req := range []*http.Request{first, second} {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("expected %s to be allowed, got %d", req.RemoteAddr, res.Code)
		}
	}
}

func TestRateLimiterIgnoresForwardedForWhenNotTrusted(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 60}, false, nil)
	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	if id := limiter.clientID(req); id != "10.0.0.5" {
		t.Fatalf("expected remote address, got %q", id)
	}

	trusted := NewRateLimiter(RateLimit{RequestsPerMinute: 60}, true, nil)
	if id := trusted.clientID(req); id != "203.0.113.9" {
		t.Fatalf("expected forwarded address, got %q", id)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{}, false, nil)
	handler := limiter.Middleware(okHandler())
	for i := 0; i < 5; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/rpc", nil))
		if res.Code != http.StatusOK {
			t.Fatalf("disabled limiter rejected request %d", i)
		}
	}
}
