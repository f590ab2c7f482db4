package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"submit": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("submit")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/workflow/submit", nil)
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
}

func TestRateLimiterSeparatesRoutes(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"submit": {RatePerSecond: 1, Burst: 1},
		"begin":  {RatePerSecond: 1, Burst: 1},
	}, nil)
	submit := limiter.Middleware("submit")(okHandler())
	begin := limiter.Middleware("begin")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/workflow/submit", nil)
	res := httptest.NewRecorder()
	submit.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected submit request to succeed, got %d", res.Code)
	}

	beginReq := httptest.NewRequest(http.MethodPost, "/v1/workflow", nil)
	beginRes := httptest.NewRecorder()
	begin.ServeHTTP(beginRes, beginReq)
	if beginRes.Code != http.StatusOK {
		t.Fatalf("expected begin request to succeed, got %d", beginRes.Code)
	}
}

func TestRateLimiterPrefersAPIKeyOverIP(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"submit": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("submit")(okHandler())

	for _, key := range []string{"tenant-A", "tenant-B"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/workflow/submit", nil)
		req.Header.Set("X-API-Key", key)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("expected %s request to succeed, got %d", key, res.Code)
		}
	}
}

func TestRateLimiterPassesUnknownKeys(t *testing.T) {
	limiter := NewRateLimiter(nil, nil)
	handler := limiter.Middleware("anything")(okHandler())
	for i := 0; i < 3; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
		if res.Code != http.StatusOK {
			t.Fatalf("expected pass-through, got %d", res.Code)
		}
	}
}
