package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestRateLimit_PerClient(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2})
	h := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e := echo.New()

	call := func(ip string) error {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":5000"
		return h(e.NewContext(req, httptest.NewRecorder()))
	}

	for i := 0; i < 2; i++ {
		if err := call("10.0.0.1"); err != nil {
			t.Fatalf("request %d within burst rejected: %v", i, err)
		}
	}
	var he *echo.HTTPError
	if err := call("10.0.0.1"); !errors.As(err, &he) || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if err := call("10.0.0.2"); err != nil {
		t.Errorf("other client should have its own bucket: %v", err)
	}
}

func TestLimiterStore_EvictsIdle(t *testing.T) {
	now := time.Now()
	s := &limiterStore{
		cfg:     RateLimitConfig{RequestsPerSecond: 5, Burst: 5, IdleTTL: time.Minute},
		clients: map[string]*clientLimiter{},
		swept:   now,
	}
	s.get("a", now)
	s.get("b", now.Add(90*time.Second))
	if _, ok := s.clients["a"]; ok {
		t.Error("expected idle client a to be evicted")
	}
	if _, ok := s.clients["b"]; !ok {
		t.Error("expected client b to be present")
	}
}
