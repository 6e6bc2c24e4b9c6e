package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/bloodbank/bloodbank/internal/platform/auth"
)

func callLimited(t *testing.T, e *echo.Echo, h echo.HandlerFunc, remoteAddr, user string) error {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/search", nil)
	req.RemoteAddr = remoteAddr
	if user != "" {
		req = req.WithContext(auth.WithIdentity(context.Background(), user, nil, ""))
	}
	return h(e.NewContext(req, httptest.NewRecorder()))
}

func TestRateLimit_BurstThenDeny(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 3})(okHandler)

	for i := 0; i < 3; i++ {
		if err := callLimited(t, e, h, "10.0.0.1:1234", ""); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
	}
	err := callLimited(t, e, h, "10.0.0.1:1234", "")
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
}

func TestRateLimit_PerCallerIsolation(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})(okHandler)

	if err := callLimited(t, e, h, "10.0.0.1:1", ""); err != nil {
		t.Fatalf("first IP: %v", err)
	}
	if err := callLimited(t, e, h, "10.0.0.2:1", ""); err != nil {
		t.Errorf("second IP should have its own budget: %v", err)
	}
	// Same IP, but authenticated callers are keyed by user.
	if err := callLimited(t, e, h, "10.0.0.1:1", "nurse-1"); err != nil {
		t.Errorf("authenticated caller should have its own budget: %v", err)
	}
}

func TestRateLimit_Skipper(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{
		RequestsPerSecond: 1,
		BurstSize:         1,
		Skipper:           func(echo.Context) bool { return true },
	})(okHandler)
	for i := 0; i < 5; i++ {
		if err := callLimited(t, e, h, "10.0.0.1:1", ""); err != nil {
			t.Fatalf("skipped request %d was limited: %v", i+1, err)
		}
	}
}

func TestRateLimit_DefaultConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 100 || cfg.BurstSize != 200 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestRateLimitKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.9:5555"
	if got := rateLimitKey(e.NewContext(req, httptest.NewRecorder())); got != "ip:192.168.1.9" {
		t.Errorf("expected ip key, got %q", got)
	}
	req = req.WithContext(auth.WithIdentity(context.Background(), "u-7", nil, ""))
	if got := rateLimitKey(e.NewContext(req, httptest.NewRecorder())); got != "user:u-7" {
		t.Errorf("expected user key, got %q", got)
	}
}
