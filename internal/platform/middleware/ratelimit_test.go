package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"
)

func doLimited(t *testing.T, mw echo.MiddlewareFunc, ip, tenantID string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
	req.Header.Set(echo.HeaderXRealIP, ip)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if tenantID != "" {
		c.Set("jwt_tenant_id", tenantID)
	}
	err := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c)
	return rec, err
}

func testLimitConfig(clk clock.Clock) RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 1, BurstSize: 3, IdleTTL: time.Minute, Clock: clk}
}

func TestRateLimit_BurstThenReject(t *testing.T) {
	clk := clock.NewMock()
	mw := RateLimit(testLimitConfig(clk))

	for i := 0; i < 3; i++ {
		if _, err := doLimited(t, mw, "10.0.0.1", ""); err != nil {
			t.Fatalf("request %d within burst rejected: %v", i, err)
		}
	}

	rec, err := doLimited(t, mw, "10.0.0.1", "")
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("expected Retry-After 1, got %q", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Error("expected remaining 0")
	}
}

func TestRateLimit_Refills(t *testing.T) {
	clk := clock.NewMock()
	mw := RateLimit(testLimitConfig(clk))

	for i := 0; i < 3; i++ {
		doLimited(t, mw, "10.0.0.1", "")
	}
	if _, err := doLimited(t, mw, "10.0.0.1", ""); err == nil {
		t.Fatal("expected exhaustion")
	}

	clk.Add(time.Second)
	if _, err := doLimited(t, mw, "10.0.0.1", ""); err != nil {
		t.Errorf("expected a token after 1s, got %v", err)
	}
}

func TestRateLimit_PerKeyIsolation(t *testing.T) {
	clk := clock.NewMock()
	mw := RateLimit(testLimitConfig(clk))

	for i := 0; i < 3; i++ {
		doLimited(t, mw, "10.0.0.1", "tenant-a")
	}
	if _, err := doLimited(t, mw, "10.0.0.1", "tenant-a"); err == nil {
		t.Fatal("expected tenant-a to be limited")
	}
	if _, err := doLimited(t, mw, "10.0.0.1", "tenant-b"); err != nil {
		t.Errorf("tenant-b shares no bucket with tenant-a: %v", err)
	}
	if _, err := doLimited(t, mw, "10.0.0.2", "tenant-a"); err != nil {
		t.Errorf("other IP shares no bucket: %v", err)
	}
}

func TestRateLimiterStore_EvictsIdle(t *testing.T) {
	clk := clock.NewMock()
	store := newRateLimiterStore(testLimitConfig(clk))

	store.reserve("a")
	store.reserve("b")
	clk.Add(2 * time.Minute)
	store.reserve("c")

	if store.size() != 1 {
		t.Errorf("expected idle limiters evicted, have %d", store.size())
	}
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 20 || cfg.BurstSize != 40 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}
