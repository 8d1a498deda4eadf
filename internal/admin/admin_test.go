package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/optirun/resilience-core/circuitbreaker"
	"github.com/optirun/resilience-core/internal/config"
	"github.com/optirun/resilience-core/internal/ratelimit"
	"github.com/optirun/resilience-core/predcache"
)

// mockConfigProvider implements ConfigProvider for testing.
type mockConfigProvider struct {
	cfg *config.Config
}

func (m *mockConfigProvider) Current() *config.Config { return m.cfg }

func testHandler(t *testing.T, allowlist []string) *Handler {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := &config.Config{
		Auth: config.AuthConfig{
			Enabled:   true,
			JWTSecret: "super-secret-key",
			Issuer:    "test",
			Audience:  "test",
		},
		Upstreams: []config.UpstreamConfig{
			{Name: "decider", URL: "http://localhost:9090"},
		},
	}

	limiter := ratelimit.New(
		config.RateLimitConfig{RequestsPerSecond: 100, BurstSize: 50},
		logger,
	)
	t.Cleanup(limiter.Stop)

	strategy, err := circuitbreaker.NewStrategy(circuitbreaker.PolicyStandard, circuitbreaker.Options{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		OpenTimeout:      30 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewStrategy: %v", err)
	}
	breakers := map[string]*circuitbreaker.Breaker{
		"decider": circuitbreaker.New("decider", strategy, circuitbreaker.Options{
			FailureThreshold: 3,
			SuccessThreshold: 1,
			OpenTimeout:      30 * time.Second,
		}, nil, logger),
	}

	cache := predcache.New(predcache.Options{
		MaxSize:          16,
		EnableStatistics: true,
		CleanupInterval:  time.Hour,
	}, nil, logger)
	t.Cleanup(cache.Close)

	reloader := &mockConfigProvider{cfg: cfg}

	return New(reloader, limiter, breakers, cache, allowlist, logger)
}

func TestBreakersEndpoint(t *testing.T) {
	h := testHandler(t, []string{"127.0.0.0/8"})

	// Record one failure so the counters are non-zero.
	h.breakers["decider"].Execute(context.Background(), func(context.Context) error {
		return errors.New("boom")
	})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest("GET", "/admin/breakers", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp map[string][]breakerStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	breakers := resp["breakers"]
	if len(breakers) != 1 {
		t.Fatalf("expected 1 breaker, got %d", len(breakers))
	}
	if breakers[0].Name != "decider" {
		t.Errorf("name = %q, want decider", breakers[0].Name)
	}
	if breakers[0].State != "closed" {
		t.Errorf("state = %q, want closed", breakers[0].State)
	}
	if breakers[0].FailedCalls != 1 {
		t.Errorf("failed_calls = %d, want 1", breakers[0].FailedCalls)
	}
}

func TestCacheEndpoint(t *testing.T) {
	h := testHandler(t, []string{"127.0.0.0/8"})

	if err := h.cache.Set(context.Background(), "fp-1", "model-a", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest("GET", "/admin/cache", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Entries int             `json:"entries"`
		Stats   predcache.Stats `json:"stats"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Entries != 1 {
		t.Errorf("entries = %d, want 1", resp.Entries)
	}
	if resp.Stats.Sets != 1 {
		t.Errorf("sets = %d, want 1", resp.Stats.Sets)
	}
}

func TestSweepEndpoint(t *testing.T) {
	h := testHandler(t, []string{"127.0.0.0/8"})

	ctx := context.Background()
	if err := h.cache.Set(ctx, "fp-1", "model-a", time.Nanosecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(time.Millisecond)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest("POST", "/admin/cache/sweep", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["removed"] != 1 {
		t.Errorf("removed = %d, want 1", resp["removed"])
	}
	if resp["remaining"] != 0 {
		t.Errorf("remaining = %d, want 0", resp["remaining"])
	}
}

func TestSweepEndpoint_RequiresPost(t *testing.T) {
	h := testHandler(t, []string{"127.0.0.0/8"})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest("GET", "/admin/cache/sweep", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestConfigEndpoint_RedactsSecret(t *testing.T) {
	h := testHandler(t, []string{"127.0.0.0/8"})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest("GET", "/admin/config", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := rec.Body.String()
	if !strings.Contains(body, `"***"`) {
		t.Error("expected jwt_secret to be redacted")
	}
	if strings.Contains(body, "super-secret-key") {
		t.Error("jwt_secret was not redacted!")
	}
}

func TestIPAllowlist_Denied(t *testing.T) {
	h := testHandler(t, []string{"10.0.0.0/8"})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest("GET", "/admin/breakers", nil)
	req.RemoteAddr = "192.168.1.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestIPAllowlist_Allowed(t *testing.T) {
	h := testHandler(t, []string{"192.168.0.0/16"})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest("GET", "/admin/breakers", nil)
	req.RemoteAddr = "192.168.1.100:5678"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestLimitersEndpoint(t *testing.T) {
	h := testHandler(t, []string{"127.0.0.0/8"})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest("GET", "/admin/limiters", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := resp["total"]; !ok {
		t.Error("expected 'total' field in response")
	}
	if _, ok := resp["entries"]; !ok {
		t.Error("expected 'entries' field in response")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := testHandler(t, []string{"127.0.0.0/8"})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest("POST", "/admin/breakers", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
