package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/optirun/resilience-core/circuitbreaker"
	"github.com/optirun/resilience-core/internal/config"
)

func TestLiveness_AlwaysReturns200(t *testing.T) {
	h := New(nil, nil, slog.Default())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
}

func TestLiveness_JSONContentType(t *testing.T) {
	h := New(nil, nil, slog.Default())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
}

func TestReadiness_UpstreamReachable(t *testing.T) {
	// Start a real upstream
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	upstreams := []config.UpstreamConfig{
		{Name: "decider", URL: upstream.URL},
	}

	h := New(upstreams, nil, slog.Default())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ready" {
		t.Errorf("expected ready, got %v", body["status"])
	}
}

func TestReadiness_AllUpstreamsUnreachable(t *testing.T) {
	upstreams := []config.UpstreamConfig{
		{Name: "decider", URL: "http://localhost:19999"}, // nothing listening
	}

	h := New(upstreams, nil, slog.Default())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "not ready" {
		t.Errorf("expected 'not ready', got %v", body["status"])
	}
}

func TestReadiness_OneUpstreamDownStillReady(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	upstreams := []config.UpstreamConfig{
		{Name: "decider", URL: upstream.URL},
		{Name: "ranker", URL: "http://localhost:19999"},
	}

	h := New(upstreams, nil, slog.Default())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 while one upstream is still up, got %d", rec.Code)
	}
}

func TestReadiness_OpenBreakerShortCircuits(t *testing.T) {
	upstreams := []config.UpstreamConfig{
		{Name: "decider", URL: "http://localhost:19999"},
	}

	strategy, err := circuitbreaker.NewStrategy(circuitbreaker.PolicyStandard, circuitbreaker.Options{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenTimeout:      time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	b := circuitbreaker.New("decider", strategy, circuitbreaker.Options{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenTimeout:      time.Hour,
	}, nil, slog.Default())
	// Trip the breaker.
	b.Execute(context.Background(), func(context.Context) error {
		return errors.New("down")
	})
	if b.State() != circuitbreaker.StateOpen {
		t.Fatalf("breaker state = %v, want open", b.State())
	}

	h := New(upstreams, map[string]*circuitbreaker.Breaker{"decider": b}, slog.Default())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when the only breaker is open, got %d", rec.Code)
	}

	var body struct {
		Upstreams map[string]string `json:"upstreams"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Upstreams["decider"] != "circuit-open" {
		t.Errorf("upstream status = %q, want circuit-open", body.Upstreams["decider"])
	}
}

func TestReadiness_JSONResponse(t *testing.T) {
	h := New(nil, nil, slog.Default())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
}
