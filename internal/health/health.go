// Package health provides health check and readiness probe HTTP handlers.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/optirun/resilience-core/circuitbreaker"
	"github.com/optirun/resilience-core/internal/config"
)

// Pre-serialized liveness response avoids json.Encoder allocation.
var livenessBody = []byte(`{"status":"ok"}` + "\n")

const readinessCacheTTL = 5 * time.Second

// Handler provides /healthz and /readyz endpoints.
type Handler struct {
	upstreams []config.UpstreamConfig
	breakers  map[string]*circuitbreaker.Breaker
	logger    *slog.Logger

	// Cached readiness result to avoid TCP-dialling every upstream on
	// every /readyz poll. Protected by cacheMu.
	cacheMu      sync.RWMutex
	cachedResult []byte
	cachedStatus int
	cachedAt     time.Time
}

// New creates a new health check Handler. breakers maps upstream names to
// their circuit breaker instances.
func New(upstreams []config.UpstreamConfig, breakers map[string]*circuitbreaker.Breaker, logger *slog.Logger) *Handler {
	return &Handler{upstreams: upstreams, breakers: breakers, logger: logger}
}

// RegisterRoutes adds health check routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.liveness)
	mux.HandleFunc("/readyz", h.readiness)
}

func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(livenessBody)
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	// Serve from cache if fresh.
	h.cacheMu.RLock()
	if h.cachedResult != nil && time.Since(h.cachedAt) < readinessCacheTTL {
		body := h.cachedResult
		status := h.cachedStatus
		h.cacheMu.RUnlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(body)
		return
	}
	h.cacheMu.RUnlock()

	type upstreamResult struct {
		name   string
		status string
		ok     bool
	}

	ch := make(chan upstreamResult, len(h.upstreams))
	for _, u := range h.upstreams {
		go func(u config.UpstreamConfig) {
			// Fast path: use circuit breaker state if available.
			if cb, exists := h.breakers[u.Name]; exists && cb != nil {
				switch cb.State() {
				case circuitbreaker.StateOpen:
					ch <- upstreamResult{name: u.Name, status: "circuit-open", ok: false}
					return
				case circuitbreaker.StateHalfOpen:
					ch <- upstreamResult{name: u.Name, status: "circuit-half-open", ok: true}
					return
				}
				// StateClosed: fall through to TCP dial for a definitive check.
			}

			parsed, err := url.Parse(u.URL)
			if err != nil {
				ch <- upstreamResult{name: u.Name, status: "invalid URL", ok: false}
				return
			}

			host := parsed.Host
			if !hasPort(host) {
				switch parsed.Scheme {
				case "https":
					host += ":443"
				default:
					host += ":80"
				}
			}

			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", host)
			cancel()

			if err != nil {
				h.logger.Warn("upstream unreachable", "upstream", u.Name, "url", u.URL, "error", err)
				ch <- upstreamResult{name: u.Name, status: "unreachable", ok: false}
				return
			}
			conn.Close()
			ch <- upstreamResult{name: u.Name, status: "ok", ok: true}
		}(u)
	}

	// The daemon can still serve cached recommendations while some upstreams
	// are down, so readiness degrades to 503 only when EVERY upstream is
	// unavailable.
	results := make(map[string]string, len(h.upstreams))
	anyUp := len(h.upstreams) == 0

	for range h.upstreams {
		res := <-ch
		results[res.name] = res.status
		if res.ok {
			anyUp = true
		}
	}

	httpStatus := http.StatusOK
	statusStr := "ready"
	if !anyUp {
		httpStatus = http.StatusServiceUnavailable
		statusStr = "not ready"
	}

	body, _ := json.Marshal(map[string]interface{}{
		"status":    statusStr,
		"upstreams": results,
	})
	body = append(body, '\n')

	// Cache the result.
	h.cacheMu.Lock()
	h.cachedResult = body
	h.cachedStatus = httpStatus
	h.cachedAt = time.Now()
	h.cacheMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	w.Write(body)
}

func hasPort(host string) bool {
	_, _, err := net.SplitHostPort(host)
	return err == nil
}
