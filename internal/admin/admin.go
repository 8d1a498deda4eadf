// Package admin provides admin API endpoints for runtime inspection of
// breaker and cache state. All endpoints are protected by IP allowlist.
package admin

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/optirun/resilience-core/circuitbreaker"
	"github.com/optirun/resilience-core/internal/config"
	"github.com/optirun/resilience-core/internal/ratelimit"
	"github.com/optirun/resilience-core/predcache"
)

// Handler provides admin API endpoints.
type Handler struct {
	reloader    ConfigProvider
	limiter     *ratelimit.Limiter
	breakers    map[string]*circuitbreaker.Breaker
	cache       *predcache.Cache
	allowedNets []*net.IPNet
	logger      *slog.Logger
}

// ConfigProvider abstracts config access for testability.
type ConfigProvider interface {
	Current() *config.Config
}

// New creates a new admin Handler. The allowlist CIDRs must be pre-validated
// (config validation ensures this).
func New(
	reloader ConfigProvider,
	limiter *ratelimit.Limiter,
	breakers map[string]*circuitbreaker.Breaker,
	cache *predcache.Cache,
	allowlist []string,
	logger *slog.Logger,
) *Handler {
	nets := make([]*net.IPNet, 0, len(allowlist))
	for _, cidr := range allowlist {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue // already validated by config
		}
		nets = append(nets, ipNet)
	}
	return &Handler{
		reloader:    reloader,
		limiter:     limiter,
		breakers:    breakers,
		cache:       cache,
		allowedNets: nets,
		logger:      logger,
	}
}

// RegisterRoutes adds admin routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/breakers", h.guard(http.MethodGet, h.breakersHandler))
	mux.HandleFunc("/admin/cache", h.guard(http.MethodGet, h.cacheHandler))
	mux.HandleFunc("/admin/cache/sweep", h.guard(http.MethodPost, h.sweepHandler))
	mux.HandleFunc("/admin/config", h.guard(http.MethodGet, h.configHandler))
	mux.HandleFunc("/admin/limiters", h.guard(http.MethodGet, h.limitersHandler))
}

// guard wraps a handler with method and IP allowlist checking.
func (h *Handler) guard(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
				"error": "Method Not Allowed",
			})
			return
		}

		ip := extractIP(r.RemoteAddr)
		if !h.isAllowed(ip) {
			h.logger.Warn("admin access denied", "client_ip", ip, "path", r.URL.Path)
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error": "Forbidden",
			})
			return
		}
		next(w, r)
	}
}

func (h *Handler) isAllowed(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range h.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// breakerStatus is the per-breaker response type for /admin/breakers.
type breakerStatus struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	TotalCalls          int64     `json:"total_calls"`
	SuccessfulCalls     int64     `json:"successful_calls"`
	FailedCalls         int64     `json:"failed_calls"`
	RejectedCalls       int64     `json:"rejected_calls"`
	ConsecutiveFailures int64     `json:"consecutive_failures"`
	AverageResponseMs   float64   `json:"average_response_ms"`
	LastStateChange     time.Time `json:"last_state_change"`
}

func (h *Handler) breakersHandler(w http.ResponseWriter, r *http.Request) {
	statuses := make([]breakerStatus, 0, len(h.breakers))
	for name, b := range h.breakers {
		m := b.Metrics()
		statuses = append(statuses, breakerStatus{
			Name:                name,
			State:               b.State().String(),
			TotalCalls:          m.TotalCalls,
			SuccessfulCalls:     m.SuccessfulCalls,
			FailedCalls:         m.FailedCalls,
			RejectedCalls:       m.RejectedCalls,
			ConsecutiveFailures: m.ConsecutiveFailures,
			AverageResponseMs:   m.AverageResponseTimeMs,
			LastStateChange:     m.LastStateChange,
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	writeJSON(w, http.StatusOK, map[string]interface{}{"breakers": statuses})
}

func (h *Handler) cacheHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": h.cache.Len(),
		"stats":   h.cache.Stats(),
	})
}

func (h *Handler) sweepHandler(w http.ResponseWriter, r *http.Request) {
	before := h.cache.Len()
	h.cache.Sweep()
	after := h.cache.Len()
	h.logger.Info("manual cache sweep", "removed", before-after)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"removed":   before - after,
		"remaining": after,
	})
}

func (h *Handler) configHandler(w http.ResponseWriter, r *http.Request) {
	cfg := h.reloader.Current()

	// Shallow copy and redact sensitive fields.
	redacted := *cfg
	if redacted.Auth.JWTSecret != "" {
		redacted.Auth.JWTSecret = "***"
	}

	writeJSON(w, http.StatusOK, redacted)
}

func (h *Handler) limitersHandler(w http.ResponseWriter, r *http.Request) {
	entries := h.limiter.Snapshot()
	sort.Slice(entries, func(i, j int) bool { return entries[i].IP < entries[j].IP })

	// Pagination: page/page_size from query params.
	pageSize := 100
	page := 0

	if ps := r.URL.Query().Get("page_size"); ps != "" {
		if v := parseInt(ps); v > 0 && v <= 1000 {
			pageSize = v
		}
	}
	if p := r.URL.Query().Get("page"); p != "" {
		if v := parseInt(p); v >= 0 {
			page = v
		}
	}

	total := len(entries)
	start := page * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries[start:end],
		"total":   total,
		"page":    page,
	})
}

func parseInt(s string) int {
	s = strings.TrimSpace(s)
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return -1
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
