package provider

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/optirun/resilience-core/circuitbreaker"
	"github.com/optirun/resilience-core/internal/apierror"
)

// Registry holds the configured providers and serves the recommendation API.
type Registry struct {
	providers map[string]*Provider
	order     []string
	logger    *slog.Logger
}

// NewRegistry builds a Registry from providers, preserving their order for
// default-upstream selection.
func NewRegistry(providers []*Provider, logger *slog.Logger) *Registry {
	r := &Registry{
		providers: make(map[string]*Provider, len(providers)),
		logger:    logger,
	}
	for _, p := range providers {
		r.providers[p.Name()] = p
		r.order = append(r.order, p.Name())
	}
	return r
}

// Get returns the provider for an upstream name, or nil.
func (r *Registry) Get(name string) *Provider {
	return r.providers[name]
}

// Names returns the upstream names in configuration order.
func (r *Registry) Names() []string {
	return r.order
}

// RegisterRoutes adds the recommendation API to the given mux.
func (r *Registry) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/recommendations/", r.recommendHandler)
}

// recommendHandler serves GET /v1/recommendations/{fingerprint}. The
// upstream is chosen via the ?upstream= query parameter and defaults to the
// first configured upstream.
func (r *Registry) recommendHandler(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		apierror.WriteJSON(w, req, http.StatusMethodNotAllowed, apierror.MethodNotAllowed, "only GET is supported")
		return
	}

	fingerprint := strings.TrimPrefix(req.URL.Path, "/v1/recommendations/")
	if fingerprint == "" || strings.Contains(fingerprint, "/") {
		apierror.WriteJSON(w, req, http.StatusBadRequest, apierror.InvalidArgument, "fingerprint must be a single non-empty path segment")
		return
	}

	upstream := req.URL.Query().Get("upstream")
	if upstream == "" {
		if len(r.order) == 0 {
			apierror.WriteJSON(w, req, http.StatusInternalServerError, apierror.InternalError, "no upstreams configured")
			return
		}
		upstream = r.order[0]
	}

	p := r.providers[upstream]
	if p == nil {
		apierror.WriteJSON(w, req, http.StatusNotFound, apierror.NotFound, "unknown upstream: "+upstream)
		return
	}

	rec, err := p.Recommend(req.Context(), fingerprint)
	if err != nil {
		r.writeError(w, req, p, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(rec) //nolint:errcheck
}

func (r *Registry) writeError(w http.ResponseWriter, req *http.Request, p *Provider, err error) {
	switch {
	case circuitbreaker.IsOpen(err):
		apierror.WriteJSON(w, req, http.StatusServiceUnavailable, apierror.CircuitOpen, "circuit breaker open")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		apierror.WriteJSON(w, req, http.StatusGatewayTimeout, apierror.RequestCancelled, "request cancelled")
	default:
		r.logger.Error("upstream fetch failed", "upstream", p.Name(), "error", err)
		apierror.WriteJSON(w, req, http.StatusBadGateway, apierror.UpstreamUnavailable, "upstream service unavailable")
	}
}
