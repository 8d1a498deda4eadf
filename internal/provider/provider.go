// Package provider fetches model recommendations from upstream decision
// services, guarding each upstream with a circuit breaker and fronting it
// with the prediction cache.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/optirun/resilience-core/circuitbreaker"
	"github.com/optirun/resilience-core/internal/config"
	"github.com/optirun/resilience-core/internal/metrics"
	"github.com/optirun/resilience-core/predcache"
)

// ErrUpstreamStatus indicates the upstream answered with a non-2xx status.
var ErrUpstreamStatus = errors.New("upstream returned error status")

// maxResponseBytes caps upstream response bodies to guard against a
// misbehaving decision service.
const maxResponseBytes = 1 << 20

// Recommendation is the payload returned for a workload fingerprint. The
// upstream's JSON is kept opaque; only the envelope fields are interpreted.
type Recommendation struct {
	Fingerprint string          `json:"fingerprint"`
	Upstream    string          `json:"upstream"`
	Payload     json.RawMessage `json:"payload"`
	Cached      bool            `json:"cached"`
	FetchedAt   time.Time       `json:"fetched_at"`
}

// Provider resolves fingerprints against one upstream decision service.
type Provider struct {
	name    string
	baseURL string
	timeout time.Duration
	ttl     time.Duration

	client  *http.Client
	breaker *circuitbreaker.Breaker
	cache   *predcache.Cache
	logger  *slog.Logger
}

// New creates a Provider for the given upstream. The breaker and cache are
// owned by the caller; multiple providers may share one cache since keys are
// namespaced by upstream name.
func New(cfg config.UpstreamConfig, breaker *circuitbreaker.Breaker, cache *predcache.Cache, logger *slog.Logger) *Provider {
	return &Provider{
		name:    cfg.Name,
		baseURL: cfg.URL,
		timeout: cfg.Timeout,
		ttl:     cfg.RecommendationTTL,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		breaker: breaker,
		cache:   cache,
		logger:  logger,
	}
}

// Name returns the upstream name this provider serves.
func (p *Provider) Name() string { return p.name }

// Breaker exposes the provider's circuit breaker for state inspection.
func (p *Provider) Breaker() *circuitbreaker.Breaker { return p.breaker }

// Recommend returns the recommendation for a fingerprint, serving from cache
// when possible and otherwise fetching through the circuit breaker. A cache
// hit never touches the upstream, so an open breaker still serves cached
// entries until they expire.
func (p *Provider) Recommend(ctx context.Context, fingerprint string) (*Recommendation, error) {
	key := p.cacheKey(fingerprint)

	if cached, ok, err := p.cache.Get(ctx, key); err == nil && ok {
		if rec, valid := cached.(*Recommendation); valid {
			out := *rec
			out.Cached = true
			return &out, nil
		}
	} else if err != nil {
		return nil, err
	}

	payload, err := circuitbreaker.Run(ctx, p.breaker, func(ctx context.Context) (json.RawMessage, error) {
		return p.fetch(ctx, fingerprint)
	})
	if err != nil {
		if circuitbreaker.IsOpen(err) {
			metrics.UpstreamFetches.WithLabelValues(p.name, "rejected").Inc()
		} else {
			metrics.UpstreamFetches.WithLabelValues(p.name, "failure").Inc()
		}
		return nil, err
	}
	metrics.UpstreamFetches.WithLabelValues(p.name, "success").Inc()

	rec := &Recommendation{
		Fingerprint: fingerprint,
		Upstream:    p.name,
		Payload:     payload,
		FetchedAt:   time.Now().UTC(),
	}

	if err := p.cache.Set(ctx, key, rec, p.ttl); err != nil {
		// A full or closed cache is not fatal; the caller still gets the
		// fresh recommendation.
		p.logger.Warn("failed to cache recommendation",
			"upstream", p.name, "fingerprint", fingerprint, "error", err)
	}

	return rec, nil
}

// fetch performs one GET against the upstream's recommendation endpoint.
func (p *Provider) fetch(ctx context.Context, fingerprint string) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/recommendations/%s", p.baseURL, url.PathEscape(fingerprint))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling upstream %s: %w", p.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading upstream response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s %d", ErrUpstreamStatus, p.name, resp.StatusCode)
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("upstream %s returned invalid JSON", p.name)
	}

	return json.RawMessage(body), nil
}

func (p *Provider) cacheKey(fingerprint string) string {
	return p.name + ":" + fingerprint
}
