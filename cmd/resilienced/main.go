// Package main is the entry point for the resilience daemon. It loads
// configuration, builds the per-upstream circuit breakers and the shared
// prediction cache, assembles the middleware stack, starts the HTTP server,
// and handles graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/optirun/resilience-core/circuitbreaker"
	"github.com/optirun/resilience-core/internal/admin"
	"github.com/optirun/resilience-core/internal/auth"
	"github.com/optirun/resilience-core/internal/config"
	"github.com/optirun/resilience-core/internal/health"
	"github.com/optirun/resilience-core/internal/logging"
	"github.com/optirun/resilience-core/internal/metrics"
	"github.com/optirun/resilience-core/internal/middleware"
	"github.com/optirun/resilience-core/internal/provider"
	"github.com/optirun/resilience-core/internal/ratelimit"
	"github.com/optirun/resilience-core/internal/tlsutil"
	"github.com/optirun/resilience-core/predcache"
)

func main() {
	configPath := flag.String("config", "configs/resilienced.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := buildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"upstreams", len(cfg.Upstreams),
		"cache_max_size", cfg.Cache.MaxSize,
		"eviction_policy", cfg.Cache.EvictionPolicy,
		"auth_enabled", cfg.Auth.Enabled,
		"admin_enabled", cfg.Admin.Enabled,
		"metrics_enabled", cfg.Metrics.IsEnabled(),
	)

	if cfg.Metrics.IsEnabled() {
		metrics.Init()
	}

	// Shared prediction cache.
	cache := predcache.New(predcache.Options{
		MaxSize:          cfg.Cache.MaxSize,
		EnableStatistics: cfg.Cache.StatisticsEnabled(),
		CleanupInterval:  cfg.Cache.CleanupInterval,
	}, predcache.NewPolicy(cfg.Cache.EvictionPolicy), logger)
	defer cache.Close()

	if cfg.Metrics.IsEnabled() {
		prometheus.MustRegister(metrics.NewCacheCollector(cache))
	}

	// One breaker and provider per upstream.
	breakers := make(map[string]*circuitbreaker.Breaker, len(cfg.Upstreams))
	providers := make([]*provider.Provider, 0, len(cfg.Upstreams))
	for _, u := range cfg.Upstreams {
		policy, err := circuitbreaker.ParsePolicy(u.Breaker.Policy)
		if err != nil {
			logger.Error("invalid breaker policy", "upstream", u.Name, "error", err)
			os.Exit(1)
		}
		strategy, err := circuitbreaker.NewStrategy(policy, u.Breaker.Options())
		if err != nil {
			logger.Error("invalid breaker settings", "upstream", u.Name, "error", err)
			os.Exit(1)
		}
		var telemetry circuitbreaker.Telemetry = circuitbreaker.Nop
		if cfg.Metrics.IsEnabled() {
			telemetry = metrics.NewBreakerSink(u.Name)
		}
		b := circuitbreaker.New(u.Name, strategy, u.Breaker.Options(), telemetry, logger)
		breakers[u.Name] = b
		providers = append(providers, provider.New(u, b, cache, logger))
	}

	registry := provider.NewRegistry(providers, logger)

	// Rate limiter for the recommendation API.
	limiter := ratelimit.New(cfg.RateLimit, logger)
	defer limiter.Stop()

	// Recommendation API behind the middleware stack:
	// Recovery → RequestID → Logging → RateLimit → handler
	apiMux := http.NewServeMux()
	registry.RegisterRoutes(apiMux)

	var apiHandler http.Handler = apiMux
	apiHandler = limiter.Middleware()(apiHandler)
	apiHandler = middleware.Logging(logger)(apiHandler)
	apiHandler = middleware.RequestID(apiHandler)
	apiHandler = middleware.Recovery(logger)(apiHandler)

	// Health, metrics, and admin bypass the rate limiter.
	sideMux := http.NewServeMux()
	healthHandler := health.New(cfg.Upstreams, breakers, logger)
	healthHandler.RegisterRoutes(sideMux)

	metricsPath := cfg.Metrics.Path
	if cfg.Metrics.IsEnabled() {
		sideMux.Handle(metricsPath, metrics.Handler())
		logger.Info("metrics endpoint registered", "path", metricsPath)
	}

	// Config reloader: fsnotify watcher plus SIGHUP.
	reloader := config.NewReloader(*configPath, cfg, logger)
	reloader.Start()
	defer reloader.Stop()
	reloader.OnReload(func(newCfg *config.Config) {
		limiter.UpdateConfig(newCfg.RateLimit)
	})

	if cfg.Admin.Enabled {
		adminHandler := admin.New(reloader, limiter, breakers, cache, cfg.Admin.IPAllowlist, logger)
		adminMux := http.NewServeMux()
		adminHandler.RegisterRoutes(adminMux)
		sideMux.Handle("/admin/", auth.Middleware(cfg.Auth, logger)(adminMux))
		logger.Info("admin API registered", "allowlist", cfg.Admin.IPAllowlist)
	}

	combined := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/healthz"),
			strings.HasPrefix(r.URL.Path, "/readyz"),
			strings.HasPrefix(r.URL.Path, "/admin/"),
			cfg.Metrics.IsEnabled() && r.URL.Path == metricsPath:
			sideMux.ServeHTTP(w, r)
		default:
			apiHandler.ServeHTTP(w, r)
		}
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      combined,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var certLoader *tlsutil.CertLoader
	if cfg.Server.TLS.Enabled {
		certLoader, err = tlsutil.New(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile, logger)
		if err != nil {
			logger.Error("failed to load TLS certificate", "error", err)
			os.Exit(1)
		}
		defer certLoader.Stop()

		minVersion := uint16(tls.VersionTLS12)
		if cfg.Server.TLS.MinVersion == "1.3" {
			minVersion = tls.VersionTLS13
		}
		srv.TLSConfig = &tls.Config{
			GetCertificate: certLoader.GetCertificate,
			MinVersion:     minVersion,
		}
	}

	go func() {
		logger.Info("starting resilience daemon", "addr", srv.Addr, "tls", cfg.Server.TLS.Enabled)
		var err error
		if cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("draining in-flight requests", "timeout", cfg.Server.ShutdownTimeout)
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("daemon stopped gracefully")
}

// buildLogger constructs the process logger from config. File outputs get a
// size-rotating writer; the returned closer is nil for stdout/stderr.
func buildLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer
	var closer io.Closer
	switch cfg.Output {
	case "stdout", "":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		rw, err := logging.NewRotatingWriter(cfg.Output, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
		if err != nil {
			return nil, nil, err
		}
		out = rw
		closer = rw
	}

	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})), closer, nil
}
