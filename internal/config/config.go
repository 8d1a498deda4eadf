// Package config provides YAML configuration loading with validation and
// environment variable substitution for the resilience daemon.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/optirun/resilience-core/circuitbreaker"
)

// Config is the top-level daemon configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server" json:"server"`
	Metrics   MetricsConfig    `yaml:"metrics" json:"metrics"`
	Logging   LoggingConfig    `yaml:"logging" json:"logging"`
	RateLimit RateLimitConfig  `yaml:"rate_limit" json:"rate_limit"`
	Auth      AuthConfig       `yaml:"auth" json:"auth"`
	Admin     AdminConfig      `yaml:"admin" json:"admin"`
	Cache     CacheConfig      `yaml:"cache" json:"cache"`
	Upstreams []UpstreamConfig `yaml:"upstreams" json:"upstreams"`

	// Warnings holds non-fatal config issues detected during loading.
	// Stored on the Config itself (not a package-level var) so it is
	// safe to call Load concurrently from the hot-reload goroutine.
	Warnings []string `yaml:"-" json:"-"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	TLS             TLSConfig     `yaml:"tls" json:"tls"`
}

// TLSConfig holds TLS termination settings.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	CertFile   string `yaml:"cert_file" json:"cert_file"`
	KeyFile    string `yaml:"key_file" json:"key_file"`
	MinVersion string `yaml:"min_version" json:"min_version"` // "1.2" or "1.3"; default: "1.2"
}

// MetricsConfig holds Prometheus metrics endpoint settings.
// Enabled defaults to true; set to false to disable metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled returns whether metrics are enabled (defaults to true).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Output     string `yaml:"output" json:"output"`           // "stdout", "stderr", or file path; default: "stdout"
	Level      string `yaml:"level" json:"level"`             // "debug", "info", "warn", "error"; default: "info"
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"` // max log file size before rotation; default: 100
	MaxBackups int    `yaml:"max_backups" json:"max_backups"` // number of rotated files to keep; default: 3
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

// RateLimitConfig holds the ops API rate limiter settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" json:"burst_size"`
}

// AuthConfig holds JWT authentication settings for the admin API.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	JWTSecret string `yaml:"jwt_secret" json:"jwt_secret"`
	Issuer    string `yaml:"issuer" json:"issuer"`
	Audience  string `yaml:"audience" json:"audience"`
}

// AdminConfig holds admin API settings.
type AdminConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`           // default: false
	IPAllowlist []string `yaml:"ip_allowlist" json:"ip_allowlist"` // CIDR notation
}

// CacheConfig holds the prediction cache settings.
type CacheConfig struct {
	MaxSize          int           `yaml:"max_size" json:"max_size"`
	EnableStatistics *bool         `yaml:"enable_statistics" json:"enable_statistics"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
	DefaultTTL       time.Duration `yaml:"default_ttl" json:"default_ttl"`
	EvictionPolicy   string        `yaml:"eviction_policy" json:"eviction_policy"` // "fifo", "lfu", "lru"; default: "lru"
}

// StatisticsEnabled returns whether cache statistics are enabled
// (defaults to true).
func (c CacheConfig) StatisticsEnabled() bool {
	if c.EnableStatistics == nil {
		return true
	}
	return *c.EnableStatistics
}

// UpstreamConfig defines one guarded decision service.
type UpstreamConfig struct {
	Name    string        `yaml:"name" json:"name"`
	URL     string        `yaml:"url" json:"url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// TTL applied to recommendations cached from this upstream.
	RecommendationTTL time.Duration `yaml:"recommendation_ttl" json:"recommendation_ttl"`

	Breaker BreakerConfig `yaml:"breaker" json:"breaker"`
}

// BreakerConfig holds per-upstream circuit breaker settings.
type BreakerConfig struct {
	Policy               string        `yaml:"policy" json:"policy"` // "standard", "percentage", "adaptive"
	SuccessThreshold     int           `yaml:"success_threshold" json:"success_threshold"`
	OpenTimeout          time.Duration `yaml:"open_timeout" json:"open_timeout"`
	FailureThreshold     int           `yaml:"failure_threshold" json:"failure_threshold"`
	FailureRateThreshold float64       `yaml:"failure_rate_threshold" json:"failure_rate_threshold"`
	BaseFailureThreshold float64       `yaml:"base_failure_threshold" json:"base_failure_threshold"`
	LoadSensitivity      float64       `yaml:"load_sensitivity" json:"load_sensitivity"`
	LatencyReferenceMs   float64       `yaml:"latency_reference_ms" json:"latency_reference_ms"`
}

// Options maps the YAML settings onto breaker engine options.
func (b BreakerConfig) Options() circuitbreaker.Options {
	return circuitbreaker.Options{
		SuccessThreshold:     b.SuccessThreshold,
		OpenTimeout:          b.OpenTimeout,
		FailureThreshold:     b.FailureThreshold,
		FailureRateThreshold: b.FailureRateThreshold,
		BaseFailureThreshold: b.BaseFailureThreshold,
		LoadSensitivity:      b.LoadSensitivity,
		LatencyReferenceMs:   b.LatencyReferenceMs,
	}
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load reads and parses a YAML configuration file, applies environment
// variable substitution, sets defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes. Useful for testing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Warnings = collectWarnings(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.TLS.Enabled && cfg.Server.TLS.MinVersion == "" {
		cfg.Server.TLS.MinVersion = "1.2"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// Logging defaults
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}

	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 100
	}
	if cfg.RateLimit.BurstSize == 0 {
		cfg.RateLimit.BurstSize = 50
	}

	// Cache defaults
	if cfg.Cache.MaxSize == 0 {
		cfg.Cache.MaxSize = 1000
	}
	if cfg.Cache.CleanupInterval == 0 {
		cfg.Cache.CleanupInterval = time.Minute
	}
	if cfg.Cache.DefaultTTL == 0 {
		cfg.Cache.DefaultTTL = 5 * time.Minute
	}
	if cfg.Cache.EvictionPolicy == "" {
		cfg.Cache.EvictionPolicy = "lru"
	}

	// Per-upstream breaker defaults
	for i := range cfg.Upstreams {
		u := &cfg.Upstreams[i]
		if u.Timeout == 0 {
			u.Timeout = 10 * time.Second
		}
		if u.RecommendationTTL == 0 {
			u.RecommendationTTL = cfg.Cache.DefaultTTL
		}
		b := &u.Breaker
		if b.Policy == "" {
			b.Policy = "standard"
		}
		if b.SuccessThreshold == 0 {
			b.SuccessThreshold = 2
		}
		if b.OpenTimeout == 0 {
			b.OpenTimeout = 30 * time.Second
		}
		switch b.Policy {
		case "standard":
			if b.FailureThreshold == 0 {
				b.FailureThreshold = 5
			}
		case "percentage":
			if b.FailureRateThreshold == 0 {
				b.FailureRateThreshold = 0.5
			}
		case "adaptive":
			if b.BaseFailureThreshold == 0 {
				b.BaseFailureThreshold = 5
			}
			if b.LoadSensitivity == 0 {
				b.LoadSensitivity = 0.3
			}
		}
	}
}

// validEvictionPolicies are the accepted cache eviction policy names.
var validEvictionPolicies = map[string]bool{
	"fifo": true,
	"lfu":  true,
	"lru":  true,
}

// validLogLevels are the accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive")
	}
	if cfg.RateLimit.BurstSize <= 0 {
		return fmt.Errorf("rate_limit.burst_size must be positive")
	}

	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr" {
		if cfg.Logging.MaxSizeMB < 1 {
			return fmt.Errorf("logging.max_size_mb must be positive when output is a file path")
		}
	}

	if cfg.Auth.Enabled {
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
		}
		if cfg.Auth.Issuer == "" {
			return fmt.Errorf("auth.issuer is required when auth is enabled")
		}
		if cfg.Auth.Audience == "" {
			return fmt.Errorf("auth.audience is required when auth is enabled")
		}
	}

	// Admin validation
	if cfg.Admin.Enabled {
		if len(cfg.Admin.IPAllowlist) == 0 {
			return fmt.Errorf("admin.ip_allowlist is required when admin is enabled")
		}
		for i, cidr := range cfg.Admin.IPAllowlist {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("admin.ip_allowlist[%d]: invalid CIDR %q: %w", i, cidr, err)
			}
		}
	}

	// Cache validation
	if cfg.Cache.MaxSize < 1 {
		return fmt.Errorf("cache.max_size must be positive")
	}
	if cfg.Cache.CleanupInterval <= 0 {
		return fmt.Errorf("cache.cleanup_interval must be positive")
	}
	if cfg.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("cache.default_ttl must be positive")
	}
	if !validEvictionPolicies[cfg.Cache.EvictionPolicy] {
		return fmt.Errorf("cache.eviction_policy must be one of fifo, lfu, lru; got %q", cfg.Cache.EvictionPolicy)
	}

	// TLS validation
	if cfg.Server.TLS.Enabled {
		if cfg.Server.TLS.CertFile == "" {
			return fmt.Errorf("server.tls.cert_file is required when TLS is enabled")
		}
		if cfg.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.key_file is required when TLS is enabled")
		}
		if cfg.Server.TLS.MinVersion != "1.2" && cfg.Server.TLS.MinVersion != "1.3" {
			return fmt.Errorf("server.tls.min_version must be \"1.2\" or \"1.3\", got %q", cfg.Server.TLS.MinVersion)
		}
	}

	if len(cfg.Upstreams) == 0 {
		return fmt.Errorf("at least one upstream must be configured")
	}

	seen := make(map[string]bool)
	for i, u := range cfg.Upstreams {
		if u.Name == "" {
			return fmt.Errorf("upstreams[%d].name is required", i)
		}
		if seen[u.Name] {
			return fmt.Errorf("duplicate upstream name: %s", u.Name)
		}
		seen[u.Name] = true

		if u.URL == "" {
			return fmt.Errorf("upstreams[%d].url is required", i)
		}
		parsed, err := url.Parse(u.URL)
		if err != nil {
			return fmt.Errorf("upstreams[%d].url: invalid URL: %w", i, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("upstreams[%d].url: scheme must be http or https, got %q", i, parsed.Scheme)
		}
		if parsed.Host == "" {
			return fmt.Errorf("upstreams[%d].url: host is required", i)
		}
		if u.Timeout <= 0 {
			return fmt.Errorf("upstreams[%d].timeout must be positive", i)
		}
		if u.RecommendationTTL <= 0 {
			return fmt.Errorf("upstreams[%d].recommendation_ttl must be positive", i)
		}

		b := u.Breaker
		if b.SuccessThreshold < 0 {
			return fmt.Errorf("upstreams[%d].breaker.success_threshold must be non-negative", i)
		}
		if b.OpenTimeout <= 0 {
			return fmt.Errorf("upstreams[%d].breaker.open_timeout must be positive", i)
		}

		// Strategy parameter validation is delegated to the breaker
		// constructors so the rules live in one place.
		policy, err := circuitbreaker.ParsePolicy(b.Policy)
		if err != nil {
			return fmt.Errorf("upstreams[%d].breaker.policy: %w", i, err)
		}
		if _, err := circuitbreaker.NewStrategy(policy, b.Options()); err != nil {
			return fmt.Errorf("upstreams[%d].breaker: %w", i, err)
		}
	}

	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string
	if cfg.Auth.Enabled && envVarRe.MatchString(cfg.Auth.JWTSecret) {
		warnings = append(warnings, "auth.jwt_secret contains unresolved environment variable")
	}
	if cfg.Admin.Enabled && !cfg.Auth.Enabled {
		warnings = append(warnings, "admin API is enabled without JWT auth; only the IP allowlist protects it")
	}
	return warnings
}
