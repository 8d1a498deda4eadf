package circuitbreaker

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument marks construction-time validation failures. The wrapped
// message names the offending parameter.
var ErrInvalidArgument = errors.New("invalid argument")

// minSampleSize is the number of effective calls the percentage strategy
// requires before it will consider opening, regardless of failure rate.
const minSampleSize = 10

// defaultLatencyReferenceMs is the average response time at which the
// adaptive strategy treats the breaker as fully loaded.
const defaultLatencyReferenceMs = 1000

// Strategy decides when a breaker trips (opens) and when it resets (closes).
// Implementations are pure: they hold no mutable state and may be shared
// across breakers.
type Strategy interface {
	// ShouldOpen reports whether the breaker should trip given the current
	// metrics snapshot. Evaluated after every completed call while closed.
	ShouldOpen(m Metrics, opts Options) bool

	// ShouldClose reports whether the breaker should reset given the
	// successes and failures observed since entering half-open.
	ShouldClose(recentSuccesses, recentFailures int, opts Options) bool
}

// Policy selects a trip strategy.
type Policy int

const (
	PolicyStandard Policy = iota
	PolicyPercentage
	PolicyAdaptive
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case PolicyStandard:
		return "standard"
	case PolicyPercentage:
		return "percentage"
	case PolicyAdaptive:
		return "adaptive"
	default:
		return "unknown"
	}
}

// shouldCloseDefault is the reset rule shared by the built-in strategies:
// close once the half-open success count reaches the configured threshold.
// A count exactly equal to the threshold closes; a zero threshold closes
// immediately. The failure count is not consulted.
func shouldCloseDefault(recentSuccesses int, opts Options) bool {
	return recentSuccesses >= opts.SuccessThreshold
}

// StandardStrategy trips when the consecutive-failure streak reaches a fixed
// threshold.
type StandardStrategy struct {
	threshold int
}

// NewStandardStrategy validates threshold > 0 and returns a fresh instance.
func NewStandardStrategy(threshold int) (*StandardStrategy, error) {
	if threshold <= 0 {
		return nil, fmt.Errorf("%w: failureThreshold must be positive, got %d", ErrInvalidArgument, threshold)
	}
	return &StandardStrategy{threshold: threshold}, nil
}

func (s *StandardStrategy) ShouldOpen(m Metrics, _ Options) bool {
	return m.ConsecutiveFailures >= int64(s.threshold)
}

func (s *StandardStrategy) ShouldClose(recentSuccesses, _ int, opts Options) bool {
	return shouldCloseDefault(recentSuccesses, opts)
}

// PercentageStrategy trips when the failure rate over effective calls reaches
// a configured ratio. Below minSampleSize effective calls it never trips, so
// a cold breaker cannot open on a handful of unlucky calls. Rejected calls
// are excluded from the denominator.
type PercentageStrategy struct {
	failureRateThreshold float64
}

// NewPercentageStrategy validates threshold within [0, 1] and returns a
// fresh instance. A threshold of 0 trips on any failure once the minimum
// sample size is met; 1 trips only on total failure.
func NewPercentageStrategy(threshold float64) (*PercentageStrategy, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: failureRateThreshold must be within [0, 1], got %v", ErrInvalidArgument, threshold)
	}
	return &PercentageStrategy{failureRateThreshold: threshold}, nil
}

func (s *PercentageStrategy) ShouldOpen(m Metrics, _ Options) bool {
	effective := m.EffectiveCalls()
	if effective < minSampleSize {
		return false
	}
	rate := float64(m.FailedCalls) / float64(effective)
	return rate >= s.failureRateThreshold
}

func (s *PercentageStrategy) ShouldClose(recentSuccesses, _ int, opts Options) bool {
	return shouldCloseDefault(recentSuccesses, opts)
}

// AdaptiveStrategy trips on a failure threshold that tightens as observed
// load increases. Load is inferred from the average response time relative
// to a latency reference: at or above the reference the breaker is treated
// as fully loaded and the threshold bottoms out at
// base × (1 − sensitivity).
type AdaptiveStrategy struct {
	baseFailureThreshold float64
	loadSensitivity      float64
}

// NewAdaptiveStrategy validates baseThreshold > 0 and sensitivity within
// [0, 1] and returns a fresh instance.
func NewAdaptiveStrategy(baseThreshold, sensitivity float64) (*AdaptiveStrategy, error) {
	if baseThreshold <= 0 {
		return nil, fmt.Errorf("%w: baseFailureThreshold must be positive, got %v", ErrInvalidArgument, baseThreshold)
	}
	if sensitivity < 0 || sensitivity > 1 {
		return nil, fmt.Errorf("%w: loadSensitivity must be within [0, 1], got %v", ErrInvalidArgument, sensitivity)
	}
	return &AdaptiveStrategy{
		baseFailureThreshold: baseThreshold,
		loadSensitivity:      sensitivity,
	}, nil
}

func (s *AdaptiveStrategy) ShouldOpen(m Metrics, opts Options) bool {
	return float64(m.ConsecutiveFailures) >= s.effectiveThreshold(m, opts)
}

func (s *AdaptiveStrategy) ShouldClose(recentSuccesses, _ int, opts Options) bool {
	return shouldCloseDefault(recentSuccesses, opts)
}

// effectiveThreshold computes the load-adjusted failure threshold. The load
// factor grows linearly with average latency and saturates at 1.
func (s *AdaptiveStrategy) effectiveThreshold(m Metrics, opts Options) float64 {
	ref := opts.LatencyReferenceMs
	if ref <= 0 {
		ref = defaultLatencyReferenceMs
	}
	load := m.AverageResponseTimeMs / ref
	if load > 1 {
		load = 1
	}
	return s.baseFailureThreshold * (1 - s.loadSensitivity*load)
}

// NewStrategy constructs the strategy selected by policy, validating its
// parameters from opts. Unsupported policy values are rejected.
func NewStrategy(policy Policy, opts Options) (Strategy, error) {
	switch policy {
	case PolicyStandard:
		return NewStandardStrategy(opts.FailureThreshold)
	case PolicyPercentage:
		return NewPercentageStrategy(opts.FailureRateThreshold)
	case PolicyAdaptive:
		return NewAdaptiveStrategy(opts.BaseFailureThreshold, opts.LoadSensitivity)
	default:
		return nil, fmt.Errorf("%w: policy %d is not a supported trip strategy", ErrInvalidArgument, policy)
	}
}

// ParsePolicy maps a configuration string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "standard", "":
		return PolicyStandard, nil
	case "percentage":
		return PolicyPercentage, nil
	case "adaptive":
		return PolicyAdaptive, nil
	default:
		return 0, fmt.Errorf("%w: policy %q is not a supported trip strategy", ErrInvalidArgument, s)
	}
}
