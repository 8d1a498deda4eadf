// Package circuitbreaker provides a strategy-driven circuit breaker for
// guarding calls into optimization decision and execution paths. The engine
// owns a three-state machine (closed, open, half-open), accumulates call
// metrics, and consults a pluggable trip/reset strategy to decide when to
// open and when to close again.
package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation; calls pass through.
	StateOpen                  // Failing; calls are rejected immediately.
	StateHalfOpen              // Probing; calls allowed to test recovery.
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Execute when the breaker is open and the call was
// rejected without invoking the guarded operation.
var ErrOpen = errors.New("circuit breaker is open")

// IsOpen reports whether err is a breaker-open rejection.
func IsOpen(err error) bool {
	return errors.Is(err, ErrOpen)
}

// Metrics is an immutable snapshot of the breaker's accumulated call counts.
// It is the input to a strategy's trip decision.
type Metrics struct {
	TotalCalls            int64
	SuccessfulCalls       int64
	FailedCalls           int64
	RejectedCalls         int64
	ConsecutiveFailures   int64
	AverageResponseTimeMs float64
	LastStateChange       time.Time
}

// EffectiveCalls returns the number of calls that actually reached the
// guarded operation. Rejections by an already-open breaker are excluded so
// the breaker's own behavior does not inflate sample sizes.
func (m Metrics) EffectiveCalls() int64 {
	return m.TotalCalls - m.RejectedCalls
}

// Options holds breaker and strategy configuration. Only the fields relevant
// to the configured strategy are consulted; the rest are ignored.
type Options struct {
	// SuccessThreshold is the number of successes required while half-open
	// before the breaker closes. Zero closes on the first completed probe.
	SuccessThreshold int

	// OpenTimeout is how long the breaker stays open before the next call
	// attempt is allowed through as a half-open probe.
	OpenTimeout time.Duration

	// FailureThreshold is the consecutive-failure count that trips the
	// standard strategy.
	FailureThreshold int

	// FailureRateThreshold is the failure ratio in [0, 1] that trips the
	// percentage strategy once the minimum sample size is reached.
	FailureRateThreshold float64

	// BaseFailureThreshold is the relaxed failure threshold of the adaptive
	// strategy, tightened as observed load increases.
	BaseFailureThreshold float64

	// LoadSensitivity in [0, 1] controls how strongly the adaptive strategy
	// tightens its threshold under load. Zero disables tightening.
	LoadSensitivity float64

	// LatencyReferenceMs is the average response time at which the adaptive
	// strategy considers the breaker fully loaded. Defaults to 1000.
	LatencyReferenceMs float64
}

// Breaker is the stateful circuit breaker engine. Safe for concurrent use.
// Only bookkeeping is synchronized; guarded operations run unlocked on any
// number of concurrent callers.
type Breaker struct {
	name      string
	opts      Options
	strategy  Strategy
	telemetry Telemetry
	logger    *slog.Logger
	now       func() time.Time

	mu              sync.Mutex
	state           State
	total           int64
	successes       int64
	failures        int64
	rejected        int64
	failureStreak   int64
	totalLatency    time.Duration
	lastStateChange time.Time
	halfOpenSuccess int
	halfOpenFailure int
}

// New creates a Breaker guarded by the given strategy. A nil telemetry sink
// falls back to the no-op singleton; a nil logger falls back to slog.Default.
func New(name string, strategy Strategy, opts Options, telemetry Telemetry, logger *slog.Logger) *Breaker {
	if telemetry == nil {
		telemetry = Nop
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		name:            name,
		opts:            opts,
		strategy:        strategy,
		telemetry:       telemetry,
		logger:          logger,
		now:             time.Now,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Operation is a caller-supplied unit of work guarded by the breaker.
type Operation func(ctx context.Context) error

// Execute runs op under the breaker's protection. While open, calls are
// rejected with ErrOpen without invoking op. A context cancelled before or
// during the call surfaces ctx.Err() and is not counted as a success or
// failure. Operation errors are recorded and re-returned unchanged.
func (b *Breaker) Execute(ctx context.Context, op Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := b.allow(); err != nil {
		return err
	}

	start := b.now()
	err := op(ctx)
	elapsed := b.now().Sub(start)

	// A cancelled call completed neither successfully nor unsuccessfully.
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}

	if err != nil {
		b.recordFailure(err, elapsed)
		return err
	}
	b.recordSuccess(elapsed)
	return nil
}

// Run executes fn under b's protection and returns its result. Convenience
// wrapper for operations that produce a value.
func Run[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := b.Execute(ctx, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	return result, err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// Metrics returns a snapshot of the accumulated call metrics.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot()
}

// Reset clears all accumulated metrics and forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total = 0
	b.successes = 0
	b.failures = 0
	b.rejected = 0
	b.failureStreak = 0
	b.totalLatency = 0
	b.transitionTo(StateClosed, "manual reset")
}

// allow performs the admission check, handling the lazy open → half-open
// transition and rejection bookkeeping.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}

	if b.now().Sub(b.lastStateChange) >= b.opts.OpenTimeout {
		b.transitionTo(StateHalfOpen, "open timeout elapsed")
		return nil
	}

	b.total++
	b.rejected++
	b.telemetry.RecordRejectedCall(b.state)
	b.telemetry.UpdateMetrics(b.snapshot())
	return ErrOpen
}

func (b *Breaker) recordSuccess(elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasHalfOpen := b.state == StateHalfOpen

	b.total++
	b.successes++
	b.failureStreak = 0
	b.totalLatency += elapsed
	b.telemetry.RecordSuccess(elapsed, wasHalfOpen)

	switch b.state {
	case StateHalfOpen:
		b.halfOpenSuccess++
		if b.strategy.ShouldClose(b.halfOpenSuccess, b.halfOpenFailure, b.opts) {
			b.transitionTo(StateClosed, "half-open probes succeeded")
		}
	case StateClosed:
		if b.strategy.ShouldOpen(b.snapshot(), b.opts) {
			b.transitionTo(StateOpen, "trip condition met")
		}
	}
	b.telemetry.UpdateMetrics(b.snapshot())
}

func (b *Breaker) recordFailure(err error, elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasHalfOpen := b.state == StateHalfOpen

	b.total++
	b.failures++
	b.failureStreak++
	b.totalLatency += elapsed
	b.telemetry.RecordFailure(err, elapsed, wasHalfOpen)

	switch b.state {
	case StateHalfOpen:
		b.halfOpenFailure++
		b.transitionTo(StateOpen, "half-open probe failed")
	case StateClosed:
		if b.strategy.ShouldOpen(b.snapshot(), b.opts) {
			b.transitionTo(StateOpen, "trip condition met")
		}
	}
	b.telemetry.UpdateMetrics(b.snapshot())
}

// snapshot builds a Metrics value from the current counters.
// Must be called with b.mu held.
func (b *Breaker) snapshot() Metrics {
	m := Metrics{
		TotalCalls:          b.total,
		SuccessfulCalls:     b.successes,
		FailedCalls:         b.failures,
		RejectedCalls:       b.rejected,
		ConsecutiveFailures: b.failureStreak,
		LastStateChange:     b.lastStateChange,
	}
	if completed := b.successes + b.failures; completed > 0 {
		m.AverageResponseTimeMs = float64(b.totalLatency.Microseconds()) / 1000 / float64(completed)
	}
	return m
}

// transitionTo changes the breaker state, notifying telemetry and logging.
// Must be called with b.mu held.
func (b *Breaker) transitionTo(newState State, reason string) {
	if b.state == newState {
		return
	}

	from := b.state
	b.state = newState
	b.lastStateChange = b.now()
	b.halfOpenSuccess = 0
	b.halfOpenFailure = 0

	b.telemetry.RecordStateChange(from, newState, reason)

	b.logger.Info("circuit breaker state change",
		"breaker", b.name,
		"from", from.String(),
		"to", newState.String(),
		"reason", reason,
	)
}
