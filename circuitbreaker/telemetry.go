package circuitbreaker

import "time"

// Telemetry receives breaker events. Implementations must be safe for
// concurrent use and fast: callbacks run while the breaker holds its internal
// lock and must not call back into the breaker.
type Telemetry interface {
	// RecordStateChange is invoked on every state transition.
	RecordStateChange(from, to State, reason string)

	// RecordSuccess is invoked after each successful guarded call.
	RecordSuccess(duration time.Duration, wasHalfOpen bool)

	// RecordFailure is invoked after each failed guarded call.
	RecordFailure(err error, duration time.Duration, wasHalfOpen bool)

	// RecordRejectedCall is invoked when an open breaker rejects a call
	// without invoking the guarded operation.
	RecordRejectedCall(state State)

	// UpdateMetrics is invoked with a fresh snapshot after every call.
	UpdateMetrics(m Metrics)
}

// Nop is the no-op telemetry singleton. Zero state, safe from any goroutine.
var Nop Telemetry = nopTelemetry{}

type nopTelemetry struct{}

func (nopTelemetry) RecordStateChange(State, State, string)   {}
func (nopTelemetry) RecordSuccess(time.Duration, bool)        {}
func (nopTelemetry) RecordFailure(error, time.Duration, bool) {}
func (nopTelemetry) RecordRejectedCall(State)                 {}
func (nopTelemetry) UpdateMetrics(Metrics)                    {}
