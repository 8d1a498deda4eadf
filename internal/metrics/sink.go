package metrics

import (
	"time"

	"github.com/optirun/resilience-core/circuitbreaker"
)

// BreakerSink adapts the Prometheus collectors to the circuit breaker's
// telemetry interface. One sink is bound per breaker name.
type BreakerSink struct {
	name string
}

// NewBreakerSink returns a telemetry sink that reports breaker events under
// the given name label.
func NewBreakerSink(name string) *BreakerSink {
	return &BreakerSink{name: name}
}

func (s *BreakerSink) RecordStateChange(from, to circuitbreaker.State, _ string) {
	BreakerStateChanges.WithLabelValues(s.name, from.String(), to.String()).Inc()
	BreakerState.WithLabelValues(s.name).Set(float64(to))
}

func (s *BreakerSink) RecordSuccess(duration time.Duration, _ bool) {
	BreakerCallDuration.WithLabelValues(s.name, "success").Observe(duration.Seconds())
}

func (s *BreakerSink) RecordFailure(_ error, duration time.Duration, _ bool) {
	BreakerCallDuration.WithLabelValues(s.name, "failure").Observe(duration.Seconds())
}

func (s *BreakerSink) RecordRejectedCall(circuitbreaker.State) {
	BreakerRejections.WithLabelValues(s.name).Inc()
}

func (s *BreakerSink) UpdateMetrics(circuitbreaker.Metrics) {}
